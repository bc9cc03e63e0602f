package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"roombot/internal/apperr"
	logx "roombot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.logger(log).Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("room", req.RoomID),
				logx.String("sender", req.Sender),
				logx.String("cmd", req.Command()),
				logx.Duration("dur", d),
			}
			logger := req.logger(log)
			switch {
			case err != nil:
				logger.Warn("command failed", append(fields, logx.String("kind", apperr.Kind(err)), logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("command ok", fields...)
			default:
				logger.Debug("command ok", fields...)
			}
			return err
		}
	}
}

// MWReplyErrors reports a failed command back to the room. Validation errors
// are shown verbatim; everything else gets a short failure notice. The error
// is still returned for logging.
func MWReplyErrors() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || req.Reply == nil || errors.Is(err, context.Canceled) {
				return err
			}
			var msg string
			switch {
			case errors.Is(err, apperr.ErrValidation):
				msg = apperr.Message(err)
			case errors.Is(err, apperr.ErrStorage):
				msg = "Error: could not save the change. Please try again later."
			case errors.Is(err, apperr.ErrCollaborator):
				msg = "Error: " + strings.TrimPrefix(err.Error(), apperr.ErrCollaborator.Error()+": ")
			default:
				msg = "Error: " + err.Error()
			}
			if rerr := req.Reply(ctx, msg); rerr != nil {
				req.logger(logx.Nop()).Warn("error reply failed", logx.Err(rerr))
			}
			return err
		}
	}
}
