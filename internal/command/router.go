// Package command parses command lines and routes them to handlers through a
// small route tree ("schedule add", "schedule list", ...) and a middleware
// chain.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"roombot/internal/transport"
	logx "roombot/pkg/logx"
)

// DefaultPrefix marks a line as a command.
const DefaultPrefix = "!"

type Request struct {
	ReqID      string
	RoomID     string
	Sender     string
	SenderName string

	// Line is the raw text. Path is the matched route and Args the text that
	// follows it, case preserved.
	Line string
	Path []string
	Args string

	Event  transport.Event
	Reply  func(ctx context.Context, text string) error
	Logger logx.Logger
}

// Command is the matched route joined by spaces, e.g. "schedule add".
func (r *Request) Command() string { return strings.Join(r.Path, " ") }

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if !r.Logger.IsZero() {
		return r.Logger
	}
	if fallback.IsZero() {
		return logx.Nop()
	}
	return fallback
}

func (r *Request) reply(ctx context.Context, text string) error {
	if r.Reply == nil {
		return nil
	}
	return r.Reply(ctx, text)
}

type Command struct {
	Route       string
	Usage       string
	Description string
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Router struct {
	prefix string
	log    logx.Logger

	mu    sync.RWMutex
	root  *node
	order []Command
	mw    []Middleware
}

func NewRouter(prefix string, log logx.Logger) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{prefix: prefix, log: log, root: newRoot()}
}

// Use appends middleware. m[0] of the first call is outermost.
func (r *Router) Use(m ...Middleware) {
	r.mu.Lock()
	r.mw = append(r.mw, m...)
	r.mu.Unlock()
}

func (r *Router) Register(c Command) error {
	route := splitRoute(c.Route)
	if len(route) == 0 {
		return errors.New("command: empty route")
	}
	if c.Handle == nil {
		return fmt.Errorf("command %q: nil handler", c.Route)
	}
	c.Route = strings.Join(route, " ")

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.root.ensure(route)
	if n.cmd != nil {
		return fmt.Errorf("command %q: already registered", c.Route)
	}
	n.cmd = &c
	r.order = append(r.order, c)
	return nil
}

// Group declares a route that only dispatches to subcommands. hint is sent
// when the group is invoked without one.
func (r *Router) Group(route, hint string) error {
	toks := splitRoute(route)
	if len(toks) == 0 {
		return errors.New("command: empty group route")
	}
	r.mu.Lock()
	r.root.ensure(toks).hint = hint
	r.mu.Unlock()
	return nil
}

// Commands lists registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.order...)
}

// Dispatch routes req.Line. It reports handled=false when the line is not a
// command or names an unknown top-level verb, so the caller can try other
// interpretations. An unknown subcommand of a known group is handled: the
// room is told and handled=true is returned.
func (r *Router) Dispatch(ctx context.Context, req *Request) (bool, error) {
	line := strings.TrimSpace(req.Line)
	if !strings.HasPrefix(line, r.prefix) {
		return false, nil
	}
	verb, args := Parse(line)
	name := strings.TrimPrefix(verb, r.prefix)
	if name == "" {
		return false, nil
	}

	r.mu.RLock()
	n, ok := r.root.child(name)
	if !ok {
		r.mu.RUnlock()
		return false, nil
	}
	path := []string{name}
	rest := args
	for len(n.children) > 0 {
		tok, rem := Parse(rest)
		c, ok := n.child(tok)
		if !ok {
			break
		}
		n, path, rest = c, append(path, tok), rem
	}
	cmd := n.cmd
	hint := n.hint
	subs := n.childNames()
	mw := append([]Middleware(nil), r.mw...)
	r.mu.RUnlock()

	if req.ReqID == "" {
		req.ReqID = uuid.NewString()
	}
	if req.Logger.IsZero() {
		req.Logger = r.log.With(logx.String("req_id", req.ReqID))
	}
	req.Path = path
	req.Args = rest

	if cmd == nil {
		tok, _ := Parse(rest)
		if tok == "" {
			if hint == "" {
				hint = fmt.Sprintf("Usage: %s%s {%s}", r.prefix, strings.Join(path, " "), strings.Join(subs, "|"))
			}
			return true, req.reply(ctx, hint)
		}
		req.Logger.Debug("unknown subcommand", logx.String("cmd", req.Command()), logx.String("sub", tok))
		return true, req.reply(ctx, fmt.Sprintf("Unknown subcommand %q. Use %shelp to see the available commands.", tok, r.prefix))
	}

	h := Chain(cmd.Handle, append(mw, MWTimeout(cmd.Timeout))...)
	return true, h(ctx, req)
}
