package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"roombot/internal/ai"
	"roombot/internal/bot"
	"roombot/internal/config"
	"roombot/internal/eventbus"
	rtsup "roombot/internal/runtime/supervisor"
	"roombot/internal/scheduler"
	"roombot/internal/storage"
	"roombot/internal/transcribe"
	"roombot/internal/transport"
	"roombot/internal/transport/telegram"
	logx "roombot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *storage.ConfigStore
	tr    transport.Transport
	sched *scheduler.Scheduler
	bot   *bot.Bot

	roomsToJoin []string
	events      chan transport.Event
}

// New loads the config and builds every component. Nothing runs until Start.
// A bad token or unreachable transport fails here.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm, cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	// The room sink needs the outbox, which needs the transport; it is
	// attached at the end.
	logSvc, log := logx.New(cfg.Logging.LogConfig())
	appLog := log.With(logx.String("comp", "app"))

	fail := func(err error, closers ...func() error) (*App, error) {
		for _, c := range closers {
			_ = c()
		}
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()

	store, err := OpenStore(ctx, cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fail(err)
	}
	appLog.Info("storage opened", logx.String("driver", cfg.Storage.Driver), logx.String("path", cfg.Storage.Path))

	seen, err := newDeduplicator(cfg)
	if err != nil {
		return fail(err, store.Close)
	}

	tr, err := telegram.New(mapTransportConfig(cfg), log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fail(err, store.Close)
	}

	completer, err := ai.New(mapAIConfig(cfg), log.With(logx.String("comp", "ai")))
	if err != nil {
		return fail(err, store.Close)
	}
	stt, err := transcribe.New(mapTranscribeConfig(cfg), log.With(logx.String("comp", "transcribe")))
	if err != nil {
		return fail(err, store.Close)
	}

	rooms := bot.NewRooms(tr, store, bus, log.With(logx.String("comp", "rooms")))
	out := bot.NewOutbox(rooms, mapOutboxConfig(cfg), log.With(logx.String("comp", "outbox")))
	sched := scheduler.New(mapSchedulerConfig(cfg), store, out, log.With(logx.String("comp", "scheduler")), bus)

	b, err := bot.New(bot.Deps{
		Transport:      tr,
		Store:          store,
		Scheduler:      sched,
		Dedup:          seen,
		AI:             completer,
		Transcriber:    stt,
		Rooms:          rooms,
		Outbox:         out,
		Bus:            bus,
		Log:            log.With(logx.String("comp", "bot")),
		CommandTimeout: commandTimeout(cfg),
	})
	if err != nil {
		return fail(err, store.Close)
	}

	logSvc.AttachSender(out)

	return &App{
		cfgm:        cfgm,
		log:         appLog,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		tr:          tr,
		sched:       sched,
		bot:         b,
		roomsToJoin: append([]string(nil), cfg.Transport.RoomsToJoin...),
		events:      make(chan transport.Event, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Reject reloads that this process could not run with if it restarted.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := newDeduplicator(cfg); err != nil {
			return err
		}
		if strings.TrimSpace(cfg.Transport.Token) == "" {
			return errors.New("transport.token is empty")
		}
		return nil
	})

	if err := a.tr.Start(runCtx, a.events); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	joined := a.bot.Rooms().Rejoin(runCtx, a.roomsToJoin)
	a.log.Info("rooms joined", logx.Int("count", joined))

	n, err := a.sched.Restore()
	if err != nil {
		// Messages that could not be armed stay persisted; the rest run.
		a.log.Warn("some scheduled messages could not be armed", logx.Err(err))
	}
	a.log.Info("scheduled messages loaded", logx.Int("count", n))

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		if err := a.bot.Run(c, a.events); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.sup.Go("scheduler.tick", func(c context.Context) error {
		if err := a.sched.Run(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started", logx.String("self", a.tr.SelfID()), logx.String("handle", a.tr.Handle()))
	return nil
}

// applyConfig applies the live sections of a reloaded config and reports the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	live, restart, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(live) == 0 && len(restart) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range live {
		if s == "logging" {
			a.logs.Apply(newCfg.Logging.LogConfig())
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("live", strings.Join(live, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	eventbus.Emit(a.bus, eventbus.TypeConfigReloaded, append(live, restart...))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// step runs one shutdown stage with an upper bound so a stuck component
	// cannot stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// never extend the caller's deadline
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	// Transport first so no new events arrive while the loops unwind.
	step("transport", 3*time.Second, func(c context.Context) error { return a.tr.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Int("scheduled", a.store.MessageCount()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
