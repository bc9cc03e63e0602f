// Package bot is the dispatcher: it owns the live bot state, classifies
// inbound events and routes them to commands, the AI on mention, or automatic
// transcription.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"roombot/internal/ai"
	"roombot/internal/command"
	"roombot/internal/dedup"
	"roombot/internal/eventbus"
	"roombot/internal/storage"
	"roombot/internal/transcribe"
	"roombot/internal/transport"
	logx "roombot/pkg/logx"
)

// Scheduler is the part of the scheduler the command handlers use.
type Scheduler interface {
	Arm(m storage.ScheduledMessage) error
	Retract(id int64) int
	Len() int
}

type Deps struct {
	Transport   transport.Transport
	Store       *storage.ConfigStore
	Scheduler   Scheduler
	Dedup       dedup.Deduplicator
	AI          ai.Completer
	Transcriber transcribe.Transcriber
	Rooms       *Rooms
	Outbox      *Outbox
	Bus         eventbus.Bus
	Log         logx.Logger

	// CommandTimeout bounds one command; zero means no bound.
	CommandTimeout time.Duration
	Now            func() time.Time
}

type Bot struct {
	tr    transport.Transport
	store *storage.ConfigStore
	sched Scheduler
	seen  dedup.Deduplicator
	ai    ai.Completer
	stt   transcribe.Transcriber
	rooms *Rooms
	out   *Outbox
	bus   eventbus.Bus
	log   logx.Logger

	router  *command.Router
	timeout time.Duration
	now     func() time.Time
	started time.Time
}

func New(d Deps) (*Bot, error) {
	if d.Transport == nil || d.Store == nil || d.Scheduler == nil {
		return nil, errors.New("bot: transport, store and scheduler are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Dedup == nil {
		d.Dedup = dedup.NewWindow(dedup.DefaultCapacity)
	}
	if d.Rooms == nil {
		d.Rooms = NewRooms(d.Transport, d.Store, d.Bus, d.Log.With(logx.String("comp", "rooms")))
	}
	if d.Outbox == nil {
		d.Outbox = NewOutbox(d.Rooms, OutboxConfig{}, d.Log.With(logx.String("comp", "outbox")))
	}
	b := &Bot{
		tr:      d.Transport,
		store:   d.Store,
		sched:   d.Scheduler,
		seen:    d.Dedup,
		ai:      d.AI,
		stt:     d.Transcriber,
		rooms:   d.Rooms,
		out:     d.Outbox,
		bus:     d.Bus,
		log:     d.Log,
		timeout: d.CommandTimeout,
		now:     d.Now,
	}
	b.started = b.now()

	cmdLog := d.Log.With(logx.String("comp", "commands"))
	b.router = command.NewRouter(command.DefaultPrefix, cmdLog)
	b.router.Use(
		command.MWRequestLog(cmdLog),
		command.MWReplyErrors(),
		command.MWPanicRecover(cmdLog),
	)
	if err := b.registerBuiltins(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bot) Rooms() *Rooms   { return b.rooms }
func (b *Bot) Outbox() *Outbox { return b.out }

// Run handles events one at a time, in delivery order, until ctx is done or
// events is closed.
func (b *Bot) Run(ctx context.Context, events <-chan transport.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.Handle(ctx, ev)
		}
	}
}

// Handle processes one inbound event. Failures are reported to the room or
// logged; they never propagate.
func (b *Bot) Handle(ctx context.Context, ev transport.Event) {
	if ev.ID != "" && b.seen.Seen(ev.ID) {
		b.log.Debug("duplicate event dropped", logx.String("id", ev.ID))
		eventbus.Emit(b.bus, eventbus.TypeDuplicateDropped, ev.ID)
		return
	}
	if ev.Sender != "" && ev.Sender == b.tr.SelfID() {
		return
	}

	switch ev.Kind {
	case transport.EventInvite:
		b.onInvite(ctx, ev)
	case transport.EventText:
		b.onText(ctx, ev)
	case transport.EventAudio:
		b.onAudio(ctx, ev)
	}
}

func (b *Bot) onText(ctx context.Context, ev transport.Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}

	req := &command.Request{
		RoomID:     ev.RoomID,
		Sender:     ev.Sender,
		SenderName: ev.SenderName,
		Line:       text,
		Event:      ev,
		Reply:      b.replier(ev.RoomID),
	}
	cctx, cancel := b.commandContext(ctx)
	// Command errors are logged and reported by the middleware chain.
	handled, _ := b.router.Dispatch(cctx, req)
	cancel()
	if handled {
		eventbus.Emit(b.bus, eventbus.TypeCommandHandled, req.Command())
		return
	}

	handle := b.tr.Handle()
	if handle == "" || !strings.HasPrefix(text, handle) {
		return
	}
	prompt := strings.TrimSpace(strings.TrimPrefix(text, handle))
	if prompt == "" {
		_ = b.out.Send(ctx, ev.RoomID, PrefixNone, "Hi! Ask me something, or use !help to see what I can do.")
		return
	}
	if err := b.out.Send(ctx, ev.RoomID, PrefixNone, askNotice); err != nil {
		b.log.Warn("mention notice failed", logx.String("room", ev.RoomID), logx.Err(err))
		return
	}
	cctx, cancel = b.commandContext(ctx)
	defer cancel()
	if err := b.ask(cctx, ev.RoomID, prompt); err != nil {
		b.log.Warn("mention failed", logx.String("room", ev.RoomID), logx.Err(err))
		_ = b.out.Send(ctx, ev.RoomID, PrefixNone, "Error: the AI request failed.")
	}
}

func (b *Bot) onAudio(ctx context.Context, ev transport.Event) {
	if !b.store.AutoTranscribe(ev.RoomID) {
		return
	}
	if ev.MediaRef == "" {
		b.log.Warn("audio event without media locator", logx.String("room", ev.RoomID), logx.String("id", ev.ID))
		return
	}
	cctx, cancel := b.commandContext(ctx)
	defer cancel()
	if err := b.transcribe(cctx, ev.RoomID, ev.MediaRef); err != nil {
		b.log.Warn("auto-transcription failed", logx.String("room", ev.RoomID), logx.Err(err))
		_ = b.out.Send(ctx, ev.RoomID, PrefixNone, "Error: could not transcribe the voice message.")
	}
}

func (b *Bot) onInvite(ctx context.Context, ev transport.Event) {
	if _, err := b.rooms.Join(ctx, ev.RoomID); err != nil {
		b.log.Warn("join on invite failed", logx.String("room", ev.RoomID), logx.Err(err))
		return
	}
	b.log.Info("joined room on invite", logx.String("room", ev.RoomID), logx.String("by", ev.Sender))
	if err := b.out.Send(ctx, ev.RoomID, PrefixNone, greeting); err != nil {
		b.log.Warn("greeting failed", logx.String("room", ev.RoomID), logx.Err(err))
	}
}

const (
	greeting  = "Hello! I'm roombot. Use !help to see what I can do."
	askNotice = "Asking AI... (this may take a moment)"
)

func (b *Bot) replier(roomID string) func(context.Context, string) error {
	return func(ctx context.Context, text string) error {
		return b.out.Send(ctx, roomID, PrefixNone, text)
	}
}

func (b *Bot) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}
