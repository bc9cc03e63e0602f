// Package telegram adapts the Telegram Bot API (via telebot) to the
// transport interfaces. Rooms are chats; room ids are decimal chat ids.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "roombot/internal/runtime/supervisor"
	"roombot/internal/transport"
	logx "roombot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	Handle      string // default "@" + bot username
	HistorySize int
}

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	history *transport.History

	sink    atomic.Pointer[sink]
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

// sink is where handlers deliver events while the adapter runs.
type sink struct {
	ctx context.Context
	out chan<- transport.Event
}

var _ transport.Transport = (*Adapter)(nil)

// New connects to the Bot API (getMe) and registers handlers. A bad token
// fails here, before anything else starts.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(botSettings(cfg.Token, timeout))
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return newAdapter(cfg, b, log), nil
}

// botSettings runs handlers synchronously on the poll goroutine so updates
// reach the dispatcher in the order Telegram sent them.
func botSettings(token string, timeout time.Duration) tele.Settings {
	return tele.Settings{
		Token:       token,
		Poller:      &tele.LongPoller{Timeout: timeout},
		Synchronous: true,
	}
}

func newAdapter(cfg Config, b *tele.Bot, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Handle) == "" && b.Me != nil && b.Me.Username != "" {
		cfg.Handle = "@" + b.Me.Username
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, history: transport.NewHistory(cfg.HistorySize)}
	a.registerHandlers()
	return a
}

func (a *Adapter) SelfID() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return strconv.FormatInt(a.bot.Me.ID, 10)
}

func (a *Adapter) Handle() string { return a.cfg.Handle }

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT sink. Start and Stop swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if ev, ok := eventFromMessage(c.Message(), transport.EventText); ok {
			a.deliver(ev)
		}
		return nil
	})
	audio := func(c tele.Context) error {
		if ev, ok := eventFromMessage(c.Message(), transport.EventAudio); ok {
			a.deliver(ev)
		}
		return nil
	}
	a.bot.Handle(tele.OnVoice, audio)
	a.bot.Handle(tele.OnAudio, audio)
	a.bot.Handle(tele.OnAddedToGroup, func(c tele.Context) error {
		if ev, ok := eventFromMessage(c.Message(), transport.EventInvite); ok {
			a.deliver(ev)
		}
		return nil
	})
}

// eventFromMessage converts a telebot message. Invites keep the chat only.
func eventFromMessage(m *tele.Message, kind transport.EventKind) (transport.Event, bool) {
	if m == nil || m.Chat == nil {
		return transport.Event{}, false
	}
	room := strconv.FormatInt(m.Chat.ID, 10)
	ev := transport.Event{
		ID:     room + ":" + strconv.Itoa(m.ID),
		Kind:   kind,
		RoomID: room,
		At:     m.Time(),
	}
	if m.Sender != nil {
		ev.Sender = strconv.FormatInt(m.Sender.ID, 10)
		ev.SenderName = m.Sender.Username
		if ev.SenderName == "" {
			ev.SenderName = m.Sender.FirstName
		}
	}
	switch kind {
	case transport.EventText:
		ev.Text = m.Text
	case transport.EventAudio:
		ev.Text = m.Caption
		switch {
		case m.Voice != nil:
			ev.MediaRef = m.Voice.FileID
		case m.Audio != nil:
			ev.MediaRef = m.Audio.FileID
		}
	case transport.EventInvite:
		ev.ID = "invite:" + ev.ID
	}
	return ev, true
}

// deliver blocks until the dispatcher takes ev or the adapter stops. Polling
// pauses meanwhile, so a slow consumer delays updates instead of losing them.
func (a *Adapter) deliver(ev transport.Event) {
	if ev.Kind != transport.EventInvite {
		a.history.Add(ev)
	}
	s := a.sink.Load()
	if s == nil {
		return
	}
	select {
	case s.out <- ev:
		return
	default:
	}
	a.log.Warn("dispatcher busy; holding update", logx.String("id", ev.ID), logx.Int("chan_cap", cap(s.out)))
	select {
	case s.out <- ev:
	case <-s.ctx.Done():
		a.log.Debug("update not delivered (stopping)", logx.String("id", ev.ID))
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Event) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.sink.Store(&sink{ctx: sup.Context(), out: out})
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; an early return is restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

// Stop ends polling. The Bot API has no session to log out of.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.sink.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// Join resolves a chat. Bots cannot join chats on their own, so an unknown
// chat or one the bot was removed from is reported as ErrUnknownRoom.
func (a *Adapter) Join(ctx context.Context, roomID string) (transport.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(roomID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownRoom, roomID)
	}
	chat, err := a.bot.ChatByID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", transport.ErrUnknownRoom, roomID, err)
	}
	return &room{a: a, id: roomID, chat: chat}, nil
}

func (a *Adapter) ResolveMediaURL(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(ref) == "" {
		return "", errors.New("empty media reference")
	}
	f, err := a.bot.FileByID(ref)
	if err != nil {
		return "", err
	}
	if f.FilePath == "" {
		return "", errors.New("telegram returned no file path")
	}
	return strings.TrimRight(a.bot.URL, "/") + "/file/bot" + a.bot.Token + "/" + f.FilePath, nil
}

type room struct {
	a    *Adapter
	id   string
	chat *tele.Chat
}

func (r *room) ID() string { return r.id }

func (r *room) Send(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := r.a.bot.Send(r.chat, chunk)
		if err != nil {
			return err
		}
		if ev, ok := eventFromMessage(msg, transport.EventText); ok {
			r.a.history.Add(ev)
		}
	}
	return nil
}

func (r *room) FetchRecent(ctx context.Context, limit int) ([]transport.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.a.history.Recent(r.id, limit), nil
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
