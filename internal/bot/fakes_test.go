package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"roombot/internal/eventbus"
	"roombot/internal/scheduler"
	"roombot/internal/storage"
	"roombot/internal/transport"
	logx "roombot/pkg/logx"
)

type fakeRoom struct {
	id string

	mu         sync.Mutex
	sent       []string
	history    []transport.Event // newest first
	historyErr error
}

func (r *fakeRoom) ID() string { return r.id }

func (r *fakeRoom) Send(_ context.Context, text string) error {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	return nil
}

func (r *fakeRoom) FetchRecent(_ context.Context, limit int) ([]transport.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.historyErr != nil {
		return nil, r.historyErr
	}
	return append([]transport.Event(nil), r.history[:min(limit, len(r.history))]...), nil
}

func (r *fakeRoom) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type fakeTransport struct {
	mu      sync.Mutex
	rooms   map[string]*fakeRoom
	unknown map[string]bool
	joins   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rooms: map[string]*fakeRoom{}, unknown: map[string]bool{}}
}

func (f *fakeTransport) Start(context.Context, chan<- transport.Event) error { return nil }
func (f *fakeTransport) Stop(context.Context) error                          { return nil }
func (f *fakeTransport) SelfID() string                                      { return "bot" }
func (f *fakeTransport) Handle() string                                      { return "@roombot" }

func (f *fakeTransport) Join(_ context.Context, id string) (transport.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unknown[id] {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnknownRoom, id)
	}
	f.joins++
	return f.room(id), nil
}

func (f *fakeTransport) ResolveMediaURL(_ context.Context, ref string) (string, error) {
	if ref == "broken" {
		return "", errors.New("file gone")
	}
	return "https://media.example/" + ref, nil
}

// room returns the fake for id, creating it. Callers may hold f.mu.
func (f *fakeTransport) room(id string) *fakeRoom {
	r, ok := f.rooms[id]
	if !ok {
		r = &fakeRoom{id: id}
		f.rooms[id] = r
	}
	return r
}

func (f *fakeTransport) Room(id string) *fakeRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.room(id)
}

type fakeAI struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (a *fakeAI) Complete(_ context.Context, prompt string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, prompt)
	if a.err != nil {
		return "", a.err
	}
	return "forty-two", nil
}

func (a *fakeAI) calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.prompts...)
}

type fakeSTT struct {
	mu   sync.Mutex
	urls []string
}

func (s *fakeSTT) Transcribe(_ context.Context, url string) (string, error) {
	s.mu.Lock()
	s.urls = append(s.urls, url)
	s.mu.Unlock()
	return "hello from the voice note", nil
}

type harness struct {
	t     *testing.T
	bot   *Bot
	tr    *fakeTransport
	store *storage.ConfigStore
	sched *scheduler.Scheduler
	out   *Outbox
	ai    *fakeAI
	stt   *fakeSTT
	seq   int
}

type harnessOptions struct {
	backend storage.Backend // nil means a file store in a temp dir
	// deliver wraps the outbox before the scheduler sees it.
	deliver func(scheduler.Deliverer) scheduler.Deliverer
	now     func() time.Time
}

func newHarness(t *testing.T) *harness { return newHarnessWith(t, harnessOptions{}) }

func newHarnessWith(t *testing.T, o harnessOptions) *harness {
	t.Helper()
	ctx := context.Background()
	var (
		store *storage.ConfigStore
		err   error
	)
	if o.backend != nil {
		store, err = storage.NewConfigStore(ctx, o.backend, logx.Nop())
	} else {
		store, err = storage.Open(ctx, storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "doc.json")}, logx.Nop())
	}
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tr := newFakeTransport()
	bus := eventbus.New()
	rooms := NewRooms(tr, store, bus, logx.Nop())
	out := NewOutbox(rooms, OutboxConfig{RatePerSec: 1000}, logx.Nop())
	var d scheduler.Deliverer = out
	if o.deliver != nil {
		d = o.deliver(out)
	}
	var opts []scheduler.Option
	if o.now != nil {
		opts = append(opts, scheduler.WithClock(o.now))
	}
	sched := scheduler.New(scheduler.Config{}, store, d, logx.Nop(), bus, opts...)
	h := &harness{t: t, tr: tr, store: store, sched: sched, out: out, ai: &fakeAI{}, stt: &fakeSTT{}}

	h.bot, err = New(Deps{
		Transport:   tr,
		Store:       store,
		Scheduler:   sched,
		AI:          h.ai,
		Transcriber: h.stt,
		Rooms:       rooms,
		Outbox:      out,
		Bus:         bus,
		Log:         logx.Nop(),
		Now:         o.now,
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

// memBackend keeps the document in memory; saves fail while failing is set.
type memBackend struct {
	mu      sync.Mutex
	doc     storage.Document
	found   bool
	failing bool
}

func (m *memBackend) Load(context.Context) (storage.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc, m.found, nil
}

func (m *memBackend) Save(_ context.Context, doc storage.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("disk full")
	}
	m.doc, m.found = doc, true
	return nil
}

func (m *memBackend) Close() error { return nil }

func (m *memBackend) fail(on bool) {
	m.mu.Lock()
	m.failing = on
	m.mu.Unlock()
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// gatedDeliverer holds the first delivery until release receives its result.
type gatedDeliverer struct {
	next    scheduler.Deliverer
	entered chan struct{}
	release chan error

	mu    sync.Mutex
	calls int
}

func newGatedDeliverer(next scheduler.Deliverer) *gatedDeliverer {
	return &gatedDeliverer{next: next, entered: make(chan struct{}), release: make(chan error, 1)}
}

func (g *gatedDeliverer) DeliverScheduled(ctx context.Context, m storage.ScheduledMessage) error {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		if err := <-g.release; err != nil {
			return err
		}
	}
	return g.next.DeliverScheduled(ctx, m)
}

func (g *gatedDeliverer) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// say delivers a text event with a fresh id and returns that id.
func (h *harness) say(room, sender, text string) string {
	h.seq++
	id := fmt.Sprintf("%s:%d", room, h.seq)
	h.bot.Handle(context.Background(), transport.Event{ID: id, Kind: transport.EventText, RoomID: room, Sender: sender, SenderName: sender, Text: text})
	return id
}

// last returns the most recent message sent to room.
func (h *harness) last(room string) string {
	h.t.Helper()
	msgs := h.tr.Room(room).messages()
	if len(msgs) == 0 {
		h.t.Fatalf("nothing sent to %s", room)
	}
	return msgs[len(msgs)-1]
}
