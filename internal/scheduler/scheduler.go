package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"roombot/internal/apperr"
	"roombot/internal/eventbus"
	"roombot/internal/storage"
	logx "roombot/pkg/logx"
)

// Scheduler owns the armed rules derived from persisted messages.
//
// Rules live in a min-heap keyed by next fire time. Each message owns a set of
// rule ids (its tag) so that every rule of a message is retracted together.
// All heap and map access happens under mu; delivery and store writes happen
// after mu is released.
type Scheduler struct {
	cfg     Config
	store   Store
	deliver Deliverer
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time

	mu    sync.Mutex
	seq   uint64
	rules map[uint64]*rule
	byMsg map[int64]map[uint64]struct{}
	q     ruleHeap
}

func New(cfg Config, store Store, d Deliverer, log logx.Logger, bus eventbus.Bus, opts ...Option) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:     cfg,
		store:   store,
		deliver: d,
		log:     log,
		bus:     bus,
		now:     time.Now,
		rules:   map[uint64]*rule{},
		byMsg:   map[int64]map[uint64]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Restore drops every armed rule and re-arms all persisted messages. One-time
// messages whose time already passed today are rolled to tomorrow.
func (s *Scheduler) Restore() (int, error) {
	s.mu.Lock()
	s.rules = map[uint64]*rule{}
	s.byMsg = map[int64]map[uint64]struct{}{}
	s.q = nil
	s.mu.Unlock()

	var errs []error
	n := 0
	for _, m := range s.store.Messages() {
		if err := s.Arm(m); err != nil {
			s.log.Error("restore: arm failed", logx.Int64("id", m.ID), logx.Err(err))
			errs = append(errs, fmt.Errorf("message %d: %w", m.ID, err))
			continue
		}
		n++
	}
	s.log.Info("schedules restored", logx.Int("messages", n), logx.Int("rules", s.Len()))
	return n, errors.Join(errs...)
}

// Arm expands m into rules and pushes them. Arming an already armed message
// replaces its rules.
func (s *Scheduler) Arm(m storage.ScheduledMessage) error {
	now := s.now()
	anchor := m.CreatedAt
	if anchor.IsZero() {
		anchor = now
	}
	scheds, err := expand(m, anchor)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}

	class := classOf(m.Repeat)
	var fresh []*rule
	if len(scheds) == 0 {
		next := nextOnce(m.At, now)
		if next.Sub(now) <= 0 {
			return ErrNonPositiveDelay
		}
		fresh = append(fresh, &rule{tag: tag(class, m.ID), msg: m, next: next})
	} else {
		for _, sc := range scheds {
			fresh = append(fresh, &rule{tag: tag(class, m.ID), msg: m, sched: sc, next: sc.Next(now)})
		}
	}

	s.mu.Lock()
	s.retractLocked(m.ID)
	set := make(map[uint64]struct{}, len(fresh))
	for _, r := range fresh {
		s.seq++
		r.id = s.seq
		s.rules[r.id] = r
		set[r.id] = struct{}{}
		heap.Push(&s.q, entry{at: r.next, rule: r.id})
	}
	s.byMsg[m.ID] = set
	s.mu.Unlock()

	s.log.Debug("message armed", logx.String("tag", tag(class, m.ID)), logx.Int("rules", len(fresh)), logx.Time("next", fresh[0].next))
	eventbus.Emit(s.bus, eventbus.TypeScheduleArmed, m.ID)
	return nil
}

// Retract removes every rule owned by message id and returns how many there were.
func (s *Scheduler) Retract(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retractLocked(id)
}

func (s *Scheduler) retractLocked(id int64) int {
	set := s.byMsg[id]
	for rid := range set {
		delete(s.rules, rid)
	}
	delete(s.byMsg, id)
	// Drop stale heap entries once they dominate.
	if len(s.q) > 2*len(s.rules)+64 {
		s.compactLocked()
	}
	return len(set)
}

func (s *Scheduler) compactLocked() {
	q := s.q[:0]
	for _, e := range s.q {
		if r := s.rules[e.rule]; r != nil && r.next.Equal(e.at) && !r.firing {
			q = append(q, e)
		}
	}
	s.q = q
	heap.Init(&s.q)
}

type due struct {
	ruleID uint64
	tag    string
	msg    storage.ScheduledMessage
	once   bool
}

// Tick fires every rule due at the current instant and returns how many fired.
// Repeating rules are re-armed before delivery; one-time rules are retired
// after a successful delivery and pushed to the next day otherwise.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()

	var batch []due
	s.mu.Lock()
	for s.q.Len() > 0 && !s.q[0].at.After(now) {
		e := heap.Pop(&s.q).(entry)
		r := s.rules[e.rule]
		if r == nil || r.firing || !r.next.Equal(e.at) {
			continue
		}
		if r.sched != nil {
			r.next = r.sched.Next(now)
			heap.Push(&s.q, entry{at: r.next, rule: r.id})
		} else {
			r.firing = true
		}
		batch = append(batch, due{ruleID: r.id, tag: r.tag, msg: r.msg, once: r.sched == nil})
	}
	s.mu.Unlock()

	for _, d := range batch {
		s.fire(ctx, d)
	}
	return len(batch)
}

func (s *Scheduler) fire(ctx context.Context, d due) {
	log := s.log.With(logx.String("tag", d.tag), logx.String("room", d.msg.RoomID))

	if err := s.deliver.DeliverScheduled(ctx, d.msg); err != nil {
		log.Warn("scheduled delivery failed", logx.Err(err))
		eventbus.Emit(s.bus, eventbus.TypeScheduleFailed, d.msg.ID)
		if d.once {
			s.rearmOnce(d.ruleID)
		}
		return
	}
	log.Info("scheduled message sent")
	eventbus.Emit(s.bus, eventbus.TypeScheduleFired, d.msg.ID)
	if !d.once {
		return
	}

	if _, err := s.store.RemoveMessage(ctx, d.msg.ID, ""); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		log.Error("retire: store remove failed", logx.Err(err))
	}
	s.Retract(d.msg.ID)
	eventbus.Emit(s.bus, eventbus.TypeScheduleRetired, d.msg.ID)
}

// rearmOnce moves a failed one-time rule to the same time on the next day,
// unless it was retracted while the delivery was in flight.
func (s *Scheduler) rearmOnce(ruleID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rules[ruleID]
	if r == nil {
		return
	}
	r.firing = false
	r.next = nextOnce(r.msg.At, s.now())
	heap.Push(&s.q, entry{at: r.next, rule: r.id})
	s.log.Info("one-time message re-armed", logx.String("tag", r.tag), logx.Time("next", r.next))
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Len is the number of armed rules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

// Armed returns every armed rule ordered by next fire time.
func (s *Scheduler) Armed() []Armed {
	s.mu.Lock()
	out := make([]Armed, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, Armed{RuleID: r.id, Tag: r.tag, MessageID: r.msg.ID, RoomID: r.msg.RoomID, Next: r.next})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			return out[i].Next.Before(out[j].Next)
		}
		return out[i].RuleID < out[j].RuleID
	})
	return out
}
