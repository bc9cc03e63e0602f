package scheduler

import (
	"context"
	"errors"
	"time"

	"roombot/internal/storage"
)

// ErrNonPositiveDelay is returned when a one-time job would fire at or before
// the current instant. The job is not armed.
var ErrNonPositiveDelay = errors.New("scheduler: computed delay is not positive")

// Config controls the tick loop.
type Config struct {
	Tick time.Duration // default 1s
}

// Deliverer performs the outbound side of a fire: resolve the room and send.
// It is called without any scheduler lock held.
type Deliverer interface {
	DeliverScheduled(ctx context.Context, msg storage.ScheduledMessage) error
}

// Store is the persistence surface the scheduler reads and retires through.
type Store interface {
	Messages() []storage.ScheduledMessage
	RemoveMessage(ctx context.Context, id int64, owner string) (storage.ScheduledMessage, error)
}

// Class is the tag prefix grouping a message's rules.
type Class string

const (
	ClassOnce    Class = "once"
	ClassDaily   Class = "daily"
	ClassWeekday Class = "weekday"
	ClassWeekly  Class = "weekly"
)

func classOf(r storage.Repeat) Class {
	switch r {
	case storage.RepeatDaily:
		return ClassDaily
	case storage.RepeatWeekdays:
		return ClassWeekday
	case storage.RepeatWeekly:
		return ClassWeekly
	default:
		return ClassOnce
	}
}

// Armed is a read-only view of one armed rule.
type Armed struct {
	RuleID    uint64
	Tag       string
	MessageID int64
	RoomID    string
	Next      time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now. Tests drive the scheduler through it.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}
