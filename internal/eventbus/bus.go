package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle signals published by the bot. Subscribers treat them as hints;
// nothing in the core depends on delivery.
const (
	TypeRoomJoined       = "room.joined"
	TypeDuplicateDropped = "event.duplicate"
	TypeCommandHandled   = "command.handled"
	TypeScheduleArmed    = "schedule.armed"
	TypeScheduleFired    = "schedule.fired"
	TypeScheduleRetired  = "schedule.retired"
	TypeScheduleFailed   = "schedule.failed"
	TypeConfigReloaded   = "config.reloaded"
)

// Event is a lightweight, in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a full buffer drops the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Emit publishes on b if b is non-nil.
func Emit(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: data})
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Send while holding the read lock: unsubscribe takes the write lock
	// before closing, so a channel is never closed under a pending send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
