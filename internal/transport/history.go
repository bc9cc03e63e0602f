package transport

import "sync"

// History keeps the most recent events of each room in a fixed-size ring.
// Adapters whose protocol has no history endpoint use it to serve
// Room.FetchRecent.
type History struct {
	mu    sync.Mutex
	size  int
	rooms map[string]*ring
}

type ring struct {
	buf  []Event
	next int
	full bool
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 100
	}
	return &History{size: size, rooms: map[string]*ring{}}
}

func (h *History) Add(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[ev.RoomID]
	if r == nil {
		r = &ring{buf: make([]Event, h.size)}
		h.rooms[ev.RoomID] = r
	}
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to limit events of roomID, newest first.
func (h *History) Recent(roomID string, limit int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[roomID]
	if r == nil {
		return nil
	}
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
