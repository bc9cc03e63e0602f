// Package dedup filters duplicate inbound events.
//
// Two policies are available:
//   - "reset" (default): when the window grows past capacity it is cleared
//     wholesale before the new id is recorded. Duplicates delivered right
//     after a reset are not caught.
//   - "lru": the least recently seen id is evicted one at a time.
package dedup

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCapacity = 1000

const (
	PolicyReset = "reset"
	PolicyLRU   = "lru"
)

// Deduplicator records event ids and reports repeats.
type Deduplicator interface {
	// Seen reports whether id was already recorded; if not, it records it.
	Seen(id string) bool
	Len() int
}

// New returns a deduplicator for policy with the given capacity.
func New(policy string, capacity int) (Deduplicator, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", PolicyReset:
		return NewWindow(capacity), nil
	case PolicyLRU:
		c, err := lru.New[string, struct{}](capacity)
		if err != nil {
			return nil, err
		}
		return &lruDedup{cache: c}, nil
	default:
		return nil, fmt.Errorf("unknown dedup policy %q", policy)
	}
}

// Window is the clear-then-record set.
type Window struct {
	mu       sync.Mutex
	capacity int
	ids      map[string]struct{}
	resets   uint64
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{capacity: capacity, ids: make(map[string]struct{}, capacity)}
}

func (w *Window) Seen(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.ids[id]; ok {
		return true
	}
	if len(w.ids) >= w.capacity {
		clear(w.ids)
		w.resets++
	}
	w.ids[id] = struct{}{}
	return false
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ids)
}

// Resets counts how many times the window was cleared.
func (w *Window) Resets() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resets
}

type lruDedup struct {
	cache *lru.Cache[string, struct{}]
}

func (d *lruDedup) Seen(id string) bool {
	ok, _ := d.cache.ContainsOrAdd(id, struct{}{})
	return ok
}

func (d *lruDedup) Len() int { return d.cache.Len() }
