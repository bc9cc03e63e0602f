package bot

import (
	"context"
	"errors"
	"slices"
	"sync"

	"roombot/internal/eventbus"
	"roombot/internal/storage"
	"roombot/internal/transport"
	logx "roombot/pkg/logx"
)

// Rooms holds the live room handles. Handles are resolved on demand; only
// explicit joins (invites, startup) are persisted.
type Rooms struct {
	tr    transport.Transport
	store *storage.ConfigStore
	bus   eventbus.Bus
	log   logx.Logger

	mu    sync.Mutex
	rooms map[string]transport.Room
}

func NewRooms(tr transport.Transport, store *storage.ConfigStore, bus eventbus.Bus, log logx.Logger) *Rooms {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Rooms{tr: tr, store: store, bus: bus, log: log, rooms: map[string]transport.Room{}}
}

// Get returns the held handle for id, resolving it through the transport the
// first time.
func (r *Rooms) Get(ctx context.Context, id string) (transport.Room, error) {
	r.mu.Lock()
	room, ok := r.rooms[id]
	r.mu.Unlock()
	if ok {
		return room, nil
	}

	room, err := r.tr.Join(ctx, id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if held, ok := r.rooms[id]; ok {
		room = held
	} else {
		r.rooms[id] = room
	}
	r.mu.Unlock()
	return room, nil
}

// Join resolves id and records it in joined_rooms.
func (r *Rooms) Join(ctx context.Context, id string) (transport.Room, error) {
	room, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.store != nil {
		if _, err := r.store.AddJoinedRoom(ctx, id); err != nil {
			r.log.Warn("persist joined room failed", logx.String("room", id), logx.Err(err))
		}
	}
	eventbus.Emit(r.bus, eventbus.TypeRoomJoined, id)
	return room, nil
}

func (r *Rooms) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Rejoin joins every persisted room plus extra. Failures are logged and
// skipped; the number of rooms held afterwards is returned.
func (r *Rooms) Rejoin(ctx context.Context, extra []string) int {
	var ids []string
	if r.store != nil {
		ids = r.store.JoinedRooms()
	}
	for _, id := range extra {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if _, err := r.Join(ctx, id); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			r.log.Warn("rejoin failed", logx.String("room", id), logx.Err(err))
			continue
		}
		r.log.Info("joined room", logx.String("room", id))
	}
	return r.Len()
}
