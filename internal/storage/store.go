package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"roombot/internal/apperr"
	logx "roombot/pkg/logx"
)

// ConfigStore is the single owner of the persisted Document.
//
// Every mutation is a read-modify-write under mu: the callback edits a copy,
// the copy is saved, and only a successful save replaces the in-memory
// document. Reads never touch the backend.
type ConfigStore struct {
	backend  Backend
	log      logx.Logger
	now      func() time.Time
	readOnly bool
	owner    *ownerLock

	mu  sync.Mutex
	doc Document
}

// NewConfigStore loads the document from b, creating and persisting an empty
// one when none exists yet.
func NewConfigStore(ctx context.Context, b Backend, log logx.Logger) (*ConfigStore, error) {
	return newConfigStore(ctx, b, log, false)
}

func newConfigStore(ctx context.Context, b Backend, log logx.Logger, readOnly bool) (*ConfigStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &ConfigStore{backend: b, log: log, now: time.Now, readOnly: readOnly}
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load re-reads the backend, replacing the in-memory document.
func (s *ConfigStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, found, err := s.backend.Load(ctx)
	if err != nil {
		return apperr.Storage("load", err)
	}
	doc.normalize()
	if !found && !s.readOnly {
		if err := s.backend.Save(ctx, doc); err != nil {
			return apperr.Storage("create", err)
		}
		s.log.Info("created empty config document")
	}
	s.doc = doc
	return nil
}

// Update runs fn against a copy of the document and persists the result.
// If fn or the save fails the in-memory document is unchanged.
func (s *ConfigStore) Update(ctx context.Context, fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return apperr.Storage("save", ErrReadOnly)
	}
	next := s.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.normalize()
	if err := s.backend.Save(ctx, next); err != nil {
		return apperr.Storage("save", err)
	}
	s.doc = next
	return nil
}

// Snapshot returns a deep copy of the current document.
func (s *ConfigStore) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.clone()
}

// Close closes the backend and gives up ownership of the document.
func (s *ConfigStore) Close() error {
	err := s.backend.Close()
	if rerr := s.owner.release(); err == nil {
		err = rerr
	}
	s.owner = nil
	return err
}

// ---- scheduled messages ----

// AddMessage assigns the next id and persists m.
func (s *ConfigStore) AddMessage(ctx context.Context, m ScheduledMessage) (ScheduledMessage, error) {
	m.RoomID = strings.TrimSpace(m.RoomID)
	if m.RoomID == "" {
		return ScheduledMessage{}, apperr.Validation("room id is required")
	}
	if strings.TrimSpace(m.Message) == "" {
		return ScheduledMessage{}, apperr.Validation("message text is required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	err := s.Update(ctx, func(doc *Document) error {
		m.ID = doc.NextID
		doc.NextID++
		doc.ScheduledMessages = append(doc.ScheduledMessages, m)
		return nil
	})
	if err != nil {
		return ScheduledMessage{}, err
	}
	return m, nil
}

// RemoveMessage deletes job id. When owner is non-empty the job must belong
// to that room, otherwise ErrForbidden is returned and nothing changes.
func (s *ConfigStore) RemoveMessage(ctx context.Context, id int64, owner string) (ScheduledMessage, error) {
	var removed ScheduledMessage
	err := s.Update(ctx, func(doc *Document) error {
		i := slices.IndexFunc(doc.ScheduledMessages, func(m ScheduledMessage) bool { return m.ID == id })
		if i < 0 {
			return fmt.Errorf("scheduled message %d: %w", id, apperr.ErrNotFound)
		}
		if owner != "" && doc.ScheduledMessages[i].RoomID != owner {
			return fmt.Errorf("scheduled message %d: %w", id, apperr.ErrForbidden)
		}
		removed = doc.ScheduledMessages[i]
		doc.ScheduledMessages = slices.Delete(doc.ScheduledMessages, i, i+1)
		return nil
	})
	if err != nil {
		return ScheduledMessage{}, err
	}
	return removed, nil
}

// Messages returns every job in creation order.
func (s *ConfigStore) Messages() []ScheduledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScheduledMessage(nil), s.doc.ScheduledMessages...)
}

// MessagesForRoom returns the jobs owned by roomID in creation order.
func (s *ConfigStore) MessagesForRoom(roomID string) []ScheduledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScheduledMessage
	for _, m := range s.doc.ScheduledMessages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out
}

func (s *ConfigStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc.ScheduledMessages)
}

// ---- rooms ----

// AddJoinedRoom records roomID. It reports whether the set changed.
func (s *ConfigStore) AddJoinedRoom(ctx context.Context, roomID string) (bool, error) {
	return s.setMember(ctx, roomID, true, func(d *Document) *[]string { return &d.JoinedRooms })
}

func (s *ConfigStore) JoinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.doc.JoinedRooms...)
}

// SetAutoTranscribe enrolls or removes roomID. It reports whether the set changed.
func (s *ConfigStore) SetAutoTranscribe(ctx context.Context, roomID string, on bool) (bool, error) {
	return s.setMember(ctx, roomID, on, func(d *Document) *[]string { return &d.AutoTranscribeRooms })
}

func (s *ConfigStore) AutoTranscribe(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.doc.AutoTranscribeRooms, roomID)
}

func (s *ConfigStore) setMember(ctx context.Context, roomID string, present bool, field func(*Document) *[]string) (bool, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return false, apperr.Validation("room id is required")
	}
	s.mu.Lock()
	has := slices.Contains(*field(&s.doc), roomID)
	s.mu.Unlock()
	if has == present {
		return false, nil
	}

	changed := false
	err := s.Update(ctx, func(doc *Document) error {
		set := field(doc)
		i := slices.Index(*set, roomID)
		switch {
		case present && i < 0:
			*set = append(*set, roomID)
			changed = true
		case !present && i >= 0:
			*set = slices.Delete(*set, i, i+1)
			changed = true
		}
		return nil
	})
	return changed, err
}
