package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"roombot/internal/apperr"
)

// Config configures the persistence backend.
//
// Driver values:
//   - "file" (default): JSON document on disk
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// ReadOnly opens the document without taking ownership. Mutations fail
	// with ErrReadOnly and a missing document is not created.
	ReadOnly bool
}

// Backend loads and saves a whole document. Save must be atomic: a concurrent
// Load observes either the previous or the new document, never a mix.
type Backend interface {
	Load(ctx context.Context) (doc Document, found bool, err error)
	Save(ctx context.Context, doc Document) error
	Close() error
}

// Repeat is a scheduled message's recurrence class. The zero value is a
// one-time message and is persisted as JSON null.
type Repeat string

const (
	RepeatNone     Repeat = ""
	RepeatDaily    Repeat = "daily"
	RepeatWeekly   Repeat = "weekly"
	RepeatWeekdays Repeat = "weekdays"
)

func ParseRepeat(s string) (Repeat, bool) {
	switch r := Repeat(strings.ToLower(strings.TrimSpace(s))); r {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatWeekdays:
		return r, true
	}
	return RepeatNone, false
}

// Label is the capitalised form used in replies ("Daily", "Weekdays").
func (r Repeat) Label() string {
	if r == RepeatNone {
		return "One-time"
	}
	s := string(r)
	return strings.ToUpper(s[:1]) + s[1:]
}

func (r Repeat) MarshalJSON() ([]byte, error) {
	if r == RepeatNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

func (r *Repeat) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*r = RepeatNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, ok := ParseRepeat(s)
	if !ok {
		return fmt.Errorf("unknown repeat %q", s)
	}
	*r = v
	return nil
}

// TimeOfDay is a wall-clock HH:MM in the process's local zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts H:MM or HH:MM with 0<=H<24 and 0<=M<60.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return TimeOfDay{}, apperr.Validation("Invalid time format. Use HH:MM (24-hour format)")
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || h[0] == '+' || h[0] == '-' || m[0] == '+' || m[0] == '-' {
		return TimeOfDay{}, apperr.Validation("Invalid time format. Use HH:MM (24-hour format)")
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return TimeOfDay{}, apperr.Validation("Invalid time format. Use HH:MM (24-hour format)")
	}
	return TimeOfDay{Hour: hh, Minute: mm}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// On returns the instant at this time of day on the calendar day of ref.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, mo, d := ref.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, ref.Location())
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ScheduledMessage is one persisted job. It is immutable after creation.
type ScheduledMessage struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Message   string    `json:"message"`
	At        TimeOfDay `json:"schedule_time"`
	Repeat    Repeat    `json:"repeat"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Preview is the list-line excerpt: the first 30 runes followed by "...".
func (m ScheduledMessage) Preview() string {
	r := []rune(m.Message)
	if len(r) > 30 {
		r = r[:30]
	}
	return string(r) + "..."
}

// Document is the persisted state.
type Document struct {
	ScheduledMessages   []ScheduledMessage `json:"scheduled_messages"`
	JoinedRooms         []string           `json:"joined_rooms"`
	AutoTranscribeRooms []string           `json:"auto_transcribe_rooms"`
	NextID              int64              `json:"next_id"`
}

func (d Document) clone() Document {
	out := Document{
		ScheduledMessages:   append([]ScheduledMessage{}, d.ScheduledMessages...),
		JoinedRooms:         append([]string{}, d.JoinedRooms...),
		AutoTranscribeRooms: append([]string{}, d.AutoTranscribeRooms...),
		NextID:              d.NextID,
	}
	return out
}

// normalize fills empty collections and lifts NextID above every known id so
// ids are never reused, even for documents written before the counter existed.
func (d *Document) normalize() {
	if d.ScheduledMessages == nil {
		d.ScheduledMessages = []ScheduledMessage{}
	}
	if d.JoinedRooms == nil {
		d.JoinedRooms = []string{}
	}
	if d.AutoTranscribeRooms == nil {
		d.AutoTranscribeRooms = []string{}
	}
	if d.NextID < 1 {
		d.NextID = 1
	}
	for _, m := range d.ScheduledMessages {
		if m.ID >= d.NextID {
			d.NextID = m.ID + 1
		}
	}
}

func encodeDocument(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

func decodeDocument(b []byte) (Document, error) {
	var doc Document
	if len(bytes.TrimSpace(b)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}
