package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"roombot/internal/apperr"
	logx "roombot/pkg/logx"
)

func openTestStore(t *testing.T, driver string) (*ConfigStore, Config) {
	t.Helper()
	name := "config.json"
	if driver == "sqlite" {
		name = "roombot.db"
	}
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), name)}
	st, err := Open(context.Background(), cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, cfg
}

func TestOpenCreatesEmptyDocument(t *testing.T) {
	st, cfg := openTestStore(t, "file")
	doc := st.Snapshot()
	if len(doc.ScheduledMessages) != 0 || len(doc.JoinedRooms) != 0 || doc.NextID != 1 {
		t.Fatalf("unexpected fresh document: %+v", doc)
	}
	b, err := os.ReadFile(cfg.Path)
	if err != nil {
		t.Fatalf("document not persisted: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	for _, k := range []string{"scheduled_messages", "joined_rooms", "auto_transcribe_rooms", "next_id"} {
		if _, ok := raw[k]; !ok {
			t.Fatalf("missing key %q in %s", k, b)
		}
	}
}

func TestRoundTripAcrossReopen(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, cfg := openTestStore(t, driver)

			m, err := st.AddMessage(ctx, ScheduledMessage{RoomID: "100", Message: "ping", At: TimeOfDay{9, 0}})
			if err != nil {
				t.Fatalf("add: %v", err)
			}
			if m.ID != 1 || m.CreatedAt.IsZero() {
				t.Fatalf("unexpected message: %+v", m)
			}
			if _, err := st.AddMessage(ctx, ScheduledMessage{RoomID: "100", Message: "standup", At: TimeOfDay{10, 30}, Repeat: RepeatWeekdays}); err != nil {
				t.Fatalf("add: %v", err)
			}
			if _, err := st.AddJoinedRoom(ctx, "100"); err != nil {
				t.Fatalf("join: %v", err)
			}
			_ = st.Close()

			again, err := Open(ctx, cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer again.Close()

			msgs := again.Messages()
			if len(msgs) != 2 {
				t.Fatalf("want 2 messages, got %d", len(msgs))
			}
			if msgs[0].Repeat != RepeatNone || msgs[1].Repeat != RepeatWeekdays {
				t.Fatalf("repeat not preserved: %+v", msgs)
			}
			if msgs[1].At.String() != "10:30" {
				t.Fatalf("time not preserved: %s", msgs[1].At)
			}
			if got := again.JoinedRooms(); len(got) != 1 || got[0] != "100" {
				t.Fatalf("joined rooms: %v", got)
			}
		})
	}
}

func TestIDsAreNeverReused(t *testing.T) {
	ctx := context.Background()
	st, cfg := openTestStore(t, "file")

	a, _ := st.AddMessage(ctx, ScheduledMessage{RoomID: "r", Message: "a", At: TimeOfDay{1, 0}})
	b, _ := st.AddMessage(ctx, ScheduledMessage{RoomID: "r", Message: "b", At: TimeOfDay{1, 0}})
	if _, err := st.RemoveMessage(ctx, b.ID, ""); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_ = st.Close()

	again, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	c, _ := again.AddMessage(ctx, ScheduledMessage{RoomID: "r", Message: "c", At: TimeOfDay{1, 0}})
	if c.ID <= b.ID || c.ID <= a.ID {
		t.Fatalf("id %d reused (a=%d b=%d)", c.ID, a.ID, b.ID)
	}
}

func TestLegacyDocumentWithoutCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	legacy := `{"scheduled_messages":[{"id":7,"room_id":"r","message":"x","schedule_time":"08:15","repeat":"daily"}],"joined_rooms":["r"]}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := st.Snapshot().NextID; got != 8 {
		t.Fatalf("next_id=%d want 8", got)
	}
	if st.AutoTranscribe("r") {
		t.Fatalf("room should not be enrolled")
	}
}

func TestRemoveChecksOwner(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t, "file")
	m, _ := st.AddMessage(ctx, ScheduledMessage{RoomID: "A", Message: "hi", At: TimeOfDay{9, 0}})

	if _, err := st.RemoveMessage(ctx, m.ID, "B"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("want forbidden, got %v", err)
	}
	if _, err := st.RemoveMessage(ctx, 999, "A"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want not found, got %v", err)
	}
	if st.MessageCount() != 1 {
		t.Fatalf("job must survive failed removals")
	}
	if _, err := st.RemoveMessage(ctx, m.ID, "A"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(st.MessagesForRoom("A")) != 0 {
		t.Fatalf("job still listed")
	}
}

type failingBackend struct {
	doc   Document
	fail  bool
	saves int
}

func (f *failingBackend) Load(context.Context) (Document, bool, error) { return f.doc, true, nil }
func (f *failingBackend) Save(_ context.Context, doc Document) error {
	if f.fail {
		return errors.New("disk full")
	}
	f.saves++
	f.doc = doc
	return nil
}
func (f *failingBackend) Close() error { return nil }

func TestFailedSaveLeavesMemoryUntouched(t *testing.T) {
	ctx := context.Background()
	b := &failingBackend{}
	st, err := NewConfigStore(ctx, b, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	b.fail = true
	_, err = st.AddMessage(ctx, ScheduledMessage{RoomID: "r", Message: "x", At: TimeOfDay{1, 2}})
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("want storage error, got %v", err)
	}
	if st.MessageCount() != 0 || st.Snapshot().NextID != 1 {
		t.Fatalf("memory mutated after failed save: %+v", st.Snapshot())
	}
}

func TestSetAutoTranscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := &failingBackend{}
	st, _ := NewConfigStore(ctx, b, logx.Nop())

	changed, err := st.SetAutoTranscribe(ctx, "r", true)
	if err != nil || !changed {
		t.Fatalf("enable: changed=%v err=%v", changed, err)
	}
	changed, _ = st.SetAutoTranscribe(ctx, "r", true)
	if changed || b.saves != 1 {
		t.Fatalf("second enable should be a no-op (saves=%d)", b.saves)
	}
	if !st.AutoTranscribe("r") {
		t.Fatalf("room not enrolled")
	}
	changed, _ = st.SetAutoTranscribe(ctx, "r", false)
	if !changed || st.AutoTranscribe("r") {
		t.Fatalf("disable failed")
	}
}

func TestAtomicSaveLeavesNoTempFile(t *testing.T) {
	ctx := context.Background()
	st, cfg := openTestStore(t, "file")
	if _, err := st.AddJoinedRoom(ctx, "r"); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(filepath.Dir(cfg.Path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestSecondWriterIsLockedOut(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, cfg := openTestStore(t, driver)
			if _, err := st.AddMessage(ctx, ScheduledMessage{RoomID: "r", Message: "hi", At: TimeOfDay{9, 0}}); err != nil {
				t.Fatalf("add: %v", err)
			}

			if other, err := Open(ctx, cfg, logx.Nop()); !errors.Is(err, ErrLocked) {
				if other != nil {
					_ = other.Close()
				}
				t.Fatalf("second writer: want ErrLocked, got %v", err)
			}

			// The owner keeps working and its job stays on disk.
			if _, err := st.AddMessage(ctx, ScheduledMessage{RoomID: "r", Message: "again", At: TimeOfDay{10, 0}}); err != nil {
				t.Fatalf("owner add: %v", err)
			}
			_ = st.Close()

			again, err := Open(ctx, cfg, logx.Nop())
			if err != nil {
				t.Fatalf("open after owner closed: %v", err)
			}
			defer again.Close()
			if again.MessageCount() != 2 {
				t.Fatalf("messages=%d want 2", again.MessageCount())
			}
		})
	}
}

func TestReadOnlyStoreNextToOwner(t *testing.T) {
	ctx := context.Background()
	st, cfg := openTestStore(t, "file")
	if _, err := st.AddMessage(ctx, ScheduledMessage{RoomID: "r", Message: "hi", At: TimeOfDay{9, 0}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	ro := cfg
	ro.ReadOnly = true
	view, err := Open(ctx, ro, logx.Nop())
	if err != nil {
		t.Fatalf("read-only open: %v", err)
	}
	defer view.Close()

	if view.MessageCount() != 1 {
		t.Fatalf("read-only view sees %d messages", view.MessageCount())
	}
	_, err = view.RemoveMessage(ctx, 1, "")
	if !errors.Is(err, ErrReadOnly) || !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("want read-only storage error, got %v", err)
	}
	if st.MessageCount() != 1 {
		t.Fatalf("owner lost its job")
	}
}

func TestReadOnlyOpenDoesNotCreateDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	st, err := Open(context.Background(), Config{Driver: "file", Path: path, ReadOnly: true}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read-only open created %s (err=%v)", path, err)
	}
}
