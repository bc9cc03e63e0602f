package storage

import (
	"encoding/json"
	"errors"
	"testing"

	"roombot/internal/apperr"
)

func TestParseTimeOfDay(t *testing.T) {
	good := map[string]string{"09:00": "09:00", "9:05": "09:05", "23:59": "23:59", "00:00": "00:00"}
	for in, want := range good {
		got, err := ParseTimeOfDay(in)
		if err != nil || got.String() != want {
			t.Fatalf("ParseTimeOfDay(%q)=%v,%v want %s", in, got, err, want)
		}
	}
	for _, in := range []string{"25:00", "24:00", "12:60", "9", "", "ab:cd", "9:5", "123:00", "+1:00", "12:-1"} {
		if _, err := ParseTimeOfDay(in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("ParseTimeOfDay(%q) should be a validation error, got %v", in, err)
		}
	}
}

func TestRepeatJSON(t *testing.T) {
	b, _ := json.Marshal(ScheduledMessage{ID: 1, RoomID: "r", Message: "m", At: TimeOfDay{7, 30}})
	var raw map[string]any
	_ = json.Unmarshal(b, &raw)
	if v, ok := raw["repeat"]; !ok || v != nil {
		t.Fatalf("one-time repeat should encode as null: %s", b)
	}
	if raw["schedule_time"] != "07:30" {
		t.Fatalf("schedule_time: %s", b)
	}

	var m ScheduledMessage
	if err := json.Unmarshal([]byte(`{"id":2,"repeat":"weekly","schedule_time":"10:00"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Repeat != RepeatWeekly || m.Repeat.Label() != "Weekly" {
		t.Fatalf("repeat: %q", m.Repeat)
	}
	if err := json.Unmarshal([]byte(`{"repeat":"hourly"}`), &m); err == nil {
		t.Fatalf("unknown repeat must fail")
	}
}

func TestPreviewAlwaysEllipsized(t *testing.T) {
	short := ScheduledMessage{Message: "ping"}
	if got := short.Preview(); got != "ping..." {
		t.Fatalf("got %q", got)
	}
	long := ScheduledMessage{Message: "0123456789012345678901234567890123456789"}
	if got := long.Preview(); got != "012345678901234567890123456789..." {
		t.Fatalf("got %q", got)
	}
}
