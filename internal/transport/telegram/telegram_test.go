package telegram

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"roombot/internal/transport"
	logx "roombot/pkg/logx"
)

func offlineAdapter(t *testing.T) (*Adapter, *tele.Bot) {
	t.Helper()
	settings := botSettings("", time.Second)
	settings.Offline = true
	b, err := tele.NewBot(settings)
	if err != nil {
		t.Fatalf("offline bot: %v", err)
	}
	return newAdapter(Config{Handle: "@roombot"}, b, logx.Nop()), b
}

func textUpdate(i int) tele.Update {
	return tele.Update{ID: i, Message: &tele.Message{
		ID:     i,
		Chat:   &tele.Chat{ID: 42},
		Sender: &tele.User{ID: 7, Username: "alice"},
		Text:   fmt.Sprintf("message %d", i),
	}}
}

func TestUpdatesKeepDeliveryOrder(t *testing.T) {
	a, b := offlineAdapter(t)
	const n = 500
	out := make(chan transport.Event, n)
	a.sink.Store(&sink{ctx: context.Background(), out: out})

	for i := 1; i <= n; i++ {
		b.ProcessUpdate(textUpdate(i))
	}

	for i := 1; i <= n; i++ {
		select {
		case ev := <-out:
			if want := fmt.Sprintf("42:%d", i); ev.ID != want {
				t.Fatalf("position %d: got %s want %s", i, ev.ID, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d events delivered", i-1, n)
		}
	}

	recent := a.history.Recent("42", 3)
	if len(recent) != 3 || recent[0].ID != "42:500" || recent[2].ID != "42:498" {
		t.Fatalf("history out of order: %+v", recent)
	}
}

func TestFullChannelHoldsUpdatesInsteadOfDropping(t *testing.T) {
	a, b := offlineAdapter(t)
	out := make(chan transport.Event, 1)
	a.sink.Store(&sink{ctx: context.Background(), out: out})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 3; i++ {
			b.ProcessUpdate(textUpdate(i))
		}
	}()

	for i := 1; i <= 3; i++ {
		select {
		case ev := <-out:
			if want := fmt.Sprintf("42:%d", i); ev.ID != want {
				t.Fatalf("got %s want %s", ev.ID, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d lost", i)
		}
	}
	<-done
}

func TestBlockedDeliveryReleasedOnStop(t *testing.T) {
	a, b := offlineAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan transport.Event) // nobody reads
	a.sink.Store(&sink{ctx: ctx, out: out})

	done := make(chan struct{})
	go func() {
		b.ProcessUpdate(textUpdate(1))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler still blocked after cancel")
	}
}

func TestNoSinkKeepsHistoryOnly(t *testing.T) {
	a, b := offlineAdapter(t)
	b.ProcessUpdate(textUpdate(1))
	if got := a.history.Recent("42", 5); len(got) != 1 || got[0].Text != "message 1" {
		t.Fatalf("history=%+v", got)
	}
}

func TestSplitTextShort(t *testing.T) {
	got := splitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(s, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextHardCut(t *testing.T) {
	got := splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("got %q", got)
	}
}

func TestEventFromTextMessage(t *testing.T) {
	m := &tele.Message{
		ID:       42,
		Chat:     &tele.Chat{ID: -1001},
		Sender:   &tele.User{ID: 7, Username: "alice"},
		Text:     "!status",
		Unixtime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Unix(),
	}
	ev, ok := eventFromMessage(m, transport.EventText)
	if !ok {
		t.Fatalf("expected event")
	}
	if ev.ID != "-1001:42" || ev.RoomID != "-1001" || ev.Sender != "7" || ev.SenderName != "alice" || ev.Text != "!status" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.At.IsZero() {
		t.Fatalf("timestamp missing")
	}
}

func TestEventFromVoiceMessage(t *testing.T) {
	m := &tele.Message{
		ID:     5,
		Chat:   &tele.Chat{ID: 9},
		Sender: &tele.User{ID: 3, FirstName: "Bob"},
		Voice:  &tele.Voice{File: tele.File{FileID: "voice-file"}},
	}
	ev, ok := eventFromMessage(m, transport.EventAudio)
	if !ok || ev.MediaRef != "voice-file" || ev.SenderName != "Bob" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestEventFromInviteIsDistinct(t *testing.T) {
	m := &tele.Message{ID: 5, Chat: &tele.Chat{ID: 9}}
	ev, ok := eventFromMessage(m, transport.EventInvite)
	if !ok || ev.ID != "invite:9:5" || ev.Kind != transport.EventInvite {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, ok := eventFromMessage(nil, transport.EventText); ok {
		t.Fatalf("nil message must be ignored")
	}
}
