package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeScheduleFired, Data: int64(1)})
	b.Publish(Event{Type: TypeScheduleRetired, Data: int64(1)})

	if e := <-a; e.Type != TypeScheduleFired || e.Time.IsZero() {
		t.Fatalf("unexpected first event: %+v", e)
	}
	select {
	case e := <-a:
		t.Fatalf("buffer of 1 should have dropped the second event, got %+v", e)
	default:
	}
	if got := len(c); got != 2 {
		t.Fatalf("second subscriber buffered %d events, want 2", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	b.Publish(Event{Type: TypeRoomJoined})
}

func TestEmitNilBus(t *testing.T) {
	Emit(nil, TypeConfigReloaded, nil)
}
