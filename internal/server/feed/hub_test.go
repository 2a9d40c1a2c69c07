package feed

import (
	"io"
	"log/slog"
	"testing"
)

func newTestHub(bufSize int) *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), bufSize)
}

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	h := newTestHub(4)
	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish(Attack{SourceIP: "203.0.113.1", TargetUsername: "admin", AttemptNumber: 3})

	for _, ch := range []chan Attack{a, b} {
		select {
		case got := <-ch:
			if got.SourceIP != "203.0.113.1" || got.AttemptNumber != 3 {
				t.Errorf("received %+v", got)
			}
		default:
			t.Fatal("subscriber did not receive the attack")
		}
	}
}

func TestSubscribe_NoReplayOfEarlierAttacks(t *testing.T) {
	h := newTestHub(4)
	h.Publish(Attack{SourceIP: "203.0.113.1"})

	ch := h.Subscribe()
	h.Publish(Attack{SourceIP: "203.0.113.2"})

	got := <-ch
	if got.SourceIP != "203.0.113.2" {
		t.Errorf("first delivery = %s, want the post-subscribe attack", got.SourceIP)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra delivery %+v", extra)
	default:
	}
}

func TestPublish_EvictsSlowSubscriber(t *testing.T) {
	h := newTestHub(1)
	slow := h.Subscribe()
	fast := h.Subscribe()

	h.Publish(Attack{SourceIP: "203.0.113.1"}) // fills both buffers
	<-fast
	h.Publish(Attack{SourceIP: "203.0.113.2"}) // slow is full: evicted

	if h.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1 after eviction", h.Subscribers())
	}

	// The evicted channel is drained then closed.
	if got := <-slow; got.SourceIP != "203.0.113.1" {
		t.Errorf("buffered delivery = %+v", got)
	}
	if _, open := <-slow; open {
		t.Error("evicted subscriber channel still open")
	}

	// Unsubscribe after eviction must not panic.
	h.Unsubscribe(slow)

	if got := <-fast; got.SourceIP != "203.0.113.2" {
		t.Errorf("fast subscriber missed delivery, got %+v", got)
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	h := newTestHub(0)
	ch := h.Subscribe()
	h.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0", h.Subscribers())
	}
}

func TestClose_RejectsNewSubscribers(t *testing.T) {
	h := newTestHub(0)
	ch := h.Subscribe()
	h.Close()

	if _, open := <-ch; open {
		t.Error("existing subscriber not closed")
	}
	late := h.Subscribe()
	if _, open := <-late; open {
		t.Error("post-close subscriber received an open channel")
	}
	h.Publish(Attack{SourceIP: "203.0.113.1"}) // must not panic
}
