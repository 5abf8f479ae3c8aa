package events

import (
	"fmt"
	"testing"

	"skillchain/core/types"
)

type testEvent struct {
	id int
}

func (e testEvent) EventType() string { return "test.event" }

func (e testEvent) Event() *types.Event {
	return &types.Event{
		Type:       "test.event",
		Attributes: map[string]string{"id": fmt.Sprintf("%d", e.id)},
	}
}

func TestHubAssignsSequence(t *testing.T) {
	hub := NewHub(8)
	for i := 1; i <= 3; i++ {
		hub.Emit(testEvent{id: i})
	}
	if hub.LastSeq() != 3 {
		t.Fatalf("expected seq 3, got %d", hub.LastSeq())
	}
}

func TestHubReplaysBacklogAfterCursor(t *testing.T) {
	hub := NewHub(8)
	for i := 1; i <= 5; i++ {
		hub.Emit(testEvent{id: i})
	}
	_, cancel, backlog := hub.Subscribe(2)
	defer cancel()
	if len(backlog) != 3 {
		t.Fatalf("expected 3 backlog events, got %d", len(backlog))
	}
	if backlog[0].Seq != 3 {
		t.Fatalf("expected first replayed seq 3, got %d", backlog[0].Seq)
	}
}

func TestHubTrimsBacklogToLimit(t *testing.T) {
	hub := NewHub(2)
	for i := 1; i <= 5; i++ {
		hub.Emit(testEvent{id: i})
	}
	_, cancel, backlog := hub.Subscribe(0)
	defer cancel()
	if len(backlog) != 2 {
		t.Fatalf("expected backlog capped at 2, got %d", len(backlog))
	}
	if backlog[0].Seq != 4 || backlog[1].Seq != 5 {
		t.Fatalf("expected seqs 4,5 got %d,%d", backlog[0].Seq, backlog[1].Seq)
	}
}

func TestHubDeliversLiveEvents(t *testing.T) {
	hub := NewHub(8)
	updates, cancel, _ := hub.Subscribe(0)
	defer cancel()
	hub.Emit(testEvent{id: 42})
	select {
	case stamped := <-updates:
		if stamped.Event.Attributes["id"] != "42" {
			t.Fatalf("unexpected attributes: %v", stamped.Event.Attributes)
		}
	default:
		t.Fatalf("expected live delivery")
	}
}

func TestHubCancelStopsDelivery(t *testing.T) {
	hub := NewHub(8)
	updates, cancel, _ := hub.Subscribe(0)
	cancel()
	if _, ok := <-updates; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	// A second cancel is a no-op.
	cancel()
	hub.Emit(testEvent{id: 1})
}

func TestHubSkipsSlowSubscribers(t *testing.T) {
	hub := NewHub(512)
	updates, cancel, _ := hub.Subscribe(0)
	defer cancel()
	// Overrun the subscriber channel; Emit must not block.
	for i := 0; i < 256; i++ {
		hub.Emit(testEvent{id: i})
	}
	if len(updates) != cap(updates) {
		t.Fatalf("expected channel full at %d, got %d", cap(updates), len(updates))
	}
}
