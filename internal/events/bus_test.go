package events

import (
	"sync"
	"testing"
	"time"
)

// ============================================================================
// EVENT BUS TESTS
// ============================================================================

func TestSubscribePublish(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{}, 1)

	bus.Subscribe(EventOrderPlaced, func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.PublishOrderPlaced(1001, "BTCUSDT", "LIMIT", "BUY", 42000.5, 0.5)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	e := received[0]
	if e.Type != EventOrderPlaced {
		t.Errorf("unexpected event type: %s", e.Type)
	}
	if e.Data["symbol"] != "BTCUSDT" || e.Data["order_id"] != int64(1001) {
		t.Errorf("unexpected event data: %+v", e.Data)
	}
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	seen := make(map[EventType]bool)
	done := make(chan struct{}, 2)

	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		seen[e.Type] = true
		mu.Unlock()
		done <- struct{}{}
	})

	bus.PublishCycleReset("BTCUSDT", 2002, 43000, 0.499)
	bus.PublishError("controller", "order rejected", nil)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("subscriber was not invoked for all events")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !seen[EventCycleReset] || !seen[EventError] {
		t.Errorf("wildcard subscriber missed events: %+v", seen)
	}
}

func TestUnsubscribedTypeIsDropped(t *testing.T) {
	bus := NewEventBus()

	called := make(chan struct{}, 1)
	bus.Subscribe(EventOrderPlaced, func(e Event) {
		called <- struct{}{}
	})

	bus.PublishCycleReset("BTCUSDT", 1, 100, 1)

	select {
	case <-called:
		t.Error("subscriber for a different event type should not fire")
	case <-time.After(50 * time.Millisecond):
	}
}
