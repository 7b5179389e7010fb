package events

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	bus := NewBus()
	var wg sync.WaitGroup
	wg.Add(1)

	var got Event
	bus.Subscribe(EventSignal, func(e Event) {
		got = e
		wg.Done()
	})

	bus.PublishSignal("BTCUSD", "long", 95000, 104000)
	wg.Wait()

	if got.Type != EventSignal {
		t.Fatalf("type = %s, want %s", got.Type, EventSignal)
	}
	if got.Data["symbol"] != "BTCUSD" || got.Data["signal"] != "long" {
		t.Errorf("bad event data: %+v", got.Data)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be set on publish")
	}
}

func TestSubscriberDoesNotSeeOtherTypes(t *testing.T) {
	bus := NewBus()
	received := make(chan Event, 1)
	bus.Subscribe(EventRiskBreach, func(e Event) { received <- e })

	bus.PublishSignal("BTCUSD", "long", 95000, 104000)

	select {
	case e := <-received:
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	received := make(chan EventType, 4)
	bus.SubscribeAll(func(e Event) { received <- e.Type })

	bus.PublishError("bot", "tick failed")
	bus.PublishRiskBreach("BTCUSD", 300, 1000)

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case typ := <-received:
			seen[typ] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if !seen[EventError] || !seen[EventRiskBreach] {
		t.Errorf("missing events: %+v", seen)
	}
}
