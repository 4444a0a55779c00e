// pkg/event/event_test.go
package event

import (
	"sync"
	"testing"

	"github.com/opd-ai/go-dronesim/pkg/physics"
)

func TestNewEventBus_Creation_ReturnsInitializedBus(t *testing.T) {
	bus := NewEventBus()

	if bus == nil {
		t.Fatal("NewEventBus() returned nil")
	}

	if bus.handlers == nil {
		t.Error("handlers map not initialized")
	}

	if bus.nextID != 1 {
		t.Errorf("expected nextID to be 1, got %d", bus.nextID)
	}
}

func TestBaseEvent_GetType_ReturnsCorrectType(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		source    interface{}
	}{
		{"mode changed", ModeChanged, "runner"},
		{"boundary bounced", BoundaryBounced, 123},
		{"empty source", SimulationStarted, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &BaseEvent{EventType: tt.eventType, Source: tt.source}

			if event.GetType() != tt.eventType {
				t.Errorf("GetType() = %v, want %v", event.GetType(), tt.eventType)
			}
			if event.GetSource() != tt.source {
				t.Errorf("GetSource() = %v, want %v", event.GetSource(), tt.source)
			}
		})
	}
}

func TestBusSubscribe_MultipleHandlers_UniqueIDs(t *testing.T) {
	bus := NewEventBus()

	sub1 := bus.Subscribe(ModeChanged, func(Event) {})
	sub2 := bus.Subscribe(ModeChanged, func(Event) {})
	_ = bus.Subscribe(BoundaryBounced, func(Event) {})

	if sub1.ID == 0 || sub1.ID == sub2.ID {
		t.Errorf("expected distinct non-zero IDs, got %d and %d", sub1.ID, sub2.ID)
	}

	bus.mu.RLock()
	defer bus.mu.RUnlock()
	if n := len(bus.handlers[ModeChanged]); n != 2 {
		t.Errorf("expected 2 handlers for ModeChanged, got %d", n)
	}
	if n := len(bus.handlers[BoundaryBounced]); n != 1 {
		t.Errorf("expected 1 handler for BoundaryBounced, got %d", n)
	}
}

func TestBusPublish_WithSubscribers_CallsMatchingHandlers(t *testing.T) {
	bus := NewEventBus()
	var got []Type

	bus.Subscribe(ModeChanged, func(e Event) { got = append(got, e.GetType()) })
	bus.Subscribe(ModeChanged, func(e Event) { got = append(got, e.GetType()) })
	bus.Subscribe(StoppedMoving, func(e Event) { t.Error("unexpected StoppedMoving delivery") })

	bus.Publish(NewModeEvent("test", physics.ModeManual, physics.ModeAuto, physics.Vector2D{}))

	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	for _, typ := range got {
		if typ != ModeChanged {
			t.Errorf("expected %v, got %v", ModeChanged, typ)
		}
	}
}

func TestBusPublish_NoSubscribers_NoError(t *testing.T) {
	NewEventBus().Publish(&BaseEvent{EventType: SimulationStopped})
}

func TestSubscriptionCancel_RemovesOnlyThatHandler(t *testing.T) {
	bus := NewEventBus()
	calls := map[string]int{}

	first := bus.Subscribe(MaxSpeedReached, func(Event) { calls["first"]++ })
	bus.Subscribe(MaxSpeedReached, func(Event) { calls["second"]++ })

	first.Cancel()
	first.Cancel()

	bus.Publish(NewMotionEvent(MaxSpeedReached, nil, 85.7, physics.ModeManual))

	if calls["first"] != 0 {
		t.Errorf("cancelled handler called %d times", calls["first"])
	}
	if calls["second"] != 1 {
		t.Errorf("remaining handler called %d times, expected 1", calls["second"])
	}
}

func TestBusSubscribeAll_CancelRemovesEveryType(t *testing.T) {
	bus := NewEventBus()
	count := 0

	sub := bus.SubscribeAll([]Type{StartedMoving, StoppedMoving}, func(Event) { count++ })
	bus.Publish(NewMotionEvent(StartedMoving, nil, 1, physics.ModeAuto))
	bus.Publish(NewMotionEvent(StoppedMoving, nil, 0, physics.ModeAuto))

	sub.Cancel()
	bus.Publish(NewMotionEvent(StartedMoving, nil, 1, physics.ModeAuto))

	if count != 2 {
		t.Errorf("expected 2 deliveries, got %d", count)
	}
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	if len(bus.handlers) != 0 {
		t.Errorf("expected empty handler map, got %d types", len(bus.handlers))
	}
}

func TestBusSubscribe_ConcurrentAccess_ThreadSafe(t *testing.T) {
	bus := NewEventBus()
	var wg sync.WaitGroup
	var mu sync.Mutex
	handlerCount := 0

	handler := func(e Event) {
		mu.Lock()
		handlerCount++
		mu.Unlock()
	}

	numGoroutines := 10
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			bus.Subscribe(BoundaryBounced, handler)
		}()
	}
	wg.Wait()

	event := NewBoundaryEvent("test", []physics.Edge{physics.EdgeNorth}, 180)
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func() {
			defer wg.Done()
			bus.Publish(event)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if expected := numGoroutines * 3; handlerCount != expected {
		t.Errorf("expected %d handler calls, got %d", expected, handlerCount)
	}
}

func TestBusPublish_HandlerMaySubscribe(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(SimulationStarted, func(Event) {
		bus.Subscribe(SimulationStopped, func(Event) {})
	})

	bus.Publish(NewLifecycleEvent(SimulationStarted, nil, physics.ModeManual, ""))
}
