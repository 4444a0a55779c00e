// pkg/event/event.go
package event

import (
	"sync"

	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// Type represents the type of event
type Type string

// Simulation lifecycle event types
const (
	SimulationStarted Type = "simulation_started"
	SimulationStopped Type = "simulation_stopped"
	ModeChanged       Type = "mode_changed"
	BoundaryBounced   Type = "boundary_bounced"
	MaxSpeedReached   Type = "max_speed_reached"
	StartedMoving     Type = "started_moving"
	StoppedMoving     Type = "stopped_moving"
	SamplePublished   Type = "sample_published"
)

// Transport event types
const (
	OperatorConnected     Type = "operator_connected"
	OperatorDisconnected  Type = "operator_disconnected"
	ClientDisconnected    Type = "client_disconnected"
	ClientReconnected     Type = "client_reconnected"
	ClientReconnectFailed Type = "client_reconnect_failed"
)

// Event is the base interface for all events
type Event interface {
	GetType() Type
	GetSource() interface{}
}

// BaseEvent provides common functionality for all events
type BaseEvent struct {
	EventType Type
	Source    interface{}
}

// GetType returns the event type
func (e *BaseEvent) GetType() Type {
	return e.EventType
}

// GetSource returns the event source
func (e *BaseEvent) GetSource() interface{} {
	return e.Source
}

// Handler is a function that handles events
type Handler func(Event)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID     uint64
	Cancel func()
}

type registration struct {
	id      uint64
	handler Handler
}

// Bus manages event subscriptions and dispatching. Delivery is synchronous
// on the publisher's goroutine.
type Bus struct {
	handlers map[Type][]registration
	nextID   uint64
	mu       sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]registration),
		nextID:   1,
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType Type, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], registration{id: id, handler: handler})

	return &Subscription{
		ID:     id,
		Cancel: func() { b.Unsubscribe(eventType, id) },
	}
}

// SubscribeAll registers one handler for several event types. The returned
// subscription cancels every registration.
func (b *Bus) SubscribeAll(types []Type, handler Handler) *Subscription {
	subs := make([]*Subscription, 0, len(types))
	for _, t := range types {
		subs = append(subs, b.Subscribe(t, handler))
	}

	var once sync.Once
	first := uint64(0)
	if len(subs) > 0 {
		first = subs[0].ID
	}
	return &Subscription{
		ID: first,
		Cancel: func() {
			once.Do(func() {
				for _, s := range subs {
					s.Cancel()
				}
			})
		},
	}
}

// Unsubscribe removes the handler registered under id
func (b *Bus) Unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, ok := b.handlers[eventType]
	if !ok {
		return
	}

	for i, r := range handlers {
		if r.id == id {
			b.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// Publish sends an event to all subscribed handlers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]registration(nil), b.handlers[event.GetType()]...)
	b.mu.RUnlock()

	for _, r := range handlers {
		r.handler(event)
	}
}

// Specific event implementations

// ModeEvent reports a Manual/Auto transition.
type ModeEvent struct {
	BaseEvent
	From     physics.Mode
	To       physics.Mode
	Position physics.Vector2D
}

// NewModeEvent creates a new mode change event
func NewModeEvent(source interface{}, from, to physics.Mode, pos physics.Vector2D) *ModeEvent {
	return &ModeEvent{
		BaseEvent: BaseEvent{EventType: ModeChanged, Source: source},
		From:      from,
		To:        to,
		Position:  pos,
	}
}

// BoundaryEvent reports an Auto-mode reflection.
type BoundaryEvent struct {
	BaseEvent
	Edges          []physics.Edge
	HeadingDegrees float64
}

// NewBoundaryEvent creates a new boundary bounce event
func NewBoundaryEvent(source interface{}, edges []physics.Edge, headingDeg float64) *BoundaryEvent {
	return &BoundaryEvent{
		BaseEvent:      BaseEvent{EventType: BoundaryBounced, Source: source},
		Edges:          edges,
		HeadingDegrees: headingDeg,
	}
}

// MotionEvent covers started_moving, stopped_moving and max_speed_reached.
type MotionEvent struct {
	BaseEvent
	SpeedMetersPerSecond float64
	Mode                 physics.Mode
}

// NewMotionEvent creates a new motion event
func NewMotionEvent(eventType Type, source interface{}, speed float64, mode physics.Mode) *MotionEvent {
	return &MotionEvent{
		BaseEvent:            BaseEvent{EventType: eventType, Source: source},
		SpeedMetersPerSecond: speed,
		Mode:                 mode,
	}
}

// LifecycleEvent reports simulation start and stop.
type LifecycleEvent struct {
	BaseEvent
	Mode   physics.Mode
	Reason string
}

// NewLifecycleEvent creates a new start/stop event
func NewLifecycleEvent(eventType Type, source interface{}, mode physics.Mode, reason string) *LifecycleEvent {
	return &LifecycleEvent{
		BaseEvent: BaseEvent{EventType: eventType, Source: source},
		Mode:      mode,
		Reason:    reason,
	}
}

// SampleEvent carries a published drone sample to in-process collaborators
// such as the trace recorder.
type SampleEvent struct {
	BaseEvent
	Position             physics.Vector2D
	HeadingDegrees       float64
	SpeedMetersPerSecond float64
	Mode                 physics.Mode
	Tick                 uint64
}

// NewSampleEvent creates a new sample event
func NewSampleEvent(source interface{}, pos physics.Vector2D, headingDeg, speed float64, mode physics.Mode, tick uint64) *SampleEvent {
	return &SampleEvent{
		BaseEvent:            BaseEvent{EventType: SamplePublished, Source: source},
		Position:             pos,
		HeadingDegrees:       headingDeg,
		SpeedMetersPerSecond: speed,
		Mode:                 mode,
		Tick:                 tick,
	}
}

// ConnectionEvent reports operator and client transport changes.
type ConnectionEvent struct {
	BaseEvent
	ClientID string
	Name     string
	Reason   string
}

// NewConnectionEvent creates a new connection event
func NewConnectionEvent(eventType Type, source interface{}, clientID, name, reason string) *ConnectionEvent {
	return &ConnectionEvent{
		BaseEvent: BaseEvent{EventType: eventType, Source: source},
		ClientID:  clientID,
		Name:      name,
		Reason:    reason,
	}
}
