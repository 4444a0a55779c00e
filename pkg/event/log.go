// pkg/event/log.go
package event

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLogCapacity bounds how many entries a Log retains.
const DefaultLogCapacity = 256

// Entry is one diagnostic record of the lifecycle stream.
type Entry struct {
	ID          string `json:"id"`
	Type        Type   `json:"type"`
	Message     string `json:"message"`
	TimestampMs int64  `json:"timestampMs"`
}

// LoggedTypes lists the event types a Log records when attached to a bus.
// SamplePublished is excluded; it fires every frame.
var LoggedTypes = []Type{
	SimulationStarted,
	SimulationStopped,
	ModeChanged,
	BoundaryBounced,
	MaxSpeedReached,
	StartedMoving,
	StoppedMoving,
	OperatorConnected,
	OperatorDisconnected,
	ClientDisconnected,
	ClientReconnected,
	ClientReconnectFailed,
}

// Log is an append-only, bounded record of entries. Once capacity is
// reached the oldest entries are no longer returned to readers.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	now      func() time.Time
	watchers map[uint64]func(Entry)
	nextID   uint64
}

// NewLog creates a log that keeps at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Append records a new entry and returns it.
func (l *Log) Append(t Type, message string) Entry {
	entry := Entry{
		ID:          uuid.NewString(),
		Type:        t,
		Message:     message,
		TimestampMs: l.now().UnixMilli(),
	}

	l.mu.Lock()
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)
	watchers := make([]func(Entry), 0, len(l.watchers))
	for _, w := range l.watchers {
		watchers = append(watchers, w)
	}
	l.mu.Unlock()

	for _, w := range watchers {
		w(entry)
	}
	return entry
}

// Record appends an entry describing e.
func (l *Log) Record(e Event) Entry {
	return l.Append(e.GetType(), Describe(e))
}

// Watch registers fn to be called with every appended entry, on the
// appending goroutine. The returned function removes the watcher.
func (l *Log) Watch(fn func(Entry)) (unwatch func()) {
	l.mu.Lock()
	if l.watchers == nil {
		l.watchers = make(map[uint64]func(Entry))
	}
	l.nextID++
	id := l.nextID
	l.watchers[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.watchers, id)
		l.mu.Unlock()
	}
}

// Attach subscribes the log to every LoggedTypes event on bus.
func (l *Log) Attach(bus *Bus) *Subscription {
	return bus.SubscribeAll(LoggedTypes, func(e Event) { l.Record(e) })
}

// Entries returns a copy of the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Since returns the entries appended after the entry with the given id.
// An unknown or empty id returns every retained entry.
func (l *Log) Since(id string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, e := range l.entries {
		if e.ID == id {
			return append([]Entry(nil), l.entries[i+1:]...)
		}
	}
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Describe renders a short human readable message for e.
func Describe(e Event) string {
	switch ev := e.(type) {
	case *ModeEvent:
		return fmt.Sprintf("mode %s -> %s at %.6f, %.6f", ev.From, ev.To, ev.Position.Y, ev.Position.X)
	case *BoundaryEvent:
		edges := make([]string, len(ev.Edges))
		for i, edge := range ev.Edges {
			edges[i] = string(edge)
		}
		return fmt.Sprintf("bounced off %s edge, heading %.1f°", strings.Join(edges, "+"), ev.HeadingDegrees)
	case *MotionEvent:
		switch ev.GetType() {
		case StartedMoving:
			return fmt.Sprintf("started moving (%.1f m/s, %s)", ev.SpeedMetersPerSecond, ev.Mode)
		case StoppedMoving:
			return fmt.Sprintf("stopped moving (%.1f m/s)", ev.SpeedMetersPerSecond)
		default:
			return fmt.Sprintf("max speed reached (%.1f m/s)", ev.SpeedMetersPerSecond)
		}
	case *LifecycleEvent:
		if ev.Reason != "" {
			return fmt.Sprintf("%s in %s mode: %s", ev.GetType(), ev.Mode, ev.Reason)
		}
		return fmt.Sprintf("%s in %s mode", ev.GetType(), ev.Mode)
	case *ConnectionEvent:
		msg := string(ev.GetType())
		if ev.Name != "" {
			msg += " " + ev.Name
		}
		if ev.Reason != "" {
			msg += ": " + ev.Reason
		}
		return msg
	case *SampleEvent:
		return fmt.Sprintf("tick %d at %.6f, %.6f", ev.Tick, ev.Position.Y, ev.Position.X)
	default:
		return string(e.GetType())
	}
}
