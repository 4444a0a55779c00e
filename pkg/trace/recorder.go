// Package trace records the path flown by the drone.
package trace

import (
	"sync"

	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// DefaultMaxPoints bounds a recorder when no configuration is available.
const DefaultMaxPoints = 2000

// Recorder keeps a bounded polyline of visited positions. A point is only
// added once the drone has moved at least MinDistance metres from the
// previous one; when full, the oldest point is dropped.
type Recorder struct {
	mu          sync.RWMutex
	points      []physics.Vector2D
	maxPoints   int
	minDistance float64
	length      float64
}

// NewRecorder creates a recorder. maxPoints below 2 is raised to 2.
func NewRecorder(maxPoints int, minDistanceMeters float64) *Recorder {
	if maxPoints < 2 {
		maxPoints = 2
	}
	if minDistanceMeters < 0 {
		minDistanceMeters = 0
	}
	return &Recorder{
		points:      make([]physics.Vector2D, 0, maxPoints),
		maxPoints:   maxPoints,
		minDistance: minDistanceMeters,
	}
}

// Record offers a position. It reports whether the point was kept.
func (r *Recorder) Record(pos physics.Vector2D) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.points); n > 0 {
		d := physics.DistanceMeters(r.points[n-1], pos)
		if d < r.minDistance || (d == 0 && r.minDistance == 0) {
			return false
		}
		r.length += d
	}

	if len(r.points) == r.maxPoints {
		r.length -= physics.DistanceMeters(r.points[0], r.points[1])
		copy(r.points, r.points[1:])
		r.points = r.points[:len(r.points)-1]
	}
	r.points = append(r.points, pos)
	return true
}

// Attach records every published sample on bus.
func (r *Recorder) Attach(bus *event.Bus) *event.Subscription {
	return bus.Subscribe(event.SamplePublished, func(e event.Event) {
		if s, ok := e.(*event.SampleEvent); ok {
			r.Record(s.Position)
		}
	})
}

// Points returns a copy of the recorded path, oldest first. A nil
// recorder (tracing disabled) has no points.
func (r *Recorder) Points() []physics.Vector2D {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]physics.Vector2D(nil), r.points...)
}

// Len returns the number of recorded points.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points)
}

// Length returns the length of the retained path in metres.
func (r *Recorder) Length() float64 {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.length < 0 {
		return 0
	}
	return r.length
}

// Reset forgets the recorded path.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.points = r.points[:0]
	r.length = 0
	r.mu.Unlock()
}
