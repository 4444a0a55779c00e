package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// about 11.1 m of latitude
const step = 1e-4

func TestRecorder_MinDistanceFilter(t *testing.T) {
	r := NewRecorder(100, 5)
	origin := physics.Vector2D{X: 19.94, Y: 50.06}

	assert.True(t, r.Record(origin))
	assert.False(t, r.Record(physics.Vector2D{X: origin.X, Y: origin.Y + step/10}), "1.1 m is below the filter")
	assert.True(t, r.Record(physics.Vector2D{X: origin.X, Y: origin.Y + step}))

	assert.Equal(t, 2, r.Len())
	assert.InDelta(t, 11.132, r.Length(), 1e-3)
}

func TestRecorder_ZeroDistanceNeverDuplicates(t *testing.T) {
	r := NewRecorder(10, 0)
	p := physics.Vector2D{X: 1, Y: 1}

	r.Record(p)
	assert.False(t, r.Record(p))
	assert.Equal(t, 1, r.Len())
}

func TestRecorder_BoundedDropsOldest(t *testing.T) {
	r := NewRecorder(3, 0)
	for i := 0; i < 5; i++ {
		r.Record(physics.Vector2D{X: 19.94, Y: 50 + float64(i)*step})
	}

	points := r.Points()
	require.Len(t, points, 3)
	assert.InDelta(t, 50+2*step, points[0].Y, 1e-12)
	assert.InDelta(t, 50+4*step, points[2].Y, 1e-12)
	assert.InDelta(t, 2*step*physics.MetersPerDegLat, r.Length(), 1e-6)
}

func TestRecorder_Reset(t *testing.T) {
	r := NewRecorder(3, 0)
	r.Record(physics.Vector2D{X: 1, Y: 1})
	r.Record(physics.Vector2D{X: 1, Y: 2})

	r.Reset()

	assert.Zero(t, r.Len())
	assert.Zero(t, r.Length())
}

func TestRecorder_AttachFollowsSamples(t *testing.T) {
	bus := event.NewEventBus()
	r := NewRecorder(10, 0)
	sub := r.Attach(bus)

	bus.Publish(event.NewSampleEvent(nil, physics.Vector2D{X: 19.94, Y: 50.06}, 0, 0, physics.ModeAuto, 1))
	bus.Publish(event.NewSampleEvent(nil, physics.Vector2D{X: 19.95, Y: 50.06}, 90, 10, physics.ModeAuto, 2))
	sub.Cancel()
	bus.Publish(event.NewSampleEvent(nil, physics.Vector2D{X: 19.96, Y: 50.06}, 90, 10, physics.ModeAuto, 3))

	assert.Equal(t, 2, r.Len())
}

func TestRecorder_NilIsEmpty(t *testing.T) {
	var r *Recorder

	assert.Nil(t, r.Points())
	assert.Zero(t, r.Len())
	assert.Zero(t, r.Length())
}
