// pkg/physics/envelope.go
package physics

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerateEnvelope is a fatal configuration error: the operating
// envelope has no area or is not finite.
var ErrDegenerateEnvelope = errors.New("degenerate operating envelope")

// Edge identifies one side of the operating envelope.
type Edge string

const (
	EdgeWest  Edge = "west"
	EdgeEast  Edge = "east"
	EdgeSouth Edge = "south"
	EdgeNorth Edge = "north"
)

// Envelope is the rectangular region the drone must stay inside, in degrees.
type Envelope struct {
	MinLng float64 `json:"minLng"`
	MinLat float64 `json:"minLat"`
	MaxLng float64 `json:"maxLng"`
	MaxLat float64 `json:"maxLat"`
}

// EnvelopeFromPolygon returns the bounding box of a boundary polygon.
// Vertices use X for longitude and Y for latitude.
func EnvelopeFromPolygon(vertices []Vector2D) (Envelope, error) {
	if len(vertices) < 3 {
		return Envelope{}, fmt.Errorf("%w: polygon needs at least 3 vertices, got %d",
			ErrDegenerateEnvelope, len(vertices))
	}

	env := Envelope{
		MinLng: math.Inf(1),
		MinLat: math.Inf(1),
		MaxLng: math.Inf(-1),
		MaxLat: math.Inf(-1),
	}
	for _, v := range vertices {
		env.MinLng = math.Min(env.MinLng, v.X)
		env.MaxLng = math.Max(env.MaxLng, v.X)
		env.MinLat = math.Min(env.MinLat, v.Y)
		env.MaxLat = math.Max(env.MaxLat, v.Y)
	}

	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate reports whether the envelope can contain a drone.
func (e Envelope) Validate() error {
	for _, v := range []float64{e.MinLng, e.MinLat, e.MaxLng, e.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite bound", ErrDegenerateEnvelope)
		}
	}
	if e.MinLng >= e.MaxLng {
		return fmt.Errorf("%w: minLng %.9f >= maxLng %.9f", ErrDegenerateEnvelope, e.MinLng, e.MaxLng)
	}
	if e.MinLat >= e.MaxLat {
		return fmt.Errorf("%w: minLat %.9f >= maxLat %.9f", ErrDegenerateEnvelope, e.MinLat, e.MaxLat)
	}
	if e.MinLat < -90 || e.MaxLat > 90 {
		return fmt.Errorf("%w: latitude outside [-90, 90]", ErrDegenerateEnvelope)
	}
	return nil
}

// Contains reports whether p lies inside the closed envelope.
func (e Envelope) Contains(p Vector2D) bool {
	return p.X >= e.MinLng && p.X <= e.MaxLng && p.Y >= e.MinLat && p.Y <= e.MaxLat
}

// Clamp returns p moved to the nearest point inside the envelope.
func (e Envelope) Clamp(p Vector2D) Vector2D {
	return Vector2D{
		X: math.Min(math.Max(p.X, e.MinLng), e.MaxLng),
		Y: math.Min(math.Max(p.Y, e.MinLat), e.MaxLat),
	}
}

// Center returns the midpoint of the envelope.
func (e Envelope) Center() Vector2D {
	return Vector2D{X: (e.MinLng + e.MaxLng) / 2, Y: (e.MinLat + e.MaxLat) / 2}
}

// Width returns the longitude span in degrees.
func (e Envelope) Width() float64 { return e.MaxLng - e.MinLng }

// Height returns the latitude span in degrees.
func (e Envelope) Height() float64 { return e.MaxLat - e.MinLat }
