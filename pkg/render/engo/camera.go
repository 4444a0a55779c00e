// pkg/render/engo/camera.go
package engo

import (
	"math"

	"github.com/EngoEngine/engo"

	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// Viewport fits the operating envelope into a pixel rectangle. The ground
// aspect ratio is kept, so one pixel covers the same distance east and
// north; the envelope is centred in whatever room is left.
type Viewport struct {
	Envelope physics.Envelope
	Origin   engo.Point // pixel of the north-west corner

	pxPerDegLng float64
	pxPerDegLat float64
}

// NewViewport fits env into the rectangle at (x, y) of size width×height.
// A degenerate envelope or rectangle yields a viewport that maps every
// position to the rectangle origin.
func NewViewport(env physics.Envelope, x, y, width, height float32) Viewport {
	v := Viewport{Envelope: env, Origin: engo.Point{X: x, Y: y}}

	lngMeters := physics.MetersPerDegLon(env.Center().Y) * env.Width()
	latMeters := physics.MetersPerDegLat * env.Height()
	if lngMeters <= 0 || latMeters <= 0 || width <= 0 || height <= 0 {
		return v
	}

	pxPerMeter := math.Min(float64(width)/lngMeters, float64(height)/latMeters)
	v.pxPerDegLng = pxPerMeter * physics.MetersPerDegLon(env.Center().Y)
	v.pxPerDegLat = pxPerMeter * physics.MetersPerDegLat

	v.Origin.X += (width - float32(lngMeters*pxPerMeter)) / 2
	v.Origin.Y += (height - float32(latMeters*pxPerMeter)) / 2
	return v
}

// Valid reports whether the viewport has a usable scale.
func (v Viewport) Valid() bool {
	return v.pxPerDegLng > 0 && v.pxPerDegLat > 0
}

// Size returns the pixel extent of the envelope.
func (v Viewport) Size() (width, height float32) {
	return float32(v.Envelope.Width() * v.pxPerDegLng), float32(v.Envelope.Height() * v.pxPerDegLat)
}

// ToScreen maps a position to a pixel. Latitude grows upward on the map
// while engo's y axis grows downward.
func (v Viewport) ToScreen(pos physics.Vector2D) engo.Point {
	return engo.Point{
		X: v.Origin.X + float32((pos.X-v.Envelope.MinLng)*v.pxPerDegLng),
		Y: v.Origin.Y + float32((v.Envelope.MaxLat-pos.Y)*v.pxPerDegLat),
	}
}

// ToWorld is the inverse of ToScreen.
func (v Viewport) ToWorld(p engo.Point) physics.Vector2D {
	if !v.Valid() {
		return v.Envelope.Center()
	}
	return physics.Vector2D{
		X: v.Envelope.MinLng + float64(p.X-v.Origin.X)/v.pxPerDegLng,
		Y: v.Envelope.MaxLat - float64(p.Y-v.Origin.Y)/v.pxPerDegLat,
	}
}
