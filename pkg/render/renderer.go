// pkg/render/renderer.go
package render

import (
	"context"
	"fmt"
	"math"

	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// Renderer draws one console frame. Draw calls the methods in order.
type Renderer interface {
	Clear()
	RenderEnvelope(env physics.Envelope)
	RenderTrace(points []physics.Vector2D)
	RenderDrone(sample engine.Sample)
	RenderHUD(lines []string)
	Present()
}

// Frame is everything a console shows at one instant.
type Frame struct {
	Envelope physics.Envelope
	Sample   engine.Sample
	Trace    []physics.Vector2D
	HUD      []string
}

// Draw renders f with r.
func Draw(r Renderer, f Frame) {
	r.Clear()
	r.RenderEnvelope(f.Envelope)
	r.RenderTrace(f.Trace)
	r.RenderDrone(f.Sample)
	r.RenderHUD(f.HUD)
	r.Present()
}

// Projection maps the envelope onto a screen rectangle. Longitude grows to
// the right and latitude grows upward, so screen y is inverted.
type Projection struct {
	Envelope      physics.Envelope
	X, Y          int
	Width, Height int
}

// NewProjection maps env onto the rectangle at (x, y) of size w×h.
func NewProjection(env physics.Envelope, x, y, w, h int) Projection {
	return Projection{Envelope: env, X: x, Y: y, Width: w, Height: h}
}

// ToScreen returns the cell for pos. ok is false when pos lies outside the
// envelope or the rectangle is empty.
func (p Projection) ToScreen(pos physics.Vector2D) (x, y int, ok bool) {
	e := p.Envelope
	if p.Width <= 0 || p.Height <= 0 || e.MaxLng <= e.MinLng || e.MaxLat <= e.MinLat {
		return 0, 0, false
	}
	if pos.X < e.MinLng || pos.X > e.MaxLng || pos.Y < e.MinLat || pos.Y > e.MaxLat {
		return 0, 0, false
	}

	fx := (pos.X - e.MinLng) / (e.MaxLng - e.MinLng)
	fy := (e.MaxLat - pos.Y) / (e.MaxLat - e.MinLat)
	x = p.X + int(math.Round(fx*float64(p.Width-1)))
	y = p.Y + int(math.Round(fy*float64(p.Height-1)))
	return x, y, true
}

// ToWorld returns the position at the centre of cell (x, y).
func (p Projection) ToWorld(x, y int) physics.Vector2D {
	e := p.Envelope
	var fx, fy float64
	if p.Width > 1 {
		fx = float64(x-p.X) / float64(p.Width-1)
	}
	if p.Height > 1 {
		fy = float64(y-p.Y) / float64(p.Height-1)
	}
	return physics.Vector2D{
		X: e.MinLng + fx*(e.MaxLng-e.MinLng),
		Y: e.MaxLat - fy*(e.MaxLat-e.MinLat),
	}
}

var headingGlyphs = [8]rune{'↑', '↗', '→', '↘', '↓', '↙', '←', '↖'}

// HeadingGlyph returns an arrow for the compass octant containing deg.
func HeadingGlyph(deg float64) rune {
	d := math.Mod(deg+22.5, 360)
	if d < 0 {
		d += 360
	}
	return headingGlyphs[int(d/45)%8]
}

// HUDLine formats bearing, speed, mode and link status.
func HUDLine(s engine.Sample, link string) string {
	line := fmt.Sprintf("BRG %03.0f°  SPD %5.1f m/s  MODE %-6s  %.5f, %.5f",
		s.HeadingDegrees, s.SpeedMetersPerSecond, s.Mode, s.Latitude, s.Longitude)
	if link != "" {
		line += "  LINK " + link
	}
	return line
}

// NullRenderer discards frames, logging them at debug level.
type NullRenderer struct {
	logger *logging.Logger
	frames int
}

// NewNullRenderer creates a NullRenderer. A nil logger discards output.
func NewNullRenderer(logger *logging.Logger) *NullRenderer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &NullRenderer{logger: logger.With("null_renderer")}
}

// Frames returns the number of presented frames.
func (d *NullRenderer) Frames() int {
	return d.frames
}

func (d *NullRenderer) Clear() {}

func (d *NullRenderer) RenderEnvelope(env physics.Envelope) {}

func (d *NullRenderer) RenderTrace(points []physics.Vector2D) {
	d.logger.Debug(context.Background(), "Trace", "points", len(points))
}

func (d *NullRenderer) RenderDrone(sample engine.Sample) {
	d.logger.Debug(context.Background(), "Drone",
		"tick", sample.Tick,
		"lat", sample.Latitude,
		"lng", sample.Longitude,
		"heading", sample.HeadingDegrees,
		"speed", sample.SpeedMetersPerSecond,
	)
}

func (d *NullRenderer) RenderHUD(lines []string) {}

func (d *NullRenderer) Present() {
	d.frames++
}
