package render

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

var testEnvelope = physics.Envelope{MinLng: 0, MinLat: 0, MaxLng: 10, MaxLat: 10}

func TestProjection_ToScreen(t *testing.T) {
	p := NewProjection(testEnvelope, 1, 1, 11, 11)

	tests := []struct {
		name   string
		pos    physics.Vector2D
		wantX  int
		wantY  int
		inside bool
	}{
		{"north west corner", physics.Vector2D{X: 0, Y: 10}, 1, 1, true},
		{"south east corner", physics.Vector2D{X: 10, Y: 0}, 11, 11, true},
		{"centre", physics.Vector2D{X: 5, Y: 5}, 6, 6, true},
		{"north of envelope", physics.Vector2D{X: 5, Y: 10.1}, 0, 0, false},
		{"west of envelope", physics.Vector2D{X: -0.1, Y: 5}, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y, ok := p.ToScreen(tt.pos)
			assert.Equal(t, tt.inside, ok)
			if tt.inside {
				assert.Equal(t, tt.wantX, x)
				assert.Equal(t, tt.wantY, y)
			}
		})
	}
}

func TestProjection_Degenerate(t *testing.T) {
	_, _, ok := NewProjection(testEnvelope, 0, 0, 0, 10).ToScreen(physics.Vector2D{X: 5, Y: 5})
	assert.False(t, ok)

	flat := physics.Envelope{MinLng: 0, MaxLng: 10, MinLat: 5, MaxLat: 5}
	_, _, ok = NewProjection(flat, 0, 0, 10, 10).ToScreen(physics.Vector2D{X: 5, Y: 5})
	assert.False(t, ok)
}

func TestProjection_ToWorldInvertsToScreen(t *testing.T) {
	p := NewProjection(testEnvelope, 1, 1, 11, 11)
	w := p.ToWorld(6, 6)
	assert.InDelta(t, 5, w.X, 1e-9)
	assert.InDelta(t, 5, w.Y, 1e-9)

	x, y, ok := p.ToScreen(p.ToWorld(3, 9))
	require.True(t, ok)
	assert.Equal(t, 3, x)
	assert.Equal(t, 9, y)
}

func TestHeadingGlyph(t *testing.T) {
	tests := []struct {
		deg  float64
		want rune
	}{
		{0, '↑'},
		{44, '↗'},
		{90, '→'},
		{180, '↓'},
		{270, '←'},
		{337.4, '↖'},
		{337.6, '↑'},
		{359, '↑'},
		{-90, '←'},
		{720 + 135, '↘'},
	}
	for _, tt := range tests {
		assert.Equal(t, string(tt.want), string(HeadingGlyph(tt.deg)), "heading %v", tt.deg)
	}
}

func TestHUDLine(t *testing.T) {
	s := engine.Sample{HeadingDegrees: 45, SpeedMetersPerSecond: 12.34, Mode: physics.ModeAuto, Latitude: 1, Longitude: 2}
	line := HUDLine(s, "connected")
	assert.Contains(t, line, "BRG 045°")
	assert.Contains(t, line, "SPD  12.3 m/s")
	assert.Contains(t, line, "MODE auto")
	assert.Contains(t, line, "LINK connected")

	assert.NotContains(t, HUDLine(s, ""), "LINK")
}

func TestNullRenderer_CountsFrames(t *testing.T) {
	r := NewNullRenderer(nil)
	Draw(r, Frame{Envelope: testEnvelope})
	Draw(r, Frame{Envelope: testEnvelope, Trace: []physics.Vector2D{{X: 1, Y: 1}}})
	assert.Equal(t, 2, r.Frames())
}

func newSimScreen(t *testing.T, w, h int) tcell.SimulationScreen {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, screen.Init())
	screen.SetSize(w, h)
	t.Cleanup(screen.Fini)
	return screen
}

func TestTerminalRenderer_DrawsFrame(t *testing.T) {
	screen := newSimScreen(t, 40, 15)
	r := NewTerminalRenderer(screen, 3)

	drone := engine.Sample{Longitude: 5, Latitude: 5, HeadingDegrees: 90, Mode: physics.ModeManual}
	Draw(r, Frame{
		Envelope: testEnvelope,
		Sample:   drone,
		Trace:    []physics.Vector2D{{X: 1, Y: 9}},
		HUD:      []string{"BRG 090°", "» moving", "ignored", "beyond hud rows"},
	})

	assert.Equal(t, '+', r.Cell(0, 0))
	assert.Equal(t, '+', r.Cell(39, 11))
	assert.Equal(t, '|', r.Cell(0, 5))
	assert.Equal(t, '-', r.Cell(10, 11))

	x, y, ok := r.Projection().ToScreen(drone.Position())
	require.True(t, ok)
	assert.Equal(t, '→', r.Cell(x, y))
	assert.True(t, x > 0 && x < 39 && y > 0 && y < 11)

	tx, ty, ok := r.Projection().ToScreen(physics.Vector2D{X: 1, Y: 9})
	require.True(t, ok)
	assert.Equal(t, '·', r.Cell(tx, ty))

	assert.Contains(t, r.Row(12), "BRG 090°")
	assert.Contains(t, r.Row(13), "» moving")
	assert.Contains(t, r.Row(14), "ignored")
	assert.Equal(t, rune(0), r.Cell(40, 0))
	assert.Empty(t, r.Row(15))
}

func TestTerminalRenderer_FollowsResize(t *testing.T) {
	screen := newSimScreen(t, 20, 10)
	r := NewTerminalRenderer(screen, 1)
	Draw(r, Frame{Envelope: testEnvelope})
	assert.Equal(t, '+', r.Cell(19, 8))

	screen.SetSize(30, 12)
	Draw(r, Frame{Envelope: testEnvelope})
	assert.Equal(t, '+', r.Cell(29, 10))
	assert.Equal(t, 28, r.Projection().Width)
}
