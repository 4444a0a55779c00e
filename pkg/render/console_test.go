package render

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-dronesim/pkg/control"
	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

type keyCall struct {
	code    string
	pressed bool
}

type fakeOperator struct {
	mu      sync.Mutex
	keys    []keyCall
	toggles int
}

func (f *fakeOperator) SendKey(code string, pressed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keyCall{code, pressed})
	return nil
}

func (f *fakeOperator) ToggleMode() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	return nil
}

func (f *fakeOperator) calls() []keyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]keyCall(nil), f.keys...)
}

func newTestConsole(t *testing.T) (*TerminalConsole, *fakeOperator) {
	t.Helper()
	op := &fakeOperator{}
	c := NewTerminalConsole(newSimScreen(t, 60, 20), op, testEnvelope, logging.NewNopLogger())
	return c, op
}

func TestTerminalConsole_HoldWindowRelease(t *testing.T) {
	c, op := newTestConsole(t)
	t0 := time.Unix(0, 0)

	assert.False(t, c.handleInput(tcell.KeyUp, 0, t0))
	assert.False(t, c.handleInput(tcell.KeyUp, 0, t0.Add(100*time.Millisecond)), "auto-repeat")
	assert.True(t, c.Held(control.KeyArrowUp))
	assert.Equal(t, []keyCall{{control.KeyArrowUp, true}}, op.calls(), "repeats do not resend the press")

	c.ReleaseStale(t0.Add(200 * time.Millisecond))
	assert.True(t, c.Held(control.KeyArrowUp), "the repeat restarted the window")

	c.ReleaseStale(t0.Add(250 * time.Millisecond))
	assert.False(t, c.Held(control.KeyArrowUp))
	assert.Equal(t, []keyCall{{control.KeyArrowUp, true}, {control.KeyArrowUp, false}}, op.calls())
}

func TestTerminalConsole_KeyMapping(t *testing.T) {
	c, op := newTestConsole(t)
	now := time.Now()

	c.handleInput(tcell.KeyRune, 'w', now)
	c.handleInput(tcell.KeyRune, 'A', now)
	c.handleInput(tcell.KeyLeft, 0, now)
	c.handleInput(tcell.KeyRune, 'x', now)
	c.handleInput(tcell.KeyEnter, 0, now)

	assert.Equal(t, []keyCall{
		{control.KeyW, true},
		{control.KeyA, true},
		{control.KeyArrowLeft, true},
	}, op.calls())

	c.ReleaseAll()
	assert.Len(t, op.calls(), 6)
	assert.False(t, c.Held(control.KeyW))
}

func TestTerminalConsole_ModeAndQuit(t *testing.T) {
	c, op := newTestConsole(t)
	now := time.Now()

	assert.False(t, c.handleInput(tcell.KeyRune, 'm', now))
	assert.False(t, c.handleInput(tcell.KeyRune, 'M', now))
	assert.Equal(t, 2, op.toggles)

	assert.True(t, c.handleInput(tcell.KeyRune, 'q', now))
	assert.True(t, c.handleInput(tcell.KeyEscape, 0, now))
	assert.True(t, c.handleInput(tcell.KeyCtrlC, 0, now))
}

func TestTerminalConsole_FrameContents(t *testing.T) {
	c, _ := newTestConsole(t)

	c.UpdateSample(engine.Sample{Longitude: 2, Latitude: 2, HeadingDegrees: 180, Mode: physics.ModeAuto, Tick: 1})
	c.UpdateSample(engine.Sample{Longitude: 3, Latitude: 2, HeadingDegrees: 90, Mode: physics.ModeAuto, Tick: 2})
	c.AddEntry(event.Entry{Type: event.StartedMoving, Message: "first"})
	c.AddEntry(event.Entry{Type: event.BoundaryBounced, Message: "second"})
	c.AddEntry(event.Entry{Type: event.ModeChanged, Message: "third"})
	c.SetLink("lost")

	f := c.Frame()
	assert.Equal(t, testEnvelope, f.Envelope)
	assert.Equal(t, uint64(2), f.Sample.Tick)
	assert.Len(t, f.Trace, 2)
	require.Len(t, f.HUD, 3)
	assert.Contains(t, f.HUD[0], "LINK lost")
	assert.Equal(t, "» third", f.HUD[1])
	assert.Equal(t, "» second", f.HUD[2])

	c.Draw()
	x, y, ok := c.renderer.Projection().ToScreen(physics.Vector2D{X: 3, Y: 2})
	require.True(t, ok)
	assert.Equal(t, '→', c.renderer.Cell(x, y))
}

func TestTerminalConsole_RunEndsWhenSamplesClose(t *testing.T) {
	c, op := newTestConsole(t)
	c.handleInput(tcell.KeyDown, 0, time.Now())

	samples := make(chan engine.Sample, 1)
	samples <- engine.Sample{Longitude: 5, Latitude: 5, Tick: 7}
	close(samples)

	err := c.Run(context.Background(), samples, make(chan event.Entry))
	assert.NoError(t, err)
	assert.Equal(t, uint64(7), c.Frame().Sample.Tick)
	assert.Contains(t, c.Frame().HUD[0], "LINK closed")
	assert.Equal(t, keyCall{control.KeyArrowDown, false}, op.calls()[len(op.calls())-1], "held keys are released on exit")
}

func TestTerminalConsole_RunStopsOnCancel(t *testing.T) {
	c, _ := newTestConsole(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, make(chan engine.Sample), make(chan event.Entry)) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
