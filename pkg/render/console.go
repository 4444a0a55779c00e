package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/opd-ai/go-dronesim/pkg/control"
	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/physics"
	"github.com/opd-ai/go-dronesim/pkg/trace"
)

// DefaultHoldWindow is how long a terminal key counts as held after its
// last press or auto-repeat.
const DefaultHoldWindow = 150 * time.Millisecond

const (
	consoleHUDRows   = 3
	consoleRedraw    = 50 * time.Millisecond
	consoleEventRows = consoleHUDRows - 1
)

// Operator receives the console's commands. network.TelemetryClient
// satisfies it.
type Operator interface {
	SendKey(code string, pressed bool) error
	ToggleMode() error
}

// TerminalConsole is a tcell operator console. Terminals report key
// presses and auto-repeats but never releases, so a steering key is
// released once no repeat arrived within the hold window.
type TerminalConsole struct {
	screen     tcell.Screen
	renderer   *TerminalRenderer
	operator   Operator
	logger     *logging.Logger
	holdWindow time.Duration

	mu       sync.Mutex
	held     map[string]time.Time
	envelope physics.Envelope
	sample   engine.Sample
	path     *trace.Recorder
	link     string
	events   []string
}

// NewTerminalConsole creates a console drawing envelope on screen and
// sending commands to op.
func NewTerminalConsole(screen tcell.Screen, op Operator, envelope physics.Envelope, logger *logging.Logger) *TerminalConsole {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &TerminalConsole{
		screen:     screen,
		renderer:   NewTerminalRenderer(screen, consoleHUDRows),
		operator:   op,
		logger:     logger.With("terminal_console"),
		holdWindow: DefaultHoldWindow,
		held:       make(map[string]time.Time),
		envelope:   envelope,
		path:       trace.NewRecorder(trace.DefaultMaxPoints, 1),
		link:       "connected",
	}
}

// SetHoldWindow overrides DefaultHoldWindow.
func (c *TerminalConsole) SetHoldWindow(d time.Duration) {
	c.mu.Lock()
	c.holdWindow = d
	c.mu.Unlock()
}

// steeringKey maps a terminal key to a sampler key code.
func steeringKey(key tcell.Key, r rune) (string, bool) {
	switch key {
	case tcell.KeyUp:
		return control.KeyArrowUp, true
	case tcell.KeyDown:
		return control.KeyArrowDown, true
	case tcell.KeyLeft:
		return control.KeyArrowLeft, true
	case tcell.KeyRight:
		return control.KeyArrowRight, true
	case tcell.KeyRune:
		switch r {
		case 'w', 'W':
			return control.KeyW, true
		case 's', 'S':
			return control.KeyS, true
		case 'a', 'A':
			return control.KeyA, true
		case 'd', 'D':
			return control.KeyD, true
		}
	}
	return "", false
}

// HandleKey processes one terminal key event and reports whether the
// operator asked to quit.
func (c *TerminalConsole) HandleKey(ev *tcell.EventKey, now time.Time) (quit bool) {
	return c.handleInput(ev.Key(), ev.Rune(), now)
}

func (c *TerminalConsole) handleInput(key tcell.Key, r rune, now time.Time) bool {
	switch {
	case key == tcell.KeyEscape || key == tcell.KeyCtrlC:
		return true
	case key == tcell.KeyRune && (r == 'q' || r == 'Q'):
		return true
	case key == tcell.KeyRune && (r == 'm' || r == 'M'):
		if err := c.operator.ToggleMode(); err != nil {
			c.logger.Warn(context.Background(), "Mode toggle failed", "error", err.Error())
		}
		return false
	}

	code, ok := steeringKey(key, r)
	if !ok {
		return false
	}

	c.mu.Lock()
	_, wasHeld := c.held[code]
	c.held[code] = now
	c.mu.Unlock()

	if !wasHeld {
		if err := c.operator.SendKey(code, true); err != nil {
			c.logger.Warn(context.Background(), "Key press not sent", "key_code", code, "error", err.Error())
		}
	}
	return false
}

// ReleaseStale releases every key whose last press is older than the hold
// window.
func (c *TerminalConsole) ReleaseStale(now time.Time) {
	c.mu.Lock()
	var stale []string
	for code, last := range c.held {
		if now.Sub(last) >= c.holdWindow {
			stale = append(stale, code)
			delete(c.held, code)
		}
	}
	c.mu.Unlock()

	c.release(stale)
}

// ReleaseAll releases every held key.
func (c *TerminalConsole) ReleaseAll() {
	c.mu.Lock()
	codes := make([]string, 0, len(c.held))
	for code := range c.held {
		codes = append(codes, code)
	}
	c.held = make(map[string]time.Time)
	c.mu.Unlock()

	c.release(codes)
}

func (c *TerminalConsole) release(codes []string) {
	for _, code := range codes {
		if err := c.operator.SendKey(code, false); err != nil {
			c.logger.Warn(context.Background(), "Key release not sent", "key_code", code, "error", err.Error())
		}
	}
}

// Held reports whether code is currently held.
func (c *TerminalConsole) Held(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[code]
	return ok
}

// UpdateSample records the newest telemetry sample.
func (c *TerminalConsole) UpdateSample(s engine.Sample) {
	c.mu.Lock()
	c.sample = s
	c.mu.Unlock()
	c.path.Record(s.Position())
}

// AddEntry shows an event log entry under the HUD line.
func (c *TerminalConsole) AddEntry(e event.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e.Message)
	if len(c.events) > consoleEventRows {
		c.events = c.events[len(c.events)-consoleEventRows:]
	}
}

// SetLink sets the connection status shown in the HUD.
func (c *TerminalConsole) SetLink(status string) {
	c.mu.Lock()
	c.link = status
	c.mu.Unlock()
}

// Frame returns what the next Draw will show.
func (c *TerminalConsole) Frame() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	hud := []string{HUDLine(c.sample, c.link)}
	for i := len(c.events) - 1; i >= 0; i-- {
		hud = append(hud, fmt.Sprintf("» %s", c.events[i]))
	}
	return Frame{
		Envelope: c.envelope,
		Sample:   c.sample,
		Trace:    c.path.Points(),
		HUD:      hud,
	}
}

// Draw renders the current frame to the screen.
func (c *TerminalConsole) Draw() {
	Draw(c.renderer, c.Frame())
}

// Run drives the console until the operator quits, ctx is cancelled or
// samples closes. The caller owns the screen and must Fini it afterwards,
// which also ends the event poller.
func (c *TerminalConsole) Run(ctx context.Context, samples <-chan engine.Sample, entries <-chan event.Entry) error {
	keys := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := c.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case keys <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	redraw := time.NewTicker(consoleRedraw)
	defer redraw.Stop()
	defer c.ReleaseAll()

	c.Draw()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-samples:
			if !ok {
				c.SetLink("closed")
				c.Draw()
				return nil
			}
			c.UpdateSample(s)
		case e := <-entries:
			c.AddEntry(e)
		case ev := <-keys:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if c.HandleKey(ev, time.Now()) {
					return nil
				}
			case *tcell.EventResize:
				c.screen.Sync()
			}
		case now := <-redraw.C:
			c.ReleaseStale(now)
			c.Draw()
		}
	}
}
