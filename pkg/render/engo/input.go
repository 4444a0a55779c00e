// pkg/render/engo/input.go
package engo

import (
	"context"

	"github.com/EngoEngine/ecs"
	"github.com/EngoEngine/engo"

	"github.com/opd-ai/go-dronesim/pkg/control"
	"github.com/opd-ai/go-dronesim/pkg/logging"
)

// Button names registered with engo.Input.
const (
	ButtonForward    = "forward"
	ButtonBackward   = "backward"
	ButtonYawLeft    = "yawLeft"
	ButtonYawRight   = "yawRight"
	ButtonToggleMode = "toggleMode"
	ButtonQuit       = "quit"
)

// steeringButtons pairs each steering button with the key code sent to the
// simulation. W and ArrowUp share a button, so one code stands for both.
var steeringButtons = []struct {
	name string
	code string
}{
	{ButtonForward, control.KeyArrowUp},
	{ButtonBackward, control.KeyArrowDown},
	{ButtonYawLeft, control.KeyArrowLeft},
	{ButtonYawRight, control.KeyArrowRight},
}

// Commander receives operator input. engine.Runner implements it.
type Commander interface {
	KeyEvent(code string, pressed bool) (consumed bool, err error)
	ToggleMode() error
}

// ButtonReader reports button edges for the current frame.
type ButtonReader interface {
	JustPressed(name string) bool
	JustReleased(name string) bool
}

type engoButtons struct{}

func (engoButtons) JustPressed(name string) bool  { return engo.Input.Button(name).JustPressed() }
func (engoButtons) JustReleased(name string) bool { return engo.Input.Button(name).JustReleased() }

// InputSystem turns button edges into key presses and releases. engo
// reports real key-up events, so no hold window is needed here.
type InputSystem struct {
	commander Commander
	buttons   ButtonReader
	logger    *logging.Logger
	quit      func()
	held      map[string]bool
}

// NewInputSystem creates an input system reading engo.Input.
func NewInputSystem(commander Commander, logger *logging.Logger) *InputSystem {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &InputSystem{
		commander: commander,
		buttons:   engoButtons{},
		logger:    logger.With("engo_input"),
		quit:      engo.Exit,
		held:      make(map[string]bool),
	}
}

// Priority runs input before the frame system so a press lands in the
// same frame.
func (is *InputSystem) Priority() int { return 30 }

// Remove satisfies the ecs.System interface
func (is *InputSystem) Remove(basic ecs.BasicEntity) {}

// Update forwards this frame's button edges.
func (is *InputSystem) Update(dt float32) {
	for _, b := range steeringButtons {
		switch {
		case is.buttons.JustPressed(b.name):
			is.send(b.code, true)
		case is.buttons.JustReleased(b.name):
			is.send(b.code, false)
		}
	}

	if is.buttons.JustPressed(ButtonToggleMode) {
		if err := is.commander.ToggleMode(); err != nil {
			is.logger.Warn(context.Background(), "Mode toggle failed", "error", err.Error())
		}
	}

	if is.buttons.JustPressed(ButtonQuit) {
		is.ReleaseAll()
		is.quit()
	}
}

func (is *InputSystem) send(code string, pressed bool) {
	if pressed {
		is.held[code] = true
	} else {
		delete(is.held, code)
	}
	if _, err := is.commander.KeyEvent(code, pressed); err != nil {
		is.logger.Warn(context.Background(), "Key event dropped",
			"code", code,
			"pressed", pressed,
			"error", err.Error(),
		)
	}
}

// Held reports whether the key code is currently pressed.
func (is *InputSystem) Held(code string) bool {
	return is.held[code]
}

// ReleaseAll releases every held key, e.g. when the window closes.
func (is *InputSystem) ReleaseAll() {
	for code := range is.held {
		is.send(code, false)
	}
}

// SetupInputBindings registers the console's buttons with engo.Input.
func SetupInputBindings() {
	engo.Input.RegisterButton(ButtonForward, engo.KeyW, engo.KeyArrowUp)
	engo.Input.RegisterButton(ButtonBackward, engo.KeyS, engo.KeyArrowDown)
	engo.Input.RegisterButton(ButtonYawLeft, engo.KeyA, engo.KeyArrowLeft)
	engo.Input.RegisterButton(ButtonYawRight, engo.KeyD, engo.KeyArrowRight)
	engo.Input.RegisterButton(ButtonToggleMode, engo.KeyM)
	engo.Input.RegisterButton(ButtonQuit, engo.KeyEscape, engo.KeyQ)
}
