// pkg/control/mode.go
package control

import (
	"sync"

	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// ErrUnknownMode is returned by ParseMode for anything but manual or auto.
var ErrUnknownMode = physics.ErrUnknownMode

// ParseMode accepts "manual" or "auto", case-insensitively.
func ParseMode(s string) (physics.Mode, error) {
	var m physics.Mode
	if err := m.UnmarshalText([]byte(s)); err != nil {
		return physics.ModeManual, err
	}
	return m, nil
}

// TransitionFunc is called after every mode change.
type TransitionFunc func(from, to physics.Mode)

// ModeController is the two-state Manual/Auto switch. Transitions only
// happen through Toggle and Set, which correspond to operator actions.
type ModeController struct {
	mu        sync.Mutex
	mode      physics.Mode
	callbacks []TransitionFunc
}

// NewModeController starts in the given mode.
func NewModeController(initial physics.Mode) *ModeController {
	return &ModeController{mode: initial}
}

// Mode returns the active mode.
func (m *ModeController) Mode() physics.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// OnTransition registers fn to run after each transition.
func (m *ModeController) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

// Toggle flips between Manual and Auto and returns the new mode.
func (m *ModeController) Toggle() physics.Mode {
	m.mu.Lock()
	next := physics.ModeAuto
	if m.mode == physics.ModeAuto {
		next = physics.ModeManual
	}
	m.mu.Unlock()

	m.Set(next)
	return next
}

// Set switches to mode. Selecting the current mode is not a transition
// and returns false.
func (m *ModeController) Set(mode physics.Mode) bool {
	m.mu.Lock()
	if mode == m.mode {
		m.mu.Unlock()
		return false
	}
	from := m.mode
	m.mode = mode
	callbacks := append([]TransitionFunc(nil), m.callbacks...)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(from, mode)
	}
	return true
}

// Bind wires a sampler to the controller: the sampler is cleared on every
// transition and only captures keys in Manual mode.
func (m *ModeController) Bind(s *Sampler) {
	s.SetActive(m.Mode() == physics.ModeManual)
	m.OnTransition(func(_, to physics.Mode) {
		s.Clear()
		s.SetActive(to == physics.ModeManual)
	})
}
