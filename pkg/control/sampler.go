// Package control turns operator key events into the directional control
// flags read by the integrator, and owns the Manual/Auto mode switch.
package control

import (
	"sync"

	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// Key codes follow the browser KeyboardEvent.code naming so that web and
// terminal clients send the same strings.
const (
	KeyArrowUp    = "ArrowUp"
	KeyArrowDown  = "ArrowDown"
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
	KeyW          = "KeyW"
	KeyS          = "KeyS"
	KeyA          = "KeyA"
	KeyD          = "KeyD"
)

// Direction is one of the four steering controls.
type Direction int

const (
	DirNone Direction = iota
	DirForward
	DirBackward
	DirYawLeft
	DirYawRight
)

var keyDirections = map[string]Direction{
	KeyArrowUp:    DirForward,
	KeyW:          DirForward,
	KeyArrowDown:  DirBackward,
	KeyS:          DirBackward,
	KeyArrowLeft:  DirYawLeft,
	KeyA:          DirYawLeft,
	KeyArrowRight: DirYawRight,
	KeyD:          DirYawRight,
}

// DirectionForKey maps a key code to its steering direction.
func DirectionForKey(code string) Direction {
	return keyDirections[code]
}

// IsDirectionKey reports whether code is one of the eight steering keys.
func IsDirectionKey(code string) bool {
	return DirectionForKey(code) != DirNone
}

// Sampler holds the current state of the directional controls.
// Press and release events may arrive from any goroutine; Snapshot is
// read synchronously by the step.
type Sampler struct {
	mu     sync.Mutex
	input  physics.ControlInput
	active bool
}

// NewSampler returns an active sampler with every control released.
func NewSampler() *Sampler {
	return &Sampler{active: true}
}

// HandleKey records a press or release. It returns true when the event was
// consumed, in which case the caller must suppress any default action for
// it. Non-steering keys, and every key while inactive, pass through.
func (s *Sampler) HandleKey(code string, pressed bool) bool {
	dir := DirectionForKey(code)
	if dir == DirNone {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return false
	}

	switch dir {
	case DirForward:
		s.input.Forward = pressed
	case DirBackward:
		s.input.Backward = pressed
	case DirYawLeft:
		s.input.YawLeft = pressed
	case DirYawRight:
		s.input.YawRight = pressed
	}
	return true
}

// Snapshot returns the current control flags.
func (s *Sampler) Snapshot() physics.ControlInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Clear releases every control.
func (s *Sampler) Clear() {
	s.mu.Lock()
	s.input = physics.ControlInput{}
	s.mu.Unlock()
}

// SetActive enables or disables key capture. Deactivating also clears.
func (s *Sampler) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	if !active {
		s.input = physics.ControlInput{}
	}
	s.mu.Unlock()
}

// Active reports whether key events are being captured.
func (s *Sampler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
