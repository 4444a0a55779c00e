// pkg/physics/kinematics.go
package physics

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Mode selects which inputs drive thrust and yaw.
type Mode int

const (
	ModeManual Mode = iota
	ModeAuto
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// ErrUnknownMode is returned when a mode name is neither manual nor auto.
var ErrUnknownMode = errors.New("unknown mode")

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts "manual" or "auto", case-insensitively.
func (m *Mode) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "manual":
		*m = ModeManual
	case "auto":
		*m = ModeAuto
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, text)
	}
	return nil
}

// ControlInput is the operator's directional control state.
type ControlInput struct {
	Forward  bool `json:"forward"`
	Backward bool `json:"backward"`
	YawLeft  bool `json:"yawLeft"`
	YawRight bool `json:"yawRight"`
}

// Any reports whether at least one control is held.
func (c ControlInput) Any() bool {
	return c.Forward || c.Backward || c.YawLeft || c.YawRight
}

// Command is the control source for one step. Input is only read in ModeManual.
type Command struct {
	Mode  Mode
	Input ControlInput
}

// Manual builds a manual command from the sampled inputs.
func Manual(input ControlInput) Command {
	return Command{Mode: ModeManual, Input: input}
}

// Auto builds an autopilot command.
func Auto() Command {
	return Command{Mode: ModeAuto}
}

// SimulationState is the motion state of the simulated drone.
// Velocity is in degrees per effective frame.
type SimulationState struct {
	Position Vector2D `json:"position"`
	Velocity Vector2D `json:"velocity"`
	Heading  float64  `json:"heading"` // radians, 0 = north, clockwise
}

// StepResult reports what happened during a step.
type StepResult struct {
	Bounced      []Edge
	SpeedClamped bool
	Thrust       float64
}

// ClampDelta converts a raw frame interval in seconds into the integration dt.
// Negative intervals become 0 and long stalls are capped at MaxDeltaTime.
func ClampDelta(raw float64, p Params) float64 {
	if raw <= 0 || math.IsNaN(raw) {
		return 0
	}
	return math.Min(p.MaxDeltaTime, raw)
}

// FrameScale expresses dt as a number of baseline frames.
func FrameScale(dt float64, p Params) float64 {
	return dt * p.FPSBaseline
}

// NormalizeHeading wraps an angle into [0, 2π).
func NormalizeHeading(rad float64) float64 {
	h := math.Mod(rad, 2*math.Pi)
	if h < 0 {
		h += 2 * math.Pi
	}
	if h >= 2*math.Pi {
		h = 0
	}
	return h
}

// HeadingDegrees converts a heading in radians to compass degrees in [0, 360).
func HeadingDegrees(rad float64) float64 {
	deg := NormalizeHeading(rad) * 180 / math.Pi
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// Step advances state by one frame and enforces the envelope.
func Step(state *SimulationState, cmd Command, env Envelope, scale float64, p Params) StepResult {
	var result StepResult

	speed := state.Velocity.Length()

	var thrust float64
	switch cmd.Mode {
	case ModeManual:
		if cmd.Input.YawLeft {
			state.Heading -= p.YawRate * scale
		}
		if cmd.Input.YawRight {
			state.Heading += p.YawRate * scale
		}
		if cmd.Input.Forward {
			thrust += p.Accel
		}
		if cmd.Input.Backward {
			thrust -= p.Accel
		}
	case ModeAuto:
		thrust = clamp((p.CruiseSpeed()-speed)*p.CruiseGain, -p.Accel, p.Accel)
	}
	result.Thrust = thrust

	accel := FromHeading(state.Heading, thrust)
	state.Velocity = state.Velocity.Add(accel.Scale(scale)).Scale(p.Drag)

	if state.Velocity.LengthSquared() > p.MaxSpeed*p.MaxSpeed {
		state.Velocity = state.Velocity.Normalize().Scale(p.MaxSpeed)
		result.SpeedClamped = true
	}

	state.Position = state.Position.Add(state.Velocity)

	result.Bounced = ApplyBoundary(state, cmd.Mode, env, p)
	state.Heading = NormalizeHeading(state.Heading)

	return result
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
