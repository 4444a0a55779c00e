// pkg/engine/simulation.go
package engine

import (
	"math"
	"time"

	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/control"
	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// MovingThreshold is the speed in m/s above which the drone counts as moving.
const MovingThreshold = 0.5

// Sample is the externally published view of the drone after a step.
type Sample struct {
	Longitude            float64      `json:"longitude"`
	Latitude             float64      `json:"latitude"`
	HeadingDegrees       float64      `json:"headingDegrees"`
	SpeedMetersPerSecond float64      `json:"speedMetersPerSecond"`
	Mode                 physics.Mode `json:"mode"`
	Tick                 uint64       `json:"tick"`
	TimestampMs          int64        `json:"timestampMs"`
}

// Position returns the sample position in integrator layout.
func (s Sample) Position() physics.Vector2D {
	return physics.Vector2D{X: s.Longitude, Y: s.Latitude}
}

// Simulation hosts one drone: its motion state, control inputs, mode and
// clock. It has a single writer; Tick, HandleKey and the mode operations
// must not be called concurrently. Runner provides that serialization.
type Simulation struct {
	Config   *config.SimConfig
	EventBus *event.Bus

	params   physics.Params
	envelope physics.Envelope
	state    physics.SimulationState
	sampler  *control.Sampler
	modes    *control.ModeController

	clockStarted  bool
	lastTimestamp time.Time
	tick          uint64

	moving  bool
	clamped bool
	last    Sample
}

// NewSimulation validates cfg and places the drone at its start position.
// Geometry and parameter errors are returned before any loop can start.
func NewSimulation(cfg *config.SimConfig, bus *event.Bus) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, logging.WrapError(err, "invalid simulation config %q", cfg.Name)
	}
	env, err := cfg.Envelope()
	if err != nil {
		return nil, err
	}
	start, err := cfg.StartPosition(env)
	if err != nil {
		return nil, err
	}

	initial := physics.ModeManual
	if cfg.InitialMode != "" {
		if initial, err = control.ParseMode(cfg.InitialMode); err != nil {
			return nil, err
		}
	}

	if bus == nil {
		bus = event.NewEventBus()
	}

	s := &Simulation{
		Config:   cfg,
		EventBus: bus,
		params:   cfg.Physics,
		envelope: env,
		state: physics.SimulationState{
			Position: start,
			Heading:  physics.NormalizeHeading(cfg.InitialHeadingDeg * math.Pi / 180),
		},
		sampler: control.NewSampler(),
		modes:   control.NewModeController(initial),
	}
	s.modes.Bind(s.sampler)
	s.modes.OnTransition(s.onModeChange)
	s.last = s.sampleAt(0, time.Time{})

	return s, nil
}

// RestartClock makes the next Tick integrate with dt = 0.
func (s *Simulation) RestartClock() {
	s.clockStarted = false
}

// Tick advances the simulation to now and returns the published sample.
func (s *Simulation) Tick(now time.Time) Sample {
	dt := 0.0
	if s.clockStarted {
		dt = physics.ClampDelta(now.Sub(s.lastTimestamp).Seconds(), s.params)
	}
	s.clockStarted = true
	s.lastTimestamp = now

	mode := s.modes.Mode()
	cmd := physics.Auto()
	if mode == physics.ModeManual {
		cmd = physics.Manual(s.sampler.Snapshot())
	}

	result := physics.Step(&s.state, cmd, s.envelope, physics.FrameScale(dt, s.params), s.params)
	s.tick++

	sample := s.sampleAt(dt, now)
	s.last = sample
	s.publishStepEvents(result, sample, dt)

	return sample
}

func (s *Simulation) sampleAt(dt float64, now time.Time) Sample {
	var ts int64
	if !now.IsZero() {
		ts = now.UnixMilli()
	}
	return Sample{
		Longitude:            s.state.Position.X,
		Latitude:             s.state.Position.Y,
		HeadingDegrees:       physics.HeadingDegrees(s.state.Heading),
		SpeedMetersPerSecond: physics.InstantaneousSpeed(s.state.Velocity, s.state.Position.Y, dt),
		Mode:                 s.modes.Mode(),
		Tick:                 s.tick,
		TimestampMs:          ts,
	}
}

func (s *Simulation) publishStepEvents(result physics.StepResult, sample Sample, dt float64) {
	if len(result.Bounced) > 0 {
		s.EventBus.Publish(event.NewBoundaryEvent(s, result.Bounced, sample.HeadingDegrees))
	}

	if result.SpeedClamped && !s.clamped {
		s.EventBus.Publish(event.NewMotionEvent(event.MaxSpeedReached, s, sample.SpeedMetersPerSecond, sample.Mode))
	}
	s.clamped = result.SpeedClamped

	// A zero-dt frame has no speed estimate; it cannot change the moving state.
	if dt > 0 {
		moving := sample.SpeedMetersPerSecond > MovingThreshold
		if moving != s.moving {
			s.moving = moving
			typ := event.StoppedMoving
			if moving {
				typ = event.StartedMoving
			}
			s.EventBus.Publish(event.NewMotionEvent(typ, s, sample.SpeedMetersPerSecond, sample.Mode))
		}
	}

	s.EventBus.Publish(event.NewSampleEvent(s, sample.Position(), sample.HeadingDegrees,
		sample.SpeedMetersPerSecond, sample.Mode, sample.Tick))
}

// HandleKey forwards a key event to the input sampler. It reports whether
// the key was consumed; in Auto mode nothing is.
func (s *Simulation) HandleKey(code string, pressed bool) bool {
	return s.sampler.HandleKey(code, pressed)
}

// CapturesKey reports whether HandleKey would consume code right now.
func (s *Simulation) CapturesKey(code string) bool {
	return s.sampler.Active() && control.IsDirectionKey(code)
}

// ToggleMode switches between Manual and Auto.
func (s *Simulation) ToggleMode() physics.Mode {
	return s.modes.Toggle()
}

// SetMode selects a mode. It returns false when mode is already active.
func (s *Simulation) SetMode(mode physics.Mode) bool {
	return s.modes.Set(mode)
}

// onModeChange restarts motion from the current position: the previous
// mode's velocity is discarded and the clock restarts so that the first
// step in the new mode integrates with dt = 0.
func (s *Simulation) onModeChange(from, to physics.Mode) {
	s.state.Velocity = physics.Vector2D{}
	s.clamped = false
	s.RestartClock()
	s.last.Mode = to
	s.last.SpeedMetersPerSecond = 0

	s.EventBus.Publish(event.NewModeEvent(s, from, to, s.state.Position))
}

// Mode returns the active mode.
func (s *Simulation) Mode() physics.Mode {
	return s.modes.Mode()
}

// Sample returns the most recently published sample.
func (s *Simulation) Sample() Sample {
	return s.last
}

// State returns a copy of the motion state.
func (s *Simulation) State() physics.SimulationState {
	return s.state
}

// Envelope returns the operating envelope.
func (s *Simulation) Envelope() physics.Envelope {
	return s.envelope
}

// Params returns the kinematic parameters.
func (s *Simulation) Params() physics.Params {
	return s.params
}

// Input returns the current control flags.
func (s *Simulation) Input() physics.ControlInput {
	return s.sampler.Snapshot()
}
