// pkg/physics/params.go
package physics

import (
	"errors"
	"fmt"
	"math"
)

// Reference tuning. Per-step quantities are expressed per 60 Hz frame.
const (
	DefaultMaxDeltaTime   = 0.05
	DefaultFPSBaseline    = 60.0
	DefaultAccel          = 6e-5
	DefaultMaxSpeed       = 2e-5
	DefaultDrag           = 0.90
	DefaultCruiseFactor   = 0.8
	DefaultCruiseGain     = 0.5
	DefaultBoundaryMargin = 1e-9

	// MetersPerDegLat is the spherical approximation of one degree of latitude.
	MetersPerDegLat = 111320.0
)

// DefaultYawRate is 2 degrees per frame.
var DefaultYawRate = 2.0 * math.Pi / 180.0

// ErrInvalidParams is returned when tuning parameters cannot drive a stable loop.
var ErrInvalidParams = errors.New("invalid physics parameters")

// Params holds the tunable constants of the kinematic model.
type Params struct {
	MaxDeltaTime   float64 `json:"maxDeltaTime"`
	FPSBaseline    float64 `json:"fpsBaseline"`
	Accel          float64 `json:"accel"`
	MaxSpeed       float64 `json:"maxSpeed"`
	Drag           float64 `json:"drag"`
	YawRate        float64 `json:"yawRate"`
	CruiseFactor   float64 `json:"cruiseFactor"`
	CruiseGain     float64 `json:"cruiseGain"`
	BoundaryMargin float64 `json:"boundaryMargin"`
}

// DefaultParams returns the reference tuning.
func DefaultParams() Params {
	return Params{
		MaxDeltaTime:   DefaultMaxDeltaTime,
		FPSBaseline:    DefaultFPSBaseline,
		Accel:          DefaultAccel,
		MaxSpeed:       DefaultMaxSpeed,
		Drag:           DefaultDrag,
		YawRate:        DefaultYawRate,
		CruiseFactor:   DefaultCruiseFactor,
		CruiseGain:     DefaultCruiseGain,
		BoundaryMargin: DefaultBoundaryMargin,
	}
}

// CruiseSpeed is the Auto-mode target speed.
func (p Params) CruiseSpeed() float64 {
	return p.MaxSpeed * p.CruiseFactor
}

// Validate checks that every parameter is finite and in a usable range.
func (p Params) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"maxDeltaTime", p.MaxDeltaTime > 0},
		{"fpsBaseline", p.FPSBaseline > 0},
		{"accel", p.Accel > 0},
		{"maxSpeed", p.MaxSpeed > 0},
		{"drag", p.Drag > 0 && p.Drag <= 1},
		{"yawRate", p.YawRate >= 0},
		{"cruiseFactor", p.CruiseFactor > 0 && p.CruiseFactor <= 1},
		{"cruiseGain", p.CruiseGain > 0},
		{"boundaryMargin", p.BoundaryMargin >= 0},
	}

	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("%w: %s out of range", ErrInvalidParams, c.name)
		}
	}

	for _, v := range []float64{p.MaxDeltaTime, p.FPSBaseline, p.Accel, p.MaxSpeed, p.Drag,
		p.YawRate, p.CruiseFactor, p.CruiseGain, p.BoundaryMargin} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidParams)
		}
	}
	return nil
}
