// pkg/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// ErrInvalidConfig marks a configuration that cannot start a simulation.
var ErrInvalidConfig = errors.New("invalid configuration")

// LatLng is a geographic position in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Vector converts to the integrator's (X = longitude, Y = latitude) layout.
func (p LatLng) Vector() physics.Vector2D {
	return physics.Vector2D{X: p.Lng, Y: p.Lat}
}

// SimConfig contains configuration for a drone simulation
type SimConfig struct {
	Name              string         `json:"name"`
	Boundary          []LatLng       `json:"boundary"`
	Start             *LatLng        `json:"start,omitempty"`
	InitialHeadingDeg float64        `json:"initialHeadingDeg"`
	InitialMode       string         `json:"initialMode"`
	TickRate          int            `json:"tickRate"`
	EventLogCapacity  int            `json:"eventLogCapacity"`
	Physics           physics.Params `json:"physics"`
	Trace             TraceConfig    `json:"trace"`
	Network           NetworkConfig  `json:"network"`
	Audio             AudioConfig    `json:"audio"`
}

// TraceConfig controls the flown-path recorder
type TraceConfig struct {
	Enabled           bool    `json:"enabled"`
	MaxPoints         int     `json:"maxPoints"`
	MinDistanceMeters float64 `json:"minDistanceMeters"`
}

// NetworkConfig contains network-related configuration
type NetworkConfig struct {
	UpdateRate    int    `json:"updateRate"`
	MaxClients    int    `json:"maxClients"`
	ServerPort    int    `json:"serverPort"`
	ServerAddress string `json:"serverAddress"`
	WebSocketPort int    `json:"webSocketPort"`
	HealthPort    int    `json:"healthPort"`
}

// AudioConfig toggles the bounce and max-speed cues of the operator console
type AudioConfig struct {
	Enabled bool `json:"enabled"`
}

// LoadConfig loads a configuration from a file. Fields missing from the
// file keep their DefaultConfig values.
func LoadConfig(path string) (*SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves a configuration to a file
func SaveConfig(config *SimConfig, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a simulation over Kraków's old town.
func DefaultConfig() *SimConfig {
	return &SimConfig{
		Name: "krakow-old-town",
		Boundary: []LatLng{
			{Lat: 50.0550, Lng: 19.9300},
			{Lat: 50.0570, Lng: 19.9500},
			{Lat: 50.0680, Lng: 19.9480},
			{Lat: 50.0660, Lng: 19.9330},
		},
		InitialMode:      "manual",
		TickRate:         60,
		EventLogCapacity: 256,
		Physics:          physics.DefaultParams(),
		Trace: TraceConfig{
			Enabled:           true,
			MaxPoints:         2000,
			MinDistanceMeters: 2,
		},
		Network: NetworkConfig{
			UpdateRate:    20,
			MaxClients:    16,
			ServerPort:    4680,
			ServerAddress: "localhost:4680",
			WebSocketPort: 8080,
			HealthPort:    8081,
		},
	}
}

// Envelope derives the operating envelope from the boundary polygon.
func (c *SimConfig) Envelope() (physics.Envelope, error) {
	vertices := make([]physics.Vector2D, len(c.Boundary))
	for i, p := range c.Boundary {
		vertices[i] = p.Vector()
	}
	return physics.EnvelopeFromPolygon(vertices)
}

// StartPosition returns the configured start, or the envelope centre.
func (c *SimConfig) StartPosition(env physics.Envelope) (physics.Vector2D, error) {
	if c.Start == nil {
		return env.Center(), nil
	}
	pos := c.Start.Vector()
	if !env.Contains(pos) {
		return physics.Vector2D{}, fmt.Errorf("%w: start %.6f,%.6f outside boundary",
			ErrInvalidConfig, c.Start.Lat, c.Start.Lng)
	}
	return pos, nil
}

// TickInterval is the frame period implied by TickRate.
func (c *SimConfig) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.TickRate)
}

// Validate reports the first fatal problem with the configuration.
// Geometry and physics errors keep their package sentinels.
func (c *SimConfig) Validate() error {
	env, err := c.Envelope()
	if err != nil {
		return err
	}
	if err := c.Physics.Validate(); err != nil {
		return err
	}
	if _, err := c.StartPosition(env); err != nil {
		return err
	}
	if c.InitialMode != "" {
		var mode physics.Mode
		if err := mode.UnmarshalText([]byte(c.InitialMode)); err != nil {
			return fmt.Errorf("%w: initialMode %q", ErrInvalidConfig, c.InitialMode)
		}
	}
	if c.TickRate < 1 || c.TickRate > 240 {
		return fmt.Errorf("%w: tickRate %d outside [1, 240]", ErrInvalidConfig, c.TickRate)
	}
	if c.Trace.Enabled && c.Trace.MaxPoints < 2 {
		return fmt.Errorf("%w: trace.maxPoints must be at least 2", ErrInvalidConfig)
	}
	if c.Trace.MinDistanceMeters < 0 {
		return fmt.Errorf("%w: trace.minDistanceMeters is negative", ErrInvalidConfig)
	}
	return nil
}
