// pkg/config/env_config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/opd-ai/go-dronesim/pkg/physics"
)

// EnvironmentConfig holds the deployment settings read from DRONESIM_*
// environment variables.
type EnvironmentConfig struct {
	ServerAddr    string
	ServerPort    int
	WebSocketPort int
	HealthPort    int
	MaxClients    int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	UpdateRate    int
	TickRate      int

	// Circuit Breaker Configuration
	CircuitBreakerMaxRequests         int
	CircuitBreakerInterval            time.Duration
	CircuitBreakerTimeout             time.Duration
	CircuitBreakerMaxConsecutiveFails int

	// Resource Management Configuration
	MaxMemoryMB           int64
	MaxGoroutines         int
	ShutdownTimeout       time.Duration
	ResourceCheckInterval time.Duration
}

// Environment variable names
const (
	EnvServerAddr            = "DRONESIM_SERVER_ADDR"
	EnvServerPort            = "DRONESIM_SERVER_PORT"
	EnvWebSocketPort         = "DRONESIM_WS_PORT"
	EnvHealthPort            = "DRONESIM_HEALTH_PORT"
	EnvMaxClients            = "DRONESIM_MAX_CLIENTS"
	EnvReadTimeout           = "DRONESIM_READ_TIMEOUT"
	EnvWriteTimeout          = "DRONESIM_WRITE_TIMEOUT"
	EnvUpdateRate            = "DRONESIM_UPDATE_RATE"
	EnvTickRate              = "DRONESIM_TICK_RATE"
	EnvCBMaxRequests         = "DRONESIM_CB_MAX_REQUESTS"
	EnvCBInterval            = "DRONESIM_CB_INTERVAL"
	EnvCBTimeout             = "DRONESIM_CB_TIMEOUT"
	EnvCBMaxFailures         = "DRONESIM_CB_MAX_FAILURES"
	EnvMaxMemoryMB           = "DRONESIM_MAX_MEMORY_MB"
	EnvMaxGoroutines         = "DRONESIM_MAX_GOROUTINES"
	EnvShutdownTimeout       = "DRONESIM_SHUTDOWN_TIMEOUT"
	EnvResourceCheckInterval = "DRONESIM_RESOURCE_CHECK_INTERVAL"
	EnvInitialMode           = "DRONESIM_INITIAL_MODE"
	EnvTraceEnabled          = "DRONESIM_TRACE_ENABLED"
	EnvTraceMinDistance      = "DRONESIM_TRACE_MIN_DISTANCE"
	EnvAudioEnabled          = "DRONESIM_AUDIO"
)

// ValidationError describes one rejected environment setting.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match ErrInvalidConfig.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// DefaultEnvironmentConfig returns the values used when no variable is set.
func DefaultEnvironmentConfig() *EnvironmentConfig {
	return &EnvironmentConfig{
		ServerAddr:                        "localhost",
		ServerPort:                        4680,
		WebSocketPort:                     8080,
		HealthPort:                        8081,
		MaxClients:                        16,
		ReadTimeout:                       30 * time.Second,
		WriteTimeout:                      10 * time.Second,
		UpdateRate:                        20,
		TickRate:                          60,
		CircuitBreakerMaxRequests:         3,
		CircuitBreakerInterval:            60 * time.Second,
		CircuitBreakerTimeout:             30 * time.Second,
		CircuitBreakerMaxConsecutiveFails: 5,
		MaxMemoryMB:                       256,
		MaxGoroutines:                     100,
		ShutdownTimeout:                   10 * time.Second,
		ResourceCheckInterval:             10 * time.Second,
	}
}

// LoadConfigFromEnv reads and validates the environment configuration.
func LoadConfigFromEnv() (*EnvironmentConfig, error) {
	d := DefaultEnvironmentConfig()
	config := &EnvironmentConfig{
		ServerAddr:                        getEnvOrDefault(EnvServerAddr, d.ServerAddr),
		ServerPort:                        getEnvAsIntOrDefault(EnvServerPort, d.ServerPort),
		WebSocketPort:                     getEnvAsIntOrDefault(EnvWebSocketPort, d.WebSocketPort),
		HealthPort:                        getEnvAsIntOrDefault(EnvHealthPort, d.HealthPort),
		MaxClients:                        getEnvAsIntOrDefault(EnvMaxClients, d.MaxClients),
		ReadTimeout:                       getEnvAsDurationOrDefault(EnvReadTimeout, d.ReadTimeout),
		WriteTimeout:                      getEnvAsDurationOrDefault(EnvWriteTimeout, d.WriteTimeout),
		UpdateRate:                        getEnvAsIntOrDefault(EnvUpdateRate, d.UpdateRate),
		TickRate:                          getEnvAsIntOrDefault(EnvTickRate, d.TickRate),
		CircuitBreakerMaxRequests:         getEnvAsIntOrDefault(EnvCBMaxRequests, d.CircuitBreakerMaxRequests),
		CircuitBreakerInterval:            getEnvAsDurationOrDefault(EnvCBInterval, d.CircuitBreakerInterval),
		CircuitBreakerTimeout:             getEnvAsDurationOrDefault(EnvCBTimeout, d.CircuitBreakerTimeout),
		CircuitBreakerMaxConsecutiveFails: getEnvAsIntOrDefault(EnvCBMaxFailures, d.CircuitBreakerMaxConsecutiveFails),
		MaxMemoryMB:                       int64(getEnvAsIntOrDefault(EnvMaxMemoryMB, int(d.MaxMemoryMB))),
		MaxGoroutines:                     getEnvAsIntOrDefault(EnvMaxGoroutines, d.MaxGoroutines),
		ShutdownTimeout:                   getEnvAsDurationOrDefault(EnvShutdownTimeout, d.ShutdownTimeout),
		ResourceCheckInterval:             getEnvAsDurationOrDefault(EnvResourceCheckInterval, d.ResourceCheckInterval),
	}

	if err := validateEnvironmentConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration ranges.
func (c *EnvironmentConfig) Validate() error {
	return validateEnvironmentConfig(c)
}

func validateEnvironmentConfig(c *EnvironmentConfig) error {
	switch {
	case c.ServerAddr == "":
		return &ValidationError{"ServerAddr", c.ServerAddr, "must not be empty"}
	case c.ServerPort < 1024 || c.ServerPort > 65535:
		return &ValidationError{"ServerPort", c.ServerPort, "must be in [1024, 65535]"}
	case c.WebSocketPort != 0 && (c.WebSocketPort < 1024 || c.WebSocketPort > 65535):
		return &ValidationError{"WebSocketPort", c.WebSocketPort, "must be 0 or in [1024, 65535]"}
	case c.HealthPort != 0 && (c.HealthPort < 1024 || c.HealthPort > 65535):
		return &ValidationError{"HealthPort", c.HealthPort, "must be 0 or in [1024, 65535]"}
	case c.MaxClients < 1 || c.MaxClients > 1000:
		return &ValidationError{"MaxClients", c.MaxClients, "must be in [1, 1000]"}
	case c.ReadTimeout < time.Second || c.ReadTimeout > time.Minute:
		return &ValidationError{"ReadTimeout", c.ReadTimeout, "must be in [1s, 1m]"}
	case c.WriteTimeout < time.Second || c.WriteTimeout > time.Minute:
		return &ValidationError{"WriteTimeout", c.WriteTimeout, "must be in [1s, 1m]"}
	case c.UpdateRate < 1 || c.UpdateRate > 120:
		return &ValidationError{"UpdateRate", c.UpdateRate, "must be in [1, 120]"}
	case c.TickRate < 1 || c.TickRate > 240:
		return &ValidationError{"TickRate", c.TickRate, "must be in [1, 240]"}
	case c.CircuitBreakerMaxRequests < 1:
		return &ValidationError{"CircuitBreakerMaxRequests", c.CircuitBreakerMaxRequests, "must be positive"}
	case c.CircuitBreakerInterval < time.Second:
		return &ValidationError{"CircuitBreakerInterval", c.CircuitBreakerInterval, "must be at least 1s"}
	case c.CircuitBreakerTimeout < time.Second:
		return &ValidationError{"CircuitBreakerTimeout", c.CircuitBreakerTimeout, "must be at least 1s"}
	case c.CircuitBreakerMaxConsecutiveFails < 1:
		return &ValidationError{"CircuitBreakerMaxConsecutiveFails", c.CircuitBreakerMaxConsecutiveFails, "must be positive"}
	case c.MaxMemoryMB < 1:
		return &ValidationError{"MaxMemoryMB", c.MaxMemoryMB, "must be positive"}
	case c.MaxGoroutines < 1:
		return &ValidationError{"MaxGoroutines", c.MaxGoroutines, "must be positive"}
	case c.ShutdownTimeout <= 0:
		return &ValidationError{"ShutdownTimeout", c.ShutdownTimeout, "must be positive"}
	case c.ResourceCheckInterval <= 0:
		return &ValidationError{"ResourceCheckInterval", c.ResourceCheckInterval, "must be positive"}
	}
	return nil
}

// ApplyEnvironmentOverrides copies every explicitly set variable onto cfg.
// Unset variables leave the file configuration untouched.
func ApplyEnvironmentOverrides(cfg *SimConfig) error {
	addr, addrSet := os.LookupEnv(EnvServerAddr)
	_, portSet := os.LookupEnv(EnvServerPort)

	if portSet {
		cfg.Network.ServerPort = getEnvAsIntOrDefault(EnvServerPort, cfg.Network.ServerPort)
	}
	if addrSet || portSet {
		if !addrSet {
			addr = "localhost"
		}
		cfg.Network.ServerAddress = fmt.Sprintf("%s:%d", addr, cfg.Network.ServerPort)
	}

	if _, ok := os.LookupEnv(EnvWebSocketPort); ok {
		cfg.Network.WebSocketPort = getEnvAsIntOrDefault(EnvWebSocketPort, cfg.Network.WebSocketPort)
	}
	if _, ok := os.LookupEnv(EnvHealthPort); ok {
		cfg.Network.HealthPort = getEnvAsIntOrDefault(EnvHealthPort, cfg.Network.HealthPort)
	}
	if _, ok := os.LookupEnv(EnvMaxClients); ok {
		cfg.Network.MaxClients = getEnvAsIntOrDefault(EnvMaxClients, cfg.Network.MaxClients)
	}
	if _, ok := os.LookupEnv(EnvUpdateRate); ok {
		cfg.Network.UpdateRate = getEnvAsIntOrDefault(EnvUpdateRate, cfg.Network.UpdateRate)
	}
	if _, ok := os.LookupEnv(EnvTickRate); ok {
		cfg.TickRate = getEnvAsIntOrDefault(EnvTickRate, cfg.TickRate)
	}
	if mode, ok := os.LookupEnv(EnvInitialMode); ok {
		var m physics.Mode
		if err := m.UnmarshalText([]byte(mode)); err != nil {
			return &ValidationError{"InitialMode", mode, "must be manual or auto"}
		}
		cfg.InitialMode = m.String()
	}
	if _, ok := os.LookupEnv(EnvTraceEnabled); ok {
		cfg.Trace.Enabled = getEnvAsBoolOrDefault(EnvTraceEnabled, cfg.Trace.Enabled)
	}
	if _, ok := os.LookupEnv(EnvTraceMinDistance); ok {
		cfg.Trace.MinDistanceMeters = getEnvAsFloatOrDefault(EnvTraceMinDistance, cfg.Trace.MinDistanceMeters)
	}
	if _, ok := os.LookupEnv(EnvAudioEnabled); ok {
		cfg.Audio.Enabled = getEnvAsBoolOrDefault(EnvAudioEnabled, cfg.Audio.Enabled)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
