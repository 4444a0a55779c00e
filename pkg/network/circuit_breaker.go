// Package network carries telemetry and operator input between the
// simulation server and remote consoles: a framed TCP protocol, a
// websocket hub for browsers, and a circuit breaker around client dials.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/logging"
)

// Retry defaults for ExecuteWithRetry.
const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
)

// NetworkService runs client network operations through a circuit
// breaker, with linear backoff between retries.
type NetworkService struct {
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger

	MaxRetries     int
	RetryBaseDelay time.Duration
}

// NetworkOperation is a network call that reports failure as an error.
type NetworkOperation func() error

// NewNetworkService creates a service with breaker settings from envConfig.
func NewNetworkService(envConfig *config.EnvironmentConfig, logger *logging.Logger) *NetworkService {
	if logger == nil {
		logger = logging.NewLogger()
	}
	logger = logger.With("circuit_breaker")

	maxFails := uint32(envConfig.CircuitBreakerMaxConsecutiveFails)
	if maxFails == 0 {
		maxFails = 1
	}

	settings := gobreaker.Settings{
		Name:        "dronesim-telemetry",
		MaxRequests: uint32(envConfig.CircuitBreakerMaxRequests),
		Interval:    envConfig.CircuitBreakerInterval,
		Timeout:     envConfig.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info(context.Background(), "Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &NetworkService{
		breaker:        gobreaker.NewCircuitBreaker(settings),
		logger:         logger,
		MaxRetries:     DefaultMaxRetries,
		RetryBaseDelay: DefaultRetryBaseDelay,
	}
}

// Execute runs operation through the breaker. An open breaker fails
// immediately without calling operation.
func (ns *NetworkService) Execute(ctx context.Context, operation NetworkOperation) error {
	_, err := ns.breaker.Execute(func() (interface{}, error) {
		return nil, operation()
	})
	if err != nil {
		ns.logger.LogWithContext(ctx, slog.LevelDebug, "Circuit breaker execution failed",
			"error", err,
			"state", ns.breaker.State().String(),
		)
		return fmt.Errorf("circuit breaker: %w", err)
	}

	return nil
}

// ExecuteWithRetry retries a failing operation up to MaxRetries times,
// waiting attempt*RetryBaseDelay between attempts. It gives up early once
// the breaker opens or ctx is done.
func (ns *NetworkService) ExecuteWithRetry(ctx context.Context, operation NetworkOperation) error {
	maxRetries := ns.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = ns.Execute(ctx, operation)
		if err == nil {
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || ns.breaker.State() == gobreaker.StateOpen {
			ns.logger.Warn(ctx, "Circuit breaker is open, skipping retries",
				"attempt", attempt+1,
				"max_retries", maxRetries,
			)
			return err
		}

		if attempt == maxRetries-1 {
			break
		}

		delay := time.Duration(attempt+1) * ns.RetryBaseDelay
		ns.logger.Warn(ctx, "Operation failed, retrying",
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"delay", delay,
			"error", err.Error(),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		}
	}

	ns.logger.Error(ctx, "All retry attempts failed", err, "attempts", maxRetries)
	return fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, err)
}

// GetState returns the current state of the circuit breaker.
func (ns *NetworkService) GetState() gobreaker.State {
	return ns.breaker.State()
}

// GetCounts returns the breaker's failure and success counts.
func (ns *NetworkService) GetCounts() gobreaker.Counts {
	return ns.breaker.Counts()
}
