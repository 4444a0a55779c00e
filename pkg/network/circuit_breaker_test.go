package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/logging"
)

func newTestService(maxFails int, timeout time.Duration) *NetworkService {
	ns := NewNetworkService(&config.EnvironmentConfig{
		CircuitBreakerMaxRequests:         1,
		CircuitBreakerInterval:            time.Minute,
		CircuitBreakerTimeout:             timeout,
		CircuitBreakerMaxConsecutiveFails: maxFails,
	}, logging.NewNopLogger())
	ns.RetryBaseDelay = 5 * time.Millisecond
	return ns
}

var errDial = errors.New("dial failure")

func TestNetworkService_Execute(t *testing.T) {
	ns := newTestService(5, 30*time.Second)
	ctx := context.Background()

	if err := ns.Execute(ctx, func() error { return nil }); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}

	err := ns.Execute(ctx, func() error { return errDial })
	if !errors.Is(err, errDial) {
		t.Errorf("Expected wrapped operation error, got %v", err)
	}
	if ns.GetState() != gobreaker.StateClosed {
		t.Errorf("Expected closed breaker after one failure, got %v", ns.GetState())
	}

	counts := ns.GetCounts()
	if counts.TotalSuccesses != 1 || counts.TotalFailures != 1 {
		t.Errorf("unexpected counts %+v", counts)
	}
}

func TestNetworkService_TripAndRecover(t *testing.T) {
	ns := newTestService(2, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ns.Execute(ctx, func() error { return errDial })
	}
	if ns.GetState() != gobreaker.StateOpen {
		t.Fatalf("Expected open breaker, got %v", ns.GetState())
	}

	err := ns.Execute(ctx, func() error {
		t.Error("operation must not run while the breaker is open")
		return nil
	})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Expected ErrOpenState, got %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if err := ns.Execute(ctx, func() error { return nil }); err != nil {
		t.Errorf("half-open probe should run, got %v", err)
	}
	if ns.GetState() != gobreaker.StateClosed {
		t.Errorf("Expected closed breaker after a successful probe, got %v", ns.GetState())
	}
}

func TestNetworkService_ExecuteWithRetry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		wantErr      bool
		wantAttempts int
	}{
		{"first try", 0, false, 1},
		{"eventual success", 2, false, 3},
		{"all retries fail", 10, true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns := newTestService(10, 30*time.Second)
			attempts := 0
			err := ns.ExecuteWithRetry(context.Background(), func() error {
				attempts++
				if attempts <= tt.failures {
					return errDial
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("ExecuteWithRetry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestNetworkService_ExecuteWithRetryStopsOnOpenBreaker(t *testing.T) {
	ns := newTestService(1, 30*time.Second)
	attempts := 0
	err := ns.ExecuteWithRetry(context.Background(), func() error {
		attempts++
		return errDial
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 once the breaker opened", attempts)
	}
}

func TestNetworkService_ExecuteWithRetryCancelled(t *testing.T) {
	ns := newTestService(10, 30*time.Second)
	ns.RetryBaseDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	err := ns.ExecuteWithRetry(ctx, func() error { return errDial })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestNewNetworkService_ZeroSettings(t *testing.T) {
	ns := NewNetworkService(&config.EnvironmentConfig{}, nil)
	if ns.GetState() != gobreaker.StateClosed {
		t.Errorf("Expected initial state to be closed, got %v", ns.GetState())
	}
	if ns.MaxRetries != DefaultMaxRetries || ns.RetryBaseDelay != DefaultRetryBaseDelay {
		t.Errorf("unexpected retry defaults %d %v", ns.MaxRetries, ns.RetryBaseDelay)
	}
}
