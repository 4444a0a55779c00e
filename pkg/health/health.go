// Package health serves liveness and readiness probes for the simulation
// server and defines the checks behind them.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/go-dronesim/pkg/logging"
)

// DefaultCheckTimeout bounds a readiness probe.
const DefaultCheckTimeout = 5 * time.Second

// HealthCheck is one component's contribution to readiness.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus represents the overall health status of the process.
type HealthStatus struct {
	Status string                     `json:"status"`
	Checks map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth represents the health status of an individual component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker manages and executes health checks.
type HealthChecker struct {
	checks  map[string]HealthCheck
	timeout time.Duration
	mu      sync.RWMutex
}

// NewHealthChecker creates a new health checker instance.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]HealthCheck),
		timeout: DefaultCheckTimeout,
	}
}

// AddCheck registers check, replacing any check with the same name.
func (hc *HealthChecker) AddCheck(check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name()] = check
}

// RemoveCheck removes a health check by name.
func (hc *HealthChecker) RemoveCheck(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.checks, name)
}

// Names returns the registered check names in sorted order.
func (hc *HealthChecker) Names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckHealth runs every registered check. The overall status is
// "healthy" only if all of them pass.
func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	checks := make([]HealthCheck, 0, len(hc.checks))
	for _, check := range hc.checks {
		checks = append(checks, check)
	}
	hc.mu.RUnlock()

	status := HealthStatus{
		Status: "healthy",
		Checks: make(map[string]ComponentHealth, len(checks)),
	}

	for _, check := range checks {
		if err := check.Check(ctx); err != nil {
			status.Status = "unhealthy"
			status.Checks[check.Name()] = ComponentHealth{
				Status:  "unhealthy",
				Message: err.Error(),
			}
			continue
		}
		status.Checks[check.Name()] = ComponentHealth{Status: "healthy"}
	}

	return status
}

// LivenessHandler answers 200 while the process can serve HTTP at all.
func (hc *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// ReadinessHandler runs all checks and answers 200 or 503.
func (hc *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hc.timeout)
	defer cancel()

	health := hc.CheckHealth(ctx)

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// Handler returns a mux serving /health and /ready.
func (hc *HealthChecker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", hc.LivenessHandler)
	mux.HandleFunc("/ready", hc.ReadinessHandler)
	return mux
}

// Server is the probe HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *logging.Logger
}

// NewServer creates a probe server for checker on addr.
func NewServer(addr string, checker *HealthChecker, logger *logging.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      checker.Handler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		logger: logger.With("health"),
	}
}

// Start serves in the background. Listener errors are logged.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info(ctx, "Starting health check server", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "Health check server failed", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SimulationHealthCheck fails when the frame loop is stopped or stalled.
type SimulationHealthCheck struct {
	running    func() bool
	frames     func() uint64
	stallAfter time.Duration
	now        func() time.Time

	mu        sync.Mutex
	lastCount uint64
	lastMoved time.Time
}

// NewSimulationHealthCheck creates a check over a runner's Running and
// Frames accessors. A running loop whose frame count has not advanced for
// stallAfter is reported as stalled; zero disables stall detection.
func NewSimulationHealthCheck(running func() bool, frames func() uint64, stallAfter time.Duration) *SimulationHealthCheck {
	return &SimulationHealthCheck{
		running:    running,
		frames:     frames,
		stallAfter: stallAfter,
		now:        time.Now,
	}
}

// Name returns the name of this health check.
func (s *SimulationHealthCheck) Name() string {
	return "simulation"
}

// Check verifies that the frame loop is running and making progress.
func (s *SimulationHealthCheck) Check(ctx context.Context) error {
	if !s.running() {
		return fmt.Errorf("simulation loop is not running")
	}
	if s.stallAfter <= 0 || s.frames == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := s.frames()
	if count != s.lastCount || s.lastMoved.IsZero() {
		s.lastCount = count
		s.lastMoved = now
		return nil
	}
	if stalled := now.Sub(s.lastMoved); stalled > s.stallAfter {
		return fmt.Errorf("simulation loop stalled at frame %d for %s", count, stalled.Round(time.Millisecond))
	}
	return nil
}

// ListenerHealthCheck fails while a listener reports no bound address.
type ListenerHealthCheck struct {
	name         string
	listenerAddr func() string
}

// NewListenerHealthCheck creates a check named name over a listener address accessor.
func NewListenerHealthCheck(name string, listenerAddr func() string) *ListenerHealthCheck {
	return &ListenerHealthCheck{
		name:         name,
		listenerAddr: listenerAddr,
	}
}

// Name returns the name of this health check.
func (n *ListenerHealthCheck) Name() string {
	return n.name
}

// Check verifies that the listener is active.
func (n *ListenerHealthCheck) Check(ctx context.Context) error {
	if n.listenerAddr() == "" {
		return fmt.Errorf("%s listener is not active", n.name)
	}
	return nil
}

// MemoryHealthCheck implements HealthCheck for memory usage monitoring.
type MemoryHealthCheck struct {
	maxMemoryMB    int64
	getMemoryUsage func() int64
}

// NewMemoryHealthCheck creates a health check for memory usage.
func NewMemoryHealthCheck(maxMemoryMB int64, getMemoryUsage func() int64) *MemoryHealthCheck {
	if getMemoryUsage == nil {
		getMemoryUsage = CurrentMemoryMB
	}
	return &MemoryHealthCheck{
		maxMemoryMB:    maxMemoryMB,
		getMemoryUsage: getMemoryUsage,
	}
}

// Name returns the name of this health check.
func (m *MemoryHealthCheck) Name() string {
	return "memory"
}

// Check verifies that memory usage is within acceptable limits.
func (m *MemoryHealthCheck) Check(ctx context.Context) error {
	currentMB := m.getMemoryUsage()
	if currentMB > m.maxMemoryMB {
		return fmt.Errorf("memory usage %dMB exceeds limit %dMB", currentMB, m.maxMemoryMB)
	}
	return nil
}

// CurrentMemoryMB returns the heap allocation in MB.
func CurrentMemoryMB() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.Alloc / 1024 / 1024)
}
