// pkg/resource/manager.go
package resource

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/logging"
)

var (
	// ErrGoroutineLimit is returned when the tracked goroutine budget is spent.
	ErrGoroutineLimit = errors.New("goroutine limit exceeded")
	// ErrShuttingDown is returned by StartGoroutine after Shutdown began.
	ErrShuttingDown = errors.New("resource manager shutting down")
)

// ResourceManager bounds the goroutines spawned for operator connections
// and samples process memory. Goroutines it starts receive a context that
// is cancelled on Shutdown.
type ResourceManager struct {
	maxMemoryMB     int64
	maxGoroutines   int64
	shutdownTimeout time.Duration
	checkInterval   time.Duration

	goroutineCount atomic.Int64
	memoryUsageMB  atomic.Int64
	started        atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.RWMutex
	running bool
	logger  *logging.Logger

	lastMemoryCheck    time.Time
	lastGoroutineCheck time.Time
}

// NewResourceManager creates a manager from the environment limits.
func NewResourceManager(cfg *config.EnvironmentConfig) *ResourceManager {
	return NewResourceManagerWithLogger(cfg, logging.NewLogger())
}

// NewResourceManagerWithLogger is NewResourceManager with an explicit logger.
func NewResourceManagerWithLogger(cfg *config.EnvironmentConfig, logger *logging.Logger) *ResourceManager {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()

	checkInterval := cfg.ResourceCheckInterval
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}

	return &ResourceManager{
		maxMemoryMB:        cfg.MaxMemoryMB,
		maxGoroutines:      int64(cfg.MaxGoroutines),
		shutdownTimeout:    cfg.ShutdownTimeout,
		checkInterval:      checkInterval,
		ctx:                ctx,
		cancel:             cancel,
		done:               make(chan struct{}),
		logger:             logger.With("resource"),
		lastMemoryCheck:    now,
		lastGoroutineCheck: now,
	}
}

// Start begins the resource monitoring loop.
func (rm *ResourceManager) Start() error {
	rm.mu.Lock()
	if rm.running {
		rm.mu.Unlock()
		return fmt.Errorf("resource manager already running")
	}
	if rm.ctx.Err() != nil {
		rm.mu.Unlock()
		return ErrShuttingDown
	}
	rm.running = true
	rm.mu.Unlock()

	go rm.monitoringLoop()

	rm.logger.Info(rm.ctx, "Resource manager started",
		"max_memory_mb", rm.maxMemoryMB,
		"max_goroutines", rm.maxGoroutines,
		"check_interval", rm.checkInterval,
	)

	return nil
}

// StartGoroutine runs fn on a tracked goroutine. The context passed to fn
// is cancelled when ctx is, or when the manager shuts down. A panic in fn
// is logged and swallowed.
func (rm *ResourceManager) StartGoroutine(ctx context.Context, name string, fn func(context.Context)) error {
	if rm.ctx.Err() != nil {
		return ErrShuttingDown
	}

	for {
		current := rm.goroutineCount.Load()
		if current >= rm.maxGoroutines {
			rm.logger.Warn(ctx, "Goroutine limit exceeded",
				"current", current,
				"limit", rm.maxGoroutines,
				"name", name,
			)
			return fmt.Errorf("%w: %d/%d", ErrGoroutineLimit, current, rm.maxGoroutines)
		}
		if rm.goroutineCount.CompareAndSwap(current, current+1) {
			break
		}
	}
	rm.started.Add(1)

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(rm.ctx, cancel)

	go func() {
		defer rm.goroutineCount.Add(-1)
		defer cancel()
		defer stop()

		defer func() {
			if r := recover(); r != nil {
				rm.logger.Error(runCtx, "Goroutine panic",
					fmt.Errorf("panic: %v", r),
					"name", name,
				)
			}
		}()

		fn(runCtx)
	}()

	return nil
}

// CheckMemoryUsage samples heap usage and compares it with the limit.
func (rm *ResourceManager) CheckMemoryUsage() error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	currentMB := int64(m.Alloc / 1024 / 1024)
	rm.memoryUsageMB.Store(currentMB)

	rm.mu.Lock()
	rm.lastMemoryCheck = time.Now()
	rm.mu.Unlock()

	if rm.maxMemoryMB > 0 && currentMB > rm.maxMemoryMB {
		return fmt.Errorf("memory usage %dMB exceeds limit %dMB", currentMB, rm.maxMemoryMB)
	}

	return nil
}

// GetGoroutineCount returns the current number of tracked goroutines.
func (rm *ResourceManager) GetGoroutineCount() int64 {
	return rm.goroutineCount.Load()
}

// GetMemoryUsage returns the last sampled heap usage in MB.
func (rm *ResourceManager) GetMemoryUsage() int64 {
	return rm.memoryUsageMB.Load()
}

// Stats contains resource usage statistics.
type Stats struct {
	GoroutineCount     int64     `json:"goroutine_count"`
	GoroutinesStarted  int64     `json:"goroutines_started"`
	MaxGoroutines      int64     `json:"max_goroutines"`
	MemoryUsageMB      int64     `json:"memory_usage_mb"`
	MaxMemoryMB        int64     `json:"max_memory_mb"`
	LastMemoryCheck    time.Time `json:"last_memory_check"`
	LastGoroutineCheck time.Time `json:"last_goroutine_check"`
}

// Stats returns current resource usage statistics.
func (rm *ResourceManager) Stats() Stats {
	rm.mu.RLock()
	lastMemory, lastGoroutine := rm.lastMemoryCheck, rm.lastGoroutineCheck
	rm.mu.RUnlock()

	return Stats{
		GoroutineCount:     rm.GetGoroutineCount(),
		GoroutinesStarted:  rm.started.Load(),
		MaxGoroutines:      rm.maxGoroutines,
		MemoryUsageMB:      rm.GetMemoryUsage(),
		MaxMemoryMB:        rm.maxMemoryMB,
		LastMemoryCheck:    lastMemory,
		LastGoroutineCheck: lastGoroutine,
	}
}

// Shutdown cancels tracked goroutines and waits for them to return, bounded
// by the configured shutdown timeout.
func (rm *ResourceManager) Shutdown(ctx context.Context) error {
	rm.mu.Lock()
	wasRunning := rm.running
	rm.running = false
	rm.mu.Unlock()

	if rm.ctx.Err() != nil {
		return nil
	}

	rm.logger.Info(ctx, "Shutting down resource manager",
		"goroutines", rm.GetGoroutineCount(),
	)
	rm.cancel()

	timeout := rm.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if wasRunning {
		select {
		case <-rm.done:
		case <-shutdownCtx.Done():
			rm.logger.Warn(ctx, "Resource manager monitoring loop did not stop gracefully")
		}
	}

	return rm.waitForGoroutines(shutdownCtx)
}

func (rm *ResourceManager) waitForGoroutines(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		count := rm.GetGoroutineCount()
		if count == 0 {
			rm.logger.Info(ctx, "All tracked goroutines finished")
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			remaining := rm.GetGoroutineCount()
			rm.logger.Warn(ctx, "Shutdown timeout exceeded with goroutines still running",
				"remaining", remaining,
			)
			return fmt.Errorf("shutdown timeout: %d goroutines still running", remaining)
		}
	}
}

func (rm *ResourceManager) monitoringLoop() {
	defer close(rm.done)

	ticker := time.NewTicker(rm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.performResourceChecks()
		case <-rm.ctx.Done():
			rm.logger.Debug(rm.ctx, "Resource monitoring loop stopping")
			return
		}
	}
}

func (rm *ResourceManager) performResourceChecks() {
	if err := rm.CheckMemoryUsage(); err != nil {
		rm.logger.Error(rm.ctx, "Memory limit exceeded", err,
			"current_mb", rm.GetMemoryUsage(),
			"limit_mb", rm.maxMemoryMB,
		)
	}

	rm.mu.Lock()
	rm.lastGoroutineCheck = time.Now()
	rm.mu.Unlock()

	rm.logger.Debug(rm.ctx, "Resource usage check",
		"goroutines", rm.GetGoroutineCount(),
		"max_goroutines", rm.maxGoroutines,
		"memory_mb", rm.GetMemoryUsage(),
		"max_memory_mb", rm.maxMemoryMB,
	)
}
