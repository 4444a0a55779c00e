// pkg/resource/manager_test.go
package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/logging"
)

// sink keeps test allocations reachable while memory is sampled.
var sink []byte

func newTestManager(maxGoroutines int, shutdown time.Duration) *ResourceManager {
	cfg := &config.EnvironmentConfig{
		MaxMemoryMB:           1000,
		MaxGoroutines:         maxGoroutines,
		ShutdownTimeout:       shutdown,
		ResourceCheckInterval: 50 * time.Millisecond,
	}
	return NewResourceManagerWithLogger(cfg, logging.NewNopLogger())
}

func TestNewResourceManager(t *testing.T) {
	cfg := &config.EnvironmentConfig{
		MaxMemoryMB:           500,
		MaxGoroutines:         100,
		ShutdownTimeout:       30 * time.Second,
		ResourceCheckInterval: 10 * time.Second,
	}

	rm := NewResourceManager(cfg)
	defer rm.Shutdown(context.Background())

	if rm.maxMemoryMB != 500 {
		t.Errorf("Expected MaxMemoryMB 500, got %d", rm.maxMemoryMB)
	}
	if rm.maxGoroutines != 100 {
		t.Errorf("Expected MaxGoroutines 100, got %d", rm.maxGoroutines)
	}
	if rm.shutdownTimeout != 30*time.Second {
		t.Errorf("Expected ShutdownTimeout 30s, got %v", rm.shutdownTimeout)
	}
	if rm.checkInterval != 10*time.Second {
		t.Errorf("Expected CheckInterval 10s, got %v", rm.checkInterval)
	}
}

func TestNewResourceManager_DefaultsCheckInterval(t *testing.T) {
	rm := NewResourceManagerWithLogger(&config.EnvironmentConfig{MaxGoroutines: 1}, logging.NewNopLogger())
	if rm.checkInterval != 10*time.Second {
		t.Errorf("zero interval should default to 10s, got %v", rm.checkInterval)
	}
}

func TestResourceManager_StartGoroutineLimit(t *testing.T) {
	rm := newTestManager(3, 5*time.Second)
	defer rm.Shutdown(context.Background())

	ctx := context.Background()
	release := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		err := rm.StartGoroutine(ctx, "operator-handler", func(ctx context.Context) {
			defer wg.Done()
			<-release
		})
		if err != nil {
			t.Errorf("Expected no error for goroutine %d, got: %v", i, err)
		}
	}

	err := rm.StartGoroutine(ctx, "operator-handler", func(ctx context.Context) {})
	if !errors.Is(err, ErrGoroutineLimit) {
		t.Errorf("Expected ErrGoroutineLimit, got %v", err)
	}

	close(release)
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for rm.GetGoroutineCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if count := rm.GetGoroutineCount(); count != 0 {
		t.Errorf("Expected goroutine count 0, got %d", count)
	}
	if started := rm.Stats().GoroutinesStarted; started != 3 {
		t.Errorf("Expected 3 goroutines started, got %d", started)
	}
}

func TestResourceManager_StartGoroutinePanicRecovery(t *testing.T) {
	rm := newTestManager(10, 5*time.Second)
	defer rm.Shutdown(context.Background())

	done := make(chan struct{})
	err := rm.StartGoroutine(context.Background(), "panicking", func(ctx context.Context) {
		defer close(done)
		panic("test panic")
	})
	if err != nil {
		t.Fatalf("Expected no error starting goroutine, got: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Goroutine did not finish within timeout")
	}

	deadline := time.Now().Add(time.Second)
	for rm.GetGoroutineCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if count := rm.GetGoroutineCount(); count != 0 {
		t.Errorf("Expected goroutine count 0 after panic recovery, got %d", count)
	}
}

func TestResourceManager_ShutdownCancelsGoroutines(t *testing.T) {
	rm := newTestManager(10, 2*time.Second)

	cancelled := make(chan struct{})
	err := rm.StartGoroutine(context.Background(), "operator-handler", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})
	if err != nil {
		t.Fatalf("StartGoroutine: %v", err)
	}

	if err := rm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case <-cancelled:
	default:
		t.Error("handler context was not cancelled by Shutdown")
	}

	if err := rm.StartGoroutine(context.Background(), "late", func(context.Context) {}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown after shutdown, got %v", err)
	}
}

func TestResourceManager_CallerContextCancels(t *testing.T) {
	rm := newTestManager(10, time.Second)
	defer rm.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	if err := rm.StartGoroutine(ctx, "operator-handler", func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	}); err != nil {
		t.Fatalf("StartGoroutine: %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("caller cancellation did not reach the goroutine")
	}
}

func TestResourceManager_CheckMemoryUsage(t *testing.T) {
	rm := newTestManager(10, 5*time.Second)
	defer rm.Shutdown(context.Background())

	sink = make([]byte, 2*1024*1024)
	defer func() { sink = nil }()

	if err := rm.CheckMemoryUsage(); err != nil {
		t.Errorf("Expected memory check to pass with reasonable limit, got: %v", err)
	}

	usage := rm.GetMemoryUsage()
	if usage <= 0 {
		t.Fatalf("Expected memory usage to be > 0, got %d MB", usage)
	}

	rmLow := &ResourceManager{maxMemoryMB: 1}
	if err := rmLow.CheckMemoryUsage(); err == nil {
		t.Error("Expected memory check to fail with limit below current usage")
	}

	unlimited := &ResourceManager{}
	if err := unlimited.CheckMemoryUsage(); err != nil {
		t.Errorf("zero limit means unlimited, got %v", err)
	}
}

func TestResourceManager_Stats(t *testing.T) {
	cfg := &config.EnvironmentConfig{
		MaxMemoryMB:           500,
		MaxGoroutines:         10,
		ShutdownTimeout:       5 * time.Second,
		ResourceCheckInterval: time.Second,
	}
	rm := NewResourceManagerWithLogger(cfg, logging.NewNopLogger())
	defer rm.Shutdown(context.Background())

	sink = make([]byte, 2*1024*1024)
	defer func() { sink = nil }()
	rm.CheckMemoryUsage()

	stats := rm.Stats()

	if stats.MaxMemoryMB != 500 {
		t.Errorf("Expected MaxMemoryMB 500, got %d", stats.MaxMemoryMB)
	}
	if stats.MaxGoroutines != 10 {
		t.Errorf("Expected MaxGoroutines 10, got %d", stats.MaxGoroutines)
	}
	if stats.MemoryUsageMB == 0 {
		t.Error("Expected memory usage to be recorded in stats")
	}
	if stats.LastMemoryCheck.IsZero() {
		t.Error("Expected LastMemoryCheck to be set")
	}
}

func TestResourceManager_StartAndShutdown(t *testing.T) {
	rm := newTestManager(10, 5*time.Second)

	if err := rm.Start(); err != nil {
		t.Errorf("Expected no error starting resource manager, got: %v", err)
	}
	if err := rm.Start(); err == nil {
		t.Error("Expected error when starting already running resource manager")
	}

	before := rm.Stats().LastMemoryCheck
	time.Sleep(120 * time.Millisecond)
	if !rm.Stats().LastMemoryCheck.After(before) {
		t.Error("monitoring loop should have sampled memory")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rm.Shutdown(ctx); err != nil {
		t.Errorf("Expected no error during shutdown, got: %v", err)
	}
	if err := rm.Shutdown(ctx); err != nil {
		t.Errorf("Expected no error during second shutdown, got: %v", err)
	}
	if err := rm.Start(); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown restarting a shut down manager, got %v", err)
	}
}

func TestResourceManager_ShutdownTimeout(t *testing.T) {
	rm := newTestManager(10, 200*time.Millisecond)
	if err := rm.Start(); err != nil {
		t.Fatalf("Failed to start resource manager: %v", err)
	}

	stopChan := make(chan struct{})
	defer close(stopChan)

	// Ignores its context, so Shutdown has to give up.
	err := rm.StartGoroutine(context.Background(), "stubborn", func(ctx context.Context) {
		<-stopChan
	})
	if err != nil {
		t.Fatalf("Expected no error starting goroutine, got: %v", err)
	}

	start := time.Now()
	err = rm.Shutdown(context.Background())
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Expected shutdown to timeout")
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("Shutdown finished too quickly: %v, expected at least 150ms", elapsed)
	}
}

func TestResourceManager_ConcurrentGoroutineAccess(t *testing.T) {
	rm := newTestManager(20, 5*time.Second)
	defer rm.Shutdown(context.Background())

	ctx := context.Background()
	release := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, rejected := 0, 0

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := rm.StartGoroutine(ctx, "concurrent-worker", func(ctx context.Context) {
				<-release
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
			} else {
				accepted++
			}
		}()
	}
	wg.Wait()

	if accepted != 20 || rejected != 20 {
		t.Errorf("accepted=%d rejected=%d, want 20/20", accepted, rejected)
	}
	close(release)
}

func BenchmarkResourceManager_StartGoroutine(b *testing.B) {
	rm := newTestManager(1000, 5*time.Second)
	defer rm.Shutdown(context.Background())

	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rm.StartGoroutine(ctx, "bench-goroutine", func(ctx context.Context) {})
		}
	})
}
