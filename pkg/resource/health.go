// pkg/resource/health.go
package resource

import (
	"context"
	"fmt"
)

// goroutineWarnRatio is the share of the goroutine budget above which the
// manager reports unhealthy, leaving room for operators still connecting.
const goroutineWarnRatio = 0.8

// HealthCheck reports the manager's limits to a health.HealthChecker.
type HealthCheck struct {
	manager *ResourceManager
}

// NewHealthCheck creates a health check for the resource manager.
func NewHealthCheck(manager *ResourceManager) *HealthCheck {
	return &HealthCheck{manager: manager}
}

// Name returns the name of this health check.
func (r *HealthCheck) Name() string {
	return "resource"
}

// Check verifies that resource usage is within acceptable limits.
func (r *HealthCheck) Check(ctx context.Context) error {
	stats := r.manager.Stats()

	if stats.MaxMemoryMB > 0 && stats.MemoryUsageMB > stats.MaxMemoryMB {
		return fmt.Errorf("memory usage %dMB exceeds limit %dMB",
			stats.MemoryUsageMB, stats.MaxMemoryMB)
	}

	threshold := int64(float64(stats.MaxGoroutines) * goroutineWarnRatio)
	if stats.GoroutineCount > threshold {
		return fmt.Errorf("goroutine count %d exceeds %.0f%% of limit (%d/%d)",
			stats.GoroutineCount, goroutineWarnRatio*100, threshold, stats.MaxGoroutines)
	}

	return nil
}
