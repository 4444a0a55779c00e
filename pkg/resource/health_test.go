// pkg/resource/health_test.go
package resource

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/logging"
)

func TestHealthCheck_Name(t *testing.T) {
	rm := newTestManager(100, time.Second)
	defer rm.Shutdown(context.Background())

	if name := NewHealthCheck(rm).Name(); name != "resource" {
		t.Errorf("Expected name 'resource', got %s", name)
	}
}

func TestHealthCheck_Check(t *testing.T) {
	tests := []struct {
		name          string
		maxMemoryMB   int64
		maxGoroutines int
		busy          int
		wantErr       string
	}{
		{"healthy", 1000, 100, 0, ""},
		{"memory over limit", 1, 100, 0, "memory usage"},
		{"goroutines above threshold", 1000, 5, 5, "goroutine count"},
		{"goroutines at threshold", 1000, 5, 4, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.EnvironmentConfig{
				MaxMemoryMB:           tt.maxMemoryMB,
				MaxGoroutines:         tt.maxGoroutines,
				ShutdownTimeout:       time.Second,
				ResourceCheckInterval: time.Minute,
			}
			rm := NewResourceManagerWithLogger(cfg, logging.NewNopLogger())
			defer rm.Shutdown(context.Background())

			sink = make([]byte, 2*1024*1024)
			defer func() { sink = nil }()
			rm.CheckMemoryUsage()

			for i := 0; i < tt.busy; i++ {
				if err := rm.StartGoroutine(context.Background(), "busy", func(ctx context.Context) {
					<-ctx.Done()
				}); err != nil {
					t.Fatalf("StartGoroutine: %v", err)
				}
			}

			err := NewHealthCheck(rm).Check(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Check() = %v, want healthy", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Check() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
