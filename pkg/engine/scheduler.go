// pkg/engine/scheduler.go
package engine

import (
	"sync"
	"time"
)

// DefaultFrameInterval matches a 60 Hz display refresh.
const DefaultFrameInterval = time.Second / 60

// Scheduler delivers frame callbacks with the frame timestamp.
//
// The returned cancel function is idempotent. Once it returns, no frame
// is running and none will start. It must not be called from inside frame.
type Scheduler interface {
	Schedule(frame func(now time.Time)) (cancel func())
}

// TickerScheduler fires frames from a time.Ticker on its own goroutine.
type TickerScheduler struct {
	Interval time.Duration
}

// Schedule starts the ticker goroutine.
func (t TickerScheduler) Schedule(frame func(now time.Time)) func() {
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				// A cancel racing with a tick wins.
				select {
				case <-done:
					return
				default:
				}
				frame(now)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}

// ManualScheduler runs frames only when Fire is called. Frames execute on
// the caller's goroutine, which makes stepping deterministic in tests and
// lets an external frame source (such as a render loop) drive a Runner.
type ManualScheduler struct {
	mu    sync.Mutex
	frame func(time.Time)
	gen   uint64
}

// NewManualScheduler creates an idle scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// Schedule registers frame, replacing any earlier registration.
func (m *ManualScheduler) Schedule(frame func(now time.Time)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	gen := m.gen
	m.frame = frame

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.gen == gen {
				m.frame = nil
			}
		})
	}
}

// Fire runs the registered frame. It reports false when nothing is scheduled.
func (m *ManualScheduler) Fire(now time.Time) bool {
	m.mu.Lock()
	frame := m.frame
	m.mu.Unlock()

	if frame == nil {
		return false
	}
	frame(now)
	return true
}

// Pending reports whether a frame callback is registered.
func (m *ManualScheduler) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame != nil
}
