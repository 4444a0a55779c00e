package validation

import (
	"sync"
	"time"
)

// RateLimiter caps operator commands per connection. Each operator owns a
// bucket of maxRequests tokens that refills continuously over window, so a
// held steering key producing a steady trickle of events is never starved
// by an earlier burst.
type RateLimiter struct {
	capacity float64
	window   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	sweep     *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter allows maxRequests commands per window for each operator.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return newRateLimiter(maxRequests, window, time.Now)
}

func newRateLimiter(maxRequests int, window time.Duration, now func() time.Time) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	rl := &RateLimiter{
		capacity: float64(maxRequests),
		window:   window,
		now:      now,
		buckets:  make(map[string]*bucket),
		sweep:    time.NewTicker(window),
		done:     make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow spends one token from operatorID's bucket.
func (rl *RateLimiter) Allow(operatorID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[operatorID]
	if !ok {
		b = &bucket{tokens: rl.capacity, lastSeen: now}
		rl.buckets[operatorID] = b
	} else if elapsed := now.Sub(b.lastSeen); elapsed > 0 {
		b.tokens += rl.capacity * float64(elapsed) / float64(rl.window)
		if b.tokens > rl.capacity {
			b.tokens = rl.capacity
		}
		b.lastSeen = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Limit returns the bucket capacity.
func (rl *RateLimiter) Limit() int {
	return int(rl.capacity)
}

// Tokens returns the whole tokens left for operatorID without refilling.
// Unknown operators have a full bucket.
func (rl *RateLimiter) Tokens(operatorID string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[operatorID]; ok {
		return int(b.tokens)
	}
	return int(rl.capacity)
}

func (rl *RateLimiter) sweepLoop() {
	for {
		select {
		case <-rl.sweep.C:
			rl.forgetIdle()
		case <-rl.done:
			return
		}
	}
}

// forgetIdle drops buckets untouched for two windows; they would be full
// again anyway.
func (rl *RateLimiter) forgetIdle() {
	cutoff := rl.now().Add(-2 * rl.window)
	rl.mu.Lock()
	for id, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, id)
		}
	}
	rl.mu.Unlock()
}

// Remove forgets operatorID immediately.
func (rl *RateLimiter) Remove(operatorID string) {
	rl.mu.Lock()
	delete(rl.buckets, operatorID)
	rl.mu.Unlock()
}

// ClientCount returns the number of tracked operators.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Close stops the idle sweep. It is idempotent.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.done)
		rl.sweep.Stop()
	})
}
