package announce

import (
	"context"
	"sync"
	"time"
)

const (
	rateWindow       = time.Second
	rateWakeupMargin = 10 * time.Millisecond
)

// RateLimiter admits at most capacity calls per fixed one-second window.
// All workers of one broadcast share one limiter.
type RateLimiter struct {
	capacity int
	window   time.Duration
	now      func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	count       int
}

func NewRateLimiter(capacity int) *RateLimiter {
	if capacity <= 0 {
		capacity = defaultRatePerSec
	}
	return &RateLimiter{capacity: capacity, window: rateWindow, now: time.Now}
}

// SetCapacity changes the per-window cap. Slots already taken in the current
// window still count against it.
func (l *RateLimiter) SetCapacity(capacity int) {
	if capacity <= 0 {
		capacity = defaultRatePerSec
	}
	l.mu.Lock()
	l.capacity = capacity
	l.mu.Unlock()
}

// Consume blocks until a slot in the current window is reserved.
// It returns ctx.Err() if ctx is done first.
func (l *RateLimiter) Consume(ctx context.Context) error {
	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// reserve takes a slot if one is free, or reports how long until the window rolls over.
func (l *RateLimiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.windowStart)
	if elapsed >= l.window || elapsed < 0 {
		l.windowStart = now
		l.count = 0
		elapsed = 0
	}
	if l.count < l.capacity {
		l.count++
		return 0, true
	}
	// Sleep slightly past the boundary so the retry lands in the next window.
	return l.window - elapsed + rateWakeupMargin, false
}
