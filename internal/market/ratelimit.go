package market

import (
	"context"
	"sync"
	"time"
)

// rateLimiter enforces a minimum interval between requests per API family.
type rateLimiter struct {
	mu        sync.Mutex
	intervals map[string]time.Duration
	lastCall  map[string]time.Time
}

func newRateLimiter(intervals map[string]time.Duration) *rateLimiter {
	return &rateLimiter{
		intervals: intervals,
		lastCall:  make(map[string]time.Time),
	}
}

// wait blocks until the family's interval has elapsed since the previous
// call, or the context is cancelled.
func (r *rateLimiter) wait(ctx context.Context, family string) error {
	r.mu.Lock()
	interval := r.intervals[family]
	last := r.lastCall[family]
	now := time.Now()
	sleep := interval - now.Sub(last)
	if sleep < 0 {
		sleep = 0
	}
	r.lastCall[family] = now.Add(sleep)
	r.mu.Unlock()

	if sleep == 0 {
		return nil
	}
	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
