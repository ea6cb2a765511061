package api

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket holding up to burst tokens, one of which is
// added back every interval.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   int
	burst    int
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func NewRateLimiter(burst int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:   burst,
		burst:    burst,
		interval: interval,
		last:     time.Now(),
		now:      time.Now,
	}
}

// Wait blocks until a token is available or ctx is done. A nil limiter
// never blocks.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	for {
		wait := rl.reserve()
		if wait <= 0 {
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

// reserve takes a token and returns 0, or returns how long until the next
// token is due.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if n := int(now.Sub(rl.last) / rl.interval); n > 0 {
		rl.tokens = min(rl.burst, rl.tokens+n)
		rl.last = rl.last.Add(time.Duration(n) * rl.interval)
	}
	if rl.tokens > 0 {
		rl.tokens--
		return 0
	}
	return rl.interval - now.Sub(rl.last)
}
