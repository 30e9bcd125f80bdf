package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces calls to a fixed interval. Each Wait reserves the next
// free slot and sleeps until it arrives, so concurrent callers are spaced
// evenly instead of bursting.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. The first call passes immediately.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{interval: time.Minute / time.Duration(perMinute)}
}

// Wait blocks until the caller's reserved slot arrives or the context is
// cancelled. A cancelled wait gives its slot up to the next caller.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	now := time.Now()
	slot := rl.next
	if slot.Before(now) {
		slot = now
	}
	rl.next = slot.Add(rl.interval)
	rl.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		rl.mu.Lock()
		if slot.Add(rl.interval).Equal(rl.next) {
			rl.next = slot
		}
		rl.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
