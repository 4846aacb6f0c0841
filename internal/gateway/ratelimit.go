package gateway

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket limiter used to pace REST calls to the
// platform. It allows a burst up to the bucket capacity, then refills at a
// steady rate.
type RateLimiter struct {
	rate       float64
	capacity   int
	tokens     float64
	lastRefill time.Time

	mu sync.Mutex
}

// NewRateLimiter creates a rate limiter with the given refill rate (tokens per
// second) and burst capacity.
func NewRateLimiter(rate float64, capacity int) *RateLimiter {
	return &RateLimiter{
		rate:       rate,
		capacity:   capacity,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if r.Allow() {
			return nil
		}

		waitTime := r.waitDuration()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			continue
		}
	}
}

// Allow returns true if a token is available, consuming it in the process.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	return r.tokens
}

// refill adds tokens based on elapsed time. Must be called with lock held.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill)

	r.tokens += elapsed.Seconds() * r.rate
	if r.tokens > float64(r.capacity) {
		r.tokens = float64(r.capacity)
	}
	r.lastRefill = now
}

func (r *RateLimiter) waitDuration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()

	if r.tokens >= 1 {
		return 0
	}
	tokensNeeded := 1 - r.tokens
	return time.Duration(tokensNeeded / r.rate * float64(time.Second))
}
