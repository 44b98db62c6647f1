// Package ratelimit gates outgoing API requests.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter defines the interface for rate limiting
type Limiter interface {
	// Allow reports whether a request may proceed right now, consuming a token if so
	Allow() bool
	// Wait blocks until a request may proceed or ctx ends
	Wait(ctx context.Context) error
	Reset()
}

// TokenBucket refills one token every interval up to capacity
type TokenBucket struct {
	capacity   int
	tokens     float64
	interval   time.Duration
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a bucket holding capacity tokens, refilled at one token per interval
func NewTokenBucket(capacity int, interval time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		interval:   interval,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// PerMinute builds a bucket allowing rpm requests per minute with the given burst
func PerMinute(rpm, burst int) *TokenBucket {
	if rpm <= 0 {
		rpm = 1
	}
	return NewTokenBucket(burst, time.Minute/time.Duration(rpm))
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		timer := time.NewTimer(tb.untilNextToken())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Reset resets the token bucket to full capacity
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = float64(tb.capacity)
	tb.lastRefill = tb.now()
}

func (tb *TokenBucket) untilNextToken() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.interval <= 0 {
		return time.Millisecond
	}
	missing := 1 - tb.tokens
	d := time.Duration(missing * float64(tb.interval))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	if tb.interval <= 0 {
		tb.tokens = float64(tb.capacity)
		tb.lastRefill = now
		return
	}

	elapsed := now.Sub(tb.lastRefill)
	tb.tokens += float64(elapsed) / float64(tb.interval)
	if tb.tokens > float64(tb.capacity) {
		tb.tokens = float64(tb.capacity)
	}
	tb.lastRefill = now
}

// Unlimited never blocks
type Unlimited struct{}

func (Unlimited) Allow() bool                    { return true }
func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (Unlimited) Reset()                         {}
