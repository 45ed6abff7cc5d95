package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	// Rate is calls per second.
	// Default: 100
	Rate float64

	// Burst is the bucket size, full at start.
	// Default: Rate rounded down, at least 1
	Burst int

	// MaxWait is how long a call may wait for a token. Zero rejects at once.
	MaxWait time.Duration
}

// RateLimiter admits calls from a token bucket.
type RateLimiter struct {
	maxWait time.Duration
	lim     *rate.Limiter
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Burst <= 0 {
		config.Burst = max(1, int(config.Rate))
	}
	return &RateLimiter{
		maxWait: config.MaxWait,
		lim:     rate.NewLimiter(rate.Limit(config.Rate), config.Burst),
	}
}

// Allow takes a token if one is available now.
func (rl *RateLimiter) Allow() bool { return rl.lim.Allow() }

// Tokens returns the tokens currently in the bucket.
func (rl *RateLimiter) Tokens() float64 { return rl.lim.Tokens() }

// Wait takes a token, waiting up to MaxWait. A token that would arrive later
// than MaxWait is not reserved and ErrRateLimited is returned immediately.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rl.maxWait <= 0 {
		if !rl.lim.Allow() {
			return ErrRateLimited
		}
		return nil
	}

	r := rl.lim.Reserve()
	if !r.OK() {
		return ErrRateLimited
	}
	delay := r.Delay()
	switch {
	case delay == 0:
		return nil
	case delay > rl.maxWait:
		r.Cancel()
		return ErrRateLimited
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// Execute runs op once admitted.
func (rl *RateLimiter) Execute(ctx context.Context, op Op) error {
	if err := rl.Wait(ctx); err != nil {
		return err
	}
	return op(ctx)
}
