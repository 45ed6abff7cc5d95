package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures a Retry.
type RetryConfig struct {
	// MaxAttempts counts the first call.
	// Default: 3
	MaxAttempts int

	// InitialDelay precedes the second attempt.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps any single delay.
	// Default: 5s
	MaxDelay time.Duration

	// Multiplier grows the delay after each attempt. One keeps it constant.
	// Default: 2
	Multiplier float64

	// Jitter spreads each delay by up to 25%.
	Jitter bool

	// RetryIf reports whether err deserves another attempt.
	// Default: any error except context cancellation
	RetryIf func(err error) bool

	// OnRetry observes a failed attempt before its delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Retry repeats failed calls with exponential backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a Retry.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &Retry{config: config}
}

// Config returns the effective configuration.
func (r *Retry) Config() RetryConfig { return r.config }

// Execute calls op until it succeeds, RetryIf declines the error, or
// MaxAttempts is reached, and returns the last error. ctx ending during a
// delay returns ctx's error.
func (r *Retry) Execute(ctx context.Context, op Op) error {
	delays := r.backOff()
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || attempt >= r.config.MaxAttempts || !r.config.RetryIf(err) {
			return err
		}

		delay := delays.NextBackOff()
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Retry) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialDelay
	b.MaxInterval = r.config.MaxDelay
	b.Multiplier = r.config.Multiplier
	b.RandomizationFactor = 0
	if r.config.Jitter {
		b.RandomizationFactor = 0.25
	}
	b.Reset()
	return b
}
