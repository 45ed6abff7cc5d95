package resilience

import (
	"context"
	"sync"
	"time"
)

// Op is a call guarded by a Stage.
type Op func(ctx context.Context) error

// Stage guards an Op. Every pattern in this package is a Stage.
type Stage interface {
	Execute(ctx context.Context, op Op) error
}

// layer fixes where a stage sits in the chain, outermost first.
type layer int

const (
	layerRateLimit layer = iota
	layerBulkhead
	layerBreaker
	layerRetry
	layerTimeout
	numLayers
)

// Executor chains stages in a fixed order regardless of option order:
// rate limit, bulkhead, breaker, retry, timeout. Admission is decided once
// per call, a whole retry sequence counts as one breaker outcome, and the
// timeout bounds each attempt.
type Executor struct {
	stages [numLayers]Stage

	breaker  *CircuitBreaker
	bulkhead *Bulkhead
	limiter  *RateLimiter
}

// ExecutorOption installs a stage.
type ExecutorOption func(*Executor)

// NewExecutor creates an Executor. With no options it calls op directly.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		if rl != nil {
			e.limiter, e.stages[layerRateLimit] = rl, rl
		}
	}
}

func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		if b != nil {
			e.bulkhead, e.stages[layerBulkhead] = b, b
		}
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		if cb != nil {
			e.breaker, e.stages[layerBreaker] = cb, cb
		}
	}
}

func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		if r != nil {
			e.stages[layerRetry] = r
		}
	}
}

// WithTimeout bounds each attempt by d. Non-positive d is ignored.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.stages[layerTimeout] = Timeout(d)
		}
	}
}

// Execute runs op through the installed stages. A nil Executor runs op
// directly.
func (e *Executor) Execute(ctx context.Context, op Op) error {
	if e == nil {
		return op(ctx)
	}
	for l := numLayers - 1; l >= 0; l-- {
		s := e.stages[l]
		if s == nil {
			continue
		}
		next := op
		op = func(ctx context.Context) error { return s.Execute(ctx, next) }
	}
	return op(ctx)
}

// Do runs op through e and returns the value of the attempt that succeeded.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	// An attempt abandoned by a timeout may still finish after a later one.
	var (
		mu  sync.Mutex
		out T
	)
	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			mu.Lock()
			out = v
			mu.Unlock()
		}
		return err
	})

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Stats snapshots the stages that keep counters. Absent stages are nil.
type Stats struct {
	Breaker   *BreakerStats  `json:"breaker,omitempty"`
	Bulkhead  *BulkheadStats `json:"bulkhead,omitempty"`
	RateLimit *float64       `json:"rate_limit_tokens,omitempty"`
}

// Stats returns counters for the installed stages.
func (e *Executor) Stats() Stats {
	var s Stats
	if e == nil {
		return s
	}
	if e.breaker != nil {
		bs := e.breaker.Stats()
		s.Breaker = &bs
	}
	if e.bulkhead != nil {
		bs := e.bulkhead.Stats()
		s.Bulkhead = &bs
	}
	if e.limiter != nil {
		tokens := e.limiter.Tokens()
		s.RateLimit = &tokens
	}
	return s
}

// CircuitBreaker returns the installed breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker {
	if e == nil {
		return nil
	}
	return e.breaker
}
