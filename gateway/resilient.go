package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/resilience"
)

// ResilienceConfig describes the protection applied around a gateway.
// Zero values disable the corresponding pattern.
type ResilienceConfig struct {
	// Timeout bounds each attempt.
	Timeout time.Duration

	// MaxAttempts is the total attempts per read. Values below 2 disable retry.
	MaxAttempts int
	// RetryDelay is the initial backoff delay.
	RetryDelay time.Duration
	// RetryWrites also retries mutations. Only safe for idempotent backends.
	RetryWrites bool

	// BreakerFailures is the consecutive failure count that opens the breaker.
	BreakerFailures int
	// BreakerReset is how long the breaker stays open.
	BreakerReset time.Duration

	// RateLimit is calls per second, with Burst tokens.
	RateLimit float64
	Burst     int

	// MaxConcurrent caps in-flight calls.
	MaxConcurrent int
}

// Resilient decorates a Gateway with resilience patterns. Reads and writes
// share the limiter, bulkhead and breaker; only reads retry unless
// RetryWrites is set.
type Resilient struct {
	next    Gateway
	reads   *resilience.Executor
	writes  *resilience.Executor
	breaker *resilience.CircuitBreaker
	logger  observe.Logger
}

// NewResilient wraps next. A nil logger discards breaker transitions.
func NewResilient(next Gateway, cfg ResilienceConfig, logger observe.Logger) *Resilient {
	if logger == nil {
		logger = observe.NopLogger()
	}
	g := &Resilient{next: next, logger: logger}

	var shared []resilience.ExecutorOption
	if cfg.RateLimit > 0 {
		wait := cfg.Timeout
		if wait <= 0 {
			wait = time.Second
		}
		shared = append(shared, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:    cfg.RateLimit,
			Burst:   cfg.Burst,
			MaxWait: wait,
		})))
	}
	if cfg.MaxConcurrent > 0 {
		shared = append(shared, resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			Capacity: cfg.MaxConcurrent,
			MaxWait:  cfg.Timeout,
		})))
	}
	if cfg.BreakerFailures > 0 {
		g.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "gateway",
			MaxFailures:  cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerReset,
			IsFailure:    isBackendFailure,
			OnStateChange: func(name string, from, to resilience.State) {
				g.logger.Warn(context.Background(), "gateway circuit state changed",
					observe.F("breaker", name),
					observe.F("from", from.String()),
					observe.F("to", to.String()),
				)
			},
		})
		shared = append(shared, resilience.WithCircuitBreaker(g.breaker))
	}
	if cfg.Timeout > 0 {
		shared = append(shared, resilience.WithTimeout(cfg.Timeout))
	}

	readOpts := shared
	if cfg.MaxAttempts > 1 {
		retry := resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.RetryDelay,
			Jitter:       true,
			RetryIf:      isBackendFailure,
		}))
		readOpts = append(append([]resilience.ExecutorOption(nil), shared...), retry)
		if cfg.RetryWrites {
			shared = readOpts
		}
	}

	g.reads = resilience.NewExecutor(readOpts...)
	g.writes = resilience.NewExecutor(shared...)
	return g
}

// isBackendFailure reports whether err reflects backend health rather than
// a bad request.
func isBackendFailure(err error) bool {
	return err != nil && !IsPermanent(err) && !resilience.IsRejection(err) && !errors.Is(err, context.Canceled)
}

// ResilienceStats returns counters for the breaker, bulkhead and rate
// limiter shared by reads and writes.
func (g *Resilient) ResilienceStats() resilience.Stats {
	return g.reads.Stats()
}

// BreakerState returns the breaker state, or closed when no breaker is set.
func (g *Resilient) BreakerState() resilience.State {
	if g.breaker == nil {
		return resilience.StateClosed
	}
	return g.breaker.State()
}

func (g *Resilient) Fetch(ctx context.Context, collection string, args FetchArgs) (Rows, error) {
	return resilience.Do(ctx, g.reads, func(ctx context.Context) (Rows, error) {
		return g.next.Fetch(ctx, collection, args)
	})
}

func (g *Resilient) RawQuery(ctx context.Context, statement string, params map[string]any) (Rows, error) {
	return resilience.Do(ctx, g.reads, func(ctx context.Context) (Rows, error) {
		return g.next.RawQuery(ctx, statement, params)
	})
}

func (g *Resilient) Create(ctx context.Context, collection string, rows Rows) (Rows, error) {
	return resilience.Do(ctx, g.writes, func(ctx context.Context) (Rows, error) {
		return g.next.Create(ctx, collection, rows)
	})
}

func (g *Resilient) Update(ctx context.Context, collection string, patch Row, filters []Filter) (Rows, error) {
	return resilience.Do(ctx, g.writes, func(ctx context.Context) (Rows, error) {
		return g.next.Update(ctx, collection, patch, filters)
	})
}

func (g *Resilient) Delete(ctx context.Context, collection string, filters []Filter) error {
	return g.writes.Execute(ctx, func(ctx context.Context) error {
		return g.next.Delete(ctx, collection, filters)
	})
}

func (g *Resilient) Upsert(ctx context.Context, collection string, rows Rows, conflictKey string) (Rows, error) {
	return resilience.Do(ctx, g.writes, func(ctx context.Context) (Rows, error) {
		return g.next.Upsert(ctx, collection, rows, conflictKey)
	})
}

// Ping forwards to the wrapped gateway when it implements Pinger. An open
// breaker fails the ping without reaching the backend.
func (g *Resilient) Ping(ctx context.Context) error {
	if g.BreakerState() == resilience.StateOpen {
		return resilience.ErrCircuitOpen
	}
	p, ok := g.next.(Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

var (
	_ Gateway = (*Resilient)(nil)
	_ Pinger  = (*Resilient)(nil)
)
