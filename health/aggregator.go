package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a full CheckAll pass.
const DefaultCheckTimeout = 10 * time.Second

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Timeout is the deadline for a single Check or a CheckAll pass.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxParallel caps concurrently running checks. Zero means unlimited,
	// one runs checks sequentially in registration order.
	MaxParallel int
}

// Aggregator runs a set of named checkers.
type Aggregator struct {
	config   AggregatorConfig
	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
}

// NewAggregator creates an Aggregator. At most one config is honored.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	var cfg AggregatorConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCheckTimeout
	}
	return &Aggregator{
		config:   cfg,
		checkers: make(map[string]Checker),
	}
}

// Register adds c under its own name, replacing any checker with that name.
func (a *Aggregator) Register(c Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := c.Name()
	if _, exists := a.checkers[name]; !exists {
		a.order = append(a.order, name)
	}
	a.checkers[name] = c
}

// Unregister removes the named checker.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.checkers[name]; !ok {
		return
	}
	delete(a.checkers, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// CheckerNames returns the registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, len(a.order))
	copy(names, a.order)
	return names
}

// Check runs the named checker.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	c, ok := a.checkers[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrCheckerNotFound, name)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return runCheck(ctx, c), nil
}

// CheckAll runs every registered checker and returns the results by name.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checkers := make([]Checker, 0, len(a.order))
	for _, name := range a.order {
		checkers = append(checkers, a.checkers[name])
	}
	a.mu.RUnlock()

	results := make(map[string]Result, len(checkers))
	if len(checkers) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if a.config.MaxParallel > 0 {
		g.SetLimit(a.config.MaxParallel)
	}
	for _, c := range checkers {
		g.Go(func() error {
			r := runCheck(gctx, c)
			mu.Lock()
			results[c.Name()] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// OverallStatus returns the worst status in results. No results is healthy.
func OverallStatus(results map[string]Result) Status {
	overall := StatusHealthy
	for _, r := range results {
		if r.Status > overall {
			overall = r.Status
		}
	}
	return overall
}

// Checker exposes the aggregator as a single Checker named name.
func (a *Aggregator) Checker(name string) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		results := a.CheckAll(ctx)
		status := OverallStatus(results)

		details := make(map[string]any, len(results))
		for n, r := range results {
			details[n] = r.Status.String()
		}
		return Result{
			Status:    status,
			Message:   fmt.Sprintf("%d checks, overall %s", len(results), status),
			Details:   details,
			Timestamp: time.Now(),
		}
	})
}

// runCheck runs c in its own goroutine so a checker that ignores ctx cannot
// hold the caller past the deadline.
func runCheck(ctx context.Context, c Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Unhealthy(fmt.Sprintf("check panicked: %v", p), ErrCheckPanicked)
			}
		}()
		done <- c.Check(ctx)
	}()

	select {
	case r := <-done:
		r.Duration = time.Since(start)
		if r.Timestamp.IsZero() {
			r.Timestamp = start
		}
		return r
	case <-ctx.Done():
		return Result{
			Status:    StatusUnhealthy,
			Message:   "check timed out",
			Error:     ErrCheckTimeout,
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}
}
