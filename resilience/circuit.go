package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Name is passed to OnStateChange.
	Name string

	// MaxFailures consecutive failures open the breaker.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the probe quota while half-open.
	// Default: 1
	HalfOpenMaxRequests int

	OnStateChange func(name string, from, to State)

	// IsFailure decides which errors count against the backend.
	// Default: any error except context cancellation
	IsFailure func(err error) bool
}

// CircuitBreaker wraps a gobreaker.CircuitBreaker. Reset swaps in a fresh
// instance, so access goes through breaker().
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu sync.RWMutex
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a closed CircuitBreaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}

	c := &CircuitBreaker{config: config}
	c.cb = c.newBreaker()
	return c
}

func (c *CircuitBreaker) newBreaker() *gobreaker.CircuitBreaker {
	cfg := c.config
	maxFailures := uint32(cfg.MaxFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.HalfOpenMaxRequests),
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return !cfg.IsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	})
}

func (c *CircuitBreaker) breaker() *gobreaker.CircuitBreaker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cb
}

// Execute runs op unless the breaker is open, or half-open with its probe
// quota spent, in which case it returns ErrCircuitOpen without calling op.
func (c *CircuitBreaker) Execute(ctx context.Context, op Op) error {
	_, err := c.breaker().Execute(func() (any, error) {
		return nil, op(ctx)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ErrCircuitOpen
	}
	return err
}

// State returns the current state. An open breaker whose reset timeout has
// passed reports half-open.
func (c *CircuitBreaker) State() State {
	return fromGobreaker(c.breaker().State())
}

// Reset closes the breaker and zeroes its counts.
func (c *CircuitBreaker) Reset() {
	c.mu.Lock()
	old := c.cb.State()
	c.cb = c.newBreaker()
	c.mu.Unlock()

	if old != gobreaker.StateClosed && c.config.OnStateChange != nil {
		c.config.OnStateChange(c.config.Name, fromGobreaker(old), StateClosed)
	}
}

// BreakerStats holds the counts of the current breaker generation. Counts
// restart on every state change.
type BreakerStats struct {
	State               State  `json:"-"`
	StateName           string `json:"state"`
	Requests            uint32 `json:"requests"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	TotalFailures       uint32 `json:"total_failures"`
	TotalSuccesses      uint32 `json:"total_successes"`
}

// Stats returns the current counts.
func (c *CircuitBreaker) Stats() BreakerStats {
	cb := c.breaker()
	state := fromGobreaker(cb.State())
	counts := cb.Counts()
	return BreakerStats{
		State:               state,
		StateName:           state.String(),
		Requests:            counts.Requests,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		TotalFailures:       counts.TotalFailures,
		TotalSuccesses:      counts.TotalSuccesses,
	}
}
