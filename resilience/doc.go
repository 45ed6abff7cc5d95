// Package resilience guards calls to a data backend.
//
// Each pattern is a Stage over an Op, func(context.Context) error:
//
//   - RateLimiter admits calls from a token bucket (golang.org/x/time/rate).
//   - Bulkhead caps calls in flight (golang.org/x/sync/semaphore).
//   - CircuitBreaker stops calling a backend after consecutive failures
//     (github.com/sony/gobreaker).
//   - Retry repeats failed attempts with exponential backoff
//     (github.com/cenkalti/backoff/v5).
//   - Timeout bounds one attempt.
//
// An Executor chains them in that order whatever order its options are
// given in:
//
//	exec := resilience.NewExecutor(
//		resilience.WithTimeout(2*time.Second),
//		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3})),
//		resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "postgres"})),
//	)
//
//	rows, err := resilience.Do(ctx, exec, func(ctx context.Context) (Rows, error) {
//		return db.Fetch(ctx, "invoices", args)
//	})
//
// Calls refused before reaching the backend return errors wrapping
// ErrRejected; use IsRejection to tell them apart from backend failures.
package resilience
