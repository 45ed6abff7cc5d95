package resilience

import (
	"errors"
	"fmt"
)

// ErrRejected is wrapped by every error returned for a call that never
// reached the backend.
var ErrRejected = errors.New("resilience: call rejected")

var (
	ErrCircuitOpen  = fmt.Errorf("%w: circuit open", ErrRejected)
	ErrRateLimited  = fmt.Errorf("%w: rate limit exceeded", ErrRejected)
	ErrBulkheadFull = fmt.Errorf("%w: too many calls in flight", ErrRejected)
)

// ErrTimeout is returned when an attempt outlives its own deadline while the
// caller's context is still live.
var ErrTimeout = errors.New("resilience: attempt timed out")

// IsRejection reports whether err means a limiter or breaker refused the
// call.
func IsRejection(err error) bool {
	return errors.Is(err, ErrRejected)
}
