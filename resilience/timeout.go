package resilience

import (
	"context"
	"errors"
	"time"
)

// Timeout bounds a single attempt. Non-positive values run op unbounded.
type Timeout time.Duration

// Execute runs op with a deadline and returns ErrTimeout once it passes,
// even when op ignores its context. Cancellation or expiry of the caller's
// own context is returned unchanged.
func (d Timeout) Execute(ctx context.Context, op Op) error {
	if d <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, time.Duration(d))
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- op(actx) }()

	var err error
	select {
	case err = <-errc:
	case <-actx.Done():
		err = actx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrTimeout
	}
	return err
}
