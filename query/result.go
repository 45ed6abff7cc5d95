package query

import (
	"time"

	"github.com/jonwraymond/querycache/gateway"
)

// Result is the outcome of one operation. Exactly one of Data and Err is
// meaningful: when Err is set, Data is the zero value.
type Result[T any] struct {
	Data      T
	Err       error
	FromCache bool

	// CachedAt and ExpiresAt are set on cache hits.
	CachedAt  time.Time
	ExpiresAt time.Time
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Unwrap returns the data and error as a pair.
func (r Result[T]) Unwrap() (T, error) { return r.Data, r.Err }

func failure(err error) Result[gateway.Rows] {
	return Result[gateway.Rows]{Err: err}
}
