package query

import (
	"time"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/observe"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithKeyEncoder replaces the default SHA-256 key encoder.
func WithKeyEncoder(k cache.KeyEncoder) Option {
	return func(c *Coordinator) {
		if k != nil {
			c.keys = k
		}
	}
}

// WithMiddleware sets the tracing, metrics and logging middleware.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(c *Coordinator) {
		if mw != nil {
			c.mw = mw
		}
	}
}

// WithCoalescing makes concurrent misses for the same key share one
// gateway call.
func WithCoalescing() Option {
	return func(c *Coordinator) {
		c.coalesce = true
	}
}

// CallOption is a per-call directive.
type CallOption func(*callOptions)

type callOptions struct {
	cache      bool
	ttl        time.Duration
	tags       []string
	invalidate []string
}

func newCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCache stores a successful read under ttl and tags. Ignored on writes.
func WithCache(ttl time.Duration, tags ...string) CallOption {
	return func(o *callOptions) {
		o.cache = true
		o.ttl = ttl
		o.tags = append(o.tags, tags...)
	}
}

// Invalidate removes entries carrying any of tags after a successful write.
// Ignored on reads.
func Invalidate(tags ...string) CallOption {
	return func(o *callOptions) {
		o.invalidate = append(o.invalidate, tags...)
	}
}
