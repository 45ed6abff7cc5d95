package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/gateway"
	"github.com/jonwraymond/querycache/resilience"
)

// StoreCheckerConfig sets the size limits above which a store is degraded.
// Zero disables a limit.
type StoreCheckerConfig struct {
	MaxEntries int
	MaxBytes   int64
}

// StoreChecker reports the state of a cache store.
type StoreChecker struct {
	store  *cache.Store
	config StoreCheckerConfig
}

// NewStoreChecker creates a checker for store.
func NewStoreChecker(store *cache.Store, config StoreCheckerConfig) *StoreChecker {
	return &StoreChecker{store: store, config: config}
}

// Name returns "cache".
func (c *StoreChecker) Name() string { return "cache" }

// Check is degraded when the store is disabled or over a size limit. A
// disabled store never changes query results, so it is never unhealthy.
func (c *StoreChecker) Check(context.Context) Result {
	st := c.store.Stats()
	details := map[string]any{
		"enabled":      st.Enabled,
		"entries":      st.Entries,
		"approx_bytes": st.ApproxBytes,
		"hits":         st.Hits,
		"misses":       st.Misses,
		"hit_rate":     st.HitRate(),
		"expired":      st.Expired,
		"invalidated":  st.Invalidated,
	}

	switch {
	case !st.Enabled:
		return Degraded("cache disabled").WithDetails(details)
	case c.config.MaxEntries > 0 && st.Entries > c.config.MaxEntries:
		return Degraded(fmt.Sprintf("%d entries exceeds limit %d", st.Entries, c.config.MaxEntries)).WithDetails(details)
	case c.config.MaxBytes > 0 && st.ApproxBytes > c.config.MaxBytes:
		return Degraded(fmt.Sprintf("%d bytes exceeds limit %d", st.ApproxBytes, c.config.MaxBytes)).WithDetails(details)
	}
	return Healthy("cache serving").WithDetails(details)
}

// resilienceReporter is implemented by gateways wrapped in resilience
// stages.
type resilienceReporter interface {
	ResilienceStats() resilience.Stats
}

// GatewayChecker pings the data gateway.
type GatewayChecker struct {
	pinger gateway.Pinger
}

// NewGatewayChecker creates a checker for p.
func NewGatewayChecker(p gateway.Pinger) *GatewayChecker {
	return &GatewayChecker{pinger: p}
}

// Name returns "gateway".
func (c *GatewayChecker) Name() string { return "gateway" }

// Check is unhealthy when the ping fails, and degraded while a wrapping
// circuit breaker is probing in half-open state.
func (c *GatewayChecker) Check(ctx context.Context) Result {
	var details map[string]any
	state := resilience.StateClosed
	if rr, ok := c.pinger.(resilienceReporter); ok {
		st := rr.ResilienceStats()
		details = map[string]any{}
		if st.Breaker != nil {
			state = st.Breaker.State
			details["breaker"] = state.String()
			details["breaker_failures"] = st.Breaker.ConsecutiveFailures
		}
		if st.Bulkhead != nil {
			details["in_flight"] = st.Bulkhead.InFlight
			details["bulkhead_rejected"] = st.Bulkhead.Rejected
		}
		if st.RateLimit != nil {
			details["rate_limit_tokens"] = *st.RateLimit
		}
	}

	if err := c.pinger.Ping(ctx); err != nil {
		return Unhealthy("gateway unreachable", err).WithDetails(details)
	}
	if state == resilience.StateHalfOpen {
		return Degraded("gateway recovering").WithDetails(details)
	}
	return Healthy("gateway reachable").WithDetails(details)
}

var (
	_ Checker = (*StoreChecker)(nil)
	_ Checker = (*GatewayChecker)(nil)
)
