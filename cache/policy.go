package cache

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSweepInterval is how often the background sweeper runs by default.
const DefaultSweepInterval = 60 * time.Second

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("cache: invalid policy")

// Policy configures store behavior.
type Policy struct {
	// Enabled is the initial state of the store. A disabled store misses on
	// every Get and ignores Set.
	Enabled bool

	// SweepInterval is the period of the background sweeper.
	// If zero, no sweeper is started and expired entries are evicted lazily.
	SweepInterval time.Duration

	// MaxTTL is the maximum allowed TTL. Longer TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration
}

// DefaultPolicy returns the default store policy.
// Enabled, SweepInterval: 60 seconds, MaxTTL: 1 hour
func DefaultPolicy() Policy {
	return Policy{
		Enabled:       true,
		SweepInterval: DefaultSweepInterval,
		MaxTTL:        1 * time.Hour,
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// Validate rejects negative durations.
func (p Policy) Validate() error {
	if p.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep interval is negative", ErrInvalidPolicy)
	}
	if p.MaxTTL < 0 {
		return fmt.Errorf("%w: max ttl is negative", ErrInvalidPolicy)
	}
	return nil
}

// ClampTTL returns the TTL the store will actually use for ttl.
// Negative values become zero, and values above MaxTTL are clamped.
func (p Policy) ClampTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		return p.MaxTTL
	}
	return ttl
}
