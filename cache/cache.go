package cache

import (
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilStore   = errors.New("cache: store is nil")
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Op identifies the kind of gateway operation a key or entry belongs to.
type Op string

const (
	OpFetch  Op = "fetch"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpUpsert Op = "upsert"
	OpRaw    Op = "raw"
)

// IsRead reports whether results of op may be served from the cache.
func (o Op) IsRead() bool {
	return o == OpFetch || o == OpRaw
}

// Entry is a single cached value.
//
// Entries are replaced wholesale on Set and are never mutated in place.
type Entry struct {
	Value     []byte
	Tags      []string
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is no longer valid at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// HasTag reports whether the entry carries tag.
func (e Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (e Entry) size(key string) int64 {
	n := int64(len(key) + len(e.Value))
	for _, t := range e.Tags {
		n += int64(len(t))
	}
	return n
}

// Stats is a point-in-time snapshot of store counters.
type Stats struct {
	Entries     int   `json:"entries"`
	ApproxBytes int64 `json:"approx_bytes"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Expired     int64 `json:"expired"`
	Invalidated int64 `json:"invalidated"`
	Enabled     bool  `json:"enabled"`
}

// HitRate returns hits/(hits+misses), or 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
