package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/querycache/observe"
)

// Store is an in-memory TTL cache whose entries can be invalidated by tag.
//
// Contract:
//   - Concurrency: all methods are safe for concurrent use.
//   - Expiry: an entry is live while now < ExpiresAt. Expired entries are
//     never returned and are evicted on read or by Sweep.
//   - Tags: InvalidateByTags removes every matching entry in one pass under
//     the store lock; untagged entries are only removed by Delete, Clear,
//     expiry or disabling.
//   - Lifecycle: Close stops the background sweeper and is idempotent.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	tags    map[string]map[string]struct{}
	bytes   int64
	enabled bool

	policy Policy
	clock  Clock
	logger observe.Logger

	hits        atomic.Int64
	misses      atomic.Int64
	expired     atomic.Int64
	invalidated atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock the store reads time from.
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger used for state transitions and sweep results.
func WithLogger(l observe.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPolicy sets the store policy.
func WithPolicy(p Policy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// NewStore creates a Store. With the default policy the store is enabled and
// a sweeper runs every DefaultSweepInterval until Close is called.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]Entry),
		tags:    make(map[string]map[string]struct{}),
		policy:  DefaultPolicy(),
		clock:   SystemClock{},
		logger:  observe.NopLogger(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.enabled = s.policy.Enabled

	if s.policy.SweepInterval > 0 {
		s.done = make(chan struct{})
		go s.sweepLoop(s.policy.SweepInterval)
	}
	return s
}

// Get returns the live entry for key.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	if !s.enabled {
		s.mu.RUnlock()
		s.misses.Add(1)
		return Entry{}, false
	}
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return Entry{}, false
	}

	if entry.Expired(s.clock.Now()) {
		s.mu.Lock()
		// Re-check: a concurrent Set may have replaced it.
		if current, ok := s.entries[key]; ok && current.Expired(s.clock.Now()) {
			s.removeLocked(key, current)
			s.expired.Add(1)
		}
		s.mu.Unlock()
		s.misses.Add(1)
		return Entry{}, false
	}

	s.hits.Add(1)
	return entry, true
}

// Set stores value under key for ttl, replacing any previous entry.
// A ttl of zero stores an entry that is already expired.
func (s *Store) Set(key string, value []byte, ttl time.Duration, tags ...string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	now := s.clock.Now()
	entry := Entry{
		Value:     value,
		Tags:      dedupe(tags),
		CachedAt:  now,
		ExpiresAt: now.Add(s.policy.ClampTTL(ttl)),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return nil
	}

	if old, ok := s.entries[key]; ok {
		s.removeLocked(key, old)
	}
	s.entries[key] = entry
	s.bytes += entry.size(key)
	for _, tag := range entry.Tags {
		keys, ok := s.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			s.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

// Delete removes the entry for key. It reports whether an entry was removed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok {
		s.removeLocked(key, entry)
	}
	return ok
}

// InvalidateByTags removes every entry carrying at least one of tags and
// returns how many entries were removed.
func (s *Store) InvalidateByTags(tags ...string) int {
	if len(tags) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, tag := range tags {
		for key := range s.tags[tag] {
			if entry, ok := s.entries[key]; ok {
				s.removeLocked(key, entry)
				removed++
			}
		}
	}
	s.invalidated.Add(int64(removed))
	return removed
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
}

// SetEnabled turns the store on or off. Disabling also clears the store so
// that re-enabling cannot serve entries that missed invalidations.
func (s *Store) SetEnabled(enabled bool) {
	s.mu.Lock()
	changed := s.enabled != enabled
	s.enabled = enabled
	if changed && !enabled {
		s.clearLocked()
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info(context.Background(), "cache state changed",
			observe.Field{Key: "cache.enabled", Value: enabled})
	}
}

// Enabled reports whether the store is serving and accepting entries.
func (s *Store) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	entries := len(s.entries)
	bytes := s.bytes
	enabled := s.enabled
	s.mu.RUnlock()

	return Stats{
		Entries:     entries,
		ApproxBytes: bytes,
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Expired:     s.expired.Load(),
		Invalidated: s.invalidated.Load(),
		Enabled:     enabled,
	}
}

// Close stops the background sweeper. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.done != nil {
			<-s.done
		}
	})
	return nil
}

// removeLocked drops key from the map, the tag index and the byte count.
// Callers must hold s.mu for writing.
func (s *Store) removeLocked(key string, entry Entry) {
	delete(s.entries, key)
	s.bytes -= entry.size(key)
	for _, tag := range entry.Tags {
		keys := s.tags[tag]
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.tags, tag)
		}
	}
}

func (s *Store) clearLocked() {
	s.entries = make(map[string]Entry)
	s.tags = make(map[string]map[string]struct{})
	s.bytes = 0
}

func dedupe(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
