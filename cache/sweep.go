package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/querycache/observe"
)

// Sweep evicts every entry whose ExpiresAt is at or before now and returns
// how many were evicted.
func (s *Store) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			s.removeLocked(key, entry)
			evicted++
		}
	}
	s.expired.Add(int64(evicted))
	return evicted
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

// sweepOnce runs one Sweep. A panic is logged and swallowed so the schedule
// keeps running.
func (s *Store) sweepOnce() {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "cache sweep failed",
				observe.Field{Key: "error", Value: fmt.Sprint(r)})
		}
	}()

	start := time.Now()
	evicted := s.Sweep()
	if evicted > 0 {
		s.logger.Debug(ctx, "cache sweep",
			observe.Field{Key: "cache.evicted", Value: evicted},
			observe.Field{Key: "duration_ms", Value: float64(time.Since(start).Microseconds()) / 1000},
		)
	}
}
