package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadConfig configures a Bulkhead.
type BulkheadConfig struct {
	// Capacity caps calls in flight.
	// Default: 10
	Capacity int

	// MaxWait is how long a call queues for a free slot. Zero rejects at
	// once.
	MaxWait time.Duration
}

// Bulkhead caps concurrent calls with a weighted semaphore.
type Bulkhead struct {
	capacity int
	maxWait  time.Duration
	sem      *semaphore.Weighted

	inFlight atomic.Int64
	peak     atomic.Int64
	rejected atomic.Int64
}

// NewBulkhead creates a Bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.Capacity <= 0 {
		config.Capacity = 10
	}
	return &Bulkhead{
		capacity: config.Capacity,
		maxWait:  config.MaxWait,
		sem:      semaphore.NewWeighted(int64(config.Capacity)),
	}
}

// Acquire takes a slot. It returns ErrBulkheadFull when none frees up within
// MaxWait, or ctx's error when ctx ends first. Callers must Release.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if !b.sem.TryAcquire(1) {
		if b.maxWait <= 0 {
			b.rejected.Add(1)
			return ErrBulkheadFull
		}
		wctx, cancel := context.WithTimeout(ctx, b.maxWait)
		err := b.sem.Acquire(wctx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.rejected.Add(1)
			return ErrBulkheadFull
		}
	}

	n := b.inFlight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			return nil
		}
	}
}

// Release frees a slot taken by Acquire.
func (b *Bulkhead) Release() {
	b.inFlight.Add(-1)
	b.sem.Release(1)
}

// Execute runs op while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, op Op) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return op(ctx)
}

// BulkheadStats is a snapshot of a Bulkhead.
type BulkheadStats struct {
	Capacity int   `json:"capacity"`
	InFlight int   `json:"in_flight"`
	Peak     int   `json:"peak"`
	Rejected int64 `json:"rejected"`
}

// Stats returns current counters.
func (b *Bulkhead) Stats() BulkheadStats {
	return BulkheadStats{
		Capacity: b.capacity,
		InFlight: int(b.inFlight.Load()),
		Peak:     int(b.peak.Load()),
		Rejected: b.rejected.Load(),
	}
}
