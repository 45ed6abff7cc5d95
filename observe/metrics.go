package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records query and cache metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordOp records a gateway or cache-served operation.
	RecordOp(ctx context.Context, meta OpMeta, duration time.Duration, err error)

	// RecordLookup records a cache lookup for a read.
	RecordLookup(ctx context.Context, meta OpMeta, hit bool)

	// RecordInvalidation records how many entries a write invalidated.
	RecordInvalidation(ctx context.Context, meta OpMeta, removed int)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	lookups      metric.Int64Counter
	invalidated  metric.Int64Counter
}

// NewMetrics creates Metrics backed by meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"query.ops.total",
		metric.WithDescription("Total number of query operations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"query.ops.errors",
		metric.WithDescription("Total number of failed query operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"query.ops.duration_ms",
		metric.WithDescription("Query operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	lookups, err := meter.Int64Counter(
		"query.cache.lookups",
		metric.WithDescription("Cache lookups for reads, by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	invalidated, err := meter.Int64Counter(
		"query.cache.invalidated",
		metric.WithDescription("Cache entries removed by tag invalidation"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		lookups:      lookups,
		invalidated:  invalidated,
	}, nil
}

func (m *metricsImpl) RecordOp(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(meta.attributes()...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordLookup(ctx context.Context, meta OpMeta, hit bool) {
	attrs := append(meta.attributes(), attribute.Bool("hit", hit))
	m.lookups.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metricsImpl) RecordInvalidation(ctx context.Context, meta OpMeta, removed int) {
	m.invalidated.Add(ctx, int64(removed), metric.WithAttributes(meta.attributes()...))
}

// NoopMetrics returns Metrics that record nothing.
func NoopMetrics() Metrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) RecordOp(context.Context, OpMeta, time.Duration, error) {}
func (noopMetrics) RecordLookup(context.Context, OpMeta, bool)             {}
func (noopMetrics) RecordInvalidation(context.Context, OpMeta, int)        {}
