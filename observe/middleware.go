package observe

import (
	"context"
	"time"
)

// Middleware wraps query operations with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Context: the context passed to fn carries the operation span.
//   - Errors: errors from fn are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// NopMiddleware returns a Middleware that records nothing.
func NopMiddleware() *Middleware {
	return NewMiddleware(nil, nil, nil)
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Metrics returns the middleware's metrics recorder.
func (m *Middleware) Metrics() Metrics { return m.metrics }

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Observe runs fn inside a span named after meta, then records metrics and
// logs the outcome. Failures log at warn level; successes at debug.
func (m *Middleware) Observe(ctx context.Context, meta OpMeta, fn func(ctx context.Context) error) error {
	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()

	err := fn(ctx)

	duration := time.Since(start)
	m.tracer.EndSpan(span, err)
	m.metrics.RecordOp(ctx, meta, duration, err)

	opLogger := m.logger.WithOp(meta)
	fields := []Field{
		{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000},
	}
	if err != nil {
		fields = append(fields, Field{Key: "error", Value: err.Error()})
		opLogger.Warn(ctx, "query operation failed", fields...)
	} else {
		opLogger.Debug(ctx, "query operation completed", fields...)
	}

	return err
}
