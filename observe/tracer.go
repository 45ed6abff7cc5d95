package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OpMeta describes a single query operation for telemetry purposes.
type OpMeta struct {
	Collection string   // Table, view or "raw" for raw statements (required)
	Op         string   // fetch|create|update|delete|upsert|raw (required)
	Tenant     string   // Tenant id from the request context (optional)
	Tags       []string // Cache or invalidation tags (optional)
}

// SpanName returns the deterministic span name for this operation.
// Format: query.<op>.<collection>
func (m OpMeta) SpanName() string {
	return "query." + m.Op + "." + m.Collection
}

// Validate reports whether the metadata carries a collection.
func (m OpMeta) Validate() error {
	if m.Collection == "" {
		return ErrMissingCollection
	}
	return nil
}

func (m OpMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("query.collection", m.Collection),
		attribute.String("query.op", m.Op),
	}
	if m.Tenant != "" {
		attrs = append(attrs, attribute.String("query.tenant", m.Tenant))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with operation-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan returns a context carrying the new span.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a query operation.
	StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with operation metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("query.error", false))
	if len(meta.Tags) > 0 {
		attrs = append(attrs, attribute.StringSlice("query.tags", meta.Tags))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("query.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer creates a Tracer that records nothing.
func NewNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
