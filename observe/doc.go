// Package observe provides observability primitives for query operations.
//
// It exposes a structured Logger (JSON or zap backed), an OpenTelemetry
// Tracer and Metrics pair keyed by OpMeta, and a Middleware that combines
// all three around a single gateway or cache operation. Exporter setup lives
// in the exporters subpackage.
package observe
