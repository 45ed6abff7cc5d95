package observe

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/querycache/observe/exporters"
)

// Config holds all configuration for the Observer.
type Config struct {
	ServiceName string
	Version     string
	Tracing     TracingConfig
	Metrics     MetricsConfig
	Logging     LoggingConfig

	// Exporters tunes exporter construction (stdout writer, Prometheus
	// registerer). The zero value uses process defaults.
	Exporters exporters.Options
}

// TracingConfig configures the tracing subsystem.
type TracingConfig struct {
	Enabled   bool
	Exporter  string  // otlp|stdout|none
	SamplePct float64 // 0.0-1.0
}

// MetricsConfig configures the metrics subsystem.
type MetricsConfig struct {
	Enabled  bool
	Exporter string // otlp|prometheus|stdout|none
}

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool
	Level   string // debug|info|warn|error
	Format  string // json|zap
}

var (
	tracingExporters = []string{"", "none", "otlp", "stdout"}
	metricsExporters = []string{"", "none", "otlp", "prometheus", "stdout"}
	logLevels        = []string{"", "debug", "info", "warn", "error"}
	logFormats       = []string{"", "json", "zap"}
)

// Validate reports every problem in c, joined. Disabled subsystems are not
// checked.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, ErrMissingServiceName)
	}
	if t := c.Tracing; t.Enabled {
		if !slices.Contains(tracingExporters, t.Exporter) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidTracingExporter, t.Exporter))
		}
		if t.SamplePct < 0 || t.SamplePct > 1 {
			errs = append(errs, fmt.Errorf("%w: got %g", ErrInvalidSamplePct, t.SamplePct))
		}
	}
	if m := c.Metrics; m.Enabled && !slices.Contains(metricsExporters, m.Exporter) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidMetricsExporter, m.Exporter))
	}
	if l := c.Logging; l.Enabled {
		if !slices.Contains(logLevels, l.Level) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level))
		}
		if !slices.Contains(logFormats, l.Format) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogFormat, l.Format))
		}
	}
	return errors.Join(errs...)
}

// Observer owns the tracer, meter and logger of a process. It is safe for
// concurrent use.
type Observer interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Logger() Logger

	// Shutdown flushes and stops the providers. It honors ctx's deadline.
	Shutdown(ctx context.Context) error
}

// Logger is a leveled structured logger. Implementations are safe for
// concurrent use and never panic. Sensitive fields are redacted.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)

	// WithOp returns a logger that tags every entry with meta.
	WithOp(meta OpMeta) Logger
}

// Field is a structured log field.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

type observer struct {
	tracer         trace.Tracer
	meter          metric.Meter
	logger         Logger
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// NewObserver validates cfg and builds its providers. Disabled subsystems
// get no-op implementations. Enabled providers are registered as the otel
// globals.
func NewObserver(ctx context.Context, cfg Config) (_ Observer, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	obs := &observer{
		tracer: tracenoop.NewTracerProvider().Tracer("noop"),
		meter:  noop.NewMeterProvider().Meter("noop"),
		logger: NopLogger(),
	}
	defer func() {
		if err != nil {
			_ = obs.Shutdown(context.Background())
		}
	}()

	if cfg.Tracing.Enabled {
		if obs.tracerProvider, err = setupTracing(ctx, cfg, res); err != nil {
			return nil, fmt.Errorf("observe: tracing: %w", err)
		}
		obs.tracer = obs.tracerProvider.Tracer(cfg.ServiceName)
	}
	if cfg.Metrics.Enabled {
		if obs.meterProvider, err = setupMetrics(ctx, cfg, res); err != nil {
			return nil, fmt.Errorf("observe: metrics: %w", err)
		}
		obs.meter = obs.meterProvider.Meter(cfg.ServiceName)
	}
	if cfg.Logging.Enabled {
		if obs.logger, err = newLogger(cfg.Logging); err != nil {
			return nil, fmt.Errorf("observe: logging: %w", err)
		}
	}
	return obs, nil
}

func newLogger(cfg LoggingConfig) (Logger, error) {
	if cfg.Format == "zap" {
		return NewZapProduction(cfg.Level)
	}
	return NewLogger(cfg.Level), nil
}

func setupTracing(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter, cfg.Exporters)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.Tracing.SamplePct >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.Tracing.SamplePct <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.Tracing.SamplePct)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func setupMetrics(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter, cfg.Exporters)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

func (o *observer) Tracer() trace.Tracer {
	return o.tracer
}

func (o *observer) Meter() metric.Meter {
	return o.meter
}

func (o *observer) Logger() Logger {
	return o.logger
}

func (o *observer) Shutdown(ctx context.Context) error {
	var errs []error

	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}

	if o.meterProvider != nil {
		if err := o.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}

	if s, ok := o.logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}

	return errors.Join(errs...)
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (nopLogger) Debug(context.Context, string, ...Field) {}
func (l nopLogger) WithOp(OpMeta) Logger                  { return l }
