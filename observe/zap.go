package observe

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts a *zap.Logger to Logger.
type zapLogger struct {
	z *zap.Logger
}

// NewZapLogger wraps z. A nil z yields a no-op zap logger.
func NewZapLogger(z *zap.Logger) Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &zapLogger{z: z}
}

// NewZapProduction builds a zap production logger (sampled JSON on stderr
// with caller and stack traces) at the given level.
func NewZapProduction(level string) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(ParseLogLevel(level)))
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(z), nil
}

// zapFields converts fields, redacting sensitive keys, and adds the trace
// and span ids of a sampled span on ctx.
func zapFields(ctx context.Context, fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && sc.IsSampled() {
		out = append(out,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	for _, f := range fields {
		if isRedactedField(f.Key) {
			out = append(out, zap.String(f.Key, "[REDACTED]"))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func (l *zapLogger) log(ctx context.Context, level zapcore.Level, msg string, fields []Field) {
	if ce := l.z.Check(level, msg); ce != nil {
		ce.Write(zapFields(ctx, fields)...)
	}
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *zapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *zapLogger) WithOp(meta OpMeta) Logger {
	fields := []zap.Field{
		zap.String("query.collection", meta.Collection),
		zap.String("query.op", meta.Op),
	}
	if meta.Tenant != "" {
		fields = append(fields, zap.String("query.tenant", meta.Tenant))
	}
	return &zapLogger{z: l.z.With(fields...)}
}

// Sync flushes buffered zap output.
func (l *zapLogger) Sync() error {
	return l.z.Sync()
}

var _ Logger = (*zapLogger)(nil)
