package observe

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is a logging threshold.
type LogLevel zapcore.Level

const (
	LevelDebug = LogLevel(zapcore.DebugLevel)
	LevelInfo  = LogLevel(zapcore.InfoLevel)
	LevelWarn  = LogLevel(zapcore.WarnLevel)
	LevelError = LogLevel(zapcore.ErrorLevel)
)

// ParseLogLevel parses debug, info, warn or error. Anything else is info.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug", "info", "warn", "error":
		l, _ := zapcore.ParseLevel(s)
		return LogLevel(l)
	}
	return LevelInfo
}

func (l LogLevel) String() string { return zapLevel(l).String() }

func zapLevel(l LogLevel) zapcore.Level {
	if zl := zapcore.Level(l); zl >= zapcore.DebugLevel && zl <= zapcore.ErrorLevel {
		return zl
	}
	return zapcore.InfoLevel
}

// NewLogger returns a JSON logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter returns a JSON logger writing one object per line to
// w. Entries carry timestamp, level and msg keys. A nil w discards output.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	if w == nil {
		w = io.Discard
	}
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     utcTime,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), zapLevel(ParseLogLevel(level)))
	return NewZapLogger(zap.New(core))
}

func utcTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}

var redactedKeys = func() map[string]bool {
	m := make(map[string]bool, len(RedactedFields))
	for _, k := range RedactedFields {
		m[k] = true
	}
	return m
}()

func isRedactedField(key string) bool {
	return redactedKeys[key]
}
