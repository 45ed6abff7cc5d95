package observe

import (
	"errors"

	"github.com/jonwraymond/querycache/observe/exporters"
)

var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample percentage must be within [0, 1]")
	ErrInvalidTracingExporter = errors.New("observe: unknown tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: unknown metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: unknown log level")
	ErrInvalidLogFormat       = errors.New("observe: unknown log format")
)

var (
	// ErrNilObserver is returned by MiddlewareFromObserver(nil).
	ErrNilObserver = errors.New("observe: observer is nil")

	// ErrMissingCollection is returned by OpMeta.Validate.
	ErrMissingCollection = errors.New("observe: collection is required")
)

// ErrEndpointNotConfigured is returned when the otlp exporter is chosen
// without an OTEL_EXPORTER_OTLP_* endpoint in the environment.
var ErrEndpointNotConfigured = exporters.ErrEndpointNotConfigured

// RedactedFields are log field keys whose values are replaced with
// "[REDACTED]". Raw query params may carry tenant data.
var RedactedFields = []string{
	"params",
	"password",
	"secret",
	"token",
	"access_token",
	"api_key",
	"apiKey",
	"credential",
}
