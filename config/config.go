package config

import (
	"time"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/gateway"
	"github.com/jonwraymond/querycache/health"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/tenant"
)

// Gateway drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverSupabase = "supabase"
)

// Config is the full querycache configuration.
type Config struct {
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
	Observe ObserveConfig `mapstructure:"observe" yaml:"observe"`
	Health  HealthConfig  `mapstructure:"health" yaml:"health"`
	Tenant  TenantConfig  `mapstructure:"tenant" yaml:"tenant"`
}

// CacheConfig configures the cache store and the coordinator.
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"gte=0"`
	MaxTTL        time.Duration `mapstructure:"max_ttl" yaml:"max_ttl" validate:"gte=0"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl" yaml:"default_ttl" validate:"gte=0"`
	Coalesce      bool          `mapstructure:"coalesce" yaml:"coalesce"`

	// Size limits above which the health check reports degraded.
	MaxEntries int   `mapstructure:"max_entries" yaml:"max_entries" validate:"gte=0"`
	MaxBytes   int64 `mapstructure:"max_bytes" yaml:"max_bytes" validate:"gte=0"`
}

// GatewayConfig selects and tunes the data gateway.
type GatewayConfig struct {
	Driver      string            `mapstructure:"driver" yaml:"driver" validate:"oneof=memory sqlite supabase"`
	DSN         string            `mapstructure:"dsn" yaml:"dsn" validate:"required_if=Driver sqlite"`
	Statements  map[string]string `mapstructure:"statements" yaml:"statements"`
	SupabaseURL string            `mapstructure:"supabase_url" yaml:"supabase_url" validate:"required_if=Driver supabase,omitempty,url"`
	SupabaseKey string            `mapstructure:"supabase_key" yaml:"supabase_key" validate:"required_if=Driver supabase"`
	PingTable   string            `mapstructure:"ping_table" yaml:"ping_table"`

	// Seed is a YAML file mapping collections to rows, loaded by the memory
	// driver. Schema is a SQL file run once the sqlite driver connects.
	Seed   string `mapstructure:"seed" yaml:"seed"`
	Schema string `mapstructure:"schema" yaml:"schema"`

	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=0,lte=10"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"gte=0"`
	RetryWrites     bool          `mapstructure:"retry_writes" yaml:"retry_writes"`
	BreakerFailures int           `mapstructure:"breaker_failures" yaml:"breaker_failures" validate:"gte=0"`
	BreakerReset    time.Duration `mapstructure:"breaker_reset" yaml:"breaker_reset" validate:"gte=0"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst           int           `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
	MaxConcurrent   int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"gte=0"`
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	ServiceName string `mapstructure:"service_name" yaml:"service_name" validate:"required"`
	Version     string `mapstructure:"version" yaml:"version"`

	TracingEnabled  bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingExporter string  `mapstructure:"tracing_exporter" yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	SamplePct       float64 `mapstructure:"sample_pct" yaml:"sample_pct" validate:"gte=0,lte=1"`

	MetricsEnabled  bool   `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsExporter string `mapstructure:"metrics_exporter" yaml:"metrics_exporter" validate:"omitempty,oneof=otlp prometheus stdout none"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" validate:"oneof=json zap"`
}

// HealthConfig configures the probe server.
type HealthConfig struct {
	Addr    string        `mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// TenantConfig configures access token verification. Tenant scoping is off
// when both Secret and JWKSURL are empty.
type TenantConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	JWKSURL  string        `mapstructure:"jwks_url" yaml:"jwks_url" validate:"omitempty,url"`
	JWKSTTL  time.Duration `mapstructure:"jwks_ttl" yaml:"jwks_ttl" validate:"gte=0"`
	Claim    string        `mapstructure:"claim" yaml:"claim"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
}

// Default returns a configuration that runs against the in-memory gateway.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Enabled:       true,
			SweepInterval: cache.DefaultSweepInterval,
			MaxTTL:        time.Hour,
			DefaultTTL:    time.Minute,
		},
		Gateway: GatewayConfig{
			Driver:          DriverMemory,
			Timeout:         5 * time.Second,
			MaxAttempts:     3,
			RetryDelay:      100 * time.Millisecond,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Observe: ObserveConfig{
			ServiceName:     "querycache",
			TracingExporter: "none",
			SamplePct:       1,
			MetricsExporter: "prometheus",
			LogLevel:        "info",
			LogFormat:       "json",
		},
		Health: HealthConfig{
			Addr:    ":8081",
			Timeout: health.DefaultCheckTimeout,
		},
		Tenant: TenantConfig{
			Claim: "sub",
		},
	}
}

// Policy returns the store policy.
func (c CacheConfig) Policy() cache.Policy {
	return cache.Policy{
		Enabled:       c.Enabled,
		SweepInterval: c.SweepInterval,
		MaxTTL:        c.MaxTTL,
	}
}

// StoreLimits returns the health thresholds for the store.
func (c CacheConfig) StoreLimits() health.StoreCheckerConfig {
	return health.StoreCheckerConfig{MaxEntries: c.MaxEntries, MaxBytes: c.MaxBytes}
}

// Resilience returns the gateway decorator settings.
func (c GatewayConfig) Resilience() gateway.ResilienceConfig {
	return gateway.ResilienceConfig{
		Timeout:         c.Timeout,
		MaxAttempts:     c.MaxAttempts,
		RetryDelay:      c.RetryDelay,
		RetryWrites:     c.RetryWrites,
		BreakerFailures: c.BreakerFailures,
		BreakerReset:    c.BreakerReset,
		RateLimit:       c.RateLimit,
		Burst:           c.Burst,
		MaxConcurrent:   c.MaxConcurrent,
	}
}

// Telemetry returns the observer configuration. Logging is always on.
func (c ObserveConfig) Telemetry() observe.Config {
	return observe.Config{
		ServiceName: c.ServiceName,
		Version:     c.Version,
		Tracing: observe.TracingConfig{
			Enabled:   c.TracingEnabled,
			Exporter:  c.TracingExporter,
			SamplePct: c.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.MetricsEnabled,
			Exporter: c.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.LogLevel,
			Format:  c.LogFormat,
		},
	}
}

// Enabled reports whether tokens are verified.
func (c TenantConfig) Enabled() bool { return c.Secret != "" || c.JWKSURL != "" }

// ResolverConfig returns the token verifier settings.
func (c TenantConfig) ResolverConfig() tenant.ResolverConfig {
	return tenant.ResolverConfig{
		Secret:       []byte(c.Secret),
		JWKSURL:      c.JWKSURL,
		JWKSCacheTTL: c.JWKSTTL,
		Claim:        c.Claim,
		Issuer:       c.Issuer,
		Audience:     c.Audience,
	}
}
