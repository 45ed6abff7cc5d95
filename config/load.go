package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jonwraymond/querycache/secret"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUERYCACHE"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Load reads path, or ./querycache.yaml when path is empty and the file
// exists, over Default(). Environment variables override the file. String
// credentials are resolved through the default secret resolver, then the
// result is validated.
func Load(ctx context.Context, path string) (*Config, error) {
	r, err := secret.NewDefaultResolver()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return LoadWith(ctx, path, r)
}

// LoadWith is Load with a caller supplied secret resolver.
func LoadWith(ctx context.Context, path string, r *secret.Resolver) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("querycache")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := r.ResolveFields(ctx, map[string]*string{
		"gateway.dsn":          &cfg.Gateway.DSN,
		"gateway.supabase_url": &cfg.Gateway.SupabaseURL,
		"gateway.supabase_key": &cfg.Gateway.SupabaseKey,
		"tenant.secret":        &cfg.Tenant.Secret,
		"tenant.jwks_url":      &cfg.Tenant.JWKSURL,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnvs registers every leaf key of cfg so AutomaticEnv sees keys that
// are absent from the file.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string(nil), parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("mapstructure")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate checks field constraints and the component configurations
// derived from c.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if err := c.Cache.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Cache.MaxTTL > 0 && c.Cache.DefaultTTL > c.Cache.MaxTTL {
		return fmt.Errorf("%w: cache.default_ttl %s exceeds cache.max_ttl %s", ErrInvalidConfig, c.Cache.DefaultTTL, c.Cache.MaxTTL)
	}
	tel := c.Observe.Telemetry()
	if err := tel.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
