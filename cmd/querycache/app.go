package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/config"
	"github.com/jonwraymond/querycache/gateway"
	"github.com/jonwraymond/querycache/gateway/sqlgw"
	"github.com/jonwraymond/querycache/gateway/supabasegw"
	"github.com/jonwraymond/querycache/health"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/observe/exporters"
	"github.com/jonwraymond/querycache/query"
	"github.com/jonwraymond/querycache/tenant"
)

var errTenantsDisabled = errors.New("querycache: --token given but tenant verification is not configured")

// app holds the components built from a Config.
type app struct {
	cfg     *config.Config
	obs     observe.Observer
	logger  observe.Logger
	gateway *gateway.Resilient
	store   *cache.Store
	coord   *query.Coordinator
	tenants *tenant.Resolver
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, exp exporters.Options) (_ *app, err error) {
	tel := cfg.Observe.Telemetry()
	tel.Exporters = exp
	obs, err := observe.NewObserver(ctx, tel)
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}

	a := &app{cfg: cfg, obs: obs, logger: obs.Logger()}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	backend, err := openGateway(ctx, cfg.Gateway, a.logger)
	if err != nil {
		return nil, err
	}
	if c, ok := backend.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.gateway = gateway.NewResilient(backend, cfg.Gateway.Resilience(), a.logger)

	a.store = cache.NewStore(
		cache.WithPolicy(cfg.Cache.Policy()),
		cache.WithLogger(a.logger),
	)
	a.closers = append(a.closers, a.store.Close)

	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, err
	}
	qopts := []query.Option{query.WithMiddleware(mw)}
	if cfg.Cache.Coalesce {
		qopts = append(qopts, query.WithCoalescing())
	}
	a.coord = query.New(a.gateway, a.store, qopts...)

	if cfg.Tenant.Enabled() {
		if a.tenants, err = tenant.NewResolver(cfg.Tenant.ResolverConfig()); err != nil {
			return nil, err
		}
	}

	a.logger.Debug(ctx, "querycache ready",
		observe.F("gateway.driver", cfg.Gateway.Driver),
		observe.F("cache.enabled", cfg.Cache.Enabled),
		observe.F("tenant.enabled", cfg.Tenant.Enabled()),
	)
	return a, nil
}

// scope attaches the tenant named by token to ctx.
func (a *app) scope(ctx context.Context, token string) (context.Context, error) {
	if token == "" {
		return ctx, nil
	}
	if a.tenants == nil {
		return nil, errTenantsDisabled
	}
	return a.tenants.Context(ctx, token)
}

func (a *app) health() *health.Aggregator {
	agg := health.NewAggregator(health.AggregatorConfig{Timeout: a.cfg.Health.Timeout})
	agg.Register(health.NewStoreChecker(a.store, a.cfg.Cache.StoreLimits()))
	agg.Register(health.NewGatewayChecker(a.gateway))
	return agg
}

// Close releases components in reverse construction order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	errs = append(errs, a.obs.Shutdown(ctx))
	return errors.Join(errs...)
}

func openGateway(ctx context.Context, cfg config.GatewayConfig, logger observe.Logger) (gateway.Gateway, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		opts := []sqlgw.Option{sqlgw.WithLogger(logger)}
		for name, stmt := range cfg.Statements {
			opts = append(opts, sqlgw.WithStatement(name, stmt))
		}
		g, err := sqlgw.Open(ctx, sqlgw.DefaultDriver, cfg.DSN, opts...)
		if err != nil {
			return nil, err
		}
		if cfg.Schema != "" {
			if err := applySchema(ctx, g, cfg.Schema); err != nil {
				return nil, errors.Join(err, g.Close())
			}
		}
		return g, nil

	case config.DriverSupabase:
		opts := []supabasegw.Option{supabasegw.WithLogger(logger)}
		if cfg.PingTable != "" {
			opts = append(opts, supabasegw.WithPingTable(cfg.PingTable))
		}
		g, err := supabasegw.Connect(cfg.SupabaseURL, cfg.SupabaseKey, opts...)
		if err != nil {
			return nil, err
		}
		return g, nil

	default:
		mem := gateway.NewMemory()
		if cfg.Seed != "" {
			if err := loadSeed(mem, cfg.Seed); err != nil {
				return nil, err
			}
		}
		return mem, nil
	}
}

func applySchema(ctx context.Context, g *sqlgw.Gateway, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if _, err := g.DB().ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("schema %s: %w", path, err)
	}
	return nil
}

// loadSeed reads a YAML document mapping collection names to row lists.
func loadSeed(mem *gateway.Memory, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	var seed map[string][]map[string]any
	if err := yaml.Unmarshal(b, &seed); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	for collection, rows := range seed {
		for _, r := range rows {
			mem.Seed(collection, gateway.Row(r))
		}
	}
	return nil
}
