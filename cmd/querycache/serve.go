package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/querycache/health"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/observe/exporters"
	"github.com/jonwraymond/querycache/tenant"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health probes, metrics and cache administration",
		Long: `serve exposes:

  GET  /healthz, /readyz, /health, /health/{name}
  GET  /metrics
  GET  /cache/stats
  POST /cache/enable, /cache/disable, /cache/invalidate?tag=...
  GET  /query/{collection}?filter=...&order=...&limit=...&ttl=...

When tenant verification is configured, /query and every /cache endpoint
require a bearer token, and /query caches results per tenant. Without it
those endpoints are unauthenticated and must only be reachable by operators.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := root.load(ctx)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Health.Addr = addr
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			a, err := newApp(ctx, cfg, exporters.Options{Writer: cmd.ErrOrStderr(), Registerer: reg})
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return a.serve(ctx, cfg.Health.Addr, newServerRouter(a, reg))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default health.addr)")
	return cmd
}

func newServerRouter(a *app, reg *prometheus.Registry) chi.Router {
	r := health.NewRouter(a.health())
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	verify := tenant.Middleware(a.tenants)
	r.With(verify).Get("/query/{collection}", a.handleQuery)

	r.Route("/cache", func(r chi.Router) {
		r.Use(verify)
		r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, a.store.Stats())
		})
		r.Post("/enable", func(w http.ResponseWriter, _ *http.Request) {
			a.store.SetEnabled(true)
			writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
		})
		r.Post("/disable", func(w http.ResponseWriter, _ *http.Request) {
			a.store.SetEnabled(false)
			writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
		})
		r.Post("/invalidate", func(w http.ResponseWriter, req *http.Request) {
			tags := req.URL.Query()["tag"]
			if len(tags) == 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one tag is required"})
				return
			}
			removed := a.store.InvalidateByTags(tags...)
			a.logger.Info(req.Context(), "cache invalidated by operator",
				observe.F("cache.tags", tags),
				observe.F("cache.removed", removed),
			)
			writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
		})
	})
	return r
}

// serve runs the HTTP server until ctx is done, then shuts it down.
func (a *app) serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info(gctx, "serving", observe.F("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
