package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/querycache/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "querycache",
		Short: "Read-through query cache with tag invalidation",
		Long: `querycache runs fetch, raw and write operations against a data gateway
(in-memory, SQLite or Supabase) through an in-process cache. Reads may be
cached under tags; writes invalidate tags after they succeed.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./querycache.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override observe.log_level")

	cmd.AddCommand(
		newFetchCmd(opts),
		newBatchCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// load reads the configuration and applies flag overrides.
func (o *rootOptions) load(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx, o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Observe.LogLevel = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
