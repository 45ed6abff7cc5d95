package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/gateway"
	"github.com/jonwraymond/querycache/observe/exporters"
	"github.com/jonwraymond/querycache/query"
)

// batchFile is the YAML document accepted by the batch command:
//
//	steps:
//	  - op: fetch
//	    collection: invoices
//	    filters: [{column: status, op: eq, value: open}]
//	    cache: {ttl: 1m, tags: [invoices]}
//	  - op: update
//	    collection: invoices
//	    patch: {status: paid}
//	    filters: [{column: id, op: eq, value: "inv:1"}]
//	    invalidate: [invoices]
type batchFile struct {
	Steps []stepSpec `yaml:"steps"`
}

type stepSpec struct {
	Op         cache.Op `yaml:"op"`
	Collection string   `yaml:"collection"`

	gateway.FetchArgs `yaml:",inline"`

	Statement   string           `yaml:"statement"`
	Params      map[string]any   `yaml:"params"`
	Rows        []map[string]any `yaml:"rows"`
	Patch       map[string]any   `yaml:"patch"`
	ConflictKey string           `yaml:"conflict_key"`

	Cache      *cacheSpec `yaml:"cache"`
	Invalidate []string   `yaml:"invalidate"`
}

type cacheSpec struct {
	TTL  time.Duration `yaml:"ttl"`
	Tags []string      `yaml:"tags"`
}

func readBatchFile(path string) (batchFile, error) {
	var bf batchFile
	b, err := os.ReadFile(path)
	if err != nil {
		return bf, err
	}
	if err := yaml.Unmarshal(b, &bf); err != nil {
		return bf, fmt.Errorf("batch %s: %w", path, err)
	}
	if len(bf.Steps) == 0 {
		return bf, fmt.Errorf("batch %s: no steps", path)
	}
	return bf, nil
}

// steps converts the file into coordinator steps. defaultTTL applies to a
// cache directive without a ttl.
func (bf batchFile) steps(defaultTTL time.Duration) ([]query.Step, error) {
	steps := make([]query.Step, 0, len(bf.Steps))
	for i, s := range bf.Steps {
		step, err := s.step(defaultTTL)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (s stepSpec) step(defaultTTL time.Duration) (query.Step, error) {
	var opts []query.CallOption
	if s.Cache != nil {
		ttl := s.Cache.TTL
		if ttl == 0 {
			ttl = defaultTTL
		}
		opts = append(opts, query.WithCache(ttl, s.Cache.Tags...))
	}
	if len(s.Invalidate) > 0 {
		opts = append(opts, query.Invalidate(s.Invalidate...))
	}

	if s.Op != cache.OpRaw && s.Collection == "" {
		return query.Step{}, fmt.Errorf("%s needs a collection", s.Op)
	}

	switch s.Op {
	case cache.OpFetch:
		return query.FetchStep(s.Collection, s.FetchArgs, opts...), nil
	case cache.OpRaw:
		if s.Statement == "" {
			return query.Step{}, fmt.Errorf("raw needs a statement")
		}
		return query.RawStep(s.Statement, s.Params, opts...), nil
	case cache.OpCreate:
		return query.CreateStep(s.Collection, toRows(s.Rows), opts...), nil
	case cache.OpUpdate:
		return query.UpdateStep(s.Collection, gateway.Row(s.Patch), s.Filters, opts...), nil
	case cache.OpDelete:
		return query.DeleteStep(s.Collection, s.Filters, opts...), nil
	case cache.OpUpsert:
		return query.UpsertStep(s.Collection, toRows(s.Rows), s.ConflictKey, opts...), nil
	default:
		return query.Step{}, fmt.Errorf("unknown op %q", s.Op)
	}
}

func toRows(in []map[string]any) gateway.Rows {
	rows := make(gateway.Rows, len(in))
	for i, r := range in {
		rows[i] = gateway.Row(r)
	}
	return rows
}

type batchOutput struct {
	OK         bool           `json:"ok"`
	FailedStep int            `json:"failed_step"`
	Error      string         `json:"error,omitempty"`
	Results    []resultOutput `json:"results,omitempty"`
}

func writeBatch(w io.Writer, res query.BatchResult) error {
	out := batchOutput{OK: res.OK(), FailedStep: res.FailedStep}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	for _, r := range res.Results {
		out.Results = append(out.Results, outputOf(r))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "batch <file.yaml>",
		Short: "Run a YAML list of steps in order, stopping at the first failure",
		Long: `batch runs each step through the cache in file order. A failed step stops
the batch; earlier writes are not rolled back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := root.load(ctx)
			if err != nil {
				return err
			}
			bf, err := readBatchFile(args[0])
			if err != nil {
				return err
			}
			steps, err := bf.steps(cfg.Cache.DefaultTTL)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, exporters.Options{Writer: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			ctx, err = a.scope(ctx, token)
			if err != nil {
				return err
			}

			res := a.coord.Batch(ctx, steps...)
			if err := writeBatch(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("step %d (%s): %w", res.FailedStep, steps[res.FailedStep], res.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "access token naming the tenant")
	return cmd
}
