package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/querycache/gateway"
	"github.com/jonwraymond/querycache/observe/exporters"
	"github.com/jonwraymond/querycache/query"
)

type fetchOptions struct {
	columns []string
	filters []string
	order   []string
	limit   int
	offset  int
	ttl     time.Duration
	tags    []string
	noCache bool
	repeat  int
	token   string
}

func newFetchCmd(root *rootOptions) *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch <collection>",
		Short: "Fetch rows through the cache",
		Example: `  querycache fetch invoices --filter status=eq:open --order due:desc --limit 10
  querycache fetch invoices --filter id=in:inv:1,inv:2 --repeat 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := root.load(ctx)
			if err != nil {
				return err
			}
			fa, err := opts.fetchArgs()
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, exporters.Options{Writer: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			ctx, err = a.scope(ctx, opts.token)
			if err != nil {
				return err
			}

			var call []query.CallOption
			if !opts.noCache {
				ttl := opts.ttl
				if ttl == 0 {
					ttl = cfg.Cache.DefaultTTL
				}
				tags := opts.tags
				if len(tags) == 0 {
					tags = []string{args[0]}
				}
				call = append(call, query.WithCache(ttl, tags...))
			}

			for i := 0; i < max(opts.repeat, 1); i++ {
				res := a.coord.Fetch(ctx, args[0], fa, call...)
				if err := writeResult(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.Err != nil {
					return res.Err
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.columns, "columns", nil, "columns to select (default all)")
	f.StringArrayVarP(&opts.filters, "filter", "f", nil, "filter as column=op:value, repeatable")
	f.StringArrayVar(&opts.order, "order", nil, "order as column[:desc], repeatable")
	f.IntVar(&opts.limit, "limit", 0, "maximum rows (0 for all)")
	f.IntVar(&opts.offset, "offset", 0, "rows to skip")
	f.DurationVar(&opts.ttl, "ttl", 0, "cache ttl (default cache.default_ttl)")
	f.StringSliceVar(&opts.tags, "tag", nil, "cache tags (default the collection name)")
	f.BoolVar(&opts.noCache, "no-cache", false, "do not store the result")
	f.IntVar(&opts.repeat, "repeat", 1, "run the fetch n times to observe cache hits")
	f.StringVar(&opts.token, "token", "", "access token naming the tenant")
	return cmd
}

func (o *fetchOptions) fetchArgs() (gateway.FetchArgs, error) {
	fa := gateway.FetchArgs{Columns: o.columns, Limit: o.limit, Offset: o.offset}
	for _, s := range o.filters {
		f, err := parseFilter(s)
		if err != nil {
			return gateway.FetchArgs{}, err
		}
		fa.Filters = append(fa.Filters, f)
	}
	for _, s := range o.order {
		col, dir, _ := strings.Cut(s, ":")
		switch dir {
		case "", "asc":
			fa.Order = append(fa.Order, gateway.Order{Column: col})
		case "desc":
			fa.Order = append(fa.Order, gateway.Order{Column: col, Descending: true})
		default:
			return gateway.FetchArgs{}, fmt.Errorf("order %q: direction must be asc or desc", s)
		}
	}
	return fa, fa.Validate()
}

// parseFilter parses column=op:value. Values of the in operator are comma
// separated and like patterns are taken verbatim.
func parseFilter(s string) (gateway.Filter, error) {
	col, rest, ok := strings.Cut(s, "=")
	if !ok {
		return gateway.Filter{}, fmt.Errorf("%w: %q is not column=op:value", gateway.ErrInvalidFilter, s)
	}
	op, raw, ok := strings.Cut(rest, ":")
	if !ok {
		return gateway.Filter{}, fmt.Errorf("%w: %q is not column=op:value", gateway.ErrInvalidFilter, s)
	}

	f := gateway.Filter{Column: col, Op: gateway.FilterOp(op)}
	switch f.Op {
	case gateway.OpIn:
		values := []any{}
		if raw != "" {
			for _, v := range strings.Split(raw, ",") {
				values = append(values, parseValue(v))
			}
		}
		f.Value = values
	case gateway.OpLike, gateway.OpILike:
		f.Value = raw
	default:
		f.Value = parseValue(raw)
	}
	return f, f.Validate()
}

// parseValue reads JSON scalars (numbers, booleans, null) and falls back to
// the raw string.
func parseValue(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	switch v.(type) {
	case json.Number, bool, nil:
		return v
	}
	return s
}

type resultOutput struct {
	Rows      gateway.Rows `json:"rows"`
	FromCache bool         `json:"from_cache"`
	CachedAt  *time.Time   `json:"cached_at,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func outputOf(res query.Result[gateway.Rows]) resultOutput {
	out := resultOutput{Rows: res.Data, FromCache: res.FromCache}
	if !res.CachedAt.IsZero() {
		out.CachedAt = &res.CachedAt
		out.ExpiresAt = &res.ExpiresAt
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func writeResult(w io.Writer, res query.Result[gateway.Rows]) error {
	return json.NewEncoder(w).Encode(outputOf(res))
}
