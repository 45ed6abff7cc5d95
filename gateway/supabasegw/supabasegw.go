// Package supabasegw implements gateway.Gateway over PostgREST, using the
// Supabase client.
//
// Raw statements map to PostgreSQL functions called through RPC. PostgREST
// addresses filters by column, so at most one filter per column is allowed.
package supabasegw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/jonwraymond/querycache/gateway"
	"github.com/jonwraymond/querycache/observe"
)

// ErrDuplicateColumnFilter is returned when two filters target one column.
var ErrDuplicateColumnFilter = errors.New("supabasegw: one filter per column")

// Client is the subset of the Supabase and PostgREST clients the gateway
// needs. Both *supabase.Client and *postgrest.Client satisfy it.
type Client interface {
	From(table string) *postgrest.QueryBuilder
	Rpc(name, count string, rpcBody interface{}) string
}

// Gateway talks to a Supabase project.
type Gateway struct {
	client    Client
	pingTable string
	logger    observe.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithPingTable sets the table probed by Ping.
func WithPingTable(table string) Option {
	return func(g *Gateway) {
		g.pingTable = table
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l observe.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New wraps an existing client.
func New(client Client, opts ...Option) *Gateway {
	g := &Gateway{client: client, logger: observe.NopLogger()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect creates a Supabase client for the project at url.
func Connect(url, key string, opts ...Option) (*Gateway, error) {
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("supabasegw: create client: %w", err)
	}
	return New(client, opts...), nil
}

func (g *Gateway) Fetch(ctx context.Context, collection string, args gateway.FetchArgs) (gateway.Rows, error) {
	if err := gateway.ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	columns := "*"
	if len(args.Columns) > 0 {
		columns = strings.Join(args.Columns, ",")
	}
	q := g.client.From(collection).Select(columns, "", false)
	q, err := applyFilters(q, args.Filters)
	if err != nil {
		return nil, err
	}
	for _, o := range args.Order {
		q = q.Order(o.Column, &postgrest.OrderOpts{Ascending: !o.Descending})
	}
	switch {
	case args.Offset > 0:
		limit := args.Limit
		if limit == 0 {
			limit = math.MaxInt32 - args.Offset
		}
		q = q.Range(args.Offset, args.Offset+limit-1, "")
	case args.Limit > 0:
		q = q.Limit(args.Limit, "")
	}
	return g.execute(ctx, collection, q)
}

func (g *Gateway) Create(ctx context.Context, collection string, rows gateway.Rows) (gateway.Rows, error) {
	if err := gateway.ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gateway.ErrNoRows
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := g.client.From(collection).Insert(rows, false, "", "representation", "")
	return g.execute(ctx, collection, q)
}

func (g *Gateway) Update(ctx context.Context, collection string, patch gateway.Row, filters []gateway.Filter) (gateway.Rows, error) {
	if err := gateway.ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, gateway.ErrUnfilteredMutation
	}
	if err := gateway.ValidateFilters(filters); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := applyFilters(g.client.From(collection).Update(patch, "representation", ""), filters)
	if err != nil {
		return nil, err
	}
	return g.execute(ctx, collection, q)
}

func (g *Gateway) Delete(ctx context.Context, collection string, filters []gateway.Filter) error {
	if err := gateway.ValidateIdentifier(collection); err != nil {
		return err
	}
	if len(filters) == 0 {
		return gateway.ErrUnfilteredMutation
	}
	if err := gateway.ValidateFilters(filters); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q, err := applyFilters(g.client.From(collection).Delete("minimal", ""), filters)
	if err != nil {
		return err
	}
	_, err = g.execute(ctx, collection, q)
	return err
}

func (g *Gateway) Upsert(ctx context.Context, collection string, rows gateway.Rows, conflictKey string) (gateway.Rows, error) {
	if err := gateway.ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gateway.ErrNoRows
	}
	if conflictKey == "" {
		return nil, gateway.ErrMissingConflictKey
	}
	if err := gateway.ValidateIdentifier(conflictKey); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := g.client.From(collection).Upsert(rows, conflictKey, "representation", "")
	return g.execute(ctx, collection, q)
}

// RawQuery calls the PostgreSQL function named statement with params as its
// JSON arguments.
func (g *Gateway) RawQuery(ctx context.Context, statement string, params map[string]any) (gateway.Rows, error) {
	if err := gateway.ValidateIdentifier(statement); err != nil {
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnknownStatement, statement)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	body := g.client.Rpc(statement, "", params)
	if body == "" {
		return nil, fmt.Errorf("supabasegw: rpc %s returned no response", statement)
	}
	return decodeRows([]byte(body))
}

// Ping selects zero rows from the ping table. Without a ping table it only
// checks ctx.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.pingTable == "" {
		return nil
	}
	_, _, err := g.client.From(g.pingTable).Select("*", "", true).Limit(1, "").Execute()
	return err
}

func (g *Gateway) execute(ctx context.Context, collection string, q *postgrest.FilterBuilder) (gateway.Rows, error) {
	body, _, err := q.Execute()
	if err != nil {
		g.logger.Debug(ctx, "postgrest request failed", observe.F("collection", collection), observe.F("error", err.Error()))
		return nil, err
	}
	return decodeRows(body)
}

// apiError is the PostgREST error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func decodeRows(body []byte) (gateway.Rows, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return gateway.Rows{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	switch body[0] {
	case '[':
		var rows []map[string]any
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("supabasegw: decode rows: %w", err)
		}
		out := make(gateway.Rows, len(rows))
		for i, r := range rows {
			out[i] = gateway.Row(r)
		}
		return out, nil
	case '{':
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("supabasegw: decode response: %w", err)
		}
		if _, hasCode := obj["code"]; hasCode {
			if msg, ok := obj["message"].(string); ok {
				var apiErr apiError
				_ = json.Unmarshal(body, &apiErr)
				return nil, fmt.Errorf("supabasegw: (%s) %s", apiErr.Code, msg)
			}
		}
		return gateway.Rows{gateway.Row(obj)}, nil
	default:
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("supabasegw: decode response: %w", err)
		}
		return gateway.Rows{{"value": v}}, nil
	}
}

func applyFilters(q *postgrest.FilterBuilder, filters []gateway.Filter) (*postgrest.FilterBuilder, error) {
	seen := make(map[string]bool, len(filters))
	for _, f := range filters {
		if seen[f.Column] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateColumnFilter, f.Column)
		}
		seen[f.Column] = true

		switch {
		case f.Op == gateway.OpIn:
			values, _ := gateway.InValues(f.Value)
			parts := make([]string, len(values))
			for i, v := range values {
				parts[i] = quoteListValue(formatValue(v))
			}
			q = q.Filter(f.Column, "in", "("+strings.Join(parts, ",")+")")
		case f.Value == nil && f.Op == gateway.OpEq:
			q = q.Filter(f.Column, "is", "null")
		case f.Value == nil && f.Op == gateway.OpNeq:
			q = q.Not(f.Column, "is", "null")
		default:
			q = q.Filter(f.Column, string(f.Op), formatValue(f.Value))
		}
	}
	return q, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return val.String()
	}
	return fmt.Sprint(v)
}

// quoteListValue quotes values containing PostgREST list delimiters.
func quoteListValue(s string) string {
	if strings.ContainsAny(s, `,()"`) {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}

var (
	_ gateway.Gateway = (*Gateway)(nil)
	_ gateway.Pinger  = (*Gateway)(nil)
	_ Client          = (*supabase.Client)(nil)
	_ Client          = (*postgrest.Client)(nil)
)
