package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/gateway"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/tenant"
)

// Coordinator mediates between callers, a cache store and a gateway.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Reads: a hit never calls the gateway; failures are never cached.
//   - Writes: invalidation completes before the write returns.
//   - Errors: gateway errors are returned in Result.Err unchanged.
type Coordinator struct {
	gw       gateway.Gateway
	store    *cache.Store
	keys     cache.KeyEncoder
	mw       *observe.Middleware
	coalesce bool
	flights  singleflight.Group
}

// New creates a Coordinator. A nil store disables caching.
func New(gw gateway.Gateway, store *cache.Store, opts ...Option) *Coordinator {
	if store == nil {
		store = cache.NewStore(cache.WithPolicy(cache.NoCachePolicy()))
	}
	c := &Coordinator{
		gw:    gw,
		store: store,
		keys:  cache.NewKeyEncoder(),
		mw:    observe.NopMiddleware(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the coordinator's cache store.
func (c *Coordinator) Store() *cache.Store { return c.store }

// Fetch reads rows from collection through the cache.
func (c *Coordinator) Fetch(ctx context.Context, collection string, args gateway.FetchArgs, opts ...CallOption) Result[gateway.Rows] {
	params := cache.Params{
		cache.P("columns", sortedCopy(args.Columns)),
		cache.P("filters", canonicalFilters(args.Filters)),
		cache.P("order", args.Order),
		cache.P("limit", args.Limit),
		cache.P("offset", args.Offset),
	}
	return c.read(ctx, cache.OpFetch, collection, params, newCallOptions(opts), func(ctx context.Context) (gateway.Rows, error) {
		return c.gw.Fetch(ctx, collection, args)
	})
}

// Raw runs a named raw statement through the cache.
func (c *Coordinator) Raw(ctx context.Context, statement string, params map[string]any, opts ...CallOption) Result[gateway.Rows] {
	keyParams := cache.Params{cache.P("params", map[string]any(params))}
	return c.read(ctx, cache.OpRaw, statement, keyParams, newCallOptions(opts), func(ctx context.Context) (gateway.Rows, error) {
		return c.gw.RawQuery(ctx, statement, params)
	})
}

// Create inserts rows.
func (c *Coordinator) Create(ctx context.Context, collection string, rows gateway.Rows, opts ...CallOption) Result[gateway.Rows] {
	return c.write(ctx, cache.OpCreate, collection, newCallOptions(opts), func(ctx context.Context) (gateway.Rows, error) {
		return c.gw.Create(ctx, collection, rows)
	})
}

// Update applies patch to rows matching filters.
func (c *Coordinator) Update(ctx context.Context, collection string, patch gateway.Row, filters []gateway.Filter, opts ...CallOption) Result[gateway.Rows] {
	return c.write(ctx, cache.OpUpdate, collection, newCallOptions(opts), func(ctx context.Context) (gateway.Rows, error) {
		return c.gw.Update(ctx, collection, patch, filters)
	})
}

// Delete removes rows matching filters. A successful result carries no data.
func (c *Coordinator) Delete(ctx context.Context, collection string, filters []gateway.Filter, opts ...CallOption) Result[gateway.Rows] {
	return c.write(ctx, cache.OpDelete, collection, newCallOptions(opts), func(ctx context.Context) (gateway.Rows, error) {
		return nil, c.gw.Delete(ctx, collection, filters)
	})
}

// Upsert inserts rows or merges them on conflictKey.
func (c *Coordinator) Upsert(ctx context.Context, collection string, rows gateway.Rows, conflictKey string, opts ...CallOption) Result[gateway.Rows] {
	return c.write(ctx, cache.OpUpsert, collection, newCallOptions(opts), func(ctx context.Context) (gateway.Rows, error) {
		return c.gw.Upsert(ctx, collection, rows, conflictKey)
	})
}

type loader func(ctx context.Context) (gateway.Rows, error)

func (c *Coordinator) read(ctx context.Context, op cache.Op, collection string, params cache.Params, call callOptions, load loader) Result[gateway.Rows] {
	tid := tenant.FromContext(ctx)
	if tid != "" {
		params = params.With("tenant", tid)
	}
	meta := observe.OpMeta{Collection: collection, Op: string(op), Tenant: tid, Tags: call.tags}
	key := c.keys.Encode(collection, op, params)

	var res Result[gateway.Rows]
	_ = c.mw.Observe(ctx, meta, func(ctx context.Context) error {
		res = c.readThrough(ctx, meta, key, call, load)
		return res.Err
	})
	return res
}

func (c *Coordinator) readThrough(ctx context.Context, meta observe.OpMeta, key string, call callOptions, load loader) Result[gateway.Rows] {
	metrics := c.mw.Metrics()
	logger := c.mw.Logger().WithOp(meta)

	if entry, ok := c.store.Get(key); ok {
		rows, err := decodeRows(entry.Value)
		if err == nil {
			metrics.RecordLookup(ctx, meta, true)
			logger.Debug(ctx, "cache hit", observe.F("cache.key", key))
			return Result[gateway.Rows]{
				Data:      rows,
				FromCache: true,
				CachedAt:  entry.CachedAt,
				ExpiresAt: entry.ExpiresAt,
			}
		}
		logger.Warn(ctx, "dropping undecodable cache entry", observe.F("cache.key", key), observe.F("error", err.Error()))
		c.store.Delete(key)
	}
	if c.store.Enabled() {
		metrics.RecordLookup(ctx, meta, false)
	}

	rows, err := c.load(ctx, key, load)
	if err != nil {
		return failure(err)
	}

	encoded, err := encodeRows(rows)
	if err != nil {
		logger.Warn(ctx, "rows not cacheable", observe.F("cache.key", key), observe.F("error", err.Error()))
		return Result[gateway.Rows]{Data: rows}
	}
	if call.cache {
		if err := c.store.Set(key, encoded, call.ttl, call.tags...); err != nil {
			logger.Warn(ctx, "cache set failed", observe.F("cache.key", key), observe.F("error", err.Error()))
		}
	}
	if normalized, err := decodeRows(encoded); err == nil {
		rows = normalized
	}
	return Result[gateway.Rows]{Data: rows}
}

// load calls the gateway. With coalescing enabled, concurrent loads for one
// key share a single call. The shared call is detached from any one caller's
// cancellation; each caller stops waiting when its own ctx is done.
func (c *Coordinator) load(ctx context.Context, key string, load loader) (gateway.Rows, error) {
	if !c.coalesce {
		return load(ctx)
	}
	flight := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) { return load(flight) })
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		rows, _ := r.Val.(gateway.Rows)
		return rows, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) write(ctx context.Context, op cache.Op, collection string, call callOptions, do loader) Result[gateway.Rows] {
	meta := observe.OpMeta{
		Collection: collection,
		Op:         string(op),
		Tenant:     tenant.FromContext(ctx),
		Tags:       call.invalidate,
	}

	var res Result[gateway.Rows]
	_ = c.mw.Observe(ctx, meta, func(ctx context.Context) error {
		rows, err := do(ctx)
		if err != nil {
			res = failure(err)
			return err
		}
		logger := c.mw.Logger().WithOp(meta)
		if len(call.invalidate) > 0 {
			removed := c.store.InvalidateByTags(call.invalidate...)
			c.mw.Metrics().RecordInvalidation(ctx, meta, removed)
			logger.Debug(ctx, "cache invalidated",
				observe.F("cache.tags", call.invalidate),
				observe.F("cache.removed", removed),
			)
		}
		if rows != nil {
			if normalized, err := normalize(rows); err == nil {
				rows = normalized
			} else {
				logger.Warn(ctx, "returning rows unnormalized", observe.F("error", err.Error()))
			}
		}
		res = Result[gateway.Rows]{Data: rows}
		return nil
	})
	return res
}

func encodeRows(rows gateway.Rows) ([]byte, error) {
	if rows == nil {
		rows = gateway.Rows{}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("query: encode rows: %w", err)
	}
	return b, nil
}

func decodeRows(b []byte) (gateway.Rows, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var rows gateway.Rows
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("query: decode rows: %w", err)
	}
	return rows, nil
}

// normalize passes rows through the cache encoding so written and read rows
// have the same shape.
func normalize(rows gateway.Rows) (gateway.Rows, error) {
	b, err := encodeRows(rows)
	if err != nil {
		return nil, err
	}
	return decodeRows(b)
}

// canonicalFilters orders filters so that equivalent conjunctions share a key.
func canonicalFilters(filters []gateway.Filter) []any {
	type keyed struct {
		sortKey string
		value   map[string]any
	}
	items := make([]keyed, len(filters))
	for i, f := range filters {
		v, err := json.Marshal(f.Value)
		if err != nil {
			panic(fmt.Sprintf("query: cannot encode value of filter %s %s: %v", f.Column, f.Op, err))
		}
		items[i] = keyed{
			sortKey: f.Column + "\x00" + string(f.Op) + "\x00" + string(v),
			value:   map[string]any{"column": f.Column, "op": string(f.Op), "value": f.Value},
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].sortKey < items[j].sortKey })

	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.value
	}
	return out
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
