// Package sqlgw implements gateway.Gateway over database/sql through sqlx.
//
// Identifiers are validated and double-quoted; every value travels as a bind
// parameter. Writes use RETURNING, so the backend must support it (SQLite
// 3.35+ or PostgreSQL). Raw statements are registered by name and executed
// as sqlx named queries.
package sqlgw

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jonwraymond/querycache/gateway"
	"github.com/jonwraymond/querycache/observe"
)

// DefaultDriver is the database/sql driver used by Open when none is given.
const DefaultDriver = "sqlite3"

// Gateway is a SQL-backed gateway.
type Gateway struct {
	db         *sqlx.DB
	statements map[string]string
	logger     observe.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithStatement registers a named raw statement. Parameters use sqlx named
// syntax, e.g. "select * from invoices where customer = :customer".
func WithStatement(name, query string) Option {
	return func(g *Gateway) {
		g.statements[name] = query
	}
}

// WithLogger sets the logger for query diagnostics.
func WithLogger(l observe.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New wraps an open database handle.
func New(db *sqlx.DB, opts ...Option) *Gateway {
	g := &Gateway{
		db:         db,
		statements: make(map[string]string),
		logger:     observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open connects with driver and dsn. An in-memory SQLite database is pinned
// to a single connection so every query sees the same data.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Gateway, error) {
	if driver == "" {
		driver = DefaultDriver
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlgw: connect %s: %w", driver, err)
	}
	if driver == "sqlite3" && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	return New(db, opts...), nil
}

// DB returns the underlying handle.
func (g *Gateway) DB() *sqlx.DB { return g.db }

// Close closes the database.
func (g *Gateway) Close() error { return g.db.Close() }

// Ping checks database reachability.
func (g *Gateway) Ping(ctx context.Context) error { return g.db.PingContext(ctx) }

// Fetch runs a SELECT built from args. Filters bind as parameters.
func (g *Gateway) Fetch(ctx context.Context, collection string, args gateway.FetchArgs) (gateway.Rows, error) {
	if err := gateway.ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if len(args.Columns) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(quoteAll(args.Columns))
	}
	b.WriteString(" FROM ")
	b.WriteString(quote(collection))

	where, binds := whereClause(args.Filters)
	b.WriteString(where)

	if len(args.Order) > 0 {
		parts := make([]string, len(args.Order))
		for i, o := range args.Order {
			parts[i] = quote(o.Column)
			if o.Descending {
				parts[i] += " DESC"
			}
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if args.Limit > 0 || args.Offset > 0 {
		limit := args.Limit
		if limit == 0 {
			limit = -1
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		binds = append(binds, limit, args.Offset)
	}

	return g.query(ctx, b.String(), binds...)
}

// Create inserts rows in one transaction and returns them as stored.
func (g *Gateway) Create(ctx context.Context, collection string, rows gateway.Rows) (gateway.Rows, error) {
	if err := gateway.ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gateway.ErrNoRows
	}
	return g.inTx(ctx, func(tx *sqlx.Tx) (gateway.Rows, error) {
		var out gateway.Rows
		for _, r := range rows {
			stmt, binds, err := insertStatement(collection, r, "")
			if err != nil {
				return nil, err
			}
			got, err := queryRows(ctx, tx, g.db.Rebind(stmt), binds...)
			if err != nil {
				return nil, err
			}
			out = append(out, got...)
		}
		return out, nil
	})
}

// Update applies patch to rows matching filters and returns the updated rows.
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
	if len(patch) == 0 {
		return nil, gateway.ErrNoRows
	}

	cols := sortedColumns(patch)
	sets := make([]string, len(cols))
	binds := make([]any, 0, len(cols)+len(filters))
	for i, c := range cols {
		if err := gateway.ValidateIdentifier(c); err != nil {
			return nil, err
		}
		sets[i] = quote(c) + " = ?"
		binds = append(binds, patch[c])
	}
	where, whereBinds := whereClause(filters)
	binds = append(binds, whereBinds...)

	stmt := "UPDATE " + quote(collection) + " SET " + strings.Join(sets, ", ") + where + " RETURNING *"
	return g.query(ctx, stmt, binds...)
}

// Delete removes rows matching filters. It refuses an empty filter list.
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

	where, binds := whereClause(filters)
	res, err := g.db.ExecContext(ctx, g.db.Rebind("DELETE FROM "+quote(collection)+where), binds...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		g.logger.Debug(ctx, "rows deleted", observe.F("collection", collection), observe.F("rows", n))
	}
	return nil
}

// Upsert inserts rows, updating existing ones on conflictKey, in one
// transaction.
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
	return g.inTx(ctx, func(tx *sqlx.Tx) (gateway.Rows, error) {
		var out gateway.Rows
		for _, r := range rows {
			stmt, binds, err := insertStatement(collection, r, conflictKey)
			if err != nil {
				return nil, err
			}
			got, err := queryRows(ctx, tx, g.db.Rebind(stmt), binds...)
			if err != nil {
				return nil, err
			}
			out = append(out, got...)
		}
		return out, nil
	})
}

// RawQuery runs the registered statement with params bound by name.
func (g *Gateway) RawQuery(ctx context.Context, statement string, params map[string]any) (gateway.Rows, error) {
	query, ok := g.statements[statement]
	if !ok {
		return nil, fmt.Errorf("%w: %q", gateway.ErrUnknownStatement, statement)
	}
	if params == nil {
		params = map[string]any{}
	}
	rows, err := g.db.NamedQueryContext(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func (g *Gateway) query(ctx context.Context, stmt string, binds ...any) (gateway.Rows, error) {
	g.logger.Debug(ctx, "sql query", observe.F("sql", stmt))
	return queryRows(ctx, g.db, g.db.Rebind(stmt), binds...)
}

func (g *Gateway) inTx(ctx context.Context, fn func(tx *sqlx.Tx) (gateway.Rows, error)) (gateway.Rows, error) {
	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	out, err := fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return nil, errors.Join(err, rbErr)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

type queryer interface {
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
}

func queryRows(ctx context.Context, q queryer, stmt string, binds ...any) (gateway.Rows, error) {
	rows, err := q.QueryxContext(ctx, stmt, binds...)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func scanRows(rows *sqlx.Rows) (gateway.Rows, error) {
	defer rows.Close()

	out := gateway.Rows{}
	for rows.Next() {
		r := map[string]any{}
		if err := rows.MapScan(r); err != nil {
			return nil, err
		}
		for k, v := range r {
			if b, ok := v.([]byte); ok {
				r[k] = string(b)
			}
		}
		out = append(out, gateway.Row(r))
	}
	return out, rows.Err()
}

// insertStatement builds an INSERT ... RETURNING for r, with an ON CONFLICT
// update clause when conflictKey is set.
func insertStatement(collection string, r gateway.Row, conflictKey string) (string, []any, error) {
	if len(r) == 0 {
		return "", nil, gateway.ErrNoRows
	}
	cols := sortedColumns(r)
	binds := make([]any, len(cols))
	for i, c := range cols {
		if err := gateway.ValidateIdentifier(c); err != nil {
			return "", nil, err
		}
		binds[i] = r[c]
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quote(collection))
	b.WriteString(" (")
	b.WriteString(quoteAll(cols))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	b.WriteString(")")

	if conflictKey != "" {
		var updates []string
		for _, c := range cols {
			if c != conflictKey {
				updates = append(updates, quote(c)+" = excluded."+quote(c))
			}
		}
		b.WriteString(" ON CONFLICT (")
		b.WriteString(quote(conflictKey))
		if len(updates) == 0 {
			b.WriteString(") DO NOTHING")
		} else {
			b.WriteString(") DO UPDATE SET ")
			b.WriteString(strings.Join(updates, ", "))
		}
	}
	b.WriteString(" RETURNING *")
	return b.String(), binds, nil
}

func whereClause(filters []gateway.Filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filters))
	var binds []any
	for _, f := range filters {
		col := quote(f.Column)
		switch f.Op {
		case gateway.OpEq:
			if f.Value == nil {
				parts = append(parts, col+" IS NULL")
				continue
			}
			parts = append(parts, col+" = ?")
		case gateway.OpNeq:
			if f.Value == nil {
				parts = append(parts, col+" IS NOT NULL")
				continue
			}
			parts = append(parts, col+" <> ?")
		case gateway.OpGt:
			parts = append(parts, col+" > ?")
		case gateway.OpGte:
			parts = append(parts, col+" >= ?")
		case gateway.OpLt:
			parts = append(parts, col+" < ?")
		case gateway.OpLte:
			parts = append(parts, col+" <= ?")
		case gateway.OpLike:
			parts = append(parts, col+" LIKE ?")
		case gateway.OpILike:
			parts = append(parts, "LOWER("+col+") LIKE LOWER(?)")
		case gateway.OpIn:
			values, _ := gateway.InValues(f.Value)
			if len(values) == 0 {
				parts = append(parts, "1 = 0")
				continue
			}
			parts = append(parts, col+" IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")+")")
			binds = append(binds, values...)
			continue
		}
		binds = append(binds, f.Value)
	}
	return " WHERE " + strings.Join(parts, " AND "), binds
}

func sortedColumns(r gateway.Row) []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func quote(ident string) string { return `"` + ident + `"` }

func quoteAll(idents []string) string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = quote(id)
	}
	return strings.Join(out, ", ")
}

var (
	_ gateway.Gateway = (*Gateway)(nil)
	_ gateway.Pinger  = (*Gateway)(nil)
)
