package sqlgw

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/querycache/gateway"
)

const schema = `
CREATE TABLE invoices (
	id       TEXT PRIMARY KEY,
	customer TEXT NOT NULL,
	total    INTEGER NOT NULL,
	status   TEXT
);
INSERT INTO invoices (id, customer, total, status) VALUES
	('inv-1', 'acme',    100, 'open'),
	('inv-2', 'acme',    250, 'paid'),
	('inv-3', 'globex',   75, 'open'),
	('inv-4', 'initech', 300, NULL);
`

func newTestGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()
	g, err := Open(context.Background(), "", ":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	_, err = g.DB().Exec(schema)
	require.NoError(t, err)
	return g
}

func ids(rows gateway.Rows) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["id"].(string)
	}
	return out
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name string
		args gateway.FetchArgs
		want []string
	}{
		{"ordered", gateway.FetchArgs{Order: []gateway.Order{{Column: "total"}}}, []string{"inv-3", "inv-1", "inv-2", "inv-4"}},
		{"eq", gateway.FetchArgs{Filters: []gateway.Filter{gateway.Eq("customer", "acme")}, Order: []gateway.Order{{Column: "id"}}}, []string{"inv-1", "inv-2"}},
		{"eq null", gateway.FetchArgs{Filters: []gateway.Filter{gateway.Eq("status", nil)}}, []string{"inv-4"}},
		{"gt and lte", gateway.FetchArgs{Filters: []gateway.Filter{gateway.Gt("total", 75), gateway.Lte("total", 250)}, Order: []gateway.Order{{Column: "id"}}}, []string{"inv-1", "inv-2"}},
		{"in", gateway.FetchArgs{Filters: []gateway.Filter{gateway.In("id", "inv-2", "inv-3")}, Order: []gateway.Order{{Column: "id", Descending: true}}}, []string{"inv-3", "inv-2"}},
		{"empty in", gateway.FetchArgs{Filters: []gateway.Filter{gateway.In("id")}}, []string{}},
		{"ilike", gateway.FetchArgs{Filters: []gateway.Filter{gateway.ILike("customer", "GLO%")}}, []string{"inv-3"}},
		{"limit offset", gateway.FetchArgs{Order: []gateway.Order{{Column: "total", Descending: true}}, Limit: 2, Offset: 1}, []string{"inv-2", "inv-1"}},
		{"offset only", gateway.FetchArgs{Order: []gateway.Order{{Column: "id"}}, Offset: 3}, []string{"inv-4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t)
			rows, err := g.Fetch(context.Background(), "invoices", tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(rows))
		})
	}
}

func TestFetch_Columns(t *testing.T) {
	g := newTestGateway(t)
	rows, err := g.Fetch(context.Background(), "invoices", gateway.FetchArgs{
		Columns: []string{"id", "total"},
		Filters: []gateway.Filter{gateway.Eq("id", "inv-1")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, gateway.Row{"id": "inv-1", "total": int64(100)}, rows[0])
}

func TestFetch_RejectsInjection(t *testing.T) {
	g := newTestGateway(t)

	_, err := g.Fetch(context.Background(), `invoices"; DROP TABLE invoices; --`, gateway.FetchArgs{})
	assert.ErrorIs(t, err, gateway.ErrInvalidIdentifier)

	_, err = g.Fetch(context.Background(), "invoices", gateway.FetchArgs{
		Filters: []gateway.Filter{gateway.Eq("customer", "x' OR '1'='1")},
	})
	require.NoError(t, err)
}

func TestCreate(t *testing.T) {
	g := newTestGateway(t)
	rows, err := g.Create(context.Background(), "invoices", gateway.Rows{
		{"id": "inv-5", "customer": "hooli", "total": 40},
		{"id": "inv-6", "customer": "hooli", "total": 60, "status": "open"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-5", "inv-6"}, ids(rows))
	assert.Nil(t, rows[0]["status"])

	_, err = g.Create(context.Background(), "invoices", nil)
	assert.ErrorIs(t, err, gateway.ErrNoRows)
}

func TestCreate_RollsBackOnError(t *testing.T) {
	g := newTestGateway(t)
	_, err := g.Create(context.Background(), "invoices", gateway.Rows{
		{"id": "inv-7", "customer": "hooli", "total": 1},
		{"id": "inv-1", "customer": "dup", "total": 1},
	})
	require.Error(t, err)

	rows, err := g.Fetch(context.Background(), "invoices", gateway.FetchArgs{Filters: []gateway.Filter{gateway.Eq("id", "inv-7")}})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpdate(t *testing.T) {
	g := newTestGateway(t)
	rows, err := g.Update(context.Background(), "invoices",
		gateway.Row{"status": "void"},
		[]gateway.Filter{gateway.Eq("customer", "acme")},
	)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "void", r["status"])
	}

	_, err = g.Update(context.Background(), "invoices", gateway.Row{"status": "x"}, nil)
	assert.ErrorIs(t, err, gateway.ErrUnfilteredMutation)
}

func TestDelete(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.Delete(context.Background(), "invoices", []gateway.Filter{gateway.Eq("customer", "acme")}))

	rows, err := g.Fetch(context.Background(), "invoices", gateway.FetchArgs{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	assert.ErrorIs(t, g.Delete(context.Background(), "invoices", nil), gateway.ErrUnfilteredMutation)
}

func TestUpsert(t *testing.T) {
	g := newTestGateway(t)
	rows, err := g.Upsert(context.Background(), "invoices", gateway.Rows{
		{"id": "inv-1", "customer": "acme", "total": 111},
		{"id": "inv-9", "customer": "hooli", "total": 9},
	}, "id")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(111), rows[0]["total"])
	assert.Equal(t, "open", rows[0]["status"])

	all, err := g.Fetch(context.Background(), "invoices", gateway.FetchArgs{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	_, err = g.Upsert(context.Background(), "invoices", gateway.Rows{{"id": "x"}}, "")
	assert.ErrorIs(t, err, gateway.ErrMissingConflictKey)
}

func TestRawQuery(t *testing.T) {
	g := newTestGateway(t, WithStatement("customer_total",
		`SELECT customer, SUM(total) AS total FROM invoices WHERE customer = :customer GROUP BY customer`))

	rows, err := g.RawQuery(context.Background(), "customer_total", map[string]any{"customer": "acme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(350), rows[0]["total"])

	_, err = g.RawQuery(context.Background(), "unknown", nil)
	assert.ErrorIs(t, err, gateway.ErrUnknownStatement)
}

func TestPing(t *testing.T) {
	g := newTestGateway(t)
	assert.NoError(t, g.Ping(context.Background()))
}

func TestWhereClause(t *testing.T) {
	where, binds := whereClause([]gateway.Filter{
		gateway.Eq("a", 1),
		gateway.Neq("b", nil),
		gateway.In("c", "x", "y"),
		gateway.Like("d", "p%"),
	})
	assert.Equal(t, ` WHERE "a" = ? AND "b" IS NOT NULL AND "c" IN (?, ?) AND "d" LIKE ?`, where)
	assert.Equal(t, []any{1, "x", "y", "p%"}, binds)
}

func TestInsertStatement(t *testing.T) {
	stmt, binds, err := insertStatement("invoices", gateway.Row{"total": 5, "id": "a"}, "id")
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "invoices" ("id", "total") VALUES (?, ?) ON CONFLICT ("id") DO UPDATE SET "total" = excluded."total" RETURNING *`, stmt)
	assert.Equal(t, []any{"a", 5}, binds)
}
