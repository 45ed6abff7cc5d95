package supabasegw

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supabase-community/postgrest-go"

	"github.com/jonwraymond/querycache/gateway"
)

type recorded struct {
	method string
	path   string
	query  map[string]string
	prefer string
	body   string
}

type fakePostgREST struct {
	t        *testing.T
	mu       sync.Mutex
	requests []recorded
	status   int
	response string
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	q := map[string]string{}
	for k, v := range r.URL.Query() {
		q[k] = v[0]
	}

	f.mu.Lock()
	f.requests = append(f.requests, recorded{
		method: r.Method,
		path:   r.URL.Path,
		query:  q,
		prefer: r.Header.Get("Prefer"),
		body:   string(body),
	})
	status, response := f.status, f.response
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, response)
}

func (f *fakePostgREST) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestGateway(t *testing.T, response string) (*Gateway, *fakePostgREST) {
	t.Helper()
	fake := &fakePostgREST{t: t, response: response}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(postgrest.NewClient(srv.URL, "public", nil)), fake
}

func TestFetch(t *testing.T) {
	g, fake := newTestGateway(t, `[{"id":"inv-1","total":120.50},{"id":"inv-2","total":80}]`)

	rows, err := g.Fetch(context.Background(), "invoices", gateway.FetchArgs{
		Columns: []string{"id", "total"},
		Filters: []gateway.Filter{gateway.Eq("status", "open"), gateway.Gte("total", 50)},
		Order:   []gateway.Order{{Column: "total", Descending: true}},
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, json.Number("120.50"), rows[0]["total"])

	req := fake.last()
	assert.Equal(t, http.MethodGet, req.method)
	assert.True(t, strings.HasSuffix(req.path, "/invoices"), req.path)
	assert.Equal(t, "id,total", req.query["select"])
	assert.Equal(t, "eq.open", req.query["status"])
	assert.Equal(t, "gte.50", req.query["total"])
	assert.True(t, strings.HasPrefix(req.query["order"], "total.desc"), req.query["order"])
	assert.Equal(t, "10", req.query["limit"])
}

func TestFetch_InAndNull(t *testing.T) {
	g, fake := newTestGateway(t, `[]`)

	rows, err := g.Fetch(context.Background(), "invoices", gateway.FetchArgs{
		Filters: []gateway.Filter{
			gateway.In("customer", "acme", "smith, jones"),
			gateway.Eq("deleted_at", nil),
		},
	})
	require.NoError(t, err)
	assert.Empty(t, rows)

	req := fake.last()
	assert.Equal(t, `in.(acme,"smith, jones")`, req.query["customer"])
	assert.Equal(t, "is.null", req.query["deleted_at"])
}

func TestFetch_DuplicateColumnFilter(t *testing.T) {
	g, _ := newTestGateway(t, `[]`)

	_, err := g.Fetch(context.Background(), "invoices", gateway.FetchArgs{
		Filters: []gateway.Filter{gateway.Gte("total", 1), gateway.Lte("total", 9)},
	})
	assert.ErrorIs(t, err, ErrDuplicateColumnFilter)
}

func TestFetch_ErrorBody(t *testing.T) {
	g, fake := newTestGateway(t, `{"code":"42P01","message":"relation \"nope\" does not exist"}`)
	fake.status = http.StatusNotFound

	_, err := g.Fetch(context.Background(), "nope", gateway.FetchArgs{})
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	g, fake := newTestGateway(t, `[{"id":"inv-9","total":10}]`)

	rows, err := g.Create(context.Background(), "invoices", gateway.Rows{{"total": 10}})
	require.NoError(t, err)
	assert.Equal(t, "inv-9", rows[0]["id"])

	req := fake.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Contains(t, req.prefer, "return=representation")
	assert.JSONEq(t, `[{"total":10}]`, req.body)
}

func TestUpdate(t *testing.T) {
	g, fake := newTestGateway(t, `[{"id":"inv-1","status":"paid"}]`)

	rows, err := g.Update(context.Background(), "invoices", gateway.Row{"status": "paid"}, []gateway.Filter{gateway.Eq("id", "inv-1")})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	req := fake.last()
	assert.Equal(t, http.MethodPatch, req.method)
	assert.Equal(t, "eq.inv-1", req.query["id"])
	assert.JSONEq(t, `{"status":"paid"}`, req.body)

	_, err = g.Update(context.Background(), "invoices", gateway.Row{"status": "paid"}, nil)
	assert.ErrorIs(t, err, gateway.ErrUnfilteredMutation)
}

func TestDelete(t *testing.T) {
	g, fake := newTestGateway(t, ``)
	fake.status = http.StatusNoContent

	require.NoError(t, g.Delete(context.Background(), "invoices", []gateway.Filter{gateway.In("id", "a", "b")}))

	req := fake.last()
	assert.Equal(t, http.MethodDelete, req.method)
	assert.Equal(t, "in.(a,b)", req.query["id"])

	assert.ErrorIs(t, g.Delete(context.Background(), "invoices", nil), gateway.ErrUnfilteredMutation)
}

func TestUpsert(t *testing.T) {
	g, fake := newTestGateway(t, `[{"id":"inv-1","total":5}]`)

	_, err := g.Upsert(context.Background(), "invoices", gateway.Rows{{"id": "inv-1", "total": 5}}, "id")
	require.NoError(t, err)

	req := fake.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "id", req.query["on_conflict"])
	assert.Contains(t, req.prefer, "resolution=merge-duplicates")

	_, err = g.Upsert(context.Background(), "invoices", gateway.Rows{{"id": "x"}}, "")
	assert.ErrorIs(t, err, gateway.ErrMissingConflictKey)
}

func TestRawQuery(t *testing.T) {
	g, fake := newTestGateway(t, `[{"customer":"acme","total":350}]`)

	rows, err := g.RawQuery(context.Background(), "customer_total", map[string]any{"customer": "acme"})
	require.NoError(t, err)
	assert.Equal(t, json.Number("350"), rows[0]["total"])

	req := fake.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.True(t, strings.HasSuffix(req.path, "/rpc/customer_total"), req.path)
	assert.JSONEq(t, `{"customer":"acme"}`, req.body)

	_, err = g.RawQuery(context.Background(), "drop table", nil)
	assert.ErrorIs(t, err, gateway.ErrUnknownStatement)
}

func TestCancelledContext(t *testing.T) {
	g, fake := newTestGateway(t, `[]`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Fetch(ctx, "invoices", gateway.FetchArgs{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.requests)
}

func TestDecodeRows(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    gateway.Rows
		wantErr bool
	}{
		{"empty", "", gateway.Rows{}, false},
		{"array", `[{"a":1}]`, gateway.Rows{{"a": json.Number("1")}}, false},
		{"object", `{"a":"b"}`, gateway.Rows{{"a": "b"}}, false},
		{"scalar", `42`, gateway.Rows{{"value": json.Number("42")}}, false},
		{"error object", `{"code":"P0001","message":"boom"}`, nil, true},
		{"garbage", `[{`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeRows([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
