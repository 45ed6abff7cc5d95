package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/config"
	"github.com/jonwraymond/querycache/gateway"
	"github.com/jonwraymond/querycache/observe/exporters"
	"github.com/jonwraymond/querycache/query"
)

func newTestServer(t *testing.T) (*app, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Observe.LogLevel = "error"
	cfg.Observe.MetricsEnabled = true

	reg := prometheus.NewRegistry()
	a, err := newApp(context.Background(), &cfg, exporters.Options{Registerer: reg})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	srv := httptest.NewServer(newServerRouter(a, reg))
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close(context.Background())
	})
	return a, srv
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Probes(t *testing.T) {
	_, srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/health", "/health/cache", "/health/gateway"} {
		if resp := do(t, http.MethodGet, srv.URL+path); resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestServer_Metrics(t *testing.T) {
	a, srv := newTestServer(t)

	a.coord.Fetch(context.Background(), "invoices", gateway.FetchArgs{}, query.WithCache(0))

	resp := do(t, http.MethodGet, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"go_goroutines", "query_ops_total"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %s", want)
		}
	}
}

func TestServer_CacheAdmin(t *testing.T) {
	a, srv := newTestServer(t)

	key := cache.Encode("invoices", cache.OpFetch, nil)
	if err := a.store.Set(key, []byte(`[]`), time.Minute, "invoices"); err != nil {
		t.Fatal(err)
	}

	resp := do(t, http.MethodPost, srv.URL+"/cache/invalidate")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalidate without tag = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	resp = do(t, http.MethodPost, srv.URL+"/cache/invalidate?tag=invoices&tag=quotes")
	var removed map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&removed); err != nil {
		t.Fatal(err)
	}
	if removed["removed"] != 1 {
		t.Errorf("removed = %d, want 1", removed["removed"])
	}

	do(t, http.MethodPost, srv.URL+"/cache/disable")
	if a.store.Enabled() {
		t.Error("store still enabled after /cache/disable")
	}
	resp = do(t, http.MethodGet, srv.URL+"/health/cache")
	var report struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Status != "degraded" {
		t.Errorf("cache status = %q, want degraded", report.Status)
	}

	do(t, http.MethodPost, srv.URL+"/cache/enable")
	resp = do(t, http.MethodGet, srv.URL+"/cache/stats")
	var stats cache.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if !stats.Enabled || stats.Invalidated != 1 {
		t.Errorf("stats = %+v, want enabled with 1 invalidated", stats)
	}
}

const testTenantSecret = "super-secret-jwt-token-with-at-least-32-characters"

// newTenantServer serves an app with tenant verification configured. The
// returned func signs a token for a tenant.
func newTenantServer(t *testing.T) (*httptest.Server, func(string) string) {
	t.Helper()
	cfg, err := config.Load(context.Background(), writeFixture(t, "tenant:\n  secret: "+testTenantSecret+"\n"))
	if err != nil {
		t.Fatal(err)
	}
	a, err := newApp(context.Background(), cfg, exporters.Options{})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(newServerRouter(a, prometheus.NewRegistry()))
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close(context.Background())
	})

	token := func(sub string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()})
		s, err := tok.SignedString([]byte(testTenantSecret))
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	return srv, token
}

func TestServer_CacheAdminRequiresToken(t *testing.T) {
	srv, token := newTenantServer(t)

	tests := []struct {
		method string
		path   string
		token  string
		want   int
	}{
		{http.MethodGet, "/cache/stats", "", http.StatusUnauthorized},
		{http.MethodPost, "/cache/disable", "", http.StatusUnauthorized},
		{http.MethodPost, "/cache/enable", "", http.StatusUnauthorized},
		{http.MethodPost, "/cache/invalidate?tag=invoices", "", http.StatusUnauthorized},
		{http.MethodPost, "/cache/invalidate?tag=invoices", "not-a-jwt", http.StatusUnauthorized},
		{http.MethodPost, "/cache/invalidate?tag=invoices", token("acme"), http.StatusOK},
		{http.MethodGet, "/cache/stats", token("acme"), http.StatusOK},
		{http.MethodGet, "/healthz", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServer_Query(t *testing.T) {
	srv, token := newTenantServer(t)

	get := func(path, tok string) (int, resultOutput) {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if err != nil {
			t.Fatal(err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out resultOutput
		_ = json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	const path = "/query/invoices?filter=status=eq:open&order=amount:desc"

	if code, _ := get(path, ""); code != http.StatusUnauthorized {
		t.Errorf("without token = %d, want %d", code, http.StatusUnauthorized)
	}
	if code, _ := get("/query/invoices?limit=x", token("acme")); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want %d", code, http.StatusBadRequest)
	}

	tests := []struct {
		tenant    string
		fromCache bool
	}{
		{"acme", false},
		{"acme", true},
		{"globex", false},
	}
	for _, tt := range tests {
		code, out := get(path, token(tt.tenant))
		if code != http.StatusOK {
			t.Fatalf("%s: status = %d, error = %q", tt.tenant, code, out.Error)
		}
		if out.FromCache != tt.fromCache {
			t.Errorf("%s: from_cache = %v, want %v", tt.tenant, out.FromCache, tt.fromCache)
		}
		if len(out.Rows) != 2 || out.Rows[0]["id"] != "inv:1" {
			t.Errorf("%s: rows = %v, want inv:1 then inv:2", tt.tenant, out.Rows)
		}
	}
}
