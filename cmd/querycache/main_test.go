package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/gateway"
)

const seedYAML = `
invoices:
  - id: "inv:1"
    status: open
    amount: 120
  - id: "inv:2"
    status: open
    amount: 80
  - id: "inv:3"
    status: paid
    amount: 300
`

// writeFixture writes a seed file and a config using the memory driver, and
// returns the config path.
func writeFixture(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(seed, []byte(seedYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := "gateway:\n  driver: memory\n  seed: " + seed + "\nobserve:\n  log_level: error\n" + extra
	path := filepath.Join(dir, "querycache.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeLines(t *testing.T, s string) []resultOutput {
	t.Helper()
	var outs []resultOutput
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		var o resultOutput
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			t.Fatalf("Unmarshal(%q) error = %v", sc.Text(), err)
		}
		outs = append(outs, o)
	}
	return outs
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		in      string
		want    gateway.Filter
		wantErr bool
	}{
		{"status=eq:open", gateway.Eq("status", "open"), false},
		{"amount=gt:100", gateway.Gt("amount", json.Number("100")), false},
		{"paid=eq:true", gateway.Eq("paid", true), false},
		{"due=eq:null", gateway.Eq("due", nil), false},
		{"id=in:inv:1,inv:2", gateway.In("id", "inv:1", "inv:2"), false},
		{"name=like:%acme%", gateway.Like("name", "%acme%"), false},
		{"code=like:42", gateway.Like("code", "42"), false},
		{"nofilter", gateway.Filter{}, true},
		{"status=open", gateway.Filter{}, true},
		{"status=approx:open", gateway.Filter{}, true},
		{"bad col=eq:1", gateway.Filter{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFilter(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseFilter() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFilter() error = %v", err)
			}
			gj, _ := json.Marshal(got)
			wj, _ := json.Marshal(tt.want)
			if string(gj) != string(wj) {
				t.Errorf("parseFilter() = %s, want %s", gj, wj)
			}
		})
	}
}

func TestFetchArgs_Order(t *testing.T) {
	o := &fetchOptions{order: []string{"due:desc", "id"}}
	fa, err := o.fetchArgs()
	if err != nil {
		t.Fatalf("fetchArgs() error = %v", err)
	}
	if len(fa.Order) != 2 || !fa.Order[0].Descending || fa.Order[1].Descending {
		t.Errorf("Order = %+v, want [due desc, id asc]", fa.Order)
	}

	o = &fetchOptions{order: []string{"due:sideways"}}
	if _, err := o.fetchArgs(); err == nil {
		t.Error("fetchArgs() error = nil, want bad direction error")
	}
}

func TestFetchCommand_Repeat(t *testing.T) {
	path := writeFixture(t, "")

	out, err := run(t, "fetch", "invoices", "-c", path, "-f", "status=eq:open", "--order", "amount:desc", "--repeat", "2")
	if err != nil {
		t.Fatalf("fetch error = %v", err)
	}

	outs := decodeLines(t, out)
	if len(outs) != 2 {
		t.Fatalf("got %d results, want 2", len(outs))
	}
	if outs[0].FromCache {
		t.Error("first fetch FromCache = true, want false")
	}
	if !outs[1].FromCache || outs[1].CachedAt == nil {
		t.Errorf("second fetch = %+v, want a cache hit", outs[1])
	}
	if len(outs[1].Rows) != 2 || outs[1].Rows[0]["id"] != "inv:1" {
		t.Errorf("Rows = %v, want inv:1 then inv:2", outs[1].Rows)
	}
}

func TestFetchCommand_NoCache(t *testing.T) {
	path := writeFixture(t, "")

	out, err := run(t, "fetch", "invoices", "-c", path, "--no-cache", "--repeat", "2")
	if err != nil {
		t.Fatalf("fetch error = %v", err)
	}
	for i, o := range decodeLines(t, out) {
		if o.FromCache {
			t.Errorf("result %d FromCache = true, want false", i)
		}
	}
}

func TestFetchCommand_TokenWithoutSecret(t *testing.T) {
	path := writeFixture(t, "")

	_, err := run(t, "fetch", "invoices", "-c", path, "--token", "abc")
	if !errors.Is(err, errTenantsDisabled) {
		t.Errorf("fetch error = %v, want errTenantsDisabled", err)
	}
}

func TestFetchCommand_GatewayError(t *testing.T) {
	path := writeFixture(t, "")

	out, err := run(t, "fetch", "invoices", "-c", path, "-f", "bad col=eq:1")
	if err == nil {
		t.Fatal("fetch error = nil, want invalid filter")
	}
	if out != "" {
		t.Errorf("output = %q, want nothing for rejected arguments", out)
	}
}

func TestBatchFile_Steps(t *testing.T) {
	tests := []struct {
		name    string
		spec    stepSpec
		op      cache.Op
		wantErr string
	}{
		{"fetch", stepSpec{Op: cache.OpFetch, Collection: "invoices", Cache: &cacheSpec{}}, cache.OpFetch, ""},
		{"raw", stepSpec{Op: cache.OpRaw, Statement: "overdue"}, cache.OpRaw, ""},
		{"create", stepSpec{Op: cache.OpCreate, Collection: "invoices", Rows: []map[string]any{{"id": "x"}}}, cache.OpCreate, ""},
		{"update", stepSpec{Op: cache.OpUpdate, Collection: "invoices", Patch: map[string]any{"status": "paid"}}, cache.OpUpdate, ""},
		{"delete", stepSpec{Op: cache.OpDelete, Collection: "invoices", Invalidate: []string{"invoices"}}, cache.OpDelete, ""},
		{"upsert", stepSpec{Op: cache.OpUpsert, Collection: "invoices", ConflictKey: "id"}, cache.OpUpsert, ""},
		{"raw without statement", stepSpec{Op: cache.OpRaw}, "", "statement"},
		{"missing collection", stepSpec{Op: cache.OpFetch}, "", "collection"},
		{"unknown op", stepSpec{Op: "merge", Collection: "invoices"}, "", "unknown op"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := batchFile{Steps: []stepSpec{tt.spec}}.steps(time.Minute)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("steps() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("steps() error = %v", err)
			}
			if steps[0].Op != tt.op {
				t.Errorf("Op = %v, want %v", steps[0].Op, tt.op)
			}
		})
	}
}

func TestBatchCommand(t *testing.T) {
	path := writeFixture(t, "")
	batch := filepath.Join(filepath.Dir(path), "batch.yaml")
	if err := os.WriteFile(batch, []byte(`
steps:
  - op: fetch
    collection: invoices
    filters: [{column: status, op: eq, value: open}]
    cache: {ttl: 1m, tags: [invoices]}
  - op: fetch
    collection: invoices
    filters: [{column: status, op: eq, value: open}]
    cache: {ttl: 1m, tags: [invoices]}
  - op: update
    collection: invoices
    patch: {status: paid}
    filters: [{column: id, op: eq, value: "inv:1"}]
    invalidate: [invoices]
  - op: fetch
    collection: invoices
    filters: [{column: status, op: eq, value: open}]
    cache: {ttl: 1m, tags: [invoices]}
`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "batch", batch, "-c", path)
	if err != nil {
		t.Fatalf("batch error = %v", err)
	}

	var got batchOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !got.OK || got.FailedStep != -1 || len(got.Results) != 4 {
		t.Fatalf("batch = %+v, want 4 successful results", got)
	}
	hits := []bool{got.Results[0].FromCache, got.Results[1].FromCache, got.Results[3].FromCache}
	if hits[0] || !hits[1] || hits[2] {
		t.Errorf("FromCache = %v, want [false true false]", hits)
	}
	if n := len(got.Results[3].Rows); n != 1 {
		t.Errorf("open invoices after update = %d, want 1", n)
	}
}

func TestBatchCommand_StopsOnError(t *testing.T) {
	path := writeFixture(t, "")
	batch := filepath.Join(filepath.Dir(path), "batch.yaml")
	if err := os.WriteFile(batch, []byte(`
steps:
  - op: fetch
    collection: invoices
  - op: delete
    collection: invoices
  - op: fetch
    collection: invoices
`), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "batch", batch, "-c", path)
	if !errors.Is(err, gateway.ErrUnfilteredMutation) {
		t.Fatalf("batch error = %v, want ErrUnfilteredMutation", err)
	}
	var got batchOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.OK || got.FailedStep != 1 || got.Results != nil {
		t.Errorf("batch = %+v, want failure at step 1 with no results", got)
	}
}

func TestConfigCommand_Redacts(t *testing.T) {
	t.Setenv("QUERYCACHE_TENANT_SECRET", "super-secret")
	path := writeFixture(t, "")

	out, err := run(t, "config", "-c", path)
	if err != nil {
		t.Fatalf("config error = %v", err)
	}
	if strings.Contains(out, "super-secret") {
		t.Error("config output leaks the tenant secret")
	}
	if !strings.Contains(out, redacted) {
		t.Errorf("config output = %q, want redacted secret", out)
	}
	if !strings.Contains(out, "driver: memory") {
		t.Errorf("config output = %q, want driver: memory", out)
	}
}
