package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/gateway"
)

func TestBatch_AllSucceed(t *testing.T) {
	f := newFixture(t)

	res := f.c.Batch(context.Background(),
		FetchStep("invoices", openInvoices, WithCache(time.Minute, "invoices")),
		CreateStep("invoices", gateway.Rows{{"id": "inv-9", "status": "open"}}, Invalidate("invoices")),
		FetchStep("invoices", openInvoices, WithCache(time.Minute, "invoices")),
	)

	if !res.OK() {
		t.Fatalf("Batch() error = %v at step %d", res.Err, res.FailedStep)
	}
	if res.FailedStep != -1 {
		t.Errorf("FailedStep = %d, want -1", res.FailedStep)
	}
	if len(res.Results) != 3 {
		t.Fatalf("Results = %d, want 3", len(res.Results))
	}
	if res.Results[2].FromCache || len(res.Results[2].Data) != 3 {
		t.Errorf("step 3 = %+v, want fresh read with 3 open invoices", res.Results[2])
	}
}

func TestBatch_StopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)

	res := f.c.Batch(context.Background(),
		FetchStep("invoices", openInvoices),
		DeleteStep("invoices", nil),
		UpdateStep("quotes", gateway.Row{"amount": 0}, []gateway.Filter{gateway.Eq("id", "q-1")}),
	)

	if !errors.Is(res.Err, gateway.ErrUnfilteredMutation) {
		t.Errorf("Err = %v, want ErrUnfilteredMutation", res.Err)
	}
	if res.FailedStep != 1 {
		t.Errorf("FailedStep = %d, want 1", res.FailedStep)
	}
	if res.Results != nil {
		t.Errorf("Results = %v, want nil on failure", res.Results)
	}
	if got := f.gw.Calls(gateway.CallUpdate); got != 0 {
		t.Errorf("update calls = %d, want third step never run", got)
	}
}

func TestBatch_NoRollback(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("constraint violation")
	f.gw.FailOn(gateway.CallUpsert, boom)

	res := f.c.Batch(context.Background(),
		CreateStep("quotes", gateway.Rows{{"id": "q-2"}}),
		UpsertStep("quotes", gateway.Rows{{"id": "q-3"}}, "id"),
	)
	if res.Err != boom {
		t.Fatalf("Err = %v, want %v", res.Err, boom)
	}
	if n := len(f.gw.Table("quotes")); n != 2 {
		t.Errorf("quotes = %d, want 2 with the first step kept", n)
	}
}

func TestBatch_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.gw.HandleRaw("cancel", func(context.Context, *gateway.Memory, map[string]any) (gateway.Rows, error) {
		cancel()
		return gateway.Rows{}, nil
	})

	res := f.c.Batch(ctx,
		RawStep("cancel", nil),
		FetchStep("invoices", openInvoices),
	)
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
	if res.FailedStep != 1 {
		t.Errorf("FailedStep = %d, want 1", res.FailedStep)
	}
	if got := f.gw.Calls(gateway.CallFetch); got != 0 {
		t.Errorf("fetch calls = %d, want 0", got)
	}
}

func TestBatch_Empty(t *testing.T) {
	res := newFixture(t).c.Batch(context.Background())
	if !res.OK() || len(res.Results) != 0 {
		t.Errorf("Batch() = %+v, want empty success", res)
	}
}

func TestBatch_ZeroStep(t *testing.T) {
	res := newFixture(t).c.Batch(context.Background(), Step{Op: cache.OpFetch, Collection: "invoices"})
	if res.OK() || res.FailedStep != 0 {
		t.Errorf("Batch(zero step) = %+v, want failure at 0", res)
	}
}

func TestStep_String(t *testing.T) {
	if got := DeleteStep("invoices", nil).String(); got != "delete invoices" {
		t.Errorf("String() = %q, want %q", got, "delete invoices")
	}
}
