package gateway_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/querycache/gateway"
)

func ExampleMemory() {
	m := gateway.NewMemory()
	m.Seed("invoices",
		gateway.Row{"id": "inv-1", "total": 120, "status": "open"},
		gateway.Row{"id": "inv-2", "total": 80, "status": "open"},
		gateway.Row{"id": "inv-3", "total": 300, "status": "paid"},
	)

	rows, _ := m.Fetch(context.Background(), "invoices", gateway.FetchArgs{
		Columns: []string{"id"},
		Filters: []gateway.Filter{gateway.Eq("status", "open")},
		Order:   []gateway.Order{{Column: "total"}},
	})
	for _, r := range rows {
		fmt.Println(r["id"])
	}
	// Output:
	// inv-2
	// inv-1
}
