package resilience

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"circuit open", ErrCircuitOpen, true},
		{"rate limited", ErrRateLimited, true},
		{"bulkhead full", ErrBulkheadFull, true},
		{"wrapped", fmt.Errorf("fetch invoices: %w", ErrBulkheadFull), true},
		{"timeout", ErrTimeout, false},
		{"backend", errBackend, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRejection(tt.err); got != tt.want {
				t.Errorf("IsRejection(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if errors.Is(ErrCircuitOpen, ErrBulkheadFull) {
		t.Error("rejection errors must stay distinguishable")
	}
}
