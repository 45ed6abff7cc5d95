package query

import (
	"encoding/json"
	"fmt"

	"github.com/jonwraymond/querycache/gateway"
)

// Decode maps rows onto a slice of T using JSON field tags.
func Decode[T any](rows gateway.Rows) ([]T, error) {
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("query: decode: %w", err)
	}
	out := make([]T, 0, len(rows))
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("query: decode: %w", err)
	}
	return out, nil
}

// DecodeResult decodes a successful result and passes failures through.
func DecodeResult[T any](r Result[gateway.Rows]) Result[[]T] {
	if !r.OK() {
		return Result[[]T]{Err: r.Err}
	}
	data, err := Decode[T](r.Data)
	if err != nil {
		return Result[[]T]{Err: err}
	}
	return Result[[]T]{
		Data:      data,
		FromCache: r.FromCache,
		CachedAt:  r.CachedAt,
		ExpiresAt: r.ExpiresAt,
	}
}
