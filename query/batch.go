package query

import (
	"context"
	"fmt"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/gateway"
)

// Step is one operation in a batch.
type Step struct {
	Op         cache.Op
	Collection string
	run        func(ctx context.Context, c *Coordinator) Result[gateway.Rows]
}

// String describes the step for logs and errors.
func (s Step) String() string {
	return string(s.Op) + " " + s.Collection
}

// FetchStep reads from collection.
func FetchStep(collection string, args gateway.FetchArgs, opts ...CallOption) Step {
	return Step{Op: cache.OpFetch, Collection: collection, run: func(ctx context.Context, c *Coordinator) Result[gateway.Rows] {
		return c.Fetch(ctx, collection, args, opts...)
	}}
}

// RawStep runs a raw statement.
func RawStep(statement string, params map[string]any, opts ...CallOption) Step {
	return Step{Op: cache.OpRaw, Collection: statement, run: func(ctx context.Context, c *Coordinator) Result[gateway.Rows] {
		return c.Raw(ctx, statement, params, opts...)
	}}
}

// CreateStep inserts rows.
func CreateStep(collection string, rows gateway.Rows, opts ...CallOption) Step {
	return Step{Op: cache.OpCreate, Collection: collection, run: func(ctx context.Context, c *Coordinator) Result[gateway.Rows] {
		return c.Create(ctx, collection, rows, opts...)
	}}
}

// UpdateStep patches matching rows.
func UpdateStep(collection string, patch gateway.Row, filters []gateway.Filter, opts ...CallOption) Step {
	return Step{Op: cache.OpUpdate, Collection: collection, run: func(ctx context.Context, c *Coordinator) Result[gateway.Rows] {
		return c.Update(ctx, collection, patch, filters, opts...)
	}}
}

// DeleteStep removes matching rows.
func DeleteStep(collection string, filters []gateway.Filter, opts ...CallOption) Step {
	return Step{Op: cache.OpDelete, Collection: collection, run: func(ctx context.Context, c *Coordinator) Result[gateway.Rows] {
		return c.Delete(ctx, collection, filters, opts...)
	}}
}

// UpsertStep inserts or merges rows on conflictKey.
func UpsertStep(collection string, rows gateway.Rows, conflictKey string, opts ...CallOption) Step {
	return Step{Op: cache.OpUpsert, Collection: collection, run: func(ctx context.Context, c *Coordinator) Result[gateway.Rows] {
		return c.Upsert(ctx, collection, rows, conflictKey, opts...)
	}}
}

// BatchResult is all step results on success, or the first failure.
type BatchResult struct {
	Results []Result[gateway.Rows]

	// Err is the failing step's error, unchanged.
	Err error
	// FailedStep is the index of the failing step, or -1.
	FailedStep int
}

// OK reports whether every step succeeded.
func (b BatchResult) OK() bool { return b.Err == nil }

// Batch runs steps strictly in order and stops at the first failure. On
// failure Results is nil; earlier steps are not rolled back. A done ctx
// stops the batch before the next step.
func (c *Coordinator) Batch(ctx context.Context, steps ...Step) BatchResult {
	results := make([]Result[gateway.Rows], 0, len(steps))
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return BatchResult{Err: err, FailedStep: i}
		}
		if step.run == nil {
			return BatchResult{Err: fmt.Errorf("query: batch step %d has no operation", i), FailedStep: i}
		}
		res := step.run(ctx, c)
		if !res.OK() {
			return BatchResult{Err: res.Err, FailedStep: i}
		}
		results = append(results, res)
	}
	return BatchResult{Results: results, FailedStep: -1}
}
