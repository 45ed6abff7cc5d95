package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Operation names reported by Memory.Calls.
const (
	CallFetch  = "fetch"
	CallCreate = "create"
	CallUpdate = "update"
	CallDelete = "delete"
	CallUpsert = "upsert"
	CallRaw    = "raw"
)

// RawHandler serves one named raw statement for a Memory gateway.
type RawHandler func(ctx context.Context, m *Memory, params map[string]any) (Rows, error)

// Memory is an in-process Gateway. Collections are created on first write;
// fetching an unknown collection returns no rows.
type Memory struct {
	mu       sync.RWMutex
	tables   map[string]Rows
	raw      map[string]RawHandler
	calls    map[string]int
	failures map[string]error
	idColumn string
	newID    func() string
}

// MemoryOption configures a Memory gateway.
type MemoryOption func(*Memory)

// WithIDColumn sets the column filled with a generated id when a created row
// lacks one. Default: "id".
func WithIDColumn(name string) MemoryOption {
	return func(m *Memory) {
		m.idColumn = name
	}
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(fn func() string) MemoryOption {
	return func(m *Memory) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewMemory creates an empty Memory gateway.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tables:   make(map[string]Rows),
		raw:      make(map[string]RawHandler),
		calls:    make(map[string]int),
		failures: make(map[string]error),
		idColumn: "id",
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Seed appends rows to collection without counting a call.
func (m *Memory) Seed(collection string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.tables[collection] = append(m.tables[collection], cloneRow(r))
	}
}

// HandleRaw registers the handler for a raw statement name.
func (m *Memory) HandleRaw(statement string, h RawHandler) {
	m.mu.Lock()
	m.raw[statement] = h
	m.mu.Unlock()
}

// Table returns a copy of every row in collection.
func (m *Memory) Table(collection string) Rows {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRows(m.tables[collection])
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// ResetCalls zeroes all call counters.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	clear(m.calls)
	m.mu.Unlock()
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// begin counts the call and returns the injected failure, if any.
// Callers hold m.mu.
func (m *Memory) begin(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failures[op]
}

func (m *Memory) Fetch(ctx context.Context, collection string, args FetchArgs) (Rows, error) {
	if err := ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, CallFetch); err != nil {
		return nil, err
	}

	var out Rows
	for _, r := range m.tables[collection] {
		if Match(r, args.Filters) {
			out = append(out, r)
		}
	}
	if len(args.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool { return lessRows(out[i], out[j], args.Order) })
	}

	if args.Offset >= len(out) {
		out = nil
	} else {
		out = out[args.Offset:]
	}
	if args.Limit > 0 && args.Limit < len(out) {
		out = out[:args.Limit]
	}

	result := make(Rows, 0, len(out))
	for _, r := range out {
		result = append(result, project(r, args.Columns))
	}
	return result, nil
}

func project(r Row, columns []string) Row {
	if len(columns) == 0 {
		return cloneRow(r)
	}
	out := make(Row, len(columns))
	for _, c := range columns {
		out[c] = cloneValue(r[c])
	}
	return out
}

func (m *Memory) Create(ctx context.Context, collection string, rows Rows) (Rows, error) {
	if err := ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, CallCreate); err != nil {
		return nil, err
	}

	out := make(Rows, 0, len(rows))
	for _, r := range rows {
		stored := m.withID(r)
		m.tables[collection] = append(m.tables[collection], stored)
		out = append(out, cloneRow(stored))
	}
	return out, nil
}

func (m *Memory) withID(r Row) Row {
	stored := cloneRow(r)
	if stored == nil {
		stored = Row{}
	}
	if _, ok := stored[m.idColumn]; !ok && m.idColumn != "" {
		stored[m.idColumn] = m.newID()
	}
	return stored
}

func (m *Memory) Update(ctx context.Context, collection string, patch Row, filters []Filter) (Rows, error) {
	if err := ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, ErrUnfilteredMutation
	}
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, CallUpdate); err != nil {
		return nil, err
	}

	out := Rows{}
	for _, r := range m.tables[collection] {
		if !Match(r, filters) {
			continue
		}
		for k, v := range patch {
			r[k] = cloneValue(v)
		}
		out = append(out, cloneRow(r))
	}
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, collection string, filters []Filter) error {
	if err := ValidateIdentifier(collection); err != nil {
		return err
	}
	if len(filters) == 0 {
		return ErrUnfilteredMutation
	}
	if err := ValidateFilters(filters); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, CallDelete); err != nil {
		return err
	}

	kept := m.tables[collection][:0]
	for _, r := range m.tables[collection] {
		if !Match(r, filters) {
			kept = append(kept, r)
		}
	}
	clear(m.tables[collection][len(kept):])
	m.tables[collection] = kept
	return nil
}

// Upsert merges each row into the existing row with the same conflictKey
// value, or inserts it. An empty conflictKey means the id column.
func (m *Memory) Upsert(ctx context.Context, collection string, rows Rows, conflictKey string) (Rows, error) {
	if err := ValidateIdentifier(collection); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	if conflictKey == "" {
		conflictKey = m.idColumn
	}
	if conflictKey == "" {
		return nil, ErrMissingConflictKey
	}
	if err := ValidateIdentifier(conflictKey); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, CallUpsert); err != nil {
		return nil, err
	}

	out := make(Rows, 0, len(rows))
	for _, r := range rows {
		if key, ok := r[conflictKey]; ok {
			if existing := m.find(collection, conflictKey, key); existing != nil {
				for k, v := range r {
					existing[k] = cloneValue(v)
				}
				out = append(out, cloneRow(existing))
				continue
			}
		}
		stored := m.withID(r)
		m.tables[collection] = append(m.tables[collection], stored)
		out = append(out, cloneRow(stored))
	}
	return out, nil
}

func (m *Memory) find(collection, column string, value any) Row {
	for _, r := range m.tables[collection] {
		if v, ok := r[column]; ok && equalValues(v, value) {
			return r
		}
	}
	return nil
}

// RawQuery runs the handler registered for statement. Handlers run without
// the gateway lock held, so they may call back into m.
func (m *Memory) RawQuery(ctx context.Context, statement string, params map[string]any) (Rows, error) {
	m.mu.Lock()
	err := m.begin(ctx, CallRaw)
	h, ok := m.raw[statement]
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatement, statement)
	}
	return h(ctx, m, params)
}

// Ping always succeeds unless a failure was injected for "ping".
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.failures["ping"]
}

var (
	_ Gateway = (*Memory)(nil)
	_ Pinger  = (*Memory)(nil)
)
