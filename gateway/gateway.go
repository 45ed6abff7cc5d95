package gateway

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
)

// Sentinel errors shared by all gateway implementations.
var (
	ErrInvalidFilter      = errors.New("gateway: invalid filter")
	ErrInvalidIdentifier  = errors.New("gateway: invalid identifier")
	ErrUnfilteredMutation = errors.New("gateway: update and delete require at least one filter")
	ErrUnknownStatement   = errors.New("gateway: unknown raw statement")
	ErrNoRows             = errors.New("gateway: no rows to write")
	ErrMissingConflictKey = errors.New("gateway: upsert requires a conflict key")
)

// Row is one record keyed by column name.
type Row map[string]any

// Rows is an ordered result set.
type Rows []Row

// Gateway is the remote relational store.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: every method honors cancellation of ctx.
// - Errors: validation failures wrap the sentinels above; backend errors are
// returned as produced so callers can surface them verbatim.
type Gateway interface {
	Fetch(ctx context.Context, collection string, args FetchArgs) (Rows, error)
	Create(ctx context.Context, collection string, rows Rows) (Rows, error)
	Update(ctx context.Context, collection string, patch Row, filters []Filter) (Rows, error)
	Delete(ctx context.Context, collection string, filters []Filter) error
	Upsert(ctx context.Context, collection string, rows Rows, conflictKey string) (Rows, error)
	RawQuery(ctx context.Context, statement string, params map[string]any) (Rows, error)
}

// Pinger is implemented by gateways that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FilterOp is a comparison operator.
type FilterOp string

const (
	OpEq    FilterOp = "eq"
	OpNeq   FilterOp = "neq"
	OpGt    FilterOp = "gt"
	OpGte   FilterOp = "gte"
	OpLt    FilterOp = "lt"
	OpLte   FilterOp = "lte"
	OpIn    FilterOp = "in"
	OpLike  FilterOp = "like"
	OpILike FilterOp = "ilike"
)

// Valid reports whether op is a known operator.
func (op FilterOp) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpLike, OpILike:
		return true
	}
	return false
}

// Filter restricts a read or mutation to rows where Column Op Value holds.
type Filter struct {
	Column string   `json:"column" yaml:"column"`
	Op     FilterOp `json:"op" yaml:"op"`
	Value  any      `json:"value" yaml:"value"`
}

func Eq(column string, value any) Filter  { return Filter{column, OpEq, value} }
func Neq(column string, value any) Filter { return Filter{column, OpNeq, value} }
func Gt(column string, value any) Filter  { return Filter{column, OpGt, value} }
func Gte(column string, value any) Filter { return Filter{column, OpGte, value} }
func Lt(column string, value any) Filter  { return Filter{column, OpLt, value} }
func Lte(column string, value any) Filter { return Filter{column, OpLte, value} }

// In matches rows whose column equals any of values.
func In(column string, values ...any) Filter { return Filter{column, OpIn, values} }

// Like matches with SQL LIKE patterns: % for any run, _ for one character.
func Like(column, pattern string) Filter { return Filter{column, OpLike, pattern} }

// ILike is the case-insensitive form of Like.
func ILike(column, pattern string) Filter { return Filter{column, OpILike, pattern} }

// Validate checks the column name, operator and value shape.
func (f Filter) Validate() error {
	if err := ValidateIdentifier(f.Column); err != nil {
		return err
	}
	if !f.Op.Valid() {
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Op)
	}
	switch f.Op {
	case OpIn:
		if _, ok := InValues(f.Value); !ok {
			return fmt.Errorf("%w: %s.in needs a list value", ErrInvalidFilter, f.Column)
		}
	case OpLike, OpILike:
		if _, ok := f.Value.(string); !ok {
			return fmt.Errorf("%w: %s.%s needs a string pattern", ErrInvalidFilter, f.Column, f.Op)
		}
	}
	return nil
}

// InValues flattens the value of an in filter into a slice.
func InValues(v any) ([]any, bool) {
	if vs, ok := v.([]any); ok {
		return vs, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Order sorts results by Column.
type Order struct {
	Column     string `json:"column" yaml:"column"`
	Descending bool   `json:"descending,omitempty" yaml:"descending"`
}

// FetchArgs selects rows from a collection. Zero Limit means no limit.
type FetchArgs struct {
	Columns []string `json:"columns,omitempty" yaml:"columns"`
	Filters []Filter `json:"filters,omitempty" yaml:"filters"`
	Order   []Order  `json:"order,omitempty" yaml:"order"`
	Limit   int      `json:"limit,omitempty" yaml:"limit"`
	Offset  int      `json:"offset,omitempty" yaml:"offset"`
}

// Validate checks every identifier and filter in a.
func (a FetchArgs) Validate() error {
	for _, c := range a.Columns {
		if err := ValidateIdentifier(c); err != nil {
			return err
		}
	}
	if err := ValidateFilters(a.Filters); err != nil {
		return err
	}
	for _, o := range a.Order {
		if err := ValidateIdentifier(o.Column); err != nil {
			return err
		}
	}
	if a.Limit < 0 || a.Offset < 0 {
		return fmt.Errorf("%w: negative limit or offset", ErrInvalidFilter)
	}
	return nil
}

// ValidateFilters validates each filter in order.
func ValidateFilters(filters []Filter) error {
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects names that are not plain SQL identifiers.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInvalidIdentifier) ||
		errors.Is(err, ErrUnfilteredMutation) ||
		errors.Is(err, ErrUnknownStatement) ||
		errors.Is(err, ErrNoRows) ||
		errors.Is(err, ErrMissingConflictKey) ||
		errors.Is(err, context.Canceled)
}
