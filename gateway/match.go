package gateway

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"
	"time"
)

// Match reports whether row satisfies every filter. Filters must already be
// valid.
func Match(row Row, filters []Filter) bool {
	for _, f := range filters {
		if !f.matches(row) {
			return false
		}
	}
	return true
}

func (f Filter) matches(row Row) bool {
	v := row[f.Column]
	switch f.Op {
	case OpEq:
		return equalValues(v, f.Value)
	case OpNeq:
		return !equalValues(v, f.Value)
	case OpGt, OpGte, OpLt, OpLte:
		c, ok := compareValues(v, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpGt:
			return c > 0
		case OpGte:
			return c >= 0
		case OpLt:
			return c < 0
		default:
			return c <= 0
		}
	case OpIn:
		values, _ := InValues(f.Value)
		for _, want := range values {
			if equalValues(v, want) {
				return true
			}
		}
		return false
	case OpLike, OpILike:
		s, ok := v.(string)
		if !ok {
			return false
		}
		return likePattern(f.Value.(string), f.Op == OpILike).MatchString(s)
	}
	return false
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders numbers, strings and times. ok is false when the two
// values are not mutually comparable.
func compareValues(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
		if y, ok := b.(time.Time); ok {
			if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return t.Compare(y), true
			}
		}
		return 0, false
	}
	if x, ok := a.(time.Time); ok {
		switch y := b.(type) {
		case time.Time:
			return x.Compare(y), true
		case string:
			if t, err := time.Parse(time.RFC3339Nano, y); err == nil {
				return x.Compare(t), true
			}
		}
	}
	if x, ok := a.(bool); ok {
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func likePattern(pattern string, fold bool) *regexp.Regexp {
	var b strings.Builder
	if fold {
		b.WriteString("(?is)")
	} else {
		b.WriteString("(?s)")
	}
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return regexp.MustCompile(b.String())
}

// lessRows orders two rows by the given sort keys. Nil values sort first;
// incomparable values keep their relative order.
func lessRows(a, b Row, order []Order) bool {
	for _, o := range order {
		av, bv := a[o.Column], b[o.Column]
		var c int
		switch {
		case av == nil && bv == nil:
			c = 0
		case av == nil:
			c = -1
		case bv == nil:
			c = 1
		default:
			c, _ = compareValues(av, bv)
		}
		if c == 0 {
			continue
		}
		if o.Descending {
			return c > 0
		}
		return c < 0
	}
	return false
}

func cloneRow(r Row) Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = cloneValue(x)
		}
		return out
	case Row:
		return cloneRow(val)
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = cloneValue(x)
		}
		return out
	case []byte:
		return append([]byte(nil), val...)
	}
	return v
}

func cloneRows(rows Rows) Rows {
	out := make(Rows, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	return out
}
