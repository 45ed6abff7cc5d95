package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Param is a single named value in a key's parameter bag.
type Param struct {
	Name  string
	Value any
}

// P is shorthand for constructing a Param.
func P(name string, value any) Param {
	return Param{Name: name, Value: value}
}

// Params is an ordered parameter bag. Construction order does not affect the
// key it encodes to.
type Params []Param

// With returns a copy of p with name=value appended.
func (p Params) With(name string, value any) Params {
	out := make(Params, len(p), len(p)+1)
	copy(out, p)
	return append(out, Param{Name: name, Value: value})
}

// Canonical returns the parameters sorted by name. When a name repeats, the
// last occurrence wins.
func (p Params) Canonical() Params {
	last := make(map[string]int, len(p))
	for i, param := range p {
		last[param.Name] = i
	}
	out := make(Params, 0, len(last))
	for i, param := range p {
		if last[param.Name] == i {
			out = append(out, param)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// KeyEncoder turns a (collection, operation, params) triple into a cache key.
//
// Contract:
// - Determinism: equal inputs produce equal keys regardless of param order.
// - Purity: no side effects and no dependency on the clock.
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: unencodable params are a programmer error and panic.
type KeyEncoder interface {
	Encode(collection string, op Op, params Params) string
}

// DefaultKeyEncoder generates SHA-256 based cache keys.
type DefaultKeyEncoder struct{}

// NewKeyEncoder creates a new default key encoder.
func NewKeyEncoder() *DefaultKeyEncoder {
	return &DefaultKeyEncoder{}
}

// Encode generates a deterministic cache key.
// Format: qc:<collection>:<op>:<hash>
// where hash is hex(SHA-256(collection, op, canonical JSON(params))).
func (DefaultKeyEncoder) Encode(collection string, op Op, params Params) string {
	return Encode(collection, op, params)
}

// Encode is the function form of DefaultKeyEncoder.Encode.
func Encode(collection string, op Op, params Params) string {
	canonical, err := canonicalParams(params)
	if err != nil {
		panic(fmt.Sprintf("cache: cannot encode params for %s/%s: %v", collection, op, err))
	}

	h := sha256.New()
	h.Write([]byte(collection))
	h.Write([]byte{0})
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write(canonical)

	return fmt.Sprintf("qc:%s:%s:%s", collection, op, hex.EncodeToString(h.Sum(nil)))
}

// canonicalParams encodes params as a JSON array of [name, value] pairs in
// name order.
func canonicalParams(params Params) ([]byte, error) {
	result := []byte("[")
	for i, p := range params.Canonical() {
		if i > 0 {
			result = append(result, ',')
		}
		name, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		val, err := canonicalize(p.Value)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", p.Name, err)
		}
		result = append(result, '[')
		result = append(result, name...)
		result = append(result, ',')
		result = append(result, val...)
		result = append(result, ']')
	}
	return append(result, ']'), nil
}

// maxDepth bounds nesting so cyclic values fail instead of recursing forever.
const maxDepth = 64

var errTooDeep = errors.New("value nested too deeply or cyclic")

// canonicalize produces a deterministic JSON representation of v.
// Maps are emitted in key order at every depth.
func canonicalize(v any) ([]byte, error) {
	return canonicalizeDepth(v, 0)
}

func canonicalizeDepth(v any, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, errTooDeep
	}
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val, depth)
	case []any:
		return canonicalizeSlice(val, depth)
	case Params:
		return canonicalParams(val)
	default:
		// encoding/json already sorts map keys of other map types.
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any, depth int) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalizeDepth(m[k], depth+1)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, '}'), nil
}

func canonicalizeSlice(s []any, depth int) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}
		valBytes, err := canonicalizeDepth(v, depth+1)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, ']'), nil
}

var _ KeyEncoder = (*DefaultKeyEncoder)(nil)
