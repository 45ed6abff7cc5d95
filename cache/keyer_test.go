package cache

import (
	"strings"
	"testing"
)

func TestEncode_DeterministicForParamOrder(t *testing.T) {
	enc := NewKeyEncoder()

	key1 := enc.Encode("invoices", OpFetch, Params{P("status", "paid"), P("limit", 10), P("user_id", "u1")})
	key2 := enc.Encode("invoices", OpFetch, Params{P("user_id", "u1"), P("status", "paid"), P("limit", 10)})
	key3 := enc.Encode("invoices", OpFetch, Params{P("limit", 10), P("user_id", "u1"), P("status", "paid")})

	if key1 != key2 {
		t.Errorf("Keys should be equal for same params:\n  key1=%s\n  key2=%s", key1, key2)
	}
	if key2 != key3 {
		t.Errorf("Keys should be equal for same params:\n  key2=%s\n  key3=%s", key2, key3)
	}
}

func TestEncode_DeterministicForNestedMaps(t *testing.T) {
	map1 := map[string]any{"b": 2, "a": map[string]any{"y": 1, "x": 2}}
	map2 := map[string]any{"a": map[string]any{"x": 2, "y": 1}, "b": 2}

	key1 := Encode("quotes", OpRaw, Params{P("params", map1)})
	key2 := Encode("quotes", OpRaw, Params{P("params", map2)})

	if key1 != key2 {
		t.Errorf("Keys should be equal for same nested content:\n  key1=%s\n  key2=%s", key1, key2)
	}
}

func TestEncode_ArrayOrderPreserved(t *testing.T) {
	key1 := Encode("quotes", OpFetch, Params{P("order", []any{"a", "b"})})
	key2 := Encode("quotes", OpFetch, Params{P("order", []any{"b", "a"})})

	if key1 == key2 {
		t.Errorf("Keys should differ for different array order:\n  key1=%s\n  key2=%s", key1, key2)
	}
}

func TestEncode_LaterDuplicateWins(t *testing.T) {
	dup := Encode("invoices", OpFetch, Params{P("status", "draft"), P("status", "paid")})
	single := Encode("invoices", OpFetch, Params{P("status", "paid")})

	if dup != single {
		t.Errorf("Later duplicate should override earlier:\n  dup=%s\n  single=%s", dup, single)
	}
}

func TestEncode_DistinguishesInputs(t *testing.T) {
	base := Encode("invoices", OpFetch, Params{P("id", 1)})

	tests := []struct {
		name string
		key  string
	}{
		{"collection", Encode("quotes", OpFetch, Params{P("id", 1)})},
		{"op", Encode("invoices", OpRaw, Params{P("id", 1)})},
		{"value", Encode("invoices", OpFetch, Params{P("id", 2)})},
		{"value type", Encode("invoices", OpFetch, Params{P("id", "1")})},
		{"name", Encode("invoices", OpFetch, Params{P("ID", 1)})},
		{"extra param", Encode("invoices", OpFetch, Params{P("id", 1), P("limit", 5)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.key == base {
				t.Errorf("Key should differ from base when %s changes: %s", tt.name, tt.key)
			}
		})
	}
}

func TestEncode_Format(t *testing.T) {
	key := Encode("invoices", OpFetch, nil)

	if !strings.HasPrefix(key, "qc:invoices:fetch:") {
		t.Errorf("Key format incorrect, got: %s", key)
	}
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		t.Fatalf("Key should have 4 parts, got %d: %s", len(parts), key)
	}
	if len(parts[3]) != 64 {
		t.Errorf("Hash should be 64 hex chars, got %d", len(parts[3]))
	}
	if err := ValidateKey(key); err != nil {
		t.Errorf("ValidateKey(%q) = %v, want nil", key, err)
	}
}

func TestEncode_EmptyAndNilParamsMatch(t *testing.T) {
	if Encode("a", OpFetch, nil) != Encode("a", OpFetch, Params{}) {
		t.Error("nil and empty params should encode identically")
	}
}

func TestEncode_PanicsOnUnencodable(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Encode() should panic for a channel value")
		}
	}()
	Encode("invoices", OpFetch, Params{P("ch", make(chan int))})
}

func TestEncode_PanicsOnCycle(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	defer func() {
		if recover() == nil {
			t.Error("Encode() should panic for a cyclic map")
		}
	}()
	Encode("invoices", OpFetch, Params{P("m", cyclic)})
}

func TestParams_WithDoesNotAlias(t *testing.T) {
	base := make(Params, 0, 4)
	base = append(base, P("a", 1))

	x := base.With("b", 2)
	y := base.With("b", 3)

	if x[1].Value != 2 {
		t.Errorf("x[1].Value = %v, want 2", x[1].Value)
	}
	if y[1].Value != 3 {
		t.Errorf("y[1].Value = %v, want 3", y[1].Value)
	}
	if len(base) != 1 {
		t.Errorf("len(base) = %d, want 1", len(base))
	}
}

func TestParams_Canonical(t *testing.T) {
	got := Params{P("b", 1), P("a", 1), P("b", 2)}.Canonical()

	if len(got) != 2 {
		t.Fatalf("len(Canonical()) = %d, want 2", len(got))
	}
	if got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("Canonical() order = [%s %s], want [a b]", got[0].Name, got[1].Name)
	}
	if got[1].Value != 2 {
		t.Errorf("Canonical() b = %v, want 2", got[1].Value)
	}
}

func TestKeyEncoder_InterfaceContract(t *testing.T) {
	var _ KeyEncoder = DefaultKeyEncoder{}
	var _ KeyEncoder = (*DefaultKeyEncoder)(nil)
}
