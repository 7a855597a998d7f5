package sir

import "testing"

// TestTypeKeys verifies the canonical cache keys composites are interned
// under, including distinctness of signed/unsigned sized integers.
func TestTypeKeys(t *testing.T) {
	rec := &RecordType{Name: "Pair", Fields: []Field{
		{Name: "a", Type: IntType{}},
		{Name: "b", Type: FloatType{}},
	}}

	cases := []struct {
		typ  Type
		want string
	}{
		{IntType{}, "int"},
		{IntNType{Bits: 32, Signed: true}, "i32"},
		{IntNType{Bits: 32, Signed: false}, "u32"},
		{rec, "record:Pair"},
		{&RefType{Contents: rec}, "ref:record:Pair"},
		{&OptionalType{Base: rec}, "opt:record:Pair"},
		{&PointerType{Base: ByteType{}}, "ptr:byte"},
		{&GeneratorType{Base: IntType{}}, "gen:int"},
		{&FuncType{Args: []Type{IntType{}, BoolType{}}, Ret: VoidType{}}, "func(int,bool)->void"},
		{&FuncType{Args: []Type{IntType{}}, Ret: IntType{}, Variadic: true}, "func(int,...)->int"},
	}
	for _, c := range cases {
		if got := c.typ.Key(); got != c.want {
			t.Errorf("Key() = %q, want %q", got, c.want)
		}
	}
}

// TestIsRef verifies Ref detection through Optional nesting.
func TestIsRef(t *testing.T) {
	rec := &RecordType{Name: "Node"}
	ref := &RefType{Contents: rec}

	if !IsRef(ref) {
		t.Error("IsRef(Ref) = false")
	}
	if !IsRef(&OptionalType{Base: ref}) {
		t.Error("IsRef(Optional(Ref)) = false")
	}
	if IsRef(&OptionalType{Base: IntType{}}) {
		t.Error("IsRef(Optional(Int)) = true")
	}
	if IsRef(rec) {
		t.Error("IsRef(Record) = true")
	}
}

// TestIDGenUnique verifies ids are strictly increasing and never reused.
func TestIDGenUnique(t *testing.T) {
	var g IDGen
	prev := g.Next()
	for i := 0; i < 100; i++ {
		n := g.Next()
		if n <= prev {
			t.Fatalf("id %d not greater than previous %d", n, prev)
		}
		prev = n
	}
}
