package lower

import (
	"testing"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// TestLowerScalars checks the scalar type mapping.
func TestLowerScalars(t *testing.T) {
	s := newTestSession(t)

	cases := []struct {
		typ  sir.Type
		kind llvm.TypeKind
		bits int
	}{
		{sir.IntType{}, llvm.IntegerTypeKind, 64},
		{sir.FloatType{}, llvm.DoubleTypeKind, 0},
		{sir.BoolType{}, llvm.IntegerTypeKind, 8},
		{sir.ByteType{}, llvm.IntegerTypeKind, 8},
		{sir.VoidType{}, llvm.VoidTypeKind, 0},
		{sir.IntNType{Bits: 17, Signed: true}, llvm.IntegerTypeKind, 17},
		{sir.IntNType{Bits: 128, Signed: false}, llvm.IntegerTypeKind, 128},
	}
	for _, c := range cases {
		lt, err := s.LowerType(c.typ)
		if err != nil {
			t.Fatalf("LowerType(%s): %v", c.typ.Key(), err)
		}
		if lt.TypeKind() != c.kind {
			t.Errorf("LowerType(%s) kind = %v, want %v", c.typ.Key(), lt.TypeKind(), c.kind)
		}
		if c.bits != 0 && lt.IntTypeWidth() != c.bits {
			t.Errorf("LowerType(%s) width = %d, want %d", c.typ.Key(), lt.IntTypeWidth(), c.bits)
		}
	}
}

// TestLowerRefIsBytePointer checks Refs lower to an opaque byte pointer,
// not a pointer to the contents struct.
func TestLowerRefIsBytePointer(t *testing.T) {
	s := newTestSession(t)
	rec := &sir.RecordType{Name: "Box", Fields: []sir.Field{{Name: "v", Type: sir.IntType{}}}}

	lt, err := s.LowerType(&sir.RefType{Contents: rec})
	if err != nil {
		t.Fatal(err)
	}
	if lt.TypeKind() != llvm.PointerTypeKind {
		t.Fatalf("Ref kind = %v, want pointer", lt.TypeKind())
	}
	elem := lt.ElementType()
	if elem.TypeKind() != llvm.IntegerTypeKind || elem.IntTypeWidth() != 8 {
		t.Errorf("Ref pointee = %v, want i8", elem)
	}
}

// TestLowerCyclicRecordType checks that a record reaching itself through a
// Ref field lowers to a finite type graph.
func TestLowerCyclicRecordType(t *testing.T) {
	s := newTestSession(t)

	node := &sir.RecordType{Name: "ListNode"}
	node.Fields = []sir.Field{
		{Name: "value", Type: sir.IntType{}},
		{Name: "next", Type: &sir.RefType{Contents: node}},
	}

	lt, err := s.LowerType(node)
	if err != nil {
		t.Fatalf("LowerType on cyclic record: %v", err)
	}
	if lt.TypeKind() != llvm.StructTypeKind {
		t.Fatalf("kind = %v, want struct", lt.TypeKind())
	}
	if n := lt.StructElementTypesCount(); n != 2 {
		t.Fatalf("field count = %d, want 2", n)
	}

	again, err := s.LowerType(node)
	if err != nil {
		t.Fatal(err)
	}
	if again != lt {
		t.Error("repeated LowerType returned a distinct type; cache miss")
	}
}

// TestLowerOptional checks both Optional encodings.
func TestLowerOptional(t *testing.T) {
	s := newTestSession(t)
	rec := &sir.RecordType{Name: "Obj"}

	refOpt, err := s.LowerType(&sir.OptionalType{Base: &sir.RefType{Contents: rec}})
	if err != nil {
		t.Fatal(err)
	}
	ref, err := s.LowerType(&sir.RefType{Contents: rec})
	if err != nil {
		t.Fatal(err)
	}
	if refOpt != ref {
		t.Error("Optional(Ref) did not collapse to the Ref lowering")
	}

	intOpt, err := s.LowerType(&sir.OptionalType{Base: sir.IntType{}})
	if err != nil {
		t.Fatal(err)
	}
	if intOpt.TypeKind() != llvm.StructTypeKind || intOpt.StructElementTypesCount() != 2 {
		t.Fatalf("Optional(Int) = %v, want {i1, i64} struct", intOpt)
	}
	elems := intOpt.StructElementTypes()
	if elems[0].IntTypeWidth() != 1 {
		t.Errorf("has flag width = %d, want 1", elems[0].IntTypeWidth())
	}
	if elems[1].IntTypeWidth() != 64 {
		t.Errorf("value width = %d, want 64", elems[1].IntTypeWidth())
	}
}

// TestLowerGeneratorHandle checks Generator(T) lowers to an opaque byte
// pointer regardless of T.
func TestLowerGeneratorHandle(t *testing.T) {
	s := newTestSession(t)
	for _, base := range []sir.Type{sir.IntType{}, sir.VoidType{}, sir.FloatType{}} {
		lt, err := s.LowerType(&sir.GeneratorType{Base: base})
		if err != nil {
			t.Fatal(err)
		}
		if lt.TypeKind() != llvm.PointerTypeKind || lt.ElementType().IntTypeWidth() != 8 {
			t.Errorf("Generator(%s) = %v, want i8*", base.Key(), lt)
		}
	}
}

// TestLowerFuncType checks first-class function types lower to a pointer
// to a function type.
func TestLowerFuncType(t *testing.T) {
	s := newTestSession(t)
	ft := &sir.FuncType{Args: []sir.Type{sir.IntType{}}, Ret: sir.BoolType{}}

	lt, err := s.LowerType(ft)
	if err != nil {
		t.Fatal(err)
	}
	if lt.TypeKind() != llvm.PointerTypeKind {
		t.Fatalf("kind = %v, want pointer", lt.TypeKind())
	}
	if lt.ElementType().TypeKind() != llvm.FunctionTypeKind {
		t.Errorf("pointee kind = %v, want function", lt.ElementType().TypeKind())
	}
}
