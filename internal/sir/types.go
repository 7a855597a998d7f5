// Package sir models the typed intermediate representation consumed by the
// lowering backend. Types are expressed as a family of interfaces with one
// concrete struct per variant instead of one struct with an interface{}
// payload: the SIR carries real typed fields (record field lists, catch
// clauses, pipeline stages) that a single untyped slot cannot express
// without constant type assertions.
package sir

import "strconv"

// Type is the sum type of SIR types.
type Type interface {
	isType()
	// Key returns a canonical string identifying this type, used to key
	// the type-lowerer's composite caches.
	Key() string
}

// IntType is the 64-bit signed integer type.
type IntType struct{}

func (IntType) isType()     {}
func (IntType) Key() string { return "int" }

// FloatType is the 64-bit IEEE float type.
type FloatType struct{}

func (FloatType) isType()     {}
func (FloatType) Key() string { return "float" }

// BoolType is the 8-bit boolean type.
type BoolType struct{}

func (BoolType) isType()     {}
func (BoolType) Key() string { return "bool" }

// ByteType is the 8-bit byte type.
type ByteType struct{}

func (ByteType) isType()     {}
func (ByteType) Key() string { return "byte" }

// VoidType is the empty type.
type VoidType struct{}

func (VoidType) isType()     {}
func (VoidType) Key() string { return "void" }

// IntNType is a sized integer of n bits, signed or unsigned.
type IntNType struct {
	Bits   int
	Signed bool
}

func (IntNType) isType() {}
func (t IntNType) Key() string {
	if t.Signed {
		return "i" + strconv.Itoa(t.Bits)
	}
	return "u" + strconv.Itoa(t.Bits)
}

// Field is one named, typed member of a RecordType.
type Field struct {
	Name string
	Type Type
	// MemberAttribute optionally overrides the field's debug source info;
	// if nil the record's own source info is used.
	MemberAttribute *SourceLoc
}

// RecordType is an ordered, named set of fields (a struct).
type RecordType struct {
	Name   string
	Fields []Field
	Loc    *SourceLoc
}

func (*RecordType) isType()       {}
func (t *RecordType) Key() string { return "record:" + t.Name }

// RefType is a heap-allocated, pointer-typed record.
type RefType struct {
	Contents *RecordType
}

func (*RefType) isType()       {}
func (t *RefType) Key() string { return "ref:" + t.Contents.Key() }

// FuncType is a function signature used as a value type (function pointers,
// callback arguments); distinct from Func, which is a Var.
type FuncType struct {
	Args     []Type
	Ret      Type
	Variadic bool
}

func (*FuncType) isType() {}
func (t *FuncType) Key() string {
	s := "func("
	for i, a := range t.Args {
		if i > 0 {
			s += ","
		}
		s += a.Key()
	}
	if t.Variadic {
		s += ",..."
	}
	return s + ")->" + t.Ret.Key()
}

// OptionalType is either a Ref (null encodes absent) or a {has, value} pair.
type OptionalType struct {
	Base Type
}

func (*OptionalType) isType()       {}
func (t *OptionalType) Key() string { return "opt:" + t.Base.Key() }

// PointerType is a raw pointer to Base.
type PointerType struct {
	Base Type
}

func (*PointerType) isType()       {}
func (t *PointerType) Key() string { return "ptr:" + t.Base.Key() }

// GeneratorType is a coroutine handle producing values of Base.
type GeneratorType struct {
	Base Type
}

func (*GeneratorType) isType()       {}
func (t *GeneratorType) Key() string { return "gen:" + t.Base.Key() }

// CustomTypeBuilder lowers a CustomType to a target type; supplied by the
// DSL extension point.
type CustomTypeBuilder interface {
	Name() string
}

// CustomType delegates lowering to an external builder.
type CustomType struct {
	Builder CustomTypeBuilder
}

func (*CustomType) isType()       {}
func (t *CustomType) Key() string { return "custom:" + t.Builder.Name() }

// IsRef reports whether t is (or resolves through Optional to) a RefType;
// used by Extract/Insert's container-kind check and by OptionalType
// lowering (Optional(Ref) collapses to Ref).
func IsRef(t Type) bool {
	switch v := t.(type) {
	case *RefType:
		return true
	case *OptionalType:
		return IsRef(v.Base)
	default:
		return false
	}
}
