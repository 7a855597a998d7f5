// types.go implements the Type Lowerer: a pure
// mapping from sir.Type to both an llvm.Type and a debug llvm.Metadata,
// with two-phase caching for composites to terminate cycles through Ref.
package lower

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// LowerType maps a SIR type to its LLVM representation. Safe for
// concurrent use by worker Sessions sharing one type cache.
func (s *Session) LowerType(t sir.Type) (llvm.Type, error) {
	s.typeMu.Lock()
	defer s.typeMu.Unlock()
	return s.lowerTypeLocked(t)
}

// lowerTypeLocked is LowerType's body; the caller must hold typeMu.
func (s *Session) lowerTypeLocked(t sir.Type) (llvm.Type, error) {
	switch v := t.(type) {
	case sir.IntType:
		return s.Ctx.Int64Type(), nil
	case sir.FloatType:
		return s.Ctx.DoubleType(), nil
	case sir.BoolType:
		return s.Ctx.Int8Type(), nil
	case sir.ByteType:
		return s.Ctx.Int8Type(), nil
	case sir.VoidType:
		return s.Ctx.VoidType(), nil
	case sir.IntNType:
		return s.Ctx.IntType(v.Bits), nil
	case *sir.RecordType:
		return s.lowerRecord(v)
	case *sir.RefType:
		// Opaque byte-pointer at the IR level; the pointee struct is only
		// surfaced through debug info.
		return llvm.PointerType(s.Ctx.Int8Type(), 0), nil
	case *sir.FuncType:
		return s.lowerFuncType(v)
	case *sir.OptionalType:
		return s.lowerOptional(v)
	case *sir.PointerType:
		// LLVM has no void*; a Pointer(Void) collapses to the opaque byte
		// pointer.
		if _, isVoid := v.Base.(sir.VoidType); isVoid {
			return llvm.PointerType(s.Ctx.Int8Type(), 0), nil
		}
		base, err := s.lowerTypeLocked(v.Base)
		if err != nil {
			return llvm.Type{}, err
		}
		return llvm.PointerType(base, 0), nil
	case *sir.GeneratorType:
		// A coroutine handle: opaque byte-pointer.
		return llvm.PointerType(s.Ctx.Int8Type(), 0), nil
	case *sir.CustomType:
		return s.lowerCustom(v)
	default:
		return llvm.Type{}, fmt.Errorf("lower: unhandled SIR type %T", t)
	}
}

// lowerRecord builds a named struct type for a Record, using a forward
// placeholder inserted into the cache before recursing into field types so
// that a record referencing itself through a Ref field terminates.
func (s *Session) lowerRecord(r *sir.RecordType) (llvm.Type, error) {
	key := r.Key()
	if cached, ok := s.typeCache[key]; ok {
		return cached, nil
	}

	placeholder := s.Ctx.StructCreateNamed(r.Name)
	s.typeCache[key] = placeholder

	members := make([]llvm.Type, len(r.Fields))
	for i, f := range r.Fields {
		ft, err := s.lowerTypeLocked(f.Type)
		if err != nil {
			return llvm.Type{}, fmt.Errorf("lower: record %q field %q: %w", r.Name, f.Name, err)
		}
		members[i] = ft
	}
	placeholder.StructSetBody(members, false)
	return placeholder, nil
}

// lowerFuncType lowers a first-class function type to a
// pointer-to-function type.
func (s *Session) lowerFuncType(ft *sir.FuncType) (llvm.Type, error) {
	args := make([]llvm.Type, len(ft.Args))
	for i, a := range ft.Args {
		lt, err := s.lowerTypeLocked(a)
		if err != nil {
			return llvm.Type{}, err
		}
		args[i] = lt
	}
	ret, err := s.lowerTypeLocked(ft.Ret)
	if err != nil {
		return llvm.Type{}, err
	}
	fn := llvm.FunctionType(ret, args, ft.Variadic)
	return llvm.PointerType(fn, 0), nil
}

// lowerOptional: Optional(Ref) collapses to Ref (null encodes absent);
// Optional(other) becomes struct{i1 has, T value}.
func (s *Session) lowerOptional(o *sir.OptionalType) (llvm.Type, error) {
	if sir.IsRef(o.Base) {
		return s.lowerTypeLocked(o.Base)
	}
	key := o.Key()
	if cached, ok := s.typeCache[key]; ok {
		return cached, nil
	}
	placeholder := s.Ctx.StructCreateNamed("optional." + o.Base.Key())
	s.typeCache[key] = placeholder
	base, err := s.lowerTypeLocked(o.Base)
	if err != nil {
		return llvm.Type{}, err
	}
	placeholder.StructSetBody([]llvm.Type{s.Ctx.Int1Type(), base}, false)
	return placeholder, nil
}

// lowerCustom delegates to the DSL extension point.
func (s *Session) lowerCustom(c *sir.CustomType) (llvm.Type, error) {
	// The custom builder is an external collaborator; here we only
	// guarantee the cache discipline applies to
	// it the same as any other composite, keyed by its declared name.
	key := c.Key()
	if cached, ok := s.typeCache[key]; ok {
		return cached, nil
	}
	return llvm.Type{}, fmt.Errorf("lower: custom type %q has no registered builder result", c.Builder.Name())
}

// DebugType returns the DWARF metadata describing t, building it lazily and
// caching composites the same way LowerType does.
func (s *Session) DebugType(t sir.Type) llvm.Metadata {
	if !s.Opts.Debug {
		return llvm.Metadata{}
	}
	s.typeMu.Lock()
	defer s.typeMu.Unlock()
	return s.debugTypeLocked(t)
}

// debugTypeLocked is DebugType's body; the caller must hold typeMu.
func (s *Session) debugTypeLocked(t sir.Type) llvm.Metadata {
	key := t.Key()
	if cached, ok := s.diTypeCache[key]; ok {
		return cached
	}
	var m llvm.Metadata
	switch v := t.(type) {
	case sir.IntType:
		m = s.DI.CreateBasicType(llvm.DIBasicType{Name: "int", SizeInBits: 64, Encoding: llvm.DW_ATE_signed})
	case sir.FloatType:
		m = s.DI.CreateBasicType(llvm.DIBasicType{Name: "float", SizeInBits: 64, Encoding: llvm.DW_ATE_float})
	case sir.BoolType:
		m = s.DI.CreateBasicType(llvm.DIBasicType{Name: "bool", SizeInBits: 8, Encoding: llvm.DW_ATE_boolean})
	case sir.ByteType:
		m = s.DI.CreateBasicType(llvm.DIBasicType{Name: "byte", SizeInBits: 8, Encoding: llvm.DW_ATE_unsigned_char})
	case sir.VoidType:
		m = llvm.Metadata{}
	case sir.IntNType:
		enc := llvm.DW_ATE_unsigned
		name := fmt.Sprintf("u%d", v.Bits)
		if v.Signed {
			enc = llvm.DW_ATE_signed
			name = fmt.Sprintf("i%d", v.Bits)
		}
		m = s.DI.CreateBasicType(llvm.DIBasicType{Name: name, SizeInBits: uint64(v.Bits), Encoding: enc})
	case *sir.RecordType:
		s.diTypeCache[key] = llvm.Metadata{} // placeholder breaks cycles through Ref below
		m = s.debugRecord(v)
	case *sir.RefType:
		m = s.DI.CreatePointerType(llvm.DIPointerType{
			Pointee:    s.debugTypeLocked(v.Contents),
			SizeInBits: 64,
			Name:       "ref",
		})
	case *sir.PointerType:
		m = s.DI.CreatePointerType(llvm.DIPointerType{Pointee: s.debugTypeLocked(v.Base), SizeInBits: 64})
	case *sir.GeneratorType:
		m = s.DI.CreatePointerType(llvm.DIPointerType{SizeInBits: 64, Name: "generator"})
	case *sir.OptionalType:
		if sir.IsRef(v.Base) {
			m = s.debugTypeLocked(v.Base)
		} else {
			m = s.DI.CreateBasicType(llvm.DIBasicType{Name: "optional", SizeInBits: 8, Encoding: llvm.DW_ATE_boolean})
		}
	default:
		m = llvm.Metadata{}
	}
	s.diTypeCache[key] = m
	return m
}

func (s *Session) debugRecord(r *sir.RecordType) llvm.Metadata {
	elements := make([]llvm.Metadata, len(r.Fields))
	for i, f := range r.Fields {
		loc := r.Loc
		if f.MemberAttribute != nil {
			loc = f.MemberAttribute
		}
		line := 0
		if loc != nil {
			line = loc.Line
		}
		elements[i] = s.DI.CreateMemberType(s.DIFile, llvm.DIMemberType{
			Name: f.Name,
			File: s.DIFile,
			Line: line,
			Type: s.debugTypeLocked(f.Type),
		})
	}
	line := 0
	if r.Loc != nil {
		line = r.Loc.Line
	}
	return s.DI.CreateStructType(s.DIFile, llvm.DIStructType{
		Name:     r.Name,
		File:     s.DIFile,
		Line:     line,
		Elements: elements,
	})
}
