// expr.go implements the Expression Emitter: Assign,
// Extract, Insert, TypeProperty, StackAlloc, Ternary and Pipeline. Call and
// the call-or-invoke helper live in call.go since they
// are shared with the try/catch lowerer.
package lower

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// lowerAssign stores Value into Target's storage location.
func (s *Session) lowerAssign(fn llvm.Value, bb llvm.BasicBlock, a sir.Assign) (llvm.Value, llvm.BasicBlock, error) {
	val, cur, err := s.Lower(fn, bb, a.Value)
	if err != nil {
		return llvm.Value{}, cur, err
	}
	ptr, err := s.addressOf(a.Target)
	if err != nil {
		return llvm.Value{}, cur, err
	}
	s.at(fn, cur)
	s.Builder.CreateStore(val, ptr)
	return llvm.Value{}, cur, nil
}

// lowerExtract reads field FieldIndex out of Container. If the container's
// SIR type is a Ref, the contents are loaded through the bitcast pointer
// first.
func (s *Session) lowerExtract(fn llvm.Value, bb llvm.BasicBlock, e sir.Extract) (llvm.Value, llvm.BasicBlock, error) {
	agg, cur, err := s.Lower(fn, bb, e.Container)
	if err != nil {
		return llvm.Value{}, cur, err
	}
	s.at(fn, cur)
	if refTy, ok := containerRefType(e.Container); ok {
		structTy, err := s.LowerType(refTy.Contents)
		if err != nil {
			return llvm.Value{}, cur, err
		}
		ptr := s.Builder.CreateBitCast(agg, llvm.PointerType(structTy, 0), "")
		loaded := s.Builder.CreateLoad(ptr, "")
		return s.Builder.CreateExtractValue(loaded, e.FieldIndex, e.FieldName), cur, nil
	}
	return s.Builder.CreateExtractValue(agg, e.FieldIndex, e.FieldName), cur, nil
}

// lowerInsert computes the same address as lowerExtract, then
// load/insert/store.
func (s *Session) lowerInsert(fn llvm.Value, bb llvm.BasicBlock, in sir.Insert) (llvm.Value, llvm.BasicBlock, error) {
	agg, cur, err := s.Lower(fn, bb, in.Container)
	if err != nil {
		return llvm.Value{}, cur, err
	}
	val, cur2, err := s.Lower(fn, cur, in.Value)
	if err != nil {
		return llvm.Value{}, cur2, err
	}
	s.at(fn, cur2)

	if refTy, ok := containerRefType(in.Container); ok {
		structTy, err := s.LowerType(refTy.Contents)
		if err != nil {
			return llvm.Value{}, cur2, err
		}
		ptr := s.Builder.CreateBitCast(agg, llvm.PointerType(structTy, 0), "")
		loaded := s.Builder.CreateLoad(ptr, "")
		updated := s.Builder.CreateInsertValue(loaded, val, in.FieldIndex, "")
		s.Builder.CreateStore(updated, ptr)
		return updated, cur2, nil
	}
	updated := s.Builder.CreateInsertValue(agg, val, in.FieldIndex, in.FieldName)
	return updated, cur2, nil
}

// containerRefType reports whether a container node's static type (as
// recorded on a VarValue/PointerValue read) is a Ref, and if so returns it.
// Extract/Insert containers are always variable reads or nested
// extracts/calls whose producing Var carries its declared type.
func containerRefType(n sir.Node) (*sir.RefType, bool) {
	switch v := n.(type) {
	case sir.VarValue:
		if r, ok := v.V.Type.(*sir.RefType); ok {
			return r, true
		}
	case sir.PointerValue:
		if r, ok := v.V.Type.(*sir.RefType); ok {
			return r, true
		}
	}
	return nil, false
}

// lowerTypeProperty computes SIZEOF (allocation size as i64) or IS_ATOMIC
// (1-byte boolean of the SIR type's atomicity predicate).
func (s *Session) lowerTypeProperty(fn llvm.Value, bb llvm.BasicBlock, tp sir.TypeProperty) (llvm.Value, llvm.BasicBlock, error) {
	lt, err := s.LowerType(tp.Target)
	if err != nil {
		return llvm.Value{}, bb, err
	}
	s.at(fn, bb)
	switch tp.Kind {
	case sir.Sizeof:
		size := s.sizeOfType(lt)
		return llvm.ConstInt(s.Ctx.Int64Type(), size, false), bb, nil
	case sir.IsAtomic:
		atomic := uint64(0)
		if isAtomicType(tp.Target) {
			atomic = 1
		}
		return llvm.ConstInt(s.Ctx.Int8Type(), atomic, false), bb, nil
	default:
		return llvm.Value{}, bb, fmt.Errorf("lower: unknown type property kind %d", tp.Kind)
	}
}

// isAtomicType reports whether a SIR type's lowered representation holds no
// pointers the GC needs to trace: ints, floats, bools, bytes and
// fixed-width integers are atomic; refs, pointers, generators, optional
// refs, records and functions are not (conservatively; a record is atomic
// only if every field is, but SIR carries no pre-computed flag for that
// here, so records are treated as non-atomic).
func isAtomicType(t sir.Type) bool {
	switch v := t.(type) {
	case sir.IntType, sir.FloatType, sir.BoolType, sir.ByteType, sir.IntNType:
		return true
	case *sir.OptionalType:
		return !sir.IsRef(v.Base) && isAtomicType(v.Base)
	default:
		return false
	}
}

// sizeOfType approximates the allocation size of an LLVM type in bytes.
// A real backend queries this from TargetData against the active target
// machine; exposed as a Session method so callers that already have a
// llvm.TargetData (internal/backend, once the target machine is picked) can
// delegate to it instead.
func (s *Session) sizeOfType(t llvm.Type) uint64 {
	if s.HasTargetData {
		return s.TargetData.ABISizeOfType(t)
	}
	// Fallback used only when no target data is attached yet (e.g. a
	// standalone unit test lowering types outside of a full module build).
	switch t.TypeKind() {
	case llvm.IntegerTypeKind:
		return uint64((t.IntTypeWidth() + 7) / 8)
	case llvm.DoubleTypeKind:
		return 8
	case llvm.PointerTypeKind:
		return 8
	default:
		return 0
	}
}

// lowerStackAlloc produces a {i64 len, T* data} struct value. An alloca
// with a constant count is emitted at the entry block's terminator of the
// current function for LLVM mem2reg friendliness; a dynamic count is
// allocated in place.
func (s *Session) lowerStackAlloc(fn llvm.Value, bb llvm.BasicBlock, sa sir.StackAlloc) (llvm.Value, llvm.BasicBlock, error) {
	elemTy, err := s.LowerType(sa.Elem)
	if err != nil {
		return llvm.Value{}, bb, err
	}
	count, cur, err := s.Lower(fn, bb, sa.Count)
	if err != nil {
		return llvm.Value{}, cur, err
	}

	// Hoisting requires the count to dominate the entry terminator; only
	// constants are guaranteed to. A dynamic count allocates in place.
	var data llvm.Value
	if count.IsConstant() {
		savedBlock := s.Builder.GetInsertBlock()
		s.atEntryInsertion(fn.EntryBasicBlock())
		data = s.Builder.CreateArrayAlloca(elemTy, count, "")
		s.Builder.SetInsertPointAtEnd(savedBlock)
	} else {
		s.at(fn, cur)
		data = s.Builder.CreateArrayAlloca(elemTy, count, "")
	}

	structTy := s.Ctx.StructType([]llvm.Type{s.Ctx.Int64Type(), llvm.PointerType(elemTy, 0)}, false)
	agg := llvm.Undef(structTy)
	s.at(fn, cur)
	agg = s.Builder.CreateInsertValue(agg, count, 0, "")
	agg = s.Builder.CreateInsertValue(agg, data, 1, "")
	return agg, cur, nil
}

// lowerTernary lowers `cond ? true : false` with a PHI on the exit block.
// Each side may change the current block while lowering (e.g. a nested
// if), so the PHI's incoming-block reference must be the block *after*
// lowering each side, never the block planned before lowering it.
func (s *Session) lowerTernary(fn llvm.Value, bb llvm.BasicBlock, t sir.Ternary) (llvm.Value, llvm.BasicBlock, error) {
	cond, cur, err := s.Lower(fn, bb, t.Cond)
	if err != nil {
		return llvm.Value{}, cur, err
	}

	trueBlock := s.newBlock(fn, "ternary.true")
	falseBlock := s.newBlock(fn, "ternary.false")
	exitBlock := s.newBlock(fn, "ternary.exit")

	s.at(fn, cur)
	s.Builder.CreateCondBr(s.truncToBool(cond), trueBlock, falseBlock)

	trueVal, trueEnd, err := s.Lower(fn, trueBlock, t.True)
	if err != nil {
		return llvm.Value{}, trueEnd, err
	}
	if !blockTerminated(trueEnd) {
		s.at(fn, trueEnd)
		s.Builder.CreateBr(exitBlock)
	}

	falseVal, falseEnd, err := s.Lower(fn, falseBlock, t.False)
	if err != nil {
		return llvm.Value{}, falseEnd, err
	}
	if !blockTerminated(falseEnd) {
		s.at(fn, falseEnd)
		s.Builder.CreateBr(exitBlock)
	}

	s.at(fn, exitBlock)
	phi := s.Builder.CreatePHI(trueVal.Type(), "ternary")
	phi.AddIncoming([]llvm.Value{trueVal, falseVal}, []llvm.BasicBlock{trueEnd, falseEnd})
	return phi, exitBlock, nil
}

// lowerPipeline lowers an ordered chain of stages, each a callee applied to
// args with one "hole" slot filled by the previous stage's result.
// Generator-flagged stages pass their callee's result through
// drainGenerator, which pulls exactly one value from the generator.
func (s *Session) lowerPipeline(fn llvm.Value, bb llvm.BasicBlock, p sir.Pipeline) (llvm.Value, llvm.BasicBlock, error) {
	var hole llvm.Value
	cur := bb
	for _, stage := range p.Stages {
		callee, next, err := s.Lower(fn, cur, stage.Callee)
		if err != nil {
			return llvm.Value{}, next, err
		}
		cur = next

		args := make([]llvm.Value, len(stage.Args))
		for i, a := range stage.Args {
			if i == stage.HoleIndex {
				args[i] = hole
				continue
			}
			v, next2, err := s.Lower(fn, cur, a)
			if err != nil {
				return llvm.Value{}, next2, err
			}
			args[i] = v
			cur = next2
		}

		s.at(fn, cur)
		result := s.emitCall(fn, callee, args)
		// emitCall splits the block when it emits an invoke.
		cur = s.Builder.GetInsertBlock()

		if stage.Generator {
			val, next3, err := s.drainGenerator(fn, cur, result)
			if err != nil {
				return llvm.Value{}, next3, err
			}
			hole, cur = val, next3
		} else {
			hole = result
		}
	}
	return hole, cur, nil
}
