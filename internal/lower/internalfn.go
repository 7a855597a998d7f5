// internalfn.go implements the Internal Function Synthesizer: the
// pattern-matching table that fabricates a body for Funcs whose Kind is
// Internal. The fixed pattern set (Pointer.__new__, Int.__new__(IntN),
// IntN.__new__(Int), Ref.__new__, Generator.__promise__, Record.__new__)
// covers every builtin the front end can emit without a SIR body.
package lower

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/runtime"
	"sirlower/internal/sir"
)

// LowerInternalFunc synthesizes fn's body from f.Pattern. fn must already be
// registered (RegisterFunc called).
func (s *Session) LowerInternalFunc(fn llvm.Value, f *sir.Func) error {
	if f.Kind != sir.Internal {
		return nil
	}
	entry := s.newBlock(fn, "entry")
	s.at(fn, entry)
	fn.AddAttributeAtIndex(llvm.AttributeFunctionIndex, s.enumAttr("alwaysinline"))

	switch f.Pattern {
	case PatternPointerNew:
		return s.synthPointerNew(fn, f)
	case PatternIntFromIntN:
		return s.synthIntFromIntN(fn, f)
	case PatternIntNFromInt:
		return s.synthIntNFromInt(fn, f)
	case PatternRefNew:
		return s.synthRefNew(fn, f)
	case PatternGeneratorPromise:
		return s.synthGeneratorPromise(fn, f)
	case PatternRecordNew:
		return s.synthRecordNew(fn, f)
	default:
		return fmt.Errorf("lower: internal func %q: unrecognized pattern %d", f.Name, f.Pattern)
	}
}

// synthPointerNew builds Pointer<T>.__new__(count) -> T*: allocates
// count*sizeof(T) bytes via seq_alloc_atomic (a raw Pointer<T> buffer is
// only ever traced through its owning Ref, so the atomic allocator is
// safe here) and bitcasts the result.
func (s *Session) synthPointerNew(fn llvm.Value, f *sir.Func) error {
	elemPtrType, ok := f.Type.(*sir.PointerType)
	if !ok {
		return fmt.Errorf("lower: %q: Pointer.__new__ must return a Pointer type", f.Name)
	}
	elemType, err := s.LowerType(elemPtrType.Base)
	if err != nil {
		return err
	}
	count := fn.Param(0)
	size := llvm.ConstInt(s.Ctx.Int64Type(), s.sizeOfType(elemType), false)
	bytes := s.Builder.CreateMul(count, size, "")

	allocFn := s.runtimeFunc(runtime.SeqAllocAtomic, llvm.FunctionType(s.bytePtr(), []llvm.Type{s.Ctx.Int64Type()}, false))
	raw := s.Builder.CreateCall(allocFn, []llvm.Value{bytes}, "")
	result := s.Builder.CreateBitCast(raw, llvm.PointerType(elemType, 0), "")
	s.Builder.CreateRet(result)
	return nil
}

// synthIntFromIntN builds IntN.__new__-the-other-way: Int.__new__(i)
// converts a fixed-width integer to the canonical 64-bit Int, sign- or
// zero-extending narrower sources per their signedness and truncating
// sources wider than 64 bits.
func (s *Session) synthIntFromIntN(fn llvm.Value, f *sir.Func) error {
	if len(f.Params) != 1 {
		return fmt.Errorf("lower: %q: Int.__new__(IntN) takes exactly one argument", f.Name)
	}
	srcType, ok := f.Params[0].Type.(sir.IntNType)
	if !ok {
		return fmt.Errorf("lower: %q: argument must be an IntN", f.Name)
	}
	arg := fn.Param(0)
	var result llvm.Value
	switch {
	case srcType.Bits > 64:
		result = s.Builder.CreateTrunc(arg, s.Ctx.Int64Type(), "")
	case srcType.Bits == 64:
		result = arg
	case srcType.Signed:
		result = s.Builder.CreateSExt(arg, s.Ctx.Int64Type(), "")
	default:
		result = s.Builder.CreateZExt(arg, s.Ctx.Int64Type(), "")
	}
	s.Builder.CreateRet(result)
	return nil
}

// synthIntNFromInt builds IntN.__new__(Int): converts the canonical 64-bit
// Int to a fixed-width integer, truncating narrower targets and
// sign-extending wider ones (Int is signed).
func (s *Session) synthIntNFromInt(fn llvm.Value, f *sir.Func) error {
	dstType, ok := f.Type.(sir.IntNType)
	if !ok {
		return fmt.Errorf("lower: %q: IntN.__new__(Int) must return an IntN", f.Name)
	}
	arg := fn.Param(0)
	target := s.Ctx.IntType(dstType.Bits)
	var result llvm.Value
	switch {
	case dstType.Bits < 64:
		result = s.Builder.CreateTrunc(arg, target, "")
	case dstType.Bits == 64:
		result = arg
	default:
		result = s.Builder.CreateSExt(arg, target, "")
	}
	s.Builder.CreateRet(result)
	return nil
}

// synthRefNew builds Ref.__new__(): allocates the contents struct via
// seq_alloc (not atomic: a record generally holds pointers the GC must
// trace) and returns the opaque i8* handle.
func (s *Session) synthRefNew(fn llvm.Value, f *sir.Func) error {
	refType, ok := f.Type.(*sir.RefType)
	if !ok {
		return fmt.Errorf("lower: %q: Ref.__new__ must return a Ref type", f.Name)
	}
	contentsType, err := s.LowerType(refType.Contents)
	if err != nil {
		return err
	}
	size := llvm.ConstInt(s.Ctx.Int64Type(), s.sizeOfType(contentsType), false)
	allocFn := s.runtimeFunc(runtime.SeqAlloc, llvm.FunctionType(s.bytePtr(), []llvm.Type{s.Ctx.Int64Type()}, false))
	raw := s.Builder.CreateCall(allocFn, []llvm.Value{size}, "")
	s.Builder.CreateRet(raw)
	return nil
}

// synthGeneratorPromise builds Generator.__promise__(handle): recovers the
// promise slot of a live coroutine handle via llvm.coro.promise and
// returns it as a T*. A Void promise has no slot; the pattern returns a
// null pointer instead.
func (s *Session) synthGeneratorPromise(fn llvm.Value, f *sir.Func) error {
	pt, ok := f.Type.(*sir.PointerType)
	if !ok {
		return fmt.Errorf("lower: %q: Generator.__promise__ must return a Pointer type", f.Name)
	}
	retType, err := s.LowerType(pt)
	if err != nil {
		return err
	}
	if _, isVoid := pt.Base.(sir.VoidType); isVoid {
		s.Builder.CreateRet(llvm.ConstPointerNull(retType))
		return nil
	}

	handle := fn.Param(0)
	promiseFn, err := s.declareCoroIntrinsic("llvm.coro.promise", llvm.FunctionType(s.bytePtr(), []llvm.Type{s.bytePtr(), s.Ctx.Int32Type(), s.Ctx.Int1Type()}, false))
	if err != nil {
		return err
	}
	promisePtr := s.Builder.CreateCall(promiseFn, []llvm.Value{
		handle,
		llvm.ConstInt(s.Ctx.Int32Type(), coroPromiseAlign, false),
		llvm.ConstInt(s.Ctx.Int1Type(), 0, false),
	}, "")
	s.Builder.CreateRet(s.Builder.CreateBitCast(promisePtr, retType, ""))
	return nil
}

// synthRecordNew builds Record.__new__(fields...): packs each parameter
// into the corresponding field of the returned record's struct value via a
// chain of insertvalue instructions, undef-seeded.
func (s *Session) synthRecordNew(fn llvm.Value, f *sir.Func) error {
	recType, ok := f.Type.(*sir.RecordType)
	if !ok {
		return fmt.Errorf("lower: %q: Record.__new__ must return a Record type", f.Name)
	}
	structTy, err := s.LowerType(recType)
	if err != nil {
		return err
	}
	agg := llvm.Undef(structTy)
	for i := range f.Params {
		agg = s.Builder.CreateInsertValue(agg, fn.Param(i), i, "")
	}
	s.Builder.CreateRet(agg)
	return nil
}
