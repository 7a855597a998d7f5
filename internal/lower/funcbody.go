// funcbody.go emits one function's executing instructions: allocate stack
// storage for every parameter and local up front in the entry block, then
// lower the body. Generator functions get the coroutine prologue/epilogue
// instead of a plain entry block.
package lower

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// LowerFuncBody emits fn's body. fn must already be registered (its
// declaration materialized by RegisterFunc).
func (s *Session) LowerFuncBody(fn llvm.Value, f *sir.Func) error {
	if f.Kind != sir.Bodied {
		return nil
	}

	entry := s.newBlock(fn, "entry")
	s.at(fn, entry)

	// Allocate parameters.
	for i, p := range f.Params {
		pt, err := s.LowerType(p.Type)
		if err != nil {
			return fmt.Errorf("lower: func %q param %q: %w", f.Name, p.Name, err)
		}
		alloc := s.Builder.CreateAlloca(pt, p.Name)
		s.Builder.CreateStore(fn.Param(i), alloc)
		s.mu.Lock()
		s.vars[p.ID] = alloc
		s.mu.Unlock()
	}
	for _, l := range f.Locals {
		lt, err := s.LowerType(l.Type)
		if err != nil {
			return fmt.Errorf("lower: func %q local %q: %w", f.Name, l.Name, err)
		}
		alloc := s.Builder.CreateAlloca(lt, l.Name)
		s.mu.Lock()
		s.vars[l.ID] = alloc
		s.mu.Unlock()
	}

	isGenerator := false
	var gt *sir.GeneratorType
	if g, ok := f.Type.(*sir.GeneratorType); ok {
		isGenerator = true
		gt = g
	}

	if isGenerator {
		coro, err := s.emitCoroPrologue(fn, gt)
		if err != nil {
			return err
		}
		s.curCoro = coro
		defer func() { s.curCoro = nil }()

		bodyBlock := s.newBlock(fn, "coro.bodystart")
		s.Builder.SetInsertPointAtEnd(coro.afterInitialSuspend)
		s.Builder.CreateBr(bodyBlock)

		_, cur, err := s.Lower(fn, bodyBlock, f.Body)
		if err != nil {
			return err
		}
		if !blockTerminated(cur) {
			s.at(fn, cur)
			s.Builder.CreateBr(coro.exit)
		}
		return nil
	}

	_, cur, err := s.Lower(fn, entry, f.Body)
	if err != nil {
		return err
	}
	if !blockTerminated(cur) {
		s.at(fn, cur)
		retType := fn.Type().ElementType().ReturnType()
		if retType.TypeKind() == llvm.VoidTypeKind {
			s.Builder.CreateRetVoid()
		} else {
			s.Builder.CreateRet(llvm.ConstNull(retType))
		}
	}
	return nil
}

// blockTerminated reports whether bb already ends in a terminator
// instruction, so callers don't double-terminate a block that a nested
// lowering routine (e.g. a try's finally, or an if where both branches
// returned) already closed off.
func blockTerminated(bb llvm.BasicBlock) bool {
	last := bb.LastInstruction()
	if last.IsNil() {
		return false
	}
	switch last.InstructionOpcode() {
	case llvm.Ret, llvm.Br, llvm.Switch, llvm.IndirectBr, llvm.Invoke, llvm.Unreachable, llvm.Resume:
		return true
	default:
		return false
	}
}
