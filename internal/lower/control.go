// control.go implements the Control-Flow Lowerer: If, While, For,
// ImperativeFor, and the loop-stack-aware Break/Continue/Return lowering
// that interacts with an active try-frame's state machine. Every lowering
// function returns the block control now resides in instead of mutating a
// shared cursor field.
package lower

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/runtime"
	"sirlower/internal/sir"
)

// lowerIf lowers a conditional with one trueBlock, one falseBlock, and one
// exitBlock. Missing branches default to an empty basic block that jumps
// straight to exit.
func (s *Session) lowerIf(fn llvm.Value, bb llvm.BasicBlock, n sir.If) (llvm.Value, llvm.BasicBlock, error) {
	trueBlock := s.newBlock(fn, "if.true")
	falseBlock := s.newBlock(fn, "if.false")
	exitBlock := s.newBlock(fn, "if.exit")

	cond, cur, err := s.Lower(fn, bb, n.Cond)
	if err != nil {
		return llvm.Value{}, cur, err
	}
	s.at(fn, cur)
	cond = s.truncToBool(cond)
	s.Builder.CreateCondBr(cond, trueBlock, falseBlock)

	trueEnd, err := s.lowerBranch(fn, trueBlock, n.True)
	if err != nil {
		return llvm.Value{}, trueEnd, err
	}
	if !blockTerminated(trueEnd) {
		s.at(fn, trueEnd)
		s.Builder.CreateBr(exitBlock)
	}

	falseEnd, err := s.lowerBranch(fn, falseBlock, n.False)
	if err != nil {
		return llvm.Value{}, falseEnd, err
	}
	if !blockTerminated(falseEnd) {
		s.at(fn, falseEnd)
		s.Builder.CreateBr(exitBlock)
	}

	return llvm.Value{}, exitBlock, nil
}

// lowerBranch lowers an optional branch node (nil means "empty"), returning
// the block execution resides in afterward.
func (s *Session) lowerBranch(fn llvm.Value, bb llvm.BasicBlock, n sir.Node) (llvm.BasicBlock, error) {
	if n == nil {
		return bb, nil
	}
	_, cur, err := s.Lower(fn, bb, n)
	return cur, err
}

// truncToBool narrows a byte-sized boolean value to i1 for use as a
// branch condition. Bool is 8 bits wide everywhere else in the lowered
// program; only branch conditions need the narrow form.
func (s *Session) truncToBool(v llvm.Value) llvm.Value {
	if v.Type().TypeKind() == llvm.IntegerTypeKind && v.Type().IntTypeWidth() == 1 {
		return v
	}
	return s.Builder.CreateTrunc(v, s.Ctx.Int1Type(), "")
}

// lowerWhile lowers a pre-tested loop: condBlock/bodyBlock/exitBlock, body
// under a pushed loop frame {break=exit, continue=cond}.
func (s *Session) lowerWhile(fn llvm.Value, bb llvm.BasicBlock, n sir.While) (llvm.Value, llvm.BasicBlock, error) {
	condBlock := s.newBlock(fn, "while.cond")
	bodyBlock := s.newBlock(fn, "while.body")
	exitBlock := s.newBlock(fn, "while.exit")

	s.at(fn, bb)
	s.Builder.CreateBr(condBlock)

	cond, condCur, err := s.Lower(fn, condBlock, n.Cond)
	if err != nil {
		return llvm.Value{}, condCur, err
	}
	s.at(fn, condCur)
	s.Builder.CreateCondBr(s.truncToBool(cond), bodyBlock, exitBlock)

	s.pushLoop(n.Loop, exitBlock, condBlock)
	_, bodyCur, err := s.Lower(fn, bodyBlock, n.Body)
	s.popLoop()
	if err != nil {
		return llvm.Value{}, bodyCur, err
	}
	if !blockTerminated(bodyCur) {
		s.at(fn, bodyCur)
		s.Builder.CreateBr(condBlock)
	}

	return llvm.Value{}, exitBlock, nil
}

// lowerFor drives a generator-typed iterable through the coroutine
// intrinsic protocol: coro.resume, coro.done test, coro.promise extraction into
// LoopVar, body, loop; cleanup calls coro.destroy.
func (s *Session) lowerFor(fn llvm.Value, bb llvm.BasicBlock, n sir.For) (llvm.Value, llvm.BasicBlock, error) {
	condBlock := s.newBlock(fn, "for.cond")
	bodyBlock := s.newBlock(fn, "for.body")
	cleanupBlock := s.newBlock(fn, "for.cleanup")
	exitBlock := s.newBlock(fn, "for.exit")

	iter, cur, err := s.Lower(fn, bb, n.Iterable)
	if err != nil {
		return llvm.Value{}, cur, err
	}
	s.at(fn, cur)
	s.Builder.CreateBr(condBlock)

	s.at(fn, condBlock)
	resumeFn, err := s.declareCoroIntrinsic("llvm.coro.resume", llvm.FunctionType(s.Ctx.VoidType(), []llvm.Type{s.bytePtr()}, false))
	if err != nil {
		return llvm.Value{}, condBlock, err
	}
	s.Builder.CreateCall(resumeFn, []llvm.Value{iter}, "")
	doneFn, err := s.declareCoroIntrinsic("llvm.coro.done", llvm.FunctionType(s.Ctx.Int1Type(), []llvm.Type{s.bytePtr()}, false))
	if err != nil {
		return llvm.Value{}, condBlock, err
	}
	done := s.Builder.CreateCall(doneFn, []llvm.Value{iter}, "for.done")
	s.Builder.CreateCondBr(done, cleanupBlock, bodyBlock)

	loopVarType, err := s.LowerType(n.LoopVar.Type)
	if err != nil {
		return llvm.Value{}, bodyBlock, err
	}
	if loopVarType.TypeKind() != llvm.VoidTypeKind {
		s.at(fn, bodyBlock)
		promiseFn, err := s.declareCoroIntrinsic("llvm.coro.promise", llvm.FunctionType(s.bytePtr(), []llvm.Type{s.bytePtr(), s.Ctx.Int32Type(), s.Ctx.Int1Type()}, false))
		if err != nil {
			return llvm.Value{}, bodyBlock, err
		}
		align := s.prefAlign(loopVarType)
		promise := s.Builder.CreateCall(promiseFn, []llvm.Value{
			iter,
			llvm.ConstInt(s.Ctx.Int32Type(), align, false),
			llvm.ConstInt(s.Ctx.Int1Type(), 0, false),
		}, "for.promise")
		casted := s.Builder.CreateBitCast(promise, llvm.PointerType(loopVarType, 0), "")
		generated := s.Builder.CreateLoad(casted, "")
		loopVarPtr, err := s.addressOf(n.LoopVar)
		if err != nil {
			return llvm.Value{}, bodyBlock, err
		}
		s.Builder.CreateStore(generated, loopVarPtr)
	}

	s.pushLoop(n.Loop, exitBlock, condBlock)
	_, bodyCur, err := s.Lower(fn, bodyBlock, n.Body)
	s.popLoop()
	if err != nil {
		return llvm.Value{}, bodyCur, err
	}
	if !blockTerminated(bodyCur) {
		s.at(fn, bodyCur)
		s.Builder.CreateBr(condBlock)
	}

	s.at(fn, cleanupBlock)
	destroyFn, err := s.declareCoroIntrinsic("llvm.coro.destroy", llvm.FunctionType(s.Ctx.VoidType(), []llvm.Type{s.bytePtr()}, false))
	if err != nil {
		return llvm.Value{}, cleanupBlock, err
	}
	s.Builder.CreateCall(destroyFn, []llvm.Value{iter}, "")
	s.Builder.CreateBr(exitBlock)

	return llvm.Value{}, exitBlock, nil
}

// lowerImperativeFor emits a classic counted loop: start, compare against
// end with a direction-dependent comparison (>= for positive step, <= for
// negative), body, then a step update. Step == 0 is an
// invariant violation, not a silently infinite loop.
func (s *Session) lowerImperativeFor(fn llvm.Value, bb llvm.BasicBlock, n sir.ImperativeFor) (llvm.Value, llvm.BasicBlock, error) {
	condBlock := s.newBlock(fn, "imp_for.cond")
	bodyBlock := s.newBlock(fn, "imp_for.body")
	updateBlock := s.newBlock(fn, "imp_for.update")
	exitBlock := s.newBlock(fn, "imp_for.exit")

	loopVarPtr, err := s.addressOf(n.LoopVar)
	if err != nil {
		return llvm.Value{}, bb, err
	}

	start, cur, err := s.Lower(fn, bb, n.Start)
	if err != nil {
		return llvm.Value{}, cur, err
	}
	s.at(fn, cur)
	s.Builder.CreateStore(start, loopVarPtr)

	end, endCur, err := s.Lower(fn, cur, n.End)
	if err != nil {
		return llvm.Value{}, endCur, err
	}

	step, err := s.stepConst(n.Step)
	if err != nil {
		return llvm.Value{}, endCur, err
	}

	s.at(fn, endCur)
	s.Builder.CreateBr(condBlock)

	s.at(fn, condBlock)
	cur2 := s.Builder.CreateLoad(loopVarPtr, "")
	var done llvm.Value
	if step > 0 {
		done = s.Builder.CreateICmp(llvm.IntSGE, cur2, end, "")
	} else {
		done = s.Builder.CreateICmp(llvm.IntSLE, cur2, end, "")
	}
	s.Builder.CreateCondBr(done, exitBlock, bodyBlock)

	s.pushLoop(n.Loop, exitBlock, updateBlock)
	_, bodyCur, err := s.Lower(fn, bodyBlock, n.Body)
	s.popLoop()
	if err != nil {
		return llvm.Value{}, bodyCur, err
	}
	if !blockTerminated(bodyCur) {
		s.at(fn, bodyCur)
		s.Builder.CreateBr(updateBlock)
	}

	s.at(fn, updateBlock)
	loaded := s.Builder.CreateLoad(loopVarPtr, "")
	updated := s.Builder.CreateAdd(loaded, llvm.ConstInt(s.Ctx.Int64Type(), uint64(step), true), "")
	s.Builder.CreateStore(updated, loopVarPtr)
	s.Builder.CreateBr(condBlock)

	return llvm.Value{}, exitBlock, nil
}

// stepConst extracts a compile-time step value. SIR feeds ImperativeFor a
// constant step, so this is an invariant
// violation, not an ordinary lowering error, if it isn't one.
func (s *Session) stepConst(n sir.Node) (int64, error) {
	ic, ok := n.(sir.IntConst)
	if !ok {
		return 0, fmt.Errorf("lower: ImperativeFor step must be a constant, got %T", n)
	}
	if ic.Value == 0 {
		return 0, fmt.Errorf("lower: ImperativeFor step cannot be 0")
	}
	return ic.Value, nil
}

// pushLoop pushes a new LoopFrame carrying the session's next monotonic
// sequence number.
func (s *Session) pushLoop(loop *sir.Loop, breakBlock, continueBlock llvm.BasicBlock) *LoopFrame {
	seq := s.seq.Next()
	if loop != nil {
		loop.Seq = seq
	}
	f := &LoopFrame{Break: breakBlock, Continue: continueBlock, Seq: seq, Loop: loop}
	s.loopStack.Push(f)
	return f
}

// popLoop pops the innermost loop frame.
func (s *Session) popLoop() {
	s.loopStack.Pop()
}

// resolveLoop finds the LoopFrame a Break/Continue targets: the named loop
// if given, else the innermost one.
func (s *Session) resolveLoop(loop *sir.Loop) (*LoopFrame, bool) {
	if loop == nil {
		return s.loopStack.Peek()
	}
	var found *LoopFrame
	s.loopStack.Each(func(f *LoopFrame) {
		if f.Loop == loop {
			found = f
		}
	})
	return found, found != nil
}

// lowerBreak routes to the target loop's break block directly when no
// try-frame lies between the break site and the loop; otherwise it stores
// BREAK/the loop's sequence number into the root try-frame's cells and
// branches to the innermost finally.
func (s *Session) lowerBreak(fn llvm.Value, bb llvm.BasicBlock, n sir.Break) (llvm.Value, llvm.BasicBlock, error) {
	return s.lowerLoopExit(fn, bb, n.Loop, BreakFlag, "break.new")
}

// lowerContinue is lowerBreak's mirror image targeting Continue blocks.
func (s *Session) lowerContinue(fn llvm.Value, bb llvm.BasicBlock, n sir.Continue) (llvm.Value, llvm.BasicBlock, error) {
	return s.lowerLoopExit(fn, bb, n.Loop, ContinueFlag, "continue.new")
}

func (s *Session) lowerLoopExit(fn llvm.Value, bb llvm.BasicBlock, loopRef *sir.Loop, flag ExcFlag, newBlockName string) (llvm.Value, llvm.BasicBlock, error) {
	loop, ok := s.resolveLoop(loopRef)
	if !ok {
		return llvm.Value{}, bb, fmt.Errorf("lower: break/continue outside of a loop")
	}
	s.at(fn, bb)

	top, hasTry := s.tryStack.Peek()
	target := loop.Break
	if flag == ContinueFlag {
		target = loop.Continue
	}

	if !hasTry || top.Seq < loop.Seq {
		s.Builder.CreateBr(target)
	} else {
		s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int8Type(), uint64(flag), false), top.Root.ExcFlagCell)
		s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int64Type(), uint64(loop.Seq), true), top.Root.LoopSeqCell)
		s.Builder.CreateBr(top.Finally)
	}

	return llvm.Value{}, s.newBlock(fn, newBlockName), nil
}

// lowerReturn inside a coroutine routes through the generator's finally/exit
// machinery; inside a try it stores RETURN (and the value, if any) and
// branches to finally; otherwise it emits a direct ret.
func (s *Session) lowerReturn(fn llvm.Value, bb llvm.BasicBlock, n sir.Return) (llvm.Value, llvm.BasicBlock, error) {
	var val llvm.Value
	cur := bb
	if n.Value != nil {
		v, next, err := s.Lower(fn, bb, n.Value)
		if err != nil {
			return llvm.Value{}, next, err
		}
		val, cur = v, next
	}
	s.at(fn, cur)

	top, hasTry := s.tryStack.Peek()

	if s.curCoro != nil {
		if hasTry {
			s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int8Type(), uint64(RetFlag), false), top.Root.ExcFlagCell)
			s.Builder.CreateBr(top.Finally)
		} else {
			s.Builder.CreateBr(s.curCoro.exit)
		}
		return llvm.Value{}, s.newBlock(fn, "return.new"), nil
	}

	if hasTry {
		s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int8Type(), uint64(RetFlag), false), top.Root.ExcFlagCell)
		if !top.Root.RetStoreCell.IsNil() {
			s.Builder.CreateStore(val, top.Root.RetStoreCell)
		}
		s.Builder.CreateBr(top.Finally)
		return llvm.Value{}, s.newBlock(fn, "return.new"), nil
	}

	if n.Value != nil {
		s.Builder.CreateRet(val)
	} else {
		s.Builder.CreateRetVoid()
	}
	return llvm.Value{}, s.newBlock(fn, "return.new"), nil
}

// lowerThrow allocates an exception header via seq_alloc_exc(typeIdx, obj)
// and calls seq_throw on it.
func (s *Session) lowerThrow(fn llvm.Value, bb llvm.BasicBlock, n sir.Throw) (llvm.Value, llvm.BasicBlock, error) {
	val, cur, err := s.Lower(fn, bb, n.Value)
	if err != nil {
		return llvm.Value{}, cur, err
	}
	s.at(fn, cur)

	typeName := throwTypeName(n.Value)
	idx := s.typeIndex.IndexFor(typeName)

	allocFn := s.runtimeFunc(runtime.SeqAllocExc, llvm.FunctionType(s.bytePtr(), []llvm.Type{s.Ctx.Int32Type(), s.bytePtr()}, false))
	objPtr := s.Builder.CreateBitCast(val, s.bytePtr(), "")
	exc := s.emitCall(fn, allocFn, []llvm.Value{
		llvm.ConstInt(s.Ctx.Int32Type(), uint64(idx), false),
		objPtr,
	})
	cur = s.Builder.GetInsertBlock()

	throwFn := s.runtimeFunc(runtime.SeqThrow, llvm.FunctionType(s.Ctx.VoidType(), []llvm.Type{s.bytePtr()}, false))
	s.at(fn, cur)
	s.emitCall(fn, throwFn, []llvm.Value{exc})
	return llvm.Value{}, s.Builder.GetInsertBlock(), nil
}

// throwTypeName resolves the catch-type name a thrown value corresponds to;
// SIR always throws a Ref-typed value so the record's own name identifies
// the exception's type for the type-index table.
func throwTypeName(n sir.Node) string {
	switch v := n.(type) {
	case sir.VarValue:
		if r, ok := v.V.Type.(*sir.RefType); ok {
			return r.Contents.Name
		}
	case sir.PointerValue:
		if r, ok := v.V.Type.(*sir.RefType); ok {
			return r.Contents.Name
		}
	}
	return ""
}

// bytePtr is the opaque i8* used throughout for Ref/Generator/coroutine
// handle representations.
func (s *Session) bytePtr() llvm.Type {
	return llvm.PointerType(s.Ctx.Int8Type(), 0)
}

// prefAlign returns t's preferred alignment in bytes, falling back to a
// pointer-sized guess when no TargetData is attached yet (mirrors
// sizeOfType's fallback discipline in expr.go).
func (s *Session) prefAlign(t llvm.Type) uint64 {
	if s.HasTargetData {
		return uint64(s.TargetData.PrefTypeAlignment(t))
	}
	return 8
}
