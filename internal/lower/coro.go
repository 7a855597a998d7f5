// coro.go implements the Coroutine/Generator Lowerer: the
// eight-step coroutine prologue every generator-typed function gets instead
// of a plain entry block, plus Yield/YieldIn. Follows LLVM's documented
// coroutine lowering contract (llvm.coro.id/alloc/begin/suspend/end),
// with frames allocated through the seq_alloc runtime hook so the GC owns
// the coroutine frame.
package lower

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/runtime"
	"sirlower/internal/sir"
)

// coroPromiseAlign is the byte alignment passed to llvm.coro.promise by
// drainGenerator and synthGeneratorPromise; lowerFor passes the loop
// variable type's preferred alignment instead.
const coroPromiseAlign = 8

// CoroContext tracks the handles and blocks a generator function's body
// needs to reach across Yield/YieldIn/Return lowering.
type CoroContext struct {
	id      llvm.Value // token from llvm.coro.id
	handle  llvm.Value // i8* from llvm.coro.begin
	promise llvm.Value // alloca backing the generator's yielded value

	suspendBlock        llvm.BasicBlock // target of every non-final llvm.coro.suspend
	afterInitialSuspend llvm.BasicBlock // where the body starts running
	exit                llvm.BasicBlock // final suspend: body branches here to finish
	cleanup             llvm.BasicBlock // frees the frame, falls into suspendBlock's end state
	suspendCleanup      llvm.BasicBlock // switch destination shared by every coro.suspend
}

// declareCoroIntrinsic returns the module's declaration of an
// llvm.coro.* (or llvm.coro.suspend etc.) intrinsic, declaring it with
// fnType on first use. Intrinsics are always external and nounwind.
func (s *Session) declareCoroIntrinsic(name string, fnType llvm.Type) (llvm.Value, error) {
	if existing := s.Module.NamedFunction(name); !existing.IsNil() {
		return existing, nil
	}
	fn := llvm.AddFunction(s.Module, name, fnType)
	fn.SetLinkage(llvm.ExternalLinkage)
	return fn, nil
}

// emitCoroPrologue builds the eight-step coroutine prologue at the start of
// a generator function's entry block:
//  1. coro.id with a null promise/fn/fn placeholder
//  2. coro.alloc test, skipping allocation if the optimizer proved it unneeded
//  3. coro.size to learn the frame's byte size
//  4. seq_alloc the frame so the GC owns it
//  5. coro.begin to obtain the opaque handle
//  6. a promise alloca sized to the generator's yielded type
//  7. the initial llvm.coro.suspend, switched to {suspend, resume, cleanup}
//  8. a shared cleanup block that seq_free's the frame (if
//     Opts.PreciseCoroFree) before falling into the final coro.end
func (s *Session) emitCoroPrologue(fn llvm.Value, gt *sir.GeneratorType) (*CoroContext, error) {
	entry := fn.EntryBasicBlock()
	s.at(fn, entry)

	bytePtr := s.bytePtr()
	nullPtr := llvm.ConstNull(bytePtr)

	idFn, err := s.declareCoroIntrinsic("llvm.coro.id", llvm.FunctionType(s.Ctx.TokenType(), []llvm.Type{s.Ctx.Int32Type(), bytePtr, bytePtr, bytePtr}, false))
	if err != nil {
		return nil, err
	}
	id := s.Builder.CreateCall(idFn, []llvm.Value{
		llvm.ConstInt(s.Ctx.Int32Type(), 0, false),
		nullPtr, nullPtr, nullPtr,
	}, "coro.id")

	allocFn, err := s.declareCoroIntrinsic("llvm.coro.alloc", llvm.FunctionType(s.Ctx.Int1Type(), []llvm.Type{s.Ctx.TokenType()}, false))
	if err != nil {
		return nil, err
	}
	needAlloc := s.Builder.CreateCall(allocFn, []llvm.Value{id}, "coro.needalloc")

	allocBlock := s.newBlock(fn, "coro.alloc")
	beginBlock := s.newBlock(fn, "coro.begin")
	s.Builder.CreateCondBr(needAlloc, allocBlock, beginBlock)

	s.at(fn, allocBlock)
	sizeFn, err := s.declareCoroIntrinsic("llvm.coro.size.i64", llvm.FunctionType(s.Ctx.Int64Type(), nil, false))
	if err != nil {
		return nil, err
	}
	size := s.Builder.CreateCall(sizeFn, nil, "coro.size")
	seqAlloc := s.runtimeFunc(runtime.SeqAlloc, llvm.FunctionType(bytePtr, []llvm.Type{s.Ctx.Int64Type()}, false))
	frameAlloc := s.Builder.CreateCall(seqAlloc, []llvm.Value{size}, "coro.frame")
	s.Builder.CreateBr(beginBlock)

	s.at(fn, beginBlock)
	framePhi := s.Builder.CreatePHI(bytePtr, "coro.frame.phi")
	framePhi.AddIncoming([]llvm.Value{frameAlloc, nullPtr}, []llvm.BasicBlock{allocBlock, entry})

	beginFn, err := s.declareCoroIntrinsic("llvm.coro.begin", llvm.FunctionType(bytePtr, []llvm.Type{s.Ctx.TokenType(), bytePtr}, false))
	if err != nil {
		return nil, err
	}
	handle := s.Builder.CreateCall(beginFn, []llvm.Value{id, framePhi}, "coro.handle")

	promiseTy, err := s.LowerType(gt.Base)
	if err != nil {
		return nil, fmt.Errorf("lower: generator promise type: %w", err)
	}
	var promise llvm.Value
	if promiseTy.TypeKind() != llvm.VoidTypeKind {
		promise = s.Builder.CreateAlloca(promiseTy, "coro.promise")
	}

	cleanup := s.newBlock(fn, "coro.cleanup")
	suspendCleanup := s.newBlock(fn, "coro.suspend")
	exit := s.newBlock(fn, "coro.exit")
	afterInitialSuspend := s.newBlock(fn, "coro.initial_suspend.resume")

	suspendFn, err := s.declareCoroIntrinsic("llvm.coro.suspend", llvm.FunctionType(s.Ctx.Int8Type(), []llvm.Type{s.Ctx.TokenType(), s.Ctx.Int1Type()}, false))
	if err != nil {
		return nil, err
	}
	noneToken := llvm.ConstNull(s.Ctx.TokenType())
	initSuspend := s.Builder.CreateCall(suspendFn, []llvm.Value{noneToken, llvm.ConstInt(s.Ctx.Int1Type(), 0, false)}, "coro.initial_suspend")
	sw := s.Builder.CreateSwitch(initSuspend, suspendCleanup, 2)
	sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), 0, false), afterInitialSuspend)
	sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), 1, false), cleanup)

	s.at(fn, cleanup)
	freeFn, err := s.declareCoroIntrinsic("llvm.coro.free", llvm.FunctionType(bytePtr, []llvm.Type{s.Ctx.TokenType(), bytePtr}, false))
	if err != nil {
		return nil, err
	}
	mem := s.Builder.CreateCall(freeFn, []llvm.Value{id, handle}, "coro.mem")
	if s.Opts.PreciseCoroFree {
		seqFree := s.runtimeFunc(runtime.SeqFree, llvm.FunctionType(s.Ctx.VoidType(), []llvm.Type{bytePtr}, false))
		s.Builder.CreateCall(seqFree, []llvm.Value{mem}, "")
	}
	s.Builder.CreateBr(suspendCleanup)

	s.at(fn, suspendCleanup)
	endFn, err := s.declareCoroIntrinsic("llvm.coro.end", llvm.FunctionType(s.Ctx.Int1Type(), []llvm.Type{bytePtr, s.Ctx.Int1Type()}, false))
	if err != nil {
		return nil, err
	}
	s.Builder.CreateCall(endFn, []llvm.Value{handle, llvm.ConstInt(s.Ctx.Int1Type(), 0, false)}, "")
	retType := fn.Type().ElementType().ReturnType()
	if retType.TypeKind() == llvm.VoidTypeKind {
		s.Builder.CreateRetVoid()
	} else {
		s.Builder.CreateRet(handle)
	}

	s.at(fn, exit)
	finalSuspend := s.Builder.CreateCall(suspendFn, []llvm.Value{noneToken, llvm.ConstInt(s.Ctx.Int1Type(), 1, false)}, "coro.final_suspend")
	swFinal := s.Builder.CreateSwitch(finalSuspend, suspendCleanup, 1)
	swFinal.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), 1, false), cleanup)

	return &CoroContext{
		id:                   id,
		handle:               handle,
		promise:              promise,
		suspendBlock:         suspendCleanup,
		afterInitialSuspend:  afterInitialSuspend,
		exit:                 exit,
		cleanup:              cleanup,
		suspendCleanup:       suspendCleanup,
	}, nil
}

// lowerYield stores Value (if any) into the generator's promise slot, then
// suspends: a normal yield resumes at a fresh block; Final routes straight
// to the coroutine's exit instead of creating a resume point.
func (s *Session) lowerYield(fn llvm.Value, bb llvm.BasicBlock, y sir.Yield) (llvm.Value, llvm.BasicBlock, error) {
	if s.curCoro == nil {
		return llvm.Value{}, bb, fmt.Errorf("lower: yield outside of a generator function")
	}
	cur := bb
	if y.Value != nil && !s.curCoro.promise.IsNil() {
		val, next, err := s.Lower(fn, bb, y.Value)
		if err != nil {
			return llvm.Value{}, next, err
		}
		s.at(fn, next)
		s.Builder.CreateStore(val, s.curCoro.promise)
		cur = next
	}

	if y.Final {
		s.at(fn, cur)
		s.Builder.CreateBr(s.curCoro.exit)
		return llvm.Value{}, s.newBlock(fn, "yield.new"), nil
	}

	resumeBlock := s.newBlock(fn, "coro.resume")
	s.at(fn, cur)
	suspendFn, err := s.declareCoroIntrinsic("llvm.coro.suspend", llvm.FunctionType(s.Ctx.Int8Type(), []llvm.Type{s.Ctx.TokenType(), s.Ctx.Int1Type()}, false))
	if err != nil {
		return llvm.Value{}, cur, err
	}
	noneToken := llvm.ConstNull(s.Ctx.TokenType())
	suspend := s.Builder.CreateCall(suspendFn, []llvm.Value{noneToken, llvm.ConstInt(s.Ctx.Int1Type(), 0, false)}, "coro.suspend")
	sw := s.Builder.CreateSwitch(suspend, s.curCoro.suspendBlock, 2)
	sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), 0, false), resumeBlock)
	sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), 1, false), s.curCoro.cleanup)

	return llvm.Value{}, resumeBlock, nil
}

// lowerYieldIn resumes the generator bound by the nearest enclosing
// pipeline/for-loop context and reads a value back in; Suspending selects
// whether the resume is itself wrapped in a suspend point: the
// expression form that sends a value into a running generator rather
// than only pulling one out.
func (s *Session) lowerYieldIn(fn llvm.Value, bb llvm.BasicBlock, y sir.YieldIn) (llvm.Value, llvm.BasicBlock, error) {
	if s.curCoro == nil {
		return llvm.Value{}, bb, fmt.Errorf("lower: yieldIn outside of a generator function")
	}
	cur := bb
	if y.Suspending {
		resumeBlock := s.newBlock(fn, "coro.yieldin.resume")
		s.at(fn, cur)
		suspendFn, err := s.declareCoroIntrinsic("llvm.coro.suspend", llvm.FunctionType(s.Ctx.Int8Type(), []llvm.Type{s.Ctx.TokenType(), s.Ctx.Int1Type()}, false))
		if err != nil {
			return llvm.Value{}, cur, err
		}
		noneToken := llvm.ConstNull(s.Ctx.TokenType())
		suspend := s.Builder.CreateCall(suspendFn, []llvm.Value{noneToken, llvm.ConstInt(s.Ctx.Int1Type(), 0, false)}, "coro.yieldin.suspend")
		sw := s.Builder.CreateSwitch(suspend, s.curCoro.suspendBlock, 2)
		sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), 0, false), resumeBlock)
		sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), 1, false), s.curCoro.cleanup)
		cur = resumeBlock
	}

	s.at(fn, cur)
	if s.curCoro.promise.IsNil() {
		return llvm.Value{}, cur, nil
	}
	return s.Builder.CreateLoad(s.curCoro.promise, "yieldin.value"), cur, nil
}
