// call.go implements the Call-or-Invoke helper: every call site in the
// lowered program goes through emitCall so that calls inside an active
// try-frame automatically become invokes unwinding to the innermost
// landing pad.
package lower

import (
	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// emitCall invokes callee with args at the current insertion point. With no
// active try-frame this is a plain call; inside a try-frame it becomes an
// invoke unwinding to the innermost frame's exception block, and the
// insertion point moves to the invoke's normal-return block, which callers
// must pick up as the new current block.
func (s *Session) emitCall(fn llvm.Value, callee llvm.Value, args []llvm.Value) llvm.Value {
	top, ok := s.tryStack.Peek()
	if !ok {
		return s.Builder.CreateCall(callee, args, "")
	}

	normal := s.newBlock(fn, "invoke.normal")
	result := s.Builder.CreateInvoke(callee, args, normal, top.Exception, "")
	s.at(fn, normal)
	return result
}

// lowerCall lowers a Call node: its Callee and Args, then a call or invoke
// via emitCall.
func (s *Session) lowerCall(fn llvm.Value, bb llvm.BasicBlock, c sir.Call) (llvm.Value, llvm.BasicBlock, error) {
	callee, cur, err := s.Lower(fn, bb, c.Callee)
	if err != nil {
		return llvm.Value{}, cur, err
	}

	args := make([]llvm.Value, len(c.Args))
	for i, a := range c.Args {
		v, next, err := s.Lower(fn, cur, a)
		if err != nil {
			return llvm.Value{}, next, err
		}
		args[i] = v
		cur = next
	}

	s.at(fn, cur)
	result := s.emitCall(fn, callee, args)
	return result, s.Builder.GetInsertBlock(), nil
}

// drainGenerator resumes a freshly created generator handle once and
// returns the address of its promise slot (an i8*, via llvm.coro.promise),
// where the first yielded value is stored. The llvm.coro.done result is
// not tested and the generator is not destroyed. Used by lowerPipeline for stages flagged Generator, which need
// exactly one value pulled through rather than the full iteration lowerFor
// drives.
func (s *Session) drainGenerator(fn llvm.Value, bb llvm.BasicBlock, handle llvm.Value) (llvm.Value, llvm.BasicBlock, error) {
	s.at(fn, bb)
	resumeFn, err := s.declareCoroIntrinsic("llvm.coro.resume", llvm.FunctionType(s.Ctx.VoidType(), []llvm.Type{s.bytePtr()}, false))
	if err != nil {
		return llvm.Value{}, bb, err
	}
	doneFn, err := s.declareCoroIntrinsic("llvm.coro.done", llvm.FunctionType(s.Ctx.Int1Type(), []llvm.Type{s.bytePtr()}, false))
	if err != nil {
		return llvm.Value{}, bb, err
	}
	promiseFn, err := s.declareCoroIntrinsic("llvm.coro.promise", llvm.FunctionType(s.bytePtr(), []llvm.Type{s.bytePtr(), s.Ctx.Int32Type(), s.Ctx.Int1Type()}, false))
	if err != nil {
		return llvm.Value{}, bb, err
	}

	s.Builder.CreateCall(resumeFn, []llvm.Value{handle}, "")
	_ = s.Builder.CreateCall(doneFn, []llvm.Value{handle}, "gen.done")
	promisePtr := s.Builder.CreateCall(promiseFn, []llvm.Value{
		handle,
		llvm.ConstInt(s.Ctx.Int32Type(), coroPromiseAlign, false),
		llvm.ConstInt(s.Ctx.Int1Type(), 0, false),
	}, "gen.promise")
	return promisePtr, s.Builder.GetInsertBlock(), nil
}
