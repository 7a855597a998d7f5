// landingpad.go builds the LLVM-level exception-catching machinery for one
// try-frame: its landing pad with clause classification, the type-index
// dispatch that follows it, and the final unwind-resume fallback. Catch
// clauses use the compiler's own type-index globals in place of real
// Itanium RTTI, and foreign exception classes never reach the dispatch.
package lower

import (
	"tinygo.org/x/go-llvm"

	"sirlower/internal/runtime"
)

// landingPadType is the aggregate every landing pad in this module produces:
// {i8* exceptionObject, i32 typeSelector}.
func (s *Session) landingPadType() llvm.Type {
	return s.Ctx.StructType([]llvm.Type{s.bytePtr(), s.Ctx.Int32Type()}, false)
}

// LandingPadType exports landingPadType for internal/lowermodule's
// codon.proxy_main wrapper, the one landing pad built outside of a SIR
// TryCatch node.
func (s *Session) LandingPadType() llvm.Type { return s.landingPadType() }

// PersonalityFn exports personalityFn for internal/lowermodule.
func (s *Session) PersonalityFn(fn llvm.Value) llvm.Value { return s.personalityFn(fn) }

// personalityFn returns the module's seq_personality declaration, attaching
// it to fn if fn has none yet. Every function containing a try/catch shares
// the one declaration.
func (s *Session) personalityFn(fn llvm.Value) llvm.Value {
	sig := llvm.FunctionType(s.Ctx.Int32Type(), []llvm.Type{
		s.Ctx.Int32Type(), s.Ctx.Int32Type(), s.Ctx.Int64Type(), s.bytePtr(), s.bytePtr(),
	}, false)
	p := s.runtimeFunc(runtime.SeqPersonality, sig)
	if fn.PersonalityFn().IsNil() {
		fn.SetPersonalityFn(p)
	}
	return p
}

// padClauses returns the frame's local plus adopted clauses in dispatch
// order: local clauses first (declaration order), then adopted ones from
// innermost to outermost owner.
func padClauses(frame *TryFrame) []CatchClause {
	out := make([]CatchClause, 0, len(frame.Catches)+len(frame.Adopted))
	out = append(out, frame.Catches...)
	out = append(out, frame.Adopted...)
	return out
}

// buildLandingPad emits frame.Exception: a landingpad instruction carrying
// one clause per local and adopted catch plus a cleanup flag (finally must
// run even on an unmatched exception). The pad result is stored into the
// shared CatchStoreCell and ExcFlag set Thrown; then the unwind header's
// exception-class word is compared against seq_exc_class() and control
// goes to ExceptionRoute for language exceptions, ExternalExc for foreign
// ones.
func (s *Session) buildLandingPad(fn llvm.Value, frame *TryFrame) error {
	s.personalityFn(fn)
	s.at(fn, frame.Exception)

	clauses := padClauses(frame)
	lpType := s.landingPadType()
	lp := s.Builder.CreateLandingPad(lpType, len(clauses), "trycatch.lp")
	lp.SetCleanup(true)
	seen := map[string]bool{}
	for _, c := range clauses {
		if seen[c.TypeName] {
			continue
		}
		seen[c.TypeName] = true
		if c.TypeName == "" {
			// A null clause is the landing-pad encoding of catch-all.
			lp.AddClause(llvm.ConstPointerNull(s.bytePtr()))
			continue
		}
		lp.AddClause(s.typeIndex.Global(s, c.TypeName))
	}

	s.Builder.CreateStore(lp, frame.CatchStoreCell)
	s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int8Type(), uint64(Thrown), false), frame.ExcFlagCell)

	// The class word sits at the head of the unwind header. Anything that
	// is not ours crosses the ABI boundary and aborts.
	excPtr := s.Builder.CreateExtractValue(lp, 0, "exc.ptr")
	classPtr := s.Builder.CreateBitCast(excPtr, llvm.PointerType(s.Ctx.Int64Type(), 0), "")
	class := s.Builder.CreateLoad(classPtr, "exc.class")
	classFn := s.runtimeFunc(runtime.SeqExcClass, llvm.FunctionType(s.Ctx.Int64Type(), nil, false))
	want := s.Builder.CreateCall(classFn, nil, "")
	ours := s.Builder.CreateICmp(llvm.IntEQ, class, want, "")
	s.Builder.CreateCondBr(ours, frame.ExceptionRoute, frame.ExternalExc)
	return nil
}

// buildExceptionRoute emits the classified dispatch: recover the language
// payload at seq_exc_offset() past the unwind pointer, read its
// {typeIndex, objectPointer} pair, and switch on the index. A local clause
// binds its variable, marks Caught and runs the handler; an adopted clause
// records how many finalizers remain to cross and re-enters this frame's
// finally still Thrown. No match at all also funnels through finally, the
// re-raise path.
func (s *Session) buildExceptionRoute(fn llvm.Value, frame *TryFrame) error {
	s.at(fn, frame.ExceptionRoute)
	stored := s.Builder.CreateLoad(frame.CatchStoreCell, "")
	excPtr := s.Builder.CreateExtractValue(stored, 0, "exc.ptr")

	offFn := s.runtimeFunc(runtime.SeqExcOffset, llvm.FunctionType(s.Ctx.Int64Type(), nil, false))
	off := s.Builder.CreateCall(offFn, nil, "exc.offset")
	payloadRaw := s.Builder.CreateGEP(excPtr, []llvm.Value{off}, "")

	typeInfoTy := s.Ctx.StructType([]llvm.Type{s.Ctx.Int32Type()}, false)
	payloadTy := s.Ctx.StructType([]llvm.Type{typeInfoTy, s.bytePtr()}, false)
	payloadPtr := s.Builder.CreateBitCast(payloadRaw, llvm.PointerType(payloadTy, 0), "")
	payload := s.Builder.CreateLoad(payloadPtr, "exc.payload")
	objType := s.Builder.CreateExtractValue(s.Builder.CreateExtractValue(payload, 0, ""), 0, "exc.objtype")
	objPtr := s.Builder.CreateExtractValue(payload, 1, "exc.objptr")

	defaultBlock := s.newBlock(fn, "trycatch.dispatch.default")
	sw := s.Builder.CreateSwitch(objType, defaultBlock, len(frame.Catches)+len(frame.Adopted))

	// First match wins: a duplicate index later in the clause list never
	// gets a switch case.
	cased := map[int32]bool{}
	var catchAll *CatchClause
	for i := range frame.Catches {
		c := &frame.Catches[i]
		if c.TypeName == "" {
			if catchAll == nil {
				catchAll = c
			}
			continue
		}
		if cased[c.TypeIdx] {
			continue
		}
		cased[c.TypeIdx] = true
		hb, err := s.buildLocalHandler(fn, frame, c, objPtr)
		if err != nil {
			return err
		}
		sw.AddCase(llvm.ConstInt(s.Ctx.Int32Type(), uint64(c.TypeIdx), false), hb)
	}
	for i := range frame.Adopted {
		c := &frame.Adopted[i]
		if c.TypeName == "" {
			if catchAll == nil {
				catchAll = c
			}
			continue
		}
		if cased[c.TypeIdx] {
			continue
		}
		cased[c.TypeIdx] = true
		sw.AddCase(llvm.ConstInt(s.Ctx.Int32Type(), uint64(c.TypeIdx), false), s.buildDelegateHop(fn, frame, c.Depth))
	}

	s.at(fn, defaultBlock)
	switch {
	case catchAll != nil && catchAll.Depth == 0:
		hb, err := s.buildLocalHandler(fn, frame, catchAll, objPtr)
		if err != nil {
			return err
		}
		s.at(fn, defaultBlock)
		s.Builder.CreateBr(hb)
	case catchAll != nil:
		s.Builder.CreateBr(s.buildDelegateHop(fn, frame, catchAll.Depth))
	default:
		// Unhandled here: run finally, still Thrown, and keep unwinding.
		s.Builder.CreateBr(frame.Finally)
	}
	return nil
}

// buildLocalHandler emits the fdepth-plus-handler block pair for a clause
// this frame owns: clear the delegation counter, bind the exception object
// (the catch variable holds the object pointer itself), mark Caught, run
// the handler, and close with a branch to finally.
func (s *Session) buildLocalHandler(fn llvm.Value, frame *TryFrame, c *CatchClause, objPtr llvm.Value) (llvm.BasicBlock, error) {
	hb := s.newBlock(fn, "trycatch.catch")
	s.at(fn, hb)
	s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int64Type(), 0, false), frame.DelegateDepthCell)
	s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int8Type(), uint64(Caught), false), frame.ExcFlagCell)
	if !c.VarAlloc.IsNil() {
		casted := s.Builder.CreateBitCast(objPtr, c.VarAlloc.Type().ElementType(), "")
		s.Builder.CreateStore(casted, c.VarAlloc)
	}
	_, handlerEnd, err := s.Lower(fn, hb, c.Handler)
	if err != nil {
		return hb, err
	}
	if !blockTerminated(handlerEnd) {
		s.at(fn, handlerEnd)
		s.Builder.CreateBr(frame.Finally)
	}
	return hb, nil
}

// buildDelegateHop emits the fdepth block for an adopted clause: record the
// finalizer distance to the owning frame and enter this frame's finally,
// leaving the exception Thrown so each hop's dispatch keeps cascading.
func (s *Session) buildDelegateHop(fn llvm.Value, frame *TryFrame, depth int) llvm.BasicBlock {
	hop := s.newBlock(fn, "trycatch.dispatch.fdepth")
	s.at(fn, hop)
	s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int64Type(), uint64(depth), false), frame.DelegateDepthCell)
	s.Builder.CreateBr(frame.Finally)
	return hop
}

// buildUnwindResume emits the true fall-out-of-the-function path, used only
// when a root try-frame's exception still isn't Caught after its Finally
// ran, plus the foreign-exception block: crossing a non-language exception
// into our frames is not survivable, and the policy knob currently only
// admits the crash-fast answer.
func (s *Session) buildUnwindResume(fn llvm.Value, frame *TryFrame) {
	s.at(fn, frame.UnwindResume)
	stored := s.Builder.CreateLoad(frame.CatchStoreCell, "")
	s.Builder.CreateResume(stored)

	s.at(fn, frame.ExternalExc)
	switch s.Opts.ForeignException {
	default:
		s.Builder.CreateUnreachable()
	}
}
