// trycatch.go implements the Try/Catch/Finally Lowerer:
// the software state machine layered over LLVM's invoke/landingpad so that
// break/continue/return/throw all funnel through one try-frame's Finally
// block regardless of which of those four caused the exit. Nested
// try-frames alias their root's state cells while keeping their own block
// set.
package lower

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// entryAlloca allocates storage of type t in fn's entry block, ahead of its
// terminator, the same hoisting discipline lowerStackAlloc uses so that
// mem2reg can promote every try-frame cell to an SSA register when possible.
func (s *Session) entryAlloca(fn llvm.Value, t llvm.Type, name string) llvm.Value {
	entry := fn.EntryBasicBlock()
	saved := s.Builder.GetInsertBlock()
	s.atEntryInsertion(entry)
	alloc := s.Builder.CreateAlloca(t, name)
	if !saved.IsNil() {
		s.Builder.SetInsertPointAtEnd(saved)
	}
	return alloc
}

// atEntryInsertion points the builder at the right allocation spot in the
// entry block: ahead of its terminator when it has one, at the end while
// the block is still being filled.
func (s *Session) atEntryInsertion(entry llvm.BasicBlock) {
	if blockTerminated(entry) {
		s.Builder.SetInsertPointBefore(entry.LastInstruction())
		return
	}
	s.Builder.SetInsertPointAtEnd(entry)
}

// lowerTryCatch lowers one try/catch/finally construct.
func (s *Session) lowerTryCatch(fn llvm.Value, bb llvm.BasicBlock, n sir.TryCatch) (llvm.Value, llvm.BasicBlock, error) {
	seq := s.seq.Next()
	parent, hasParent := s.tryStack.Peek()

	frame := &TryFrame{Seq: seq}
	if hasParent {
		frame.Parent = parent
		frame.Root = parent.Root
		frame.ExcFlagCell = frame.Root.ExcFlagCell
		frame.CatchStoreCell = frame.Root.CatchStoreCell
		frame.DelegateDepthCell = frame.Root.DelegateDepthCell
		frame.RetStoreCell = frame.Root.RetStoreCell
		frame.LoopSeqCell = frame.Root.LoopSeqCell
	} else {
		frame.Root = frame
		frame.ExcFlagCell = s.entryAlloca(fn, s.Ctx.Int8Type(), "exc.flag")
		frame.CatchStoreCell = s.entryAlloca(fn, s.landingPadType(), "exc.store")
		frame.DelegateDepthCell = s.entryAlloca(fn, s.Ctx.Int64Type(), "exc.delegate")
		frame.LoopSeqCell = s.entryAlloca(fn, s.Ctx.Int64Type(), "exc.loopseq")
		retType := fn.Type().ElementType().ReturnType()
		if retType.TypeKind() != llvm.VoidTypeKind {
			frame.RetStoreCell = s.entryAlloca(fn, retType, "exc.retval")
		}
	}

	s.at(fn, bb)
	s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int8Type(), uint64(NotThrown), false), frame.ExcFlagCell)
	if !hasParent {
		s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int64Type(), 0, false), frame.DelegateDepthCell)
		s.Builder.CreateStore(llvm.ConstAllOnes(s.Ctx.Int64Type()), frame.LoopSeqCell)
	}

	frame.Entry = s.newBlock(fn, "trycatch.entry")
	frame.Exception = s.newBlock(fn, "trycatch.exception")
	frame.ExceptionRoute = s.newBlock(fn, "trycatch.exception_route")
	frame.Finally = s.newBlock(fn, "trycatch.finally")
	frame.ExternalExc = s.newBlock(fn, "trycatch.exception_external")
	frame.UnwindResume = s.newBlock(fn, "trycatch.unwind_resume")
	frame.End = s.newBlock(fn, "trycatch.end")

	frame.Catches = make([]CatchClause, len(n.Catches))
	for i, c := range n.Catches {
		name := ""
		if c.Type != nil {
			if rt, ok := c.Type.(*sir.RefType); ok {
				name = rt.Contents.Name
			}
		}
		cc := CatchClause{TypeName: name, TypeIdx: s.typeIndex.IndexFor(name), Handler: c.Handler}
		if c.Var != nil {
			pt, err := s.LowerType(c.Var.Type)
			if err != nil {
				return llvm.Value{}, bb, fmt.Errorf("lower: catch clause var %q: %w", c.Var.Name, err)
			}
			cc.VarAlloc = s.entryAlloca(fn, pt, c.Var.Name)
			s.mu.Lock()
			s.vars[c.Var.ID] = cc.VarAlloc
			s.mu.Unlock()
		}
		frame.Catches[i] = cc
	}

	// Adopt uncovered clauses from enclosing try-frames so an exception
	// headed for an outer handler still lands here and unwinds through
	// this frame's finally chain. Depth counts the finalizers between
	// this frame and the clause's owner. Adoption stops at the first
	// catch-all: nothing escapes past one.
	covered := make(map[string]bool, len(frame.Catches))
	sawCatchAll := false
	for _, c := range frame.Catches {
		covered[c.TypeName] = true
		if c.TypeName == "" {
			sawCatchAll = true
		}
	}
	for depth, outer := 1, frame.Parent; outer != nil && !sawCatchAll; depth, outer = depth+1, outer.Parent {
		for _, oc := range outer.Catches {
			if covered[oc.TypeName] {
				continue
			}
			covered[oc.TypeName] = true
			frame.Adopted = append(frame.Adopted, CatchClause{
				TypeName: oc.TypeName, TypeIdx: oc.TypeIdx, Depth: depth,
			})
			if oc.TypeName == "" {
				sawCatchAll = true
				break
			}
		}
	}

	s.Builder.CreateBr(frame.Entry)

	s.tryStack.Push(frame)
	_, bodyCur, err := s.Lower(fn, frame.Entry, n.Body)
	s.tryStack.Pop()
	if err != nil {
		return llvm.Value{}, bodyCur, err
	}
	if !blockTerminated(bodyCur) {
		s.at(fn, bodyCur)
		s.Builder.CreateBr(frame.Finally)
	}

	if err := s.buildLandingPad(fn, frame); err != nil {
		return llvm.Value{}, bb, err
	}
	if err := s.buildExceptionRoute(fn, frame); err != nil {
		return llvm.Value{}, bb, err
	}
	if err := s.buildFinally(fn, frame, n.Finally); err != nil {
		return llvm.Value{}, bb, err
	}
	s.buildUnwindResume(fn, frame)

	return llvm.Value{}, frame.End, nil
}

// buildFinally lowers the optional finally body at frame.Finally, then
// dispatches on the shared ExcFlagCell to decide where control goes next:
// straight through to End on normal/caught completion; re-attempted catch
// matching at the parent level (or a true unwind) on an unmatched throw;
// and, for return/break/continue, either cascades to the parent's Finally
// (when the target lies further out) or resolves directly against whichever
// loop frame matches the stored sequence number.
func (s *Session) buildFinally(fn llvm.Value, frame *TryFrame, finally sir.Node) error {
	s.at(fn, frame.Finally)
	cur := frame.Finally
	if finally != nil {
		_, next, err := s.Lower(fn, frame.Finally, finally)
		if err != nil {
			return err
		}
		cur = next
	}
	if blockTerminated(cur) {
		return nil
	}
	s.at(fn, cur)

	// Delegation check: a positive delegateDepth means an outer frame's
	// clause matched and this finally is only a waypoint. Decrement and
	// keep cascading through parent finallies until the last hop, which
	// re-enters the owning frame's dispatch.
	if frame.Parent != nil {
		dd := s.Builder.CreateLoad(frame.DelegateDepthCell, "exc.delegate.val")
		delegating := s.Builder.CreateICmp(llvm.IntSGT, dd, llvm.ConstInt(s.Ctx.Int64Type(), 0, false), "")
		delegBlock := s.newBlock(fn, "trycatch.finally.delegate")
		dispatchBlock := s.newBlock(fn, "trycatch.finally.dispatch")
		s.Builder.CreateCondBr(delegating, delegBlock, dispatchBlock)

		s.at(fn, delegBlock)
		next := s.Builder.CreateSub(dd, llvm.ConstInt(s.Ctx.Int64Type(), 1, false), "")
		s.Builder.CreateStore(next, frame.DelegateDepthCell)
		further := s.Builder.CreateICmp(llvm.IntSGT, next, llvm.ConstInt(s.Ctx.Int64Type(), 0, false), "")
		s.Builder.CreateCondBr(further, frame.Parent.Finally, frame.Parent.ExceptionRoute)

		cur = dispatchBlock
		s.at(fn, cur)
	}

	flag := s.Builder.CreateLoad(frame.ExcFlagCell, "exc.flag.val")
	normalBlock := s.newBlock(fn, "trycatch.finally.normal")
	thrownBlock := s.newBlock(fn, "trycatch.finally.thrown")
	retBlock := s.newBlock(fn, "trycatch.finally.return")
	loopBlock := s.newBlock(fn, "trycatch.finally.loopexit")

	sw := s.Builder.CreateSwitch(flag, normalBlock, 4)
	sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), uint64(NotThrown), false), normalBlock)
	sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), uint64(Caught), false), normalBlock)
	sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), uint64(Thrown), false), thrownBlock)
	sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), uint64(RetFlag), false), retBlock)
	sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), uint64(BreakFlag), false), loopBlock)
	sw.AddCase(llvm.ConstInt(s.Ctx.Int8Type(), uint64(ContinueFlag), false), loopBlock)

	s.at(fn, normalBlock)
	s.Builder.CreateBr(frame.End)

	s.at(fn, thrownBlock)
	if frame.Parent != nil {
		s.Builder.CreateBr(frame.Parent.ExceptionRoute)
	} else {
		s.Builder.CreateBr(frame.UnwindResume)
	}

	s.at(fn, retBlock)
	switch {
	case frame.Parent != nil:
		s.Builder.CreateBr(frame.Parent.Finally)
	case s.curCoro != nil:
		// A generator's return always finishes through the coroutine's own
		// exit/epilogue rather than a plain ret, even after an enclosing
		// try's finally has run.
		s.Builder.CreateBr(s.curCoro.exit)
	case frame.RetStoreCell.IsNil():
		s.Builder.CreateRetVoid()
	default:
		s.Builder.CreateRet(s.Builder.CreateLoad(frame.RetStoreCell, ""))
	}

	s.buildLoopExitDispatch(fn, frame, loopBlock)
	return nil
}

// buildLoopExitDispatch handles the BreakFlag/ContinueFlag cases of
// buildFinally: only loops pushed after this try's parent (i.e. lexically
// between the parent try and this one) are resolved here; anything further
// out cascades to the parent's Finally, which repeats the same filtering
// one level further up.
func (s *Session) buildLoopExitDispatch(fn llvm.Value, frame *TryFrame, loopBlock llvm.BasicBlock) {
	s.at(fn, loopBlock)
	lowerBound := int64(-1)
	if frame.Parent != nil {
		lowerBound = frame.Parent.Seq
	}

	var inScope []*LoopFrame
	s.loopStack.Each(func(f *LoopFrame) {
		if f.Seq > lowerBound {
			inScope = append(inScope, f)
		}
	})

	flag := s.Builder.CreateLoad(frame.ExcFlagCell, "")
	isBreak := s.Builder.CreateICmp(llvm.IntEQ, flag, llvm.ConstInt(s.Ctx.Int8Type(), uint64(BreakFlag), false), "")
	loopSeq := s.Builder.CreateLoad(frame.LoopSeqCell, "")

	fallback := s.newBlock(fn, "trycatch.finally.loopexit.outer")
	if len(inScope) == 0 {
		s.Builder.CreateBr(fallback)
	} else {
		matchBlock := s.newBlock(fn, "trycatch.finally.loopexit.match")
		s.Builder.CreateBr(matchBlock)

		cur := matchBlock
		for _, lf := range inScope {
			s.at(fn, cur)
			eq := s.Builder.CreateICmp(llvm.IntEQ, loopSeq, llvm.ConstInt(s.Ctx.Int64Type(), uint64(lf.Seq), true), "")
			hit := s.newBlock(fn, "trycatch.finally.loopexit.hit")
			next := s.newBlock(fn, "trycatch.finally.loopexit.next")
			s.Builder.CreateCondBr(eq, hit, next)

			// The flag is consumed here: reset it before control re-enters
			// the loop so a later inspection never sees a stale BREAK or
			// CONTINUE.
			s.at(fn, hit)
			s.Builder.CreateStore(llvm.ConstInt(s.Ctx.Int8Type(), uint64(NotThrown), false), frame.ExcFlagCell)
			brBlock := s.newBlock(fn, "trycatch.finally.loopexit.br")
			contBlock := s.newBlock(fn, "trycatch.finally.loopexit.cont")
			s.Builder.CreateCondBr(isBreak, brBlock, contBlock)
			s.at(fn, brBlock)
			s.Builder.CreateBr(lf.Break)
			s.at(fn, contBlock)
			s.Builder.CreateBr(lf.Continue)

			cur = next
		}
		s.at(fn, cur)
		s.Builder.CreateBr(fallback)
	}

	s.at(fn, fallback)
	if frame.Parent != nil {
		s.Builder.CreateBr(frame.Parent.Finally)
	} else {
		s.Builder.CreateUnreachable()
	}
}
