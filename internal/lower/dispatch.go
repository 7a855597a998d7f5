// dispatch.go is the single entry point every lowering function funnels
// through: Lower type-switches over sir.Node, and every case returns the
// value it produced (zero Value if none) and the basic block control now
// resides in.
// Callers must always continue from the returned block, never from the
// block they happened to be inserting into before the call.
package lower

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// Lower lowers one SIR node rooted at the current instruction point
// (fn, bb) and returns the value it produced (if any), the block execution
// continues in, and an error.
func (s *Session) Lower(fn llvm.Value, bb llvm.BasicBlock, n sir.Node) (llvm.Value, llvm.BasicBlock, error) {
	s.at(fn, bb)

	if isConst(n) {
		v, err := s.EmitConst(n)
		return v, bb, err
	}

	switch v := n.(type) {
	case sir.VarValue:
		return s.lowerVarValue(fn, bb, v)
	case sir.PointerValue:
		return s.lowerPointerValue(fn, bb, v)
	case sir.Series:
		return s.lowerSeries(fn, bb, v)
	case sir.If:
		return s.lowerIf(fn, bb, v)
	case sir.While:
		return s.lowerWhile(fn, bb, v)
	case sir.For:
		return s.lowerFor(fn, bb, v)
	case sir.ImperativeFor:
		return s.lowerImperativeFor(fn, bb, v)
	case sir.TryCatch:
		return s.lowerTryCatch(fn, bb, v)
	case sir.Pipeline:
		return s.lowerPipeline(fn, bb, v)
	case sir.Assign:
		return s.lowerAssign(fn, bb, v)
	case sir.Extract:
		return s.lowerExtract(fn, bb, v)
	case sir.Insert:
		return s.lowerInsert(fn, bb, v)
	case sir.Call:
		return s.lowerCall(fn, bb, v)
	case sir.TypeProperty:
		return s.lowerTypeProperty(fn, bb, v)
	case sir.YieldIn:
		return s.lowerYieldIn(fn, bb, v)
	case sir.StackAlloc:
		return s.lowerStackAlloc(fn, bb, v)
	case sir.Ternary:
		return s.lowerTernary(fn, bb, v)
	case sir.Break:
		return s.lowerBreak(fn, bb, v)
	case sir.Continue:
		return s.lowerContinue(fn, bb, v)
	case sir.Return:
		return s.lowerReturn(fn, bb, v)
	case sir.Yield:
		return s.lowerYield(fn, bb, v)
	case sir.Throw:
		return s.lowerThrow(fn, bb, v)
	case sir.FlowInstr:
		return s.lowerFlowInstr(fn, bb, v)
	default:
		return llvm.Value{}, bb, fmt.Errorf("lower: unhandled SIR node %T", n)
	}
}

// lowerVarValue loads the current value of a Var, checking locals (not
// modeled here as a separate scope stack: SIR variables already carry a
// stable ID bound once per function activation by the caller's frame
// setup) then the global table.
func (s *Session) lowerVarValue(fn llvm.Value, bb llvm.BasicBlock, v sir.VarValue) (llvm.Value, llvm.BasicBlock, error) {
	ptr, err := s.addressOf(v.V)
	if err != nil {
		return llvm.Value{}, bb, err
	}
	return s.Builder.CreateLoad(ptr, v.V.Name), bb, nil
}

// lowerPointerValue yields the address of a Var rather than its value.
func (s *Session) lowerPointerValue(fn llvm.Value, bb llvm.BasicBlock, v sir.PointerValue) (llvm.Value, llvm.BasicBlock, error) {
	ptr, err := s.addressOf(v.V)
	return ptr, bb, err
}

// addressOf resolves a Var to the llvm.Value holding its address: a local
// alloca if v.Global is false, else the module global (auto-declaring it
// through GetVar if needed).
func (s *Session) addressOf(v *sir.Var) (llvm.Value, error) {
	if v.Global {
		return s.GetVar(v)
	}
	s.mu.Lock()
	local, ok := s.vars[v.ID]
	s.mu.Unlock()
	if !ok || local.IsNil() {
		return llvm.Value{}, fmt.Errorf("lower: undeclared local variable %q", v.Name)
	}
	return local, nil
}

// lowerSeries lowers each item in order; the node's value is that of its
// last item.
func (s *Session) lowerSeries(fn llvm.Value, bb llvm.BasicBlock, sr sir.Series) (llvm.Value, llvm.BasicBlock, error) {
	var last llvm.Value
	cur := bb
	for _, item := range sr.Items {
		v, next, err := s.Lower(fn, cur, item)
		if err != nil {
			return llvm.Value{}, cur, err
		}
		last, cur = v, next
	}
	return last, cur, nil
}

// lowerFlowInstr lowers Flow for effect, then Value for the node's result.
func (s *Session) lowerFlowInstr(fn llvm.Value, bb llvm.BasicBlock, f sir.FlowInstr) (llvm.Value, llvm.BasicBlock, error) {
	_, cur, err := s.Lower(fn, bb, f.Flow)
	if err != nil {
		return llvm.Value{}, cur, err
	}
	return s.Lower(fn, cur, f.Value)
}
