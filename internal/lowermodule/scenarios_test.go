// scenarios_test.go drives small whole-program shapes through the module
// driver and checks the lowered machinery structurally: these mirror the
// runnable end-to-end scenarios (print, rethrow, finally interactions,
// generator consumption) without needing the runtime library linked in.
package lowermodule

import (
	"strings"
	"testing"

	"sirlower/internal/lower"
	"sirlower/internal/sir"
)

// errType builds a throwable Ref record named name.
func errType(name string) *sir.RefType {
	return &sir.RefType{Contents: &sir.RecordType{Name: name, Fields: []sir.Field{
		{Name: "msg", Type: &sir.PointerType{Base: sir.ByteType{}}},
	}}}
}

// TestScenarioCatchRethrow: try { throw E } catch (e: E) { throw e } —
// the throw inside the try unwinds via invokes into the landing pad, and
// both seq_alloc_exc and seq_throw must be referenced. The handler runs
// after its try frame is popped, so its rethrow is a plain call.
func TestScenarioCatchRethrow(t *testing.T) {
	var ids sir.IDGen
	et := errType("E")
	ev := &sir.Var{ID: ids.Next(), Name: "e", Type: et}
	tv := &sir.Var{ID: ids.Next(), Name: "raised", Type: et}

	mainFn := &sir.Func{
		Var:    sir.Var{ID: ids.Next(), Name: "realMain", Type: sir.VoidType{}, Global: true},
		Kind:   sir.Bodied,
		Locals: []*sir.Var{tv},
		Body: sir.Series{Items: []sir.Node{
			sir.TryCatch{
				Body: sir.Throw{Value: sir.VarValue{V: tv}},
				Catches: []sir.CatchClause{
					{Type: et, Var: ev, Handler: sir.Throw{Value: sir.VarValue{V: ev}}},
				},
			},
			sir.Return{},
		}},
	}
	mod := &sir.Module{Name: "rethrow", Funcs: []*sir.Func{mainFn}, MainFunc: mainFn}
	s := lowerTestModule(t, mod, lower.Options{})

	ir := s.Module.String()
	for _, want := range []string{"seq_alloc_exc", "seq_throw", "codon.typeidx.E", "landingpad"} {
		if !strings.Contains(ir, want) {
			t.Errorf("rethrow IR lacks %q", want)
		}
	}
	// The throw inside the try frame calls seq_alloc_exc and seq_throw,
	// and both must unwind via invoke rather than plain calls.
	if got := strings.Count(ir, "invoke"); got < 2 {
		t.Errorf("%d invokes, want at least 2 (seq_alloc_exc and seq_throw in the try)", got)
	}
}

// TestScenarioNestedTryOuterCatch: inner try has no matching clause, outer
// catches E; the inner frame must adopt the outer clause and emit the
// delegation counter traffic that runs the inner finally first.
func TestScenarioNestedTryOuterCatch(t *testing.T) {
	var ids sir.IDGen
	et := errType("E")
	tv := &sir.Var{ID: ids.Next(), Name: "raised", Type: et}

	mainFn := &sir.Func{
		Var:    sir.Var{ID: ids.Next(), Name: "realMain", Type: sir.VoidType{}, Global: true},
		Kind:   sir.Bodied,
		Locals: []*sir.Var{tv},
		Body: sir.Series{Items: []sir.Node{
			sir.TryCatch{
				Body: sir.TryCatch{
					Body:    sir.Throw{Value: sir.VarValue{V: tv}},
					Finally: sir.Series{},
				},
				Catches: []sir.CatchClause{
					{Type: et, Handler: sir.Series{}},
				},
			},
			sir.Return{},
		}},
	}
	mod := &sir.Module{Name: "nested", Funcs: []*sir.Func{mainFn}, MainFunc: mainFn}
	s := lowerTestModule(t, mod, lower.Options{})

	ir := s.Module.String()
	if !strings.Contains(ir, "trycatch.dispatch.fdepth") {
		t.Error("inner frame emitted no delegation hop for the adopted clause")
	}
	if !strings.Contains(ir, "trycatch.finally.delegate") {
		t.Error("nested finally emitted no delegation cascade")
	}
	if !strings.Contains(ir, "exc.delegate") {
		t.Error("no delegate-depth cell allocated")
	}
}

// TestScenarioGeneratorSum: a generator yielding three values consumed by
// a for-loop; the whole-module drive must leave both the producer and the
// consumer speaking the coroutine protocol.
func TestScenarioGeneratorSum(t *testing.T) {
	var ids sir.IDGen

	gen := &sir.Func{
		Var:  sir.Var{ID: ids.Next(), Name: "nums", Type: &sir.GeneratorType{Base: sir.IntType{}}, Global: true},
		Kind: sir.Bodied,
		Body: sir.Series{Items: []sir.Node{
			sir.Yield{Value: sir.IntConst{Value: 1}},
			sir.Yield{Value: sir.IntConst{Value: 2}},
			sir.Yield{Value: sir.IntConst{Value: 3}},
		}},
	}
	i := &sir.Var{ID: ids.Next(), Name: "i", Type: sir.IntType{}}
	sum := &sir.Var{ID: ids.Next(), Name: "sum", Type: sir.IntType{}}
	mainFn := &sir.Func{
		Var:    sir.Var{ID: ids.Next(), Name: "realMain", Type: sir.VoidType{}, Global: true},
		Kind:   sir.Bodied,
		Locals: []*sir.Var{i, sum},
		Body: sir.Series{Items: []sir.Node{
			sir.For{
				Iterable: sir.Call{Callee: sir.VarValue{V: &gen.Var}},
				LoopVar:  i,
				Loop:     &sir.Loop{},
				Body:     sir.Assign{Target: sum, Value: sir.VarValue{V: i}},
			},
			sir.Return{},
		}},
	}
	mod := &sir.Module{Name: "gensum", Funcs: []*sir.Func{gen, mainFn}, MainFunc: mainFn}
	s := lowerTestModule(t, mod, lower.Options{})

	ir := s.Module.String()
	for _, want := range []string{
		"llvm.coro.begin", "llvm.coro.suspend", // producer
		"llvm.coro.resume", "llvm.coro.done", "llvm.coro.destroy", // consumer
	} {
		if !strings.Contains(ir, want) {
			t.Errorf("generator-sum IR lacks %q", want)
		}
	}
}
