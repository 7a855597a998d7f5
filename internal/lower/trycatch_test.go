package lower

import (
	"strings"
	"testing"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// excType builds the Ref-typed record used as a throwable in these tests.
func excType(name string) *sir.RefType {
	return &sir.RefType{Contents: &sir.RecordType{Name: name, Fields: []sir.Field{
		{Name: "msg", Type: sir.IntType{}},
	}}}
}

// TestTryCatchStructure lowers try/catch/finally and checks the emitted
// machinery: a landing pad with cleanup, the personality function, the
// payload recovery calls and the typeidx clause global.
func TestTryCatchStructure(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen
	et := excType("ValueError")
	ev := local(&ids, "e", et)

	callee := &sir.Func{
		Var:  sir.Var{ID: ids.Next(), Name: "may_throw", Type: sir.VoidType{}, Global: true},
		Kind: sir.External,
	}
	if _, err := s.RegisterFunc(callee); err != nil {
		t.Fatal(err)
	}

	body := sir.Series{Items: []sir.Node{
		sir.TryCatch{
			Body: sir.Call{Callee: sir.VarValue{V: &callee.Var}},
			Catches: []sir.CatchClause{
				{Type: et, Var: ev, Handler: sir.Series{}},
			},
			Finally: sir.Series{},
		},
		sir.Return{},
	}}
	fn := mkFunc(t, s, &ids, "guarded", sir.VoidType{}, nil, body)
	assertWellFormed(t, fn)

	ir := s.Module.String()
	for _, want := range []string{
		"landingpad",
		"cleanup",
		"seq_personality",
		"seq_exc_class",
		"seq_exc_offset",
		"codon.typeidx.ValueError",
		"invoke",
		"resume",
	} {
		if !strings.Contains(ir, want) {
			t.Errorf("emitted IR lacks %q", want)
		}
	}
}

// TestCallBecomesInvokeInsideTry checks the call-or-invoke split: the same
// call lowers to a plain call outside a try and an invoke inside one.
func TestCallBecomesInvokeInsideTry(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen
	callee := &sir.Func{
		Var:  sir.Var{ID: ids.Next(), Name: "leaf", Type: sir.VoidType{}, Global: true},
		Kind: sir.External,
	}
	if _, err := s.RegisterFunc(callee); err != nil {
		t.Fatal(err)
	}

	plain := mkFunc(t, s, &ids, "plain", sir.VoidType{}, nil, sir.Series{Items: []sir.Node{
		sir.Call{Callee: sir.VarValue{V: &callee.Var}},
		sir.Return{},
	}})
	hasInvoke := func(fn llvm.Value) bool {
		for bb := fn.FirstBasicBlock(); !bb.IsNil(); bb = llvm.NextBasicBlock(bb) {
			for inst := bb.FirstInstruction(); !inst.IsNil(); inst = llvm.NextInstruction(inst) {
				if inst.InstructionOpcode() == llvm.Invoke {
					return true
				}
			}
		}
		return false
	}
	if hasInvoke(plain) {
		t.Error("call outside a try lowered to invoke")
	}

	guarded := mkFunc(t, s, &ids, "guarded", sir.VoidType{}, nil, sir.Series{Items: []sir.Node{
		sir.TryCatch{
			Body:    sir.Call{Callee: sir.VarValue{V: &callee.Var}},
			Catches: []sir.CatchClause{{Handler: sir.Series{}}},
		},
		sir.Return{},
	}})
	if !hasInvoke(guarded) {
		t.Error("call inside a try did not lower to invoke")
	}
	assertWellFormed(t, guarded)
}

// TestNestedTryAdoptsOuterClause checks cross-frame delegation setup: an
// inner try with no matching clause adopts the outer try's clause into its
// own landing pad so the inner finally runs before the outer handler.
func TestNestedTryAdoptsOuterClause(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen
	et := excType("OuterError")
	callee := &sir.Func{
		Var:  sir.Var{ID: ids.Next(), Name: "may_throw", Type: sir.VoidType{}, Global: true},
		Kind: sir.External,
	}
	if _, err := s.RegisterFunc(callee); err != nil {
		t.Fatal(err)
	}

	inner := sir.TryCatch{
		Body:    sir.Call{Callee: sir.VarValue{V: &callee.Var}},
		Finally: sir.Series{},
	}
	outer := sir.TryCatch{
		Body: inner,
		Catches: []sir.CatchClause{
			{Type: et, Handler: sir.Series{}},
		},
	}
	fn := mkFunc(t, s, &ids, "nested", sir.VoidType{}, nil, sir.Series{Items: []sir.Node{outer, sir.Return{}}})
	assertWellFormed(t, fn)

	// Two landing pads reference the outer clause's typeidx global: the
	// outer pad (its own clause) and the inner pad (adopted).
	ir := s.Module.String()
	if got := strings.Count(ir, "codon.typeidx.OuterError"); got < 3 {
		// One definition plus at least two clause references.
		t.Errorf("typeidx global referenced %d times, want the definition plus both pads", got)
	}
	if !strings.Contains(ir, "fdepth") {
		t.Error("no delegation hop block emitted for the adopted clause")
	}
}

// TestReturnInsideTryRoutesThroughFinally checks a return inside try/finally
// stores the value and defers the actual ret to the finally dispatch.
func TestReturnInsideTryRoutesThroughFinally(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen

	body := sir.Series{Items: []sir.Node{
		sir.TryCatch{
			Body:    sir.Return{Value: sir.IntConst{Value: 42}},
			Finally: sir.Series{},
		},
		sir.Return{Value: sir.IntConst{Value: 0}},
	}}
	fn := mkFunc(t, s, &ids, "answer", sir.IntType{}, nil, body)
	assertWellFormed(t, fn)

	// The return value must flow through the frame's retStore cell.
	ir := s.Module.String()
	if !strings.Contains(ir, "exc.retval") {
		t.Error("no retStore cell allocated for a value-returning try")
	}
}

// TestBreakInsideTryDefersToFinally: break inside
// try/finally inside a loop routes through the finally dispatch, not
// straight to the loop exit.
func TestBreakInsideTryDefersToFinally(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen
	loop := &sir.Loop{}

	body := sir.Series{Items: []sir.Node{
		sir.While{
			Cond: sir.BoolConst{Value: true},
			Loop: loop,
			Body: sir.TryCatch{
				Body:    sir.Break{Loop: loop},
				Finally: sir.Series{},
			},
		},
		sir.Return{},
	}}
	fn := mkFunc(t, s, &ids, "breaker", sir.VoidType{}, nil, body)
	assertWellFormed(t, fn)

	ir := s.Module.String()
	if !strings.Contains(ir, "exc.loopseq") {
		t.Error("no loop-sequence cell allocated")
	}
	if !strings.Contains(ir, "trycatch.finally.loopexit") {
		t.Error("no loop-exit dispatch emitted in finally")
	}
}
