package lower

import (
	"testing"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// newTestSession builds a Session suitable for structural assertions:
// AOT mode, no debug info, no target data attached.
func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession("test", Options{SourceFile: "test.sq"})
	t.Cleanup(s.Dispose)
	return s
}

// assertWellFormed walks every basic block of fn and asserts it carries
// exactly one terminator, at the end.
func assertWellFormed(t *testing.T, fn llvm.Value) {
	t.Helper()
	for bb := fn.FirstBasicBlock(); !bb.IsNil(); bb = llvm.NextBasicBlock(bb) {
		terms := 0
		for inst := bb.FirstInstruction(); !inst.IsNil(); inst = llvm.NextInstruction(inst) {
			switch inst.InstructionOpcode() {
			case llvm.Ret, llvm.Br, llvm.Switch, llvm.IndirectBr, llvm.Invoke,
				llvm.Unreachable, llvm.Resume:
				terms++
			}
		}
		if terms != 1 {
			t.Errorf("block %q has %d terminators, want exactly 1", bb.AsValue().Name(), terms)
		}
		if !blockTerminated(bb) {
			t.Errorf("block %q does not end in a terminator", bb.AsValue().Name())
		}
	}
}

// mkFunc registers a Bodied function and lowers its body, failing the test
// on any error.
func mkFunc(t *testing.T, s *Session, ids *sir.IDGen, name string, ret sir.Type, locals []*sir.Var, body sir.Node) llvm.Value {
	t.Helper()
	f := &sir.Func{
		Var:    sir.Var{ID: ids.Next(), Name: name, Type: ret, Global: true},
		Kind:   sir.Bodied,
		Locals: locals,
		Body:   body,
	}
	fn, err := s.RegisterFunc(f)
	if err != nil {
		t.Fatalf("RegisterFunc(%q): %v", name, err)
	}
	if err := s.LowerFuncBody(fn, f); err != nil {
		t.Fatalf("LowerFuncBody(%q): %v", name, err)
	}
	return fn
}

// local allocates a named local Var for test bodies.
func local(ids *sir.IDGen, name string, t sir.Type) *sir.Var {
	return &sir.Var{ID: ids.Next(), Name: name, Type: t}
}
