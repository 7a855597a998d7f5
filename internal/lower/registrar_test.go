package lower

import (
	"testing"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// TestRegisterGlobalOnce checks the single-materialization invariant: the
// same Var registered twice yields the same handle and one module global.
func TestRegisterGlobalOnce(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen
	v := &sir.Var{ID: ids.Next(), Name: "counter", Type: sir.IntType{}, Global: true}

	g1, err := s.RegisterGlobal(v)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := s.RegisterGlobal(v)
	if err != nil {
		t.Fatal(err)
	}
	if g1 != g2 {
		t.Error("second RegisterGlobal returned a distinct handle")
	}

	count := 0
	for g := s.Module.FirstGlobal(); !g.IsNil(); g = llvm.NextGlobal(g) {
		if g.Name() == "counter" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("module has %d globals named counter, want 1", count)
	}
}

// TestRegisterFuncOnce mirrors TestRegisterGlobalOnce for functions.
func TestRegisterFuncOnce(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen
	f := &sir.Func{
		Var:  sir.Var{ID: ids.Next(), Name: "f", Type: sir.VoidType{}, Global: true},
		Kind: sir.Bodied,
		Body: sir.Return{},
	}

	fn1, err := s.RegisterFunc(f)
	if err != nil {
		t.Fatal(err)
	}
	fn2, err := s.RegisterFunc(f)
	if err != nil {
		t.Fatal(err)
	}
	if fn1 != fn2 {
		t.Error("second RegisterFunc returned a distinct handle")
	}
	if fn1.BasicBlocksCount() != 0 {
		t.Error("RegisterFunc emitted a body; bodies belong to LowerFuncBody")
	}
}

// TestResetDeclaresExternal checks the JIT hand-off rule: after the
// defining session is Reset, a lookup in a fresh session sharing the SIR
// ids declares the symbol as an external import.
func TestResetDeclaresExternal(t *testing.T) {
	s := NewSession("mod1", Options{JIT: true})
	defer s.Dispose()
	var ids sir.IDGen
	v := &sir.Var{ID: ids.Next(), Name: "shared", Type: sir.IntType{}, Global: true}

	if _, err := s.RegisterGlobal(v); err != nil {
		t.Fatal(err)
	}
	s.Reset()

	// Simulate the next incremental module: a fresh session sharing the
	// SIR ids sees the symbol for the first time.
	s2 := NewSession("mod2", Options{JIT: true})
	defer s2.Dispose()
	g, err := s2.GetVar(v)
	if err != nil {
		t.Fatal(err)
	}
	if g.Linkage() != llvm.ExternalLinkage {
		t.Errorf("linkage = %v, want external", g.Linkage())
	}
	if !g.IsExternallyInitialized() {
		t.Error("cross-module global not marked externally_initialized")
	}
	if init := g.Initializer(); !init.IsNil() {
		t.Error("external import carries an initializer")
	}
}

// TestLinkagePolicy checks the JIT/AOT default split and the export
// override.
func TestLinkagePolicy(t *testing.T) {
	var ids sir.IDGen
	mk := func(export bool) *sir.Func {
		return &sir.Func{
			Var:   sir.Var{ID: ids.Next(), Name: "f", Type: sir.VoidType{}},
			Attrs: sir.FuncAttrs{Export: export},
		}
	}

	aot := newTestSession(t)
	if l := aot.LinkageFor(mk(false)); l != llvm.PrivateLinkage {
		t.Errorf("AOT default linkage = %v, want private", l)
	}
	if l := aot.LinkageFor(mk(true)); l != llvm.ExternalLinkage {
		t.Errorf("AOT exported linkage = %v, want external", l)
	}

	jit := NewSession("jit", Options{JIT: true})
	defer jit.Dispose()
	if l := jit.LinkageFor(mk(false)); l != llvm.ExternalLinkage {
		t.Errorf("JIT default linkage = %v, want external", l)
	}
}
