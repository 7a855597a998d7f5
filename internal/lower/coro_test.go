package lower

import (
	"strings"
	"testing"

	"sirlower/internal/sir"
)

// TestGeneratorPrologue checks the coroutine skeleton of a generator
// function: the id/alloc/size/begin sequence, an initial suspend before
// the body, a final suspend in the exit path, and frame allocation through
// the GC allocator.
func TestGeneratorPrologue(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen

	body := sir.Series{Items: []sir.Node{
		sir.Yield{Value: sir.IntConst{Value: 1}},
		sir.Yield{Value: sir.IntConst{Value: 2}},
		sir.Yield{Value: sir.IntConst{Value: 3}},
	}}
	fn := mkFunc(t, s, &ids, "nums", &sir.GeneratorType{Base: sir.IntType{}}, nil, body)
	assertWellFormed(t, fn)

	ir := s.Module.String()
	for _, want := range []string{
		"llvm.coro.id",
		"llvm.coro.alloc",
		"llvm.coro.size",
		"llvm.coro.begin",
		"llvm.coro.free",
		"llvm.coro.end",
		"seq_alloc",
		"coro.initial_suspend",
		"coro.final_suspend",
		"coro.promise",
	} {
		if !strings.Contains(ir, want) {
			t.Errorf("generator IR lacks %q", want)
		}
	}

	// Three value yields plus the initial and final suspends.
	if got := strings.Count(ir, "call i8 @llvm.coro.suspend"); got < 5 {
		t.Errorf("%d coro.suspend calls, want at least 5 (3 yields + initial + final)", got)
	}
	// GC owns the frame: no free call unless PreciseCoroFree is set.
	if strings.Contains(ir, "seq_free") {
		t.Error("cleanup called seq_free without PreciseCoroFree")
	}
}

// TestGeneratorPreciseFree checks the policy knob: with PreciseCoroFree
// the cleanup block releases the frame explicitly.
func TestGeneratorPreciseFree(t *testing.T) {
	s := NewSession("precise", Options{PreciseCoroFree: true})
	defer s.Dispose()
	var ids sir.IDGen

	f := &sir.Func{
		Var:  sir.Var{ID: ids.Next(), Name: "gen", Type: &sir.GeneratorType{Base: sir.IntType{}}, Global: true},
		Kind: sir.Bodied,
		Body: sir.Yield{Value: sir.IntConst{Value: 1}},
	}
	fn, err := s.RegisterFunc(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.LowerFuncBody(fn, f); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(s.Module.String(), "seq_free") {
		t.Error("PreciseCoroFree did not emit a seq_free call in cleanup")
	}
}

// TestVoidGeneratorHasNoPromise checks a Generator(Void) function gets no
// promise slot but still suspends.
func TestVoidGeneratorHasNoPromise(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen

	fn := mkFunc(t, s, &ids, "ticker", &sir.GeneratorType{Base: sir.VoidType{}}, nil,
		sir.Series{Items: []sir.Node{sir.Yield{}}})
	assertWellFormed(t, fn)

	ir := s.Module.String()
	if strings.Contains(ir, "%coro.promise = alloca") {
		t.Error("void generator allocated a promise slot")
	}
	if !strings.Contains(ir, "llvm.coro.suspend") {
		t.Error("void generator never suspends")
	}
}

// TestYieldOutsideGeneratorFails checks the invariant-violation path.
func TestYieldOutsideGeneratorFails(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen

	f := &sir.Func{
		Var:  sir.Var{ID: ids.Next(), Name: "notgen", Type: sir.VoidType{}, Global: true},
		Kind: sir.Bodied,
		Body: sir.Yield{Value: sir.IntConst{Value: 1}},
	}
	fn, err := s.RegisterFunc(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.LowerFuncBody(fn, f); err == nil {
		t.Fatal("yield outside a generator lowered without error")
	}
}

// TestForLoopDrivesGenerator checks the consumer side speaks the intrinsic
// protocol directly: resume, done test, promise read, destroy on cleanup.
func TestForLoopDrivesGenerator(t *testing.T) {
	s := newTestSession(t)
	var ids sir.IDGen

	gen := &sir.Func{
		Var:  sir.Var{ID: ids.Next(), Name: "nums", Type: &sir.GeneratorType{Base: sir.IntType{}}, Global: true},
		Kind: sir.Bodied,
		Body: sir.Yield{Value: sir.IntConst{Value: 1}},
	}
	genFn, err := s.RegisterFunc(gen)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.LowerFuncBody(genFn, gen); err != nil {
		t.Fatal(err)
	}

	i := local(&ids, "i", sir.IntType{})
	sum := local(&ids, "sum", sir.IntType{})
	body := sir.Series{Items: []sir.Node{
		sir.For{
			Iterable: sir.Call{Callee: sir.VarValue{V: &gen.Var}},
			LoopVar:  i,
			Loop:     &sir.Loop{},
			Body:     sir.Assign{Target: sum, Value: sir.VarValue{V: i}},
		},
		sir.Return{Value: sir.VarValue{V: sum}},
	}}
	fn := mkFunc(t, s, &ids, "consume", sir.IntType{}, []*sir.Var{i, sum}, body)
	assertWellFormed(t, fn)

	ir := s.Module.String()
	for _, want := range []string{"llvm.coro.resume", "llvm.coro.done", "llvm.coro.promise", "llvm.coro.destroy"} {
		if !strings.Contains(ir, want) {
			t.Errorf("for-loop IR lacks %q", want)
		}
	}
}
