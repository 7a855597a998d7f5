package backend

import (
	"path/filepath"
	"strings"
	"testing"

	"tinygo.org/x/go-llvm"
)

// TestTripleComposition checks explicit triples render the expected
// arch-vendor-os strings.
func TestTripleComposition(t *testing.T) {
	cases := []struct {
		opts TargetOptions
		want string
	}{
		{TargetOptions{Arch: X86_64, Vendor: PC, OS: Linux}, "x86_64-pc-linux-gnu"},
		{TargetOptions{Arch: Aarch64, Vendor: Apple, OS: Darwin}, "aarch64-apple-macosx"},
		{TargetOptions{Arch: Riscv64, OS: Linux}, "riscv64-pc-linux-gnu"},
		{TargetOptions{Arch: X86_64, Vendor: PC, OS: Windows}, "x86_64-pc-win32"},
	}
	for _, c := range cases {
		got, err := c.opts.triple()
		if err != nil {
			t.Fatalf("triple(%+v): %v", c.opts, err)
		}
		if got != c.want {
			t.Errorf("triple(%+v) = %q, want %q", c.opts, got, c.want)
		}
	}
}

// TestTripleDefaultsToHost checks the zero value resolves to the host
// triple.
func TestTripleDefaultsToHost(t *testing.T) {
	got, err := TargetOptions{}.triple()
	if err != nil {
		t.Fatal(err)
	}
	if got != llvm.DefaultTargetTriple() {
		t.Errorf("zero-value triple = %q, want host default %q", got, llvm.DefaultTargetTriple())
	}
}

// TestIsDarwinExplicit checks the explicit-OS cases without relying on the
// host.
func TestIsDarwinExplicit(t *testing.T) {
	if !(TargetOptions{OS: Darwin}).IsDarwin() {
		t.Error("OS=Darwin reported non-Darwin")
	}
	if (TargetOptions{OS: Linux}).IsDarwin() {
		t.Error("OS=Linux reported Darwin")
	}
}

// TestJITErrorFormat checks both location-carrying and bare renderings.
func TestJITErrorFormat(t *testing.T) {
	with := &JITError{What: "division by zero", Type: "ZeroDivisionError", File: "m.sq", Line: 3, Col: 9}
	if got := with.Error(); got != "m.sq:3:9: ZeroDivisionError: division by zero" {
		t.Errorf("Error() = %q", got)
	}
	bare := &JITError{What: "boom", Type: "RuntimeError"}
	if got := bare.Error(); got != "RuntimeError: boom" {
		t.Errorf("Error() = %q", got)
	}
}

// TestWriteTextOutput checks the `.ll` suffix path writes the module's
// textual IR.
func TestWriteTextOutput(t *testing.T) {
	ctx := llvm.NewContext()
	defer ctx.Dispose()
	m := ctx.NewModule("out")
	defer m.Dispose()

	path := filepath.Join(t.TempDir(), "out.ll")
	if err := WriteOutput(m, llvm.TargetMachine{}, path, LinkOptions{}); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	raw, err := readFileString(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(raw, "module") && !strings.Contains(raw, "out") {
		t.Errorf("written IR looks empty: %q", raw)
	}
}
