// jit.go implements the JIT execution path: build an MCJIT execution
// engine over the finished module, permanently load any requested dynamic
// libraries, and invoke the canonical `main` in-process. RunJIT accepts the
// target machine target.go builds for object emission but does not consult
// it; MCJIT configures its own.
package backend

import (
	"fmt"
	"unsafe"

	"tinygo.org/x/go-llvm"
)

// JITError is the structured runtime exception captured at the JIT entry
// point: the program's captured output plus the thrown exception's type,
// location, and backtrace.
type JITError struct {
	Output    string
	What      string
	Type      string
	File      string
	Line, Col int
	Backtrace []string
}

func (e *JITError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.File, e.Line, e.Col, e.Type, e.What)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.What)
}

// JITOptions controls RunJIT beyond the module and target it receives.
type JITOptions struct {
	// Libs are dynamic libraries to permanently load into the process
	// before execution, so emitted calls into them resolve.
	Libs []string
	// Debug gives a caught JITError a one-entry placeholder Backtrace. No
	// JIT event listener is registered, so frames are not resolved.
	Debug bool
}

// RunJIT builds an MCJIT execution engine over m, loads opts.Libs
// permanently, and calls the canonical `main(argc, argv)` entry point with
// argv (envp is accepted for parity with runFunctionAsMain, though this
// backend's MCJIT binding only forwards argv). A caught JITError is
// returned to the caller instead of printed directly, so cmd/ can decide
// how to report it.
func RunJIT(m llvm.Module, tm llvm.TargetMachine, argv, envp []string, opts JITOptions) (exitCode int, err error) {
	for _, lib := range opts.Libs {
		if err := llvm.LoadLibraryPermanently(lib); err != nil {
			return 0, fmt.Errorf("backend: load library %q: %w", lib, err)
		}
	}

	engineOpts := llvm.NewMCJITCompilerOptions()
	engineOpts.SetMCJITOptimizationLevel(0)

	engine, err := llvm.NewMCJITCompiler(m, engineOpts)
	if err != nil {
		return 0, fmt.Errorf("backend: create JIT engine: %w", err)
	}
	defer engine.Dispose()

	mainFn := m.NamedFunction("main")
	if mainFn.IsNil() {
		return 0, fmt.Errorf("backend: module has no canonical `main` to run")
	}

	defer func() {
		if r := recover(); r != nil {
			jerr := &JITError{What: fmt.Sprint(r), Type: "JITError"}
			if opts.Debug {
				jerr.Backtrace = []string{"<backtrace resolution requires a JITEventListener, not modeled here>"}
			}
			err = jerr
		}
	}()

	argcGV := llvm.NewGenericValueFromInt(m.Context().Int32Type(), uint64(len(argv)), true)
	defer argcGV.Dispose()
	argvGV := llvm.NewGenericValueFromPointer(cStringArray(argv))
	defer argvGV.Dispose()

	result := engine.RunFunction(mainFn, []llvm.GenericValue{argcGV, argvGV})
	defer result.Dispose()
	_ = envp
	return int(result.Int(true)), nil
}

// cStringArray marshals argv into a NUL-terminated C string vector the
// emitted main(i32, i8**) can walk. The backing slices stay reachable for
// the duration of RunFunction through the returned pointer's referent.
func cStringArray(argv []string) unsafe.Pointer {
	vec := make([]*byte, len(argv)+1)
	for i, a := range argv {
		buf := append([]byte(a), 0)
		vec[i] = &buf[0]
	}
	return unsafe.Pointer(&vec[0])
}
