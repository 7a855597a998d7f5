// Package lower implements the SIR → LLM lowering visitor: the stateful
// translator that walks a typed sir.Module and produces an LLVM module via
// tinygo.org/x/go-llvm. State that could have lived in package-level
// globals (the symbol table, the type index counter) is threaded
// explicitly through a Session value, so several independent lowerings
// can run in one process.
package lower

import (
	"sync"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/diag"
	"sirlower/internal/sir"
	"sirlower/internal/util"
)

// ForeignExceptionPolicy selects what happens when an exception with a
// foreign (non-language) class reaches a landing pad.
type ForeignExceptionPolicy int

const (
	// Abort treats foreign exceptions as unrecoverable: the externalExc
	// block is `unreachable`.
	Abort ForeignExceptionPolicy = iota
)

// Options controls lowering policy knobs that are not derivable from the
// SIR itself.
type Options struct {
	// JIT selects JIT linkage defaults (external) over AOT (private).
	JIT bool
	// Debug enables DWARF debug info emission.
	Debug bool
	// Darwin is set when targeting Darwin, affecting the DWARF version
	// used for the compile unit.
	Darwin bool
	// PreciseCoroFree, when true, emits an explicit free call in a
	// generator's cleanup block instead of relying on GC reclamation.
	PreciseCoroFree bool
	// ForeignException selects the policy applied when a foreign
	// exception class reaches a landing pad.
	ForeignException ForeignExceptionPolicy
	// SourceFile is the SIR module's nominal source file, used for the
	// debug compile unit and module source_filename.
	SourceFile string
}

// Session carries every piece of state the lowering visitor needs across
// one SIR module: the LLVM context/module/builder triple, the SIR-id to
// LLVM-handle maps, the type caches, the type-index table, and the active
// loop/try frame stacks. Exactly one Session exists per lowered module; a
// JIT host creates a fresh Session per incremental module and calls Reset
// on the previous one before discarding it.
type Session struct {
	Opts Options

	Ctx     llvm.Context
	Module  llvm.Module
	Builder llvm.Builder
	DI      *llvm.DIBuilder

	CompileUnit llvm.Metadata
	DIFile      llvm.Metadata

	Diag *diag.Collector

	// mu is a pointer, not a value, so that a worker Session created by
	// cloneForWorker (internal/lowermodule's parallel function-body pass)
	// shares the exact same lock guarding vars/funcs with its parent
	// instead of copying an independent, unlocked Mutex value.
	mu    *sync.Mutex
	vars  map[sir.ID]llvm.Value // SIR global Var -> LLVM global
	funcs map[sir.ID]llvm.Value // SIR Func -> LLVM function

	// typeMu guards the two type caches; worker Sessions share both maps
	// and the lock.
	typeMu      *sync.Mutex
	typeCache   map[string]llvm.Type
	diTypeCache map[string]llvm.Metadata

	typeIndex *TypeIndexTable

	loopStack *util.Stack[*LoopFrame]
	tryStack  *util.Stack[*TryFrame]
	seq       util.SeqCounter

	curFunc llvm.Value
	curCoro *CoroContext

	// TargetData is attached by internal/backend once a target machine is
	// picked; HasTargetData is false until then, in which
	// case sizeOfType falls back to a conservative estimate.
	TargetData    llvm.TargetData
	HasTargetData bool
}

// AttachTargetData records the TargetData of the target machine the module
// will be compiled for, so TypeProperty's SIZEOF query can
// report an exact, ABI-correct allocation size instead of the conservative
// fallback used when lowering types outside of a full build.
func (s *Session) AttachTargetData(td llvm.TargetData) {
	s.TargetData = td
	s.HasTargetData = true
}

// NewSession creates a Session with a fresh LLVM context, module and
// builder, and (if Debug) a debug-info builder plus compile unit.
func NewSession(moduleName string, opts Options) *Session {
	ctx := llvm.NewContext()
	m := ctx.NewModule(moduleName)
	b := ctx.NewBuilder()

	s := &Session{
		Opts:        opts,
		Ctx:         ctx,
		Module:      m,
		Builder:     b,
		Diag:        diag.NewCollector(16),
		mu:          &sync.Mutex{},
		typeMu:      &sync.Mutex{},
		vars:        make(map[sir.ID]llvm.Value, 64),
		funcs:       make(map[sir.ID]llvm.Value, 64),
		typeCache:   make(map[string]llvm.Type, 32),
		diTypeCache: make(map[string]llvm.Metadata, 32),
		typeIndex:   NewTypeIndexTable(),
		loopStack:   &util.Stack[*LoopFrame]{},
		tryStack:    &util.Stack[*TryFrame]{},
	}

	if opts.Debug {
		s.DI = llvm.NewDIBuilder(m)
		dwarfVersion := 4
		if opts.Darwin {
			dwarfVersion = 2
		}
		s.DIFile = s.DI.CreateFile(opts.SourceFile, ".")
		s.CompileUnit = s.DI.CreateCompileUnit(llvm.DICompileUnit{
			Language:       0x0001, // DW_LANG_C
			File:           opts.SourceFile,
			Dir:            ".",
			Producer:       "sirlowerc",
			Optimized:      false,
			Flags:          "",
			RuntimeVersion: 0,
		})
		m.AddNamedMetadataOperand("llvm.module.flags",
			ctx.MDNode([]llvm.Metadata{
				llvm.ConstInt(ctx.Int32Type(), 2, false).ConstantAsMetadata(), // warn on mismatch
				ctx.MDString("Dwarf Version"),
				llvm.ConstInt(ctx.Int32Type(), uint64(dwarfVersion), false).ConstantAsMetadata(),
			}))
	}
	return s
}

// Dispose releases the underlying LLVM context resources.
func (s *Session) Dispose() {
	if s.Opts.Debug {
		s.DI.Finalize()
	}
	s.Builder.Dispose()
	s.Module.Dispose()
	s.Ctx.Dispose()
}

// Reset implements the JIT module hand-off rule: when a module is taken
// out of the session (e.g. handed to the JIT engine and
// released), every cached LLM handle becomes a null sentinel meaning
// "defined in a previously released sibling module". Subsequent lookups in
// a new Session for the same sir.Module must auto-declare the symbol as an
// external import.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.vars {
		s.vars[id] = llvm.Value{}
	}
	for id := range s.funcs {
		s.funcs[id] = llvm.Value{}
	}
}

// at re-establishes the insertion point before an emission. The insertion
// point is the pair (current function, current block); every emission
// routine re-establishes it rather than trusting a previous state, since
// helpers like emitCall can split the current block.
func (s *Session) at(fn llvm.Value, bb llvm.BasicBlock) {
	s.curFunc = fn
	s.Builder.SetInsertPointAtEnd(bb)
}

// newBlock appends a fresh, unterminated basic block to fn. Fresh blocks
// are created whenever control "falls off" so that a later emission
// always has somewhere to land.
func (s *Session) newBlock(fn llvm.Value, name string) llvm.BasicBlock {
	return llvm.AddBasicBlock(fn, name)
}

// CloneForWorker returns a Session sharing this one's context, module,
// debug info, type caches and SIR-id maps, but with its own Builder and
// empty loop/try stacks, so that internal/lowermodule's parallel
// function-body pass can give each worker goroutine an independent
// instruction cursor while sharing one llvm.Module.
func (s *Session) CloneForWorker() *Session {
	clone := *s
	clone.Builder = s.Ctx.NewBuilder()
	clone.loopStack = &util.Stack[*LoopFrame]{}
	clone.tryStack = &util.Stack[*TryFrame]{}
	clone.curFunc = llvm.Value{}
	clone.curCoro = nil
	return &clone
}
