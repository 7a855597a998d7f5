package lower

import (
	"sync"

	"tinygo.org/x/go-llvm"
)

// catchAllIndex is the reserved index denoting a catch-all clause.
const catchAllIndex int32 = 0

// typeIndexBase is the first index handed out to a real catch type;
// indices below it are reserved (0 is catch-all).
const typeIndexBase int32 = 1000

// TypeIndexTable maps distinct SIR catch-type names to stable i32
// indices, one per lowering Session rather than process-wide. Within one
// module repeated queries are idempotent, and two unrelated Sessions
// (e.g. a build and a JIT REPL) never contend on it. The lock matters
// only when one table is shared across concurrent worker builders.
type TypeIndexTable struct {
	mu      sync.Mutex
	next    int32
	indices map[string]int32
	globals map[string]llvm.Value // module-level "codon.typeidx.<name>" constants, cached per module
}

// NewTypeIndexTable returns an empty table starting at typeIndexBase.
func NewTypeIndexTable() *TypeIndexTable {
	return &TypeIndexTable{
		next:    typeIndexBase,
		indices: make(map[string]int32, 8),
		globals: make(map[string]llvm.Value, 8),
	}
}

// IndexFor returns the stable index for a catch type name ("" for
// catch-all), allocating a new one on first use.
func (t *TypeIndexTable) IndexFor(name string) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.indexForLocked(name)
}

// indexForLocked is IndexFor's body; the caller must hold t.mu.
func (t *TypeIndexTable) indexForLocked(name string) int32 {
	if name == "" {
		return catchAllIndex
	}
	if idx, ok := t.indices[name]; ok {
		return idx
	}
	idx := t.next
	t.next++
	t.indices[name] = idx
	return idx
}

// Global materializes (once per module) the private constant global
// `codon.typeidx.<name>` containing `{i32 index}`, used as a landing-pad
// clause value.
func (t *TypeIndexTable) Global(s *Session, name string) llvm.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	if g, ok := t.globals[name]; ok {
		return g
	}
	idx := t.indexForLocked(name)
	symName := "codon.typeidx." + name
	if symName == "codon.typeidx." {
		symName = "codon.typeidx.<catchall>"
	}
	structTy := s.Ctx.StructType([]llvm.Type{s.Ctx.Int32Type()}, false)
	g := llvm.AddGlobal(s.Module, structTy, symName)
	g.SetGlobalConstant(true)
	g.SetLinkage(llvm.PrivateLinkage)
	g.SetInitializer(llvm.ConstNamedStruct(structTy, []llvm.Value{
		llvm.ConstInt(s.Ctx.Int32Type(), uint64(idx), false),
	}))
	t.globals[name] = g
	return g
}
