package sir

import "sync/atomic"

// ID is a stable identifier for a SIR Var, allocated once and never reused
// or re-keyed.
type ID int64

// IDGen allocates strictly increasing Var ids.
type IDGen struct{ n int64 }

// Next returns the next unused ID.
func (g *IDGen) Next() ID { return ID(atomic.AddInt64(&g.n, 1)) }

// SourceLoc is a source position, carried for debug info and diagnostics.
type SourceLoc struct {
	File string
	Line int
	Pos  int
}

// Var is a named, typed SIR entity: a global or local variable, or (via
// Func) a function.
type Var struct {
	ID     ID
	Name   string
	Type   Type
	Loc    SourceLoc
	Global bool
}

// FuncKind distinguishes the ways a Func's body is provided.
type FuncKind int

const (
	// Bodied functions have a SIR Flow body lowered normally.
	Bodied FuncKind = iota
	// External functions are declared only, defined elsewhere (e.g. the
	// runtime library).
	External
	// Internal functions are synthesized by pattern match.
	Internal
	// LLMEmbedded functions carry a textual LLM template to be parsed and
	// linked in.
	LLMEmbedded
	// DSLCustom functions delegate generation to an external builder.
	DSLCustom
)

// FuncAttrs controls linkage/inlining policy.
type FuncAttrs struct {
	Export   bool
	Inline   bool
	NoInline bool
}

// InternalPattern names one of the built-in synthesis patterns the
// lowerer can emit for an Internal function.
type InternalPattern int

const (
	PatternNone InternalPattern = iota
	PatternPointerNew
	PatternIntFromIntN
	PatternIntNFromInt
	PatternRefNew
	PatternGeneratorPromise
	PatternRecordNew
)

// Func is a kind of Var whose value is callable.
type Func struct {
	Var
	Kind     FuncKind
	Params   []*Var
	// Locals lists every local Var the function's body references
	// (including loop variables and caught-exception bindings), so the
	// lowerer can allocate them all up front in the entry block. The SIR
	// has no separate declaration instruction, so the list is collected
	// here instead.
	Locals   []*Var
	Body     Node // non-nil only for Bodied
	Attrs    FuncAttrs
	Template string          // non-empty only for LLMEmbedded
	Pattern  InternalPattern // meaningful only for Internal
	Custom   CustomFuncBuilder
}

// CustomFuncBuilder is the DSL extension point for DSLCustom functions.
type CustomFuncBuilder interface {
	Name() string
}

// Module is the top-level SIR unit handed to the lowering visitor.
type Module struct {
	Name     string
	Vars     []*Var
	Funcs    []*Func
	MainFunc *Func
	ArgVar   *Var
}
