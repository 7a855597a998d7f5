package lower

import (
	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// ExcFlag enumerates the states of a try-frame's excFlag cell.
type ExcFlag int64

const (
	NotThrown ExcFlag = iota
	Thrown
	Caught
	RetFlag
	BreakFlag
	ContinueFlag
)

// LoopFrame records one active loop's break/continue targets plus the
// sequence number it was pushed with.
type LoopFrame struct {
	Break, Continue llvm.BasicBlock
	Seq             int64
	Loop            *sir.Loop
}

// TryFrame is the per-try run-time state plus blocks used to implement
// try/catch/finally. Root try-frames own their state cells; nested
// try-frames alias the root's cells by reference.
type TryFrame struct {
	Seq    int64
	Parent *TryFrame
	Root   *TryFrame // self, if this is the root

	// State cells. Only populated on the root; nested frames read these
	// through the same fields, copied from Root at construction time.
	ExcFlagCell       llvm.Value // alloca of i8
	CatchStoreCell    llvm.Value // alloca of the shared landing-pad type
	DelegateDepthCell llvm.Value // alloca of i64
	RetStoreCell      llvm.Value // alloca of the function's return type, or nil
	LoopSeqCell       llvm.Value // alloca of i64

	// Blocks, one set per try (not shared with the root).
	Entry          llvm.BasicBlock
	Exception      llvm.BasicBlock
	ExceptionRoute llvm.BasicBlock
	Finally        llvm.BasicBlock
	ExternalExc    llvm.BasicBlock
	UnwindResume   llvm.BasicBlock
	End            llvm.BasicBlock

	Catches []CatchClause
	// Adopted holds clauses taken over from enclosing try-frames so an
	// exception matched by an outer handler still unwinds through this
	// frame's finally first. Depth counts the finalizers to cross; the
	// Handler stays nil, the owning frame lowers it.
	Adopted []CatchClause
}

// CatchClause mirrors sir.CatchClause but carries the lowered LLVM pointer
// type for the bound variable and the allocated type index, so the
// landing-pad builder does not need to re-lower types per clause.
type CatchClause struct {
	TypeName string // "" denotes catch-all
	TypeIdx  int32
	VarAlloc llvm.Value // nil if unbound
	Handler  sir.Node
	Depth    int // finalizers to cross when adopted from an outer try-frame
}

// IsRoot reports whether f has no enclosing try-frame.
func (f *TryFrame) IsRoot() bool { return f.Parent == nil }
