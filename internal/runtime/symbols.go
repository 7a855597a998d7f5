// Package runtime names the symbol contract the lowering backend emits
// references to, but never defines. The runtime support
// library itself is out of scope; this package only fixes names, argument
// counts and attribute intent so internal/lower can declare externs
// consistently from a single table instead of ad hoc strings at call
// sites.
package runtime

// Symbol describes one runtime entry point the lowerer may reference.
type Symbol struct {
	Name     string
	NumArgs  int // -1 means variadic
	NoReturn bool
	NoUnwind bool
}

// Memory management.
var (
	SeqAlloc             = Symbol{Name: "seq_alloc", NumArgs: 1, NoUnwind: true}
	SeqAllocAtomic       = Symbol{Name: "seq_alloc_atomic", NumArgs: 1, NoUnwind: true}
	SeqCalloc            = Symbol{Name: "seq_calloc", NumArgs: 2, NoUnwind: true}
	SeqCallocAtomic      = Symbol{Name: "seq_calloc_atomic", NumArgs: 2, NoUnwind: true}
	SeqRealloc           = Symbol{Name: "seq_realloc", NumArgs: 2, NoUnwind: true}
	SeqFree              = Symbol{Name: "seq_free", NumArgs: 1, NoUnwind: true}
	SeqRegisterFinalizer = Symbol{Name: "seq_register_finalizer", NumArgs: 2, NoUnwind: true}
)

// GC roots.
var (
	SeqGCAddRoots           = Symbol{Name: "seq_gc_add_roots", NumArgs: 2, NoUnwind: true}
	SeqGCRemoveRoots        = Symbol{Name: "seq_gc_remove_roots", NumArgs: 1, NoUnwind: true}
	SeqGCClearRoots         = Symbol{Name: "seq_gc_clear_roots", NumArgs: 0, NoUnwind: true}
	SeqGCExcludeStaticRoots = Symbol{Name: "seq_gc_exclude_static_roots", NumArgs: 2, NoUnwind: true}
)

// Exceptions.
var (
	SeqAllocExc    = Symbol{Name: "seq_alloc_exc", NumArgs: 2}
	SeqThrow       = Symbol{Name: "seq_throw", NumArgs: 1, NoReturn: true}
	SeqTerminate   = Symbol{Name: "seq_terminate", NumArgs: 1, NoReturn: true}
	SeqPersonality = Symbol{Name: "seq_personality", NumArgs: 5}
	SeqExcOffset   = Symbol{Name: "seq_exc_offset", NumArgs: 0, NoUnwind: true}
	SeqExcClass    = Symbol{Name: "seq_exc_class", NumArgs: 0, NoUnwind: true}
)

// Init/env.
var SeqInit = Symbol{Name: "seq_init", NumArgs: 1}

// Flag bits accepted by seq_init.
const (
	FlagDebug      = 1 << 0
	FlagJIT        = 1 << 1
	FlagStandalone = 1 << 2
)

// Strings.
var (
	SeqStrInt    = Symbol{Name: "seq_str_int", NumArgs: 1, NoUnwind: true}
	SeqStrUint   = Symbol{Name: "seq_str_uint", NumArgs: 1, NoUnwind: true}
	SeqStrFloat  = Symbol{Name: "seq_str_float", NumArgs: 1, NoUnwind: true}
	SeqStrBool   = Symbol{Name: "seq_str_bool", NumArgs: 1, NoUnwind: true}
	SeqStrByte   = Symbol{Name: "seq_str_byte", NumArgs: 1, NoUnwind: true}
	SeqStrPtr    = Symbol{Name: "seq_str_ptr", NumArgs: 1, NoUnwind: true}
	SeqStrTuple  = Symbol{Name: "seq_str_tuple", NumArgs: -1, NoUnwind: true}
	SeqPrint     = Symbol{Name: "seq_print", NumArgs: 1}
	SeqPrintFull = Symbol{Name: "seq_print_full", NumArgs: 2}
)

// Locks.
var (
	SeqLockNew      = Symbol{Name: "seq_lock_new", NumArgs: 0, NoUnwind: true}
	SeqLockAcquire  = Symbol{Name: "seq_lock_acquire", NumArgs: 3}
	SeqLockRelease  = Symbol{Name: "seq_lock_release", NumArgs: 1, NoUnwind: true}
	SeqRLockNew     = Symbol{Name: "seq_rlock_new", NumArgs: 0, NoUnwind: true}
	SeqRLockAcquire = Symbol{Name: "seq_rlock_acquire", NumArgs: 3}
	SeqRLockRelease = Symbol{Name: "seq_rlock_release", NumArgs: 1, NoUnwind: true}
)

// Support.
var Strlen = Symbol{Name: "strlen", NumArgs: 1, NoUnwind: true}

// ExcPayloadOffsetHint documents the exception payload layout:
// allocation returns a pointer into an unwind header, and the
// language payload {i32 typeIndex, i8* objectPointer} sits at the positive
// byte offset returned at runtime by SeqExcOffset. There is no static
// constant here: the offset is target- and runtime-build dependent and must
// be queried via a call to seq_exc_offset(), never hardcoded.
const ExcPayloadOffsetHint = "query seq_exc_offset() at lowering time, do not hardcode"
