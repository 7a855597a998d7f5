// linkage.go implements the Name & Linkage Policy.
package lower

import (
	"tinygo.org/x/go-llvm"

	"sirlower/internal/runtime"
	"sirlower/internal/sir"
)

// LinkageFor chooses a function's linkage: external under JIT, private
// under AOT, except `export` always forces external.
func (s *Session) LinkageFor(f *sir.Func) llvm.Linkage {
	if f.Attrs.Export {
		return llvm.ExternalLinkage
	}
	if s.Opts.JIT {
		return llvm.ExternalLinkage
	}
	return llvm.PrivateLinkage
}

// ApplyFuncAttrs attaches always-inline/no-inline attributes right after
// declaration, before any call site references the function.
func (s *Session) ApplyFuncAttrs(fn llvm.Value, f *sir.Func) {
	if f.Attrs.Inline {
		fn.AddAttributeAtIndex(llvm.AttributeFunctionIndex, s.enumAttr("alwaysinline"))
	}
	if f.Attrs.NoInline {
		fn.AddAttributeAtIndex(llvm.AttributeFunctionIndex, s.enumAttr("noinline"))
	}
}

// ApplyRuntimeAttrs attaches the attribute set runtime helper symbol
// references carry: no-unwind on helpers flagged NoUnwind, no-alias on the
// return value of allocators, no-return on terminator helpers.
func (s *Session) ApplyRuntimeAttrs(fn llvm.Value, sym runtime.Symbol) {
	if sym.NoUnwind {
		fn.AddAttributeAtIndex(llvm.AttributeFunctionIndex, s.enumAttr("nounwind"))
	}
	if sym.NoReturn {
		fn.AddAttributeAtIndex(llvm.AttributeFunctionIndex, s.enumAttr("noreturn"))
	}
	switch sym {
	case runtime.SeqAlloc, runtime.SeqAllocAtomic, runtime.SeqCalloc, runtime.SeqCallocAtomic, runtime.SeqRealloc:
		fn.AddAttributeAtIndex(llvm.AttributeReturnIndex, s.enumAttr("noalias"))
	}
}

// enumAttr builds an LLVM enum attribute by name, looked up against the
// context's attribute kind table.
func (s *Session) enumAttr(name string) llvm.Attribute {
	kind := llvm.AttributeKindID(name)
	return s.Ctx.CreateEnumAttribute(kind, 0)
}
