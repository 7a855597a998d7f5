// runtimefunc.go declares and caches references to internal/runtime
// symbols as they are needed at individual call sites, so repeated wants
// of the same symbol share one declaration with its attributes applied
// once.
package lower

import (
	"tinygo.org/x/go-llvm"

	"sirlower/internal/runtime"
)

// runtimeFunc returns the module-level declaration of sym, declaring it with
// fnType on first use and caching by name so repeated call sites (e.g. every
// throw site wanting seq_alloc_exc) share one declaration.
func (s *Session) runtimeFunc(sym runtime.Symbol, fnType llvm.Type) llvm.Value {
	if existing := s.Module.NamedFunction(sym.Name); !existing.IsNil() {
		return existing
	}
	fn := llvm.AddFunction(s.Module, sym.Name, fnType)
	fn.SetLinkage(llvm.ExternalLinkage)
	s.ApplyRuntimeAttrs(fn, sym)
	return fn
}

// RuntimeFunc exports runtimeFunc for internal/lowermodule's canonical
// main synthesis, the one emitter of runtime references outside this
// package.
func (s *Session) RuntimeFunc(sym runtime.Symbol, fnType llvm.Type) llvm.Value {
	return s.runtimeFunc(sym, fnType)
}
