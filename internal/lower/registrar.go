// registrar.go implements the Global & Function Registrar: materializing
// SIR Vars/Funcs as LLVM declarations on first mention and binding them
// into the Session's SIR-id -> LLVM-handle maps.
package lower

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// RegisterGlobal materializes v as a module-level declaration without a
// body (functions) or a zero-initialized storage slot (data). Must be
// called before the function body pass runs.
func (s *Session) RegisterGlobal(v *sir.Var) (llvm.Value, error) {
	s.mu.Lock()
	if existing, ok := s.vars[v.ID]; ok && !existing.IsNil() {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	lt, err := s.LowerType(v.Type)
	if err != nil {
		return llvm.Value{}, fmt.Errorf("lower: register global %q: %w", v.Name, err)
	}
	g := llvm.AddGlobal(s.Module, lt, v.Name)
	g.SetInitializer(llvm.ConstNull(lt))
	g.SetLinkage(s.globalLinkage())

	if s.Opts.Debug {
		s.DI.CreateGlobalVariableExpression(s.DIFile, llvm.DIGlobalVariableExpression{
			Name: v.Name,
			File: s.DIFile,
			Line: v.Loc.Line,
			Type: s.DebugType(v.Type),
		})
	}

	s.mu.Lock()
	s.vars[v.ID] = g
	s.mu.Unlock()
	return g, nil
}

// RegisterFunc declares f's signature without emitting a body; the body (if
// any) is emitted later by LowerFuncBody when the SIR func is processed.
func (s *Session) RegisterFunc(f *sir.Func) (llvm.Value, error) {
	s.mu.Lock()
	if existing, ok := s.funcs[f.ID]; ok && !existing.IsNil() {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	paramTypes := make([]llvm.Type, len(f.Params))
	for i, p := range f.Params {
		pt, err := s.LowerType(p.Type)
		if err != nil {
			return llvm.Value{}, fmt.Errorf("lower: register func %q param %q: %w", f.Name, p.Name, err)
		}
		paramTypes[i] = pt
	}
	retType, err := s.LowerType(f.Type)
	if err != nil {
		return llvm.Value{}, fmt.Errorf("lower: register func %q return: %w", f.Name, err)
	}
	ftyp := llvm.FunctionType(retType, paramTypes, false)
	fn := llvm.AddFunction(s.Module, f.Name, ftyp)
	fn.SetLinkage(s.LinkageFor(f))
	s.ApplyFuncAttrs(fn, f)

	for i, p := range f.Params {
		fn.Param(i).SetName(p.Name)
	}

	s.mu.Lock()
	s.funcs[f.ID] = fn
	s.mu.Unlock()
	return fn, nil
}

// GetVar resolves a SIR global Var to its LLVM handle, auto-declaring an
// external import if the cached handle is the JIT null sentinel and the
// current module has no definition yet.
func (s *Session) GetVar(v *sir.Var) (llvm.Value, error) {
	s.mu.Lock()
	cached, ok := s.vars[v.ID]
	s.mu.Unlock()
	if ok && !cached.IsNil() {
		return cached, nil
	}

	if existing := s.Module.NamedGlobal(v.Name); !existing.IsNil() {
		s.mu.Lock()
		s.vars[v.ID] = existing
		s.mu.Unlock()
		return existing, nil
	}

	lt, err := s.LowerType(v.Type)
	if err != nil {
		return llvm.Value{}, err
	}
	g := llvm.AddGlobal(s.Module, lt, v.Name)
	g.SetLinkage(llvm.ExternalLinkage)
	g.SetExternallyInitialized(true)
	if s.Opts.Debug {
		s.DI.CreateGlobalVariableExpression(s.DIFile, llvm.DIGlobalVariableExpression{
			Name: v.Name, File: s.DIFile, Line: v.Loc.Line, Type: s.DebugType(v.Type),
		})
	}
	s.mu.Lock()
	s.vars[v.ID] = g
	s.mu.Unlock()
	return g, nil
}

// GetFunc resolves a SIR Func the same way GetVar resolves a Var, declaring
// an `extern` function if needed.
func (s *Session) GetFunc(f *sir.Func) (llvm.Value, error) {
	s.mu.Lock()
	cached, ok := s.funcs[f.ID]
	s.mu.Unlock()
	if ok && !cached.IsNil() {
		return cached, nil
	}
	if existing := s.Module.NamedFunction(f.Name); !existing.IsNil() {
		s.mu.Lock()
		s.funcs[f.ID] = existing
		s.mu.Unlock()
		return existing, nil
	}
	return s.RegisterFunc(f)
}

// globalLinkage mirrors LinkageFor's AOT/JIT split for data globals.
func (s *Session) globalLinkage() llvm.Linkage {
	if s.Opts.JIT {
		return llvm.ExternalLinkage
	}
	return llvm.PrivateLinkage
}
