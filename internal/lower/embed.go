// embed.go implements the Embedded-LLM Linker: functions whose body is a
// textual LLVM IR template are rendered, parsed as a standalone module,
// and linked into the session's module; the linked definition then gets
// the function's linkage and attributes and, when debug info is enabled, a
// backfill pass stamps every one of its instructions with the function's
// declaration site.
package lower

import (
	"bytes"
	"fmt"
	"text/template"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// templateArg describes one parameter substituted into an embedded LLM
// function's template.
type templateArg struct {
	Index int
	Type  string
	Name  string
}

// templateData is the substitution context handed to the embedded
// function's template.
type templateData struct {
	Name string
	Ret  string
	Args []templateArg
}

// LowerEmbeddedFunc renders f.Template, parses it as LLVM IR, and links the
// resulting definition into the session's module in place of fn's
// declaration-only stub. fn must already be registered.
func (s *Session) LowerEmbeddedFunc(fn llvm.Value, f *sir.Func) error {
	if f.Kind != sir.LLMEmbedded {
		return nil
	}

	rendered, err := s.renderEmbeddedTemplate(fn, f)
	if err != nil {
		return fmt.Errorf("lower: embedded func %q: %w", f.Name, err)
	}

	buf := llvm.NewMemoryBufferFromRangeCopy([]byte(rendered), "embedded:"+f.Name)
	snippet, err := s.Ctx.ParseIR(buf)
	if err != nil {
		return fmt.Errorf("lower: embedded func %q: parse IR: %w", f.Name, err)
	}

	// Linking consumes snippet; the caller's fn declaration is replaced
	// by the definition the snippet carries under the same symbol name.
	if err := llvm.LinkModules(s.Module, snippet); err != nil {
		return fmt.Errorf("lower: embedded func %q: link: %w", f.Name, err)
	}

	linked := s.Module.NamedFunction(f.Name)
	if linked.IsNil() {
		return fmt.Errorf("lower: embedded func %q: template did not define a function named %q", f.Name, f.Name)
	}
	linked.SetLinkage(s.LinkageFor(f))
	s.ApplyFuncAttrs(linked, f)
	s.backfillDebugLocs(linked, f)
	return nil
}

// renderEmbeddedTemplate substitutes name/signature placeholders into
// f.Template using Go text/template. Every literal `{` and `}` in the
// template that is not part of a `{{ }}` action is the author's own LLVM
// IR syntax (struct literals, basic block labels) and passes through
// untouched.
func (s *Session) renderEmbeddedTemplate(fn llvm.Value, f *sir.Func) (string, error) {
	data := templateData{Name: f.Name}

	retType, err := s.LowerType(f.Type)
	if err != nil {
		return "", err
	}
	data.Ret = retType.String()

	for i, p := range f.Params {
		pt, err := s.LowerType(p.Type)
		if err != nil {
			return "", err
		}
		data.Args = append(data.Args, templateArg{Index: i, Type: pt.String(), Name: p.Name})
	}

	tmpl, err := template.New(f.Name).Parse(f.Template)
	if err != nil {
		return "", fmt.Errorf("parsing embedded template: %w", err)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("executing embedded template: %w", err)
	}
	return out.String(), nil
}

// backfillDebugLocs attaches a synthetic subprogram to fn and stamps every
// instruction with f's declaration site, so that disassembly of an
// embedded LLM function's definition still maps back to its containing
// source. A no-op when debug info is disabled.
func (s *Session) backfillDebugLocs(fn llvm.Value, f *sir.Func) {
	if !s.Opts.Debug {
		return
	}
	sub := s.DI.CreateFunction(s.DIFile, llvm.DIFunction{
		Name:         f.Name,
		LinkageName:  f.Name,
		File:         s.DIFile,
		Line:         f.Loc.Line,
		ScopeLine:    f.Loc.Line,
		Type:         s.DI.CreateSubroutineType(llvm.DISubroutineType{File: s.DIFile}),
		LocalToUnit:  true,
		IsDefinition: true,
	})
	fn.SetSubprogram(sub)
	s.Builder.SetCurrentDebugLocation(uint(f.Loc.Line), 0, sub, llvm.Metadata{})
	for bb := fn.FirstBasicBlock(); !bb.IsNil(); bb = llvm.NextBasicBlock(bb) {
		for inst := bb.FirstInstruction(); !inst.IsNil(); inst = llvm.NextInstruction(inst) {
			s.Builder.SetInstDebugLocation(inst)
		}
	}
}
