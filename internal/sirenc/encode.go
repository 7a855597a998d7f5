package sirenc

import (
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"sirlower/internal/sir"
)

// encoder interns types, vars and loops while flattening a module.
type encoder struct {
	types   []wireType
	typeIdx map[string]int

	vars  map[sir.ID]wireVar
	loops map[*sir.Loop]int
}

// Encode writes mod to w in the `.sir` wire form. Custom (DSL) types,
// nodes and functions have no wire representation and fail the encode.
func Encode(w io.Writer, mod *sir.Module) error {
	e := &encoder{
		typeIdx: make(map[string]int),
		vars:    make(map[sir.ID]wireVar),
		loops:   make(map[*sir.Loop]int),
	}

	wm := wireModule{
		Schema:   schemaVersion,
		Name:     mod.Name,
		MainFunc: -1,
	}

	for _, v := range mod.Vars {
		ti, err := e.internType(v.Type)
		if err != nil {
			return err
		}
		e.recordVar(v, ti)
		wm.Globals = append(wm.Globals, int64(v.ID))
	}
	if mod.ArgVar != nil {
		ti, err := e.internType(mod.ArgVar.Type)
		if err != nil {
			return err
		}
		e.recordVar(mod.ArgVar, ti)
		wm.ArgVar = int64(mod.ArgVar.ID)
	}

	for i, f := range mod.Funcs {
		wf, err := e.encodeFunc(f)
		if err != nil {
			return fmt.Errorf("sirenc: func %q: %w", f.Name, err)
		}
		wm.Funcs = append(wm.Funcs, wf)
		if mod.MainFunc == f {
			wm.MainFunc = i
		}
	}

	wm.Types = e.types
	wm.Loops = len(e.loops)
	for _, wv := range e.vars {
		wm.Vars = append(wm.Vars, wv)
	}

	return msgpack.NewEncoder(w).Encode(&wm)
}

// EncodeFile writes mod to path via Encode.
func EncodeFile(path string, mod *sir.Module) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sirenc: %w", err)
	}
	defer f.Close()
	if err := Encode(f, mod); err != nil {
		return err
	}
	return f.Close()
}

func (e *encoder) recordVar(v *sir.Var, typeIdx int) {
	if _, ok := e.vars[v.ID]; ok {
		return
	}
	e.vars[v.ID] = wireVar{
		ID:     int64(v.ID),
		Name:   v.Name,
		Type:   typeIdx,
		Loc:    wireLoc{File: v.Loc.File, Line: v.Loc.Line, Pos: v.Loc.Pos},
		Global: v.Global,
	}
}

// internVar ensures v is in the var table and returns its ID.
func (e *encoder) internVar(v *sir.Var) (int64, error) {
	if v == nil {
		return 0, nil
	}
	if _, ok := e.vars[v.ID]; !ok {
		ti, err := e.internType(v.Type)
		if err != nil {
			return 0, err
		}
		e.recordVar(v, ti)
	}
	return int64(v.ID), nil
}

func (e *encoder) internLoop(l *sir.Loop) int {
	if l == nil {
		return 0
	}
	if idx, ok := e.loops[l]; ok {
		return idx
	}
	idx := len(e.loops) + 1
	e.loops[l] = idx
	return idx
}

// internType returns t's index in the type table, adding it on first
// sight. Records reserve their slot before recursing into fields so a
// record that reaches itself through a Ref terminates.
func (e *encoder) internType(t sir.Type) (int, error) {
	if t == nil {
		return noType, nil
	}
	key := t.Key()
	if idx, ok := e.typeIdx[key]; ok {
		return idx, nil
	}
	idx := len(e.types)
	e.typeIdx[key] = idx
	e.types = append(e.types, wireType{})

	var wt wireType
	switch v := t.(type) {
	case sir.IntType:
		wt.Kind = kindInt
	case sir.FloatType:
		wt.Kind = kindFloat
	case sir.BoolType:
		wt.Kind = kindBool
	case sir.ByteType:
		wt.Kind = kindByte
	case sir.VoidType:
		wt.Kind = kindVoid
	case sir.IntNType:
		wt.Kind = kindIntN
		wt.Bits = v.Bits
		wt.Signed = v.Signed
	case *sir.RecordType:
		wt.Kind = kindRecord
		wt.Name = v.Name
		if v.Loc != nil {
			wt.Loc = &wireLoc{File: v.Loc.File, Line: v.Loc.Line, Pos: v.Loc.Pos}
		}
		for _, f := range v.Fields {
			fi, err := e.internType(f.Type)
			if err != nil {
				return noType, err
			}
			wf := wireField{Name: f.Name, Type: fi}
			if f.MemberAttribute != nil {
				wf.Loc = &wireLoc{File: f.MemberAttribute.File, Line: f.MemberAttribute.Line, Pos: f.MemberAttribute.Pos}
			}
			wt.Fields = append(wt.Fields, wf)
		}
	case *sir.RefType:
		wt.Kind = kindRef
		bi, err := e.internType(v.Contents)
		if err != nil {
			return noType, err
		}
		wt.Base = bi
	case *sir.FuncType:
		wt.Kind = kindFunc
		for _, a := range v.Args {
			ai, err := e.internType(a)
			if err != nil {
				return noType, err
			}
			wt.Args = append(wt.Args, ai)
		}
		ri, err := e.internType(v.Ret)
		if err != nil {
			return noType, err
		}
		wt.Ret = ri
		wt.Variadic = v.Variadic
	case *sir.OptionalType:
		wt.Kind = kindOpt
		bi, err := e.internType(v.Base)
		if err != nil {
			return noType, err
		}
		wt.Base = bi
	case *sir.PointerType:
		wt.Kind = kindPtr
		bi, err := e.internType(v.Base)
		if err != nil {
			return noType, err
		}
		wt.Base = bi
	case *sir.GeneratorType:
		wt.Kind = kindGen
		bi, err := e.internType(v.Base)
		if err != nil {
			return noType, err
		}
		wt.Base = bi
	default:
		return noType, fmt.Errorf("sirenc: type %q has no wire form", key)
	}
	e.types[idx] = wt
	return idx, nil
}

func (e *encoder) encodeFunc(f *sir.Func) (wireFunc, error) {
	ti, err := e.internType(f.Type)
	if err != nil {
		return wireFunc{}, err
	}
	wf := wireFunc{
		Var: wireVar{
			ID:     int64(f.ID),
			Name:   f.Name,
			Type:   ti,
			Loc:    wireLoc{File: f.Loc.File, Line: f.Loc.Line, Pos: f.Loc.Pos},
			Global: f.Global,
		},
		Kind:     int(f.Kind),
		Export:   f.Attrs.Export,
		Inline:   f.Attrs.Inline,
		NoInline: f.Attrs.NoInline,
		Template: f.Template,
		Pattern:  int(f.Pattern),
	}
	if f.Kind == sir.DSLCustom {
		return wireFunc{}, fmt.Errorf("sirenc: DSL custom functions have no wire form")
	}
	for _, p := range f.Params {
		id, err := e.internVar(p)
		if err != nil {
			return wireFunc{}, err
		}
		wf.Params = append(wf.Params, id)
	}
	for _, l := range f.Locals {
		id, err := e.internVar(l)
		if err != nil {
			return wireFunc{}, err
		}
		wf.Locals = append(wf.Locals, id)
	}
	if f.Body != nil {
		body, err := e.encodeNode(f.Body)
		if err != nil {
			return wireFunc{}, err
		}
		wf.Body = body
	}
	return wf, nil
}

func (e *encoder) encodeNodes(ns []sir.Node) ([]*wireNode, error) {
	out := make([]*wireNode, len(ns))
	for i, n := range ns {
		wn, err := e.encodeNode(n)
		if err != nil {
			return nil, err
		}
		out[i] = wn
	}
	return out, nil
}

// encodeNode flattens one SIR node. A nil node encodes as a nil pointer so
// optional child slots keep their position in Kids.
func (e *encoder) encodeNode(n sir.Node) (*wireNode, error) {
	if n == nil {
		return nil, nil
	}
	switch v := n.(type) {
	case sir.IntConst:
		return &wireNode{Kind: "intconst", Int: v.Value}, nil
	case sir.FloatConst:
		return &wireNode{Kind: "floatconst", Float: v.Value}, nil
	case sir.BoolConst:
		return &wireNode{Kind: "boolconst", Bool: v.Value}, nil
	case sir.StringConst:
		return &wireNode{Kind: "strconst", Str: v.Value}, nil
	case sir.VarValue:
		id, err := e.internVar(v.V)
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "varvalue", VarID: id}, nil
	case sir.PointerValue:
		id, err := e.internVar(v.V)
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "ptrvalue", VarID: id}, nil
	case sir.Series:
		kids, err := e.encodeNodes(v.Items)
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "series", Kids: kids}, nil
	case sir.If:
		kids, err := e.encodeNodes([]sir.Node{v.Cond, v.True, v.False})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "if", Kids: kids}, nil
	case sir.While:
		kids, err := e.encodeNodes([]sir.Node{v.Cond, v.Body})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "while", Kids: kids, Loop: e.internLoop(v.Loop)}, nil
	case sir.For:
		id, err := e.internVar(v.LoopVar)
		if err != nil {
			return nil, err
		}
		kids, err := e.encodeNodes([]sir.Node{v.Iterable, v.Body})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "for", Kids: kids, VarID: id, Loop: e.internLoop(v.Loop)}, nil
	case sir.ImperativeFor:
		id, err := e.internVar(v.LoopVar)
		if err != nil {
			return nil, err
		}
		kids, err := e.encodeNodes([]sir.Node{v.Start, v.End, v.Step, v.Body})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "impfor", Kids: kids, VarID: id, Loop: e.internLoop(v.Loop)}, nil
	case sir.TryCatch:
		kids, err := e.encodeNodes([]sir.Node{v.Body, v.Finally})
		if err != nil {
			return nil, err
		}
		wn := &wireNode{Kind: "try", Kids: kids}
		for _, c := range v.Catches {
			ti, err := e.internType(c.Type)
			if err != nil {
				return nil, err
			}
			vid, err := e.internVar(c.Var)
			if err != nil {
				return nil, err
			}
			h, err := e.encodeNode(c.Handler)
			if err != nil {
				return nil, err
			}
			wn.Catches = append(wn.Catches, wireCatch{Type: ti, VarID: vid, Handler: h})
		}
		return wn, nil
	case sir.Pipeline:
		wn := &wireNode{Kind: "pipeline"}
		for _, st := range v.Stages {
			callee, err := e.encodeNode(st.Callee)
			if err != nil {
				return nil, err
			}
			args, err := e.encodeNodes(st.Args)
			if err != nil {
				return nil, err
			}
			wn.Stages = append(wn.Stages, wireStage{
				Callee: callee, Args: args, HoleIndex: st.HoleIndex, Generator: st.Generator,
			})
		}
		return wn, nil
	case sir.Assign:
		id, err := e.internVar(v.Target)
		if err != nil {
			return nil, err
		}
		kids, err := e.encodeNodes([]sir.Node{v.Value})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "assign", VarID: id, Kids: kids}, nil
	case sir.Extract:
		kids, err := e.encodeNodes([]sir.Node{v.Container})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "extract", Kids: kids, FieldIndex: v.FieldIndex, FieldName: v.FieldName}, nil
	case sir.Insert:
		kids, err := e.encodeNodes([]sir.Node{v.Container, v.Value})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "insert", Kids: kids, FieldIndex: v.FieldIndex, FieldName: v.FieldName}, nil
	case sir.Call:
		kids, err := e.encodeNodes(append([]sir.Node{v.Callee}, v.Args...))
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "call", Kids: kids}, nil
	case sir.TypeProperty:
		ti, err := e.internType(v.Target)
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "typeprop", Int: int64(v.Kind), Type: ti}, nil
	case sir.YieldIn:
		return &wireNode{Kind: "yieldin", Bool: v.Suspending}, nil
	case sir.StackAlloc:
		ti, err := e.internType(v.Elem)
		if err != nil {
			return nil, err
		}
		kids, err := e.encodeNodes([]sir.Node{v.Count})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "stackalloc", Kids: kids, Type: ti}, nil
	case sir.Ternary:
		kids, err := e.encodeNodes([]sir.Node{v.Cond, v.True, v.False})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "ternary", Kids: kids}, nil
	case sir.Break:
		return &wireNode{Kind: "break", Loop: e.internLoop(v.Loop)}, nil
	case sir.Continue:
		return &wireNode{Kind: "continue", Loop: e.internLoop(v.Loop)}, nil
	case sir.Return:
		kids, err := e.encodeNodes([]sir.Node{v.Value})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "return", Kids: kids}, nil
	case sir.Yield:
		kids, err := e.encodeNodes([]sir.Node{v.Value})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "yield", Kids: kids, Bool: v.Final}, nil
	case sir.Throw:
		kids, err := e.encodeNodes([]sir.Node{v.Value})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "throw", Kids: kids}, nil
	case sir.FlowInstr:
		kids, err := e.encodeNodes([]sir.Node{v.Flow, v.Value})
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "flowinstr", Kids: kids}, nil
	default:
		return nil, fmt.Errorf("sirenc: node %T has no wire form", n)
	}
}
