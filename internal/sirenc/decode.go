package sirenc

import (
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"sirlower/internal/sir"
)

// decoder rebuilds interned tables into live sir values.
type decoder struct {
	wm    *wireModule
	types []sir.Type
	vars  map[int64]*sir.Var
	loops []*sir.Loop
}

// Decode reads one module in the `.sir` wire form from r.
func Decode(r io.Reader) (*sir.Module, error) {
	var wm wireModule
	if err := msgpack.NewDecoder(r).Decode(&wm); err != nil {
		return nil, fmt.Errorf("sirenc: decode: %w", err)
	}
	if wm.Schema != schemaVersion {
		return nil, fmt.Errorf("sirenc: wire schema %d, want %d", wm.Schema, schemaVersion)
	}

	d := &decoder{
		wm:    &wm,
		types: make([]sir.Type, len(wm.Types)),
		vars:  make(map[int64]*sir.Var, len(wm.Vars)),
		loops: make([]*sir.Loop, wm.Loops),
	}
	for i := range d.loops {
		d.loops[i] = &sir.Loop{}
	}

	// Records reserve their identity before field types resolve, so a
	// self-reaching record decodes to one shared *RecordType.
	for i, wt := range wm.Types {
		if wt.Kind == kindRecord {
			rec := &sir.RecordType{Name: wt.Name}
			if wt.Loc != nil {
				rec.Loc = &sir.SourceLoc{File: wt.Loc.File, Line: wt.Loc.Line, Pos: wt.Loc.Pos}
			}
			d.types[i] = rec
		}
	}
	for i := range wm.Types {
		if _, err := d.resolveType(i); err != nil {
			return nil, err
		}
	}

	mod := &sir.Module{Name: wm.Name}

	// Function vars first: node references to a func resolve to the Var
	// embedded in its Func, not a standalone copy.
	funcs := make([]*sir.Func, len(wm.Funcs))
	for i, wf := range wm.Funcs {
		f, err := d.decodeFuncHeader(wf)
		if err != nil {
			return nil, err
		}
		funcs[i] = f
		d.vars[wf.Var.ID] = &f.Var
	}
	for _, wv := range wm.Vars {
		if _, ok := d.vars[wv.ID]; ok {
			continue
		}
		v, err := d.decodeVar(wv)
		if err != nil {
			return nil, err
		}
		d.vars[wv.ID] = v
	}

	for i, wf := range wm.Funcs {
		if err := d.decodeFuncRest(wf, funcs[i]); err != nil {
			return nil, fmt.Errorf("sirenc: func %q: %w", wf.Var.Name, err)
		}
	}
	mod.Funcs = funcs
	if wm.MainFunc >= 0 {
		if wm.MainFunc >= len(funcs) {
			return nil, fmt.Errorf("sirenc: main index %d out of range", wm.MainFunc)
		}
		mod.MainFunc = funcs[wm.MainFunc]
	}

	for _, id := range wm.Globals {
		v, err := d.varByID(id)
		if err != nil {
			return nil, err
		}
		mod.Vars = append(mod.Vars, v)
	}
	if wm.ArgVar != 0 {
		v, err := d.varByID(wm.ArgVar)
		if err != nil {
			return nil, err
		}
		mod.ArgVar = v
	}
	return mod, nil
}

// DecodeFile reads path via Decode.
func DecodeFile(path string) (*sir.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sirenc: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func (d *decoder) varByID(id int64) (*sir.Var, error) {
	v, ok := d.vars[id]
	if !ok {
		return nil, fmt.Errorf("sirenc: dangling var id %d", id)
	}
	return v, nil
}

func (d *decoder) loopByIdx(idx int) (*sir.Loop, error) {
	if idx == 0 {
		return nil, nil
	}
	if idx < 1 || idx > len(d.loops) {
		return nil, fmt.Errorf("sirenc: dangling loop index %d", idx)
	}
	return d.loops[idx-1], nil
}

func (d *decoder) resolveType(idx int) (sir.Type, error) {
	if idx == noType {
		return nil, nil
	}
	if idx < 0 || idx >= len(d.types) {
		return nil, fmt.Errorf("sirenc: dangling type index %d", idx)
	}
	if t := d.types[idx]; t != nil {
		if rec, ok := t.(*sir.RecordType); !ok || rec.Fields != nil || len(d.wm.Types[idx].Fields) == 0 {
			return t, nil
		}
	}

	wt := d.wm.Types[idx]
	switch wt.Kind {
	case kindInt:
		d.types[idx] = sir.IntType{}
	case kindFloat:
		d.types[idx] = sir.FloatType{}
	case kindBool:
		d.types[idx] = sir.BoolType{}
	case kindByte:
		d.types[idx] = sir.ByteType{}
	case kindVoid:
		d.types[idx] = sir.VoidType{}
	case kindIntN:
		d.types[idx] = sir.IntNType{Bits: wt.Bits, Signed: wt.Signed}
	case kindRecord:
		rec := d.types[idx].(*sir.RecordType)
		fields := make([]sir.Field, len(wt.Fields))
		rec.Fields = fields // set before recursing to terminate cycles
		for i, wf := range wt.Fields {
			ft, err := d.resolveType(wf.Type)
			if err != nil {
				return nil, err
			}
			fields[i] = sir.Field{Name: wf.Name, Type: ft}
			if wf.Loc != nil {
				fields[i].MemberAttribute = &sir.SourceLoc{File: wf.Loc.File, Line: wf.Loc.Line, Pos: wf.Loc.Pos}
			}
		}
	case kindRef:
		base, err := d.resolveType(wt.Base)
		if err != nil {
			return nil, err
		}
		rec, ok := base.(*sir.RecordType)
		if !ok {
			return nil, fmt.Errorf("sirenc: ref contents is %T, want record", base)
		}
		d.types[idx] = &sir.RefType{Contents: rec}
	case kindFunc:
		ft := &sir.FuncType{Variadic: wt.Variadic}
		for _, ai := range wt.Args {
			at, err := d.resolveType(ai)
			if err != nil {
				return nil, err
			}
			ft.Args = append(ft.Args, at)
		}
		ret, err := d.resolveType(wt.Ret)
		if err != nil {
			return nil, err
		}
		ft.Ret = ret
		d.types[idx] = ft
	case kindOpt:
		base, err := d.resolveType(wt.Base)
		if err != nil {
			return nil, err
		}
		d.types[idx] = &sir.OptionalType{Base: base}
	case kindPtr:
		base, err := d.resolveType(wt.Base)
		if err != nil {
			return nil, err
		}
		d.types[idx] = &sir.PointerType{Base: base}
	case kindGen:
		base, err := d.resolveType(wt.Base)
		if err != nil {
			return nil, err
		}
		d.types[idx] = &sir.GeneratorType{Base: base}
	default:
		return nil, fmt.Errorf("sirenc: unknown type kind %q", wt.Kind)
	}
	return d.types[idx], nil
}

func (d *decoder) decodeVar(wv wireVar) (*sir.Var, error) {
	t, err := d.resolveType(wv.Type)
	if err != nil {
		return nil, err
	}
	return &sir.Var{
		ID:     sir.ID(wv.ID),
		Name:   wv.Name,
		Type:   t,
		Loc:    sir.SourceLoc{File: wv.Loc.File, Line: wv.Loc.Line, Pos: wv.Loc.Pos},
		Global: wv.Global,
	}, nil
}

func (d *decoder) decodeFuncHeader(wf wireFunc) (*sir.Func, error) {
	v, err := d.decodeVar(wf.Var)
	if err != nil {
		return nil, err
	}
	return &sir.Func{
		Var:      *v,
		Kind:     sir.FuncKind(wf.Kind),
		Attrs:    sir.FuncAttrs{Export: wf.Export, Inline: wf.Inline, NoInline: wf.NoInline},
		Template: wf.Template,
		Pattern:  sir.InternalPattern(wf.Pattern),
	}, nil
}

func (d *decoder) decodeFuncRest(wf wireFunc, f *sir.Func) error {
	for _, id := range wf.Params {
		p, err := d.varByID(id)
		if err != nil {
			return err
		}
		f.Params = append(f.Params, p)
	}
	for _, id := range wf.Locals {
		l, err := d.varByID(id)
		if err != nil {
			return err
		}
		f.Locals = append(f.Locals, l)
	}
	if wf.Body != nil {
		body, err := d.decodeNode(wf.Body)
		if err != nil {
			return err
		}
		f.Body = body
	}
	return nil
}

// kid returns child i of wn, nil when the slot was encoded empty.
func (d *decoder) kid(wn *wireNode, i int) (sir.Node, error) {
	if i >= len(wn.Kids) || wn.Kids[i] == nil {
		return nil, nil
	}
	return d.decodeNode(wn.Kids[i])
}

func (d *decoder) decodeNode(wn *wireNode) (sir.Node, error) {
	if wn == nil {
		return nil, nil
	}
	switch wn.Kind {
	case "intconst":
		return sir.IntConst{Value: wn.Int}, nil
	case "floatconst":
		return sir.FloatConst{Value: wn.Float}, nil
	case "boolconst":
		return sir.BoolConst{Value: wn.Bool}, nil
	case "strconst":
		return sir.StringConst{Value: wn.Str}, nil
	case "varvalue":
		v, err := d.varByID(wn.VarID)
		if err != nil {
			return nil, err
		}
		return sir.VarValue{V: v}, nil
	case "ptrvalue":
		v, err := d.varByID(wn.VarID)
		if err != nil {
			return nil, err
		}
		return sir.PointerValue{V: v}, nil
	case "series":
		items := make([]sir.Node, 0, len(wn.Kids))
		for _, k := range wn.Kids {
			n, err := d.decodeNode(k)
			if err != nil {
				return nil, err
			}
			items = append(items, n)
		}
		return sir.Series{Items: items}, nil
	case "if":
		cond, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		tr, err := d.kid(wn, 1)
		if err != nil {
			return nil, err
		}
		fl, err := d.kid(wn, 2)
		if err != nil {
			return nil, err
		}
		return sir.If{Cond: cond, True: tr, False: fl}, nil
	case "while":
		cond, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		body, err := d.kid(wn, 1)
		if err != nil {
			return nil, err
		}
		loop, err := d.loopByIdx(wn.Loop)
		if err != nil {
			return nil, err
		}
		return sir.While{Cond: cond, Body: body, Loop: loop}, nil
	case "for":
		iter, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		body, err := d.kid(wn, 1)
		if err != nil {
			return nil, err
		}
		lv, err := d.varByID(wn.VarID)
		if err != nil {
			return nil, err
		}
		loop, err := d.loopByIdx(wn.Loop)
		if err != nil {
			return nil, err
		}
		return sir.For{Iterable: iter, LoopVar: lv, Body: body, Loop: loop}, nil
	case "impfor":
		start, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		end, err := d.kid(wn, 1)
		if err != nil {
			return nil, err
		}
		step, err := d.kid(wn, 2)
		if err != nil {
			return nil, err
		}
		body, err := d.kid(wn, 3)
		if err != nil {
			return nil, err
		}
		lv, err := d.varByID(wn.VarID)
		if err != nil {
			return nil, err
		}
		loop, err := d.loopByIdx(wn.Loop)
		if err != nil {
			return nil, err
		}
		return sir.ImperativeFor{LoopVar: lv, Start: start, End: end, Step: step, Body: body, Loop: loop}, nil
	case "try":
		body, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		fin, err := d.kid(wn, 1)
		if err != nil {
			return nil, err
		}
		tc := sir.TryCatch{Body: body, Finally: fin}
		for _, wc := range wn.Catches {
			ct, err := d.resolveType(wc.Type)
			if err != nil {
				return nil, err
			}
			var cv *sir.Var
			if wc.VarID != 0 {
				if cv, err = d.varByID(wc.VarID); err != nil {
					return nil, err
				}
			}
			h, err := d.decodeNode(wc.Handler)
			if err != nil {
				return nil, err
			}
			tc.Catches = append(tc.Catches, sir.CatchClause{Type: ct, Var: cv, Handler: h})
		}
		return tc, nil
	case "pipeline":
		p := sir.Pipeline{}
		for _, ws := range wn.Stages {
			callee, err := d.decodeNode(ws.Callee)
			if err != nil {
				return nil, err
			}
			st := sir.PipelineStage{Callee: callee, HoleIndex: ws.HoleIndex, Generator: ws.Generator}
			for _, wa := range ws.Args {
				a, err := d.decodeNode(wa)
				if err != nil {
					return nil, err
				}
				st.Args = append(st.Args, a)
			}
			p.Stages = append(p.Stages, st)
		}
		return p, nil
	case "assign":
		target, err := d.varByID(wn.VarID)
		if err != nil {
			return nil, err
		}
		val, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		return sir.Assign{Target: target, Value: val}, nil
	case "extract":
		c, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		return sir.Extract{Container: c, FieldIndex: wn.FieldIndex, FieldName: wn.FieldName}, nil
	case "insert":
		c, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		val, err := d.kid(wn, 1)
		if err != nil {
			return nil, err
		}
		return sir.Insert{Container: c, FieldIndex: wn.FieldIndex, FieldName: wn.FieldName, Value: val}, nil
	case "call":
		callee, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		c := sir.Call{Callee: callee}
		for i := 1; i < len(wn.Kids); i++ {
			a, err := d.kid(wn, i)
			if err != nil {
				return nil, err
			}
			c.Args = append(c.Args, a)
		}
		return c, nil
	case "typeprop":
		t, err := d.resolveType(wn.Type)
		if err != nil {
			return nil, err
		}
		return sir.TypeProperty{Kind: sir.PropertyKind(wn.Int), Target: t}, nil
	case "yieldin":
		return sir.YieldIn{Suspending: wn.Bool}, nil
	case "stackalloc":
		count, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		elem, err := d.resolveType(wn.Type)
		if err != nil {
			return nil, err
		}
		return sir.StackAlloc{Count: count, Elem: elem}, nil
	case "ternary":
		cond, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		tr, err := d.kid(wn, 1)
		if err != nil {
			return nil, err
		}
		fl, err := d.kid(wn, 2)
		if err != nil {
			return nil, err
		}
		return sir.Ternary{Cond: cond, True: tr, False: fl}, nil
	case "break":
		loop, err := d.loopByIdx(wn.Loop)
		if err != nil {
			return nil, err
		}
		return sir.Break{Loop: loop}, nil
	case "continue":
		loop, err := d.loopByIdx(wn.Loop)
		if err != nil {
			return nil, err
		}
		return sir.Continue{Loop: loop}, nil
	case "return":
		val, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		return sir.Return{Value: val}, nil
	case "yield":
		val, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		return sir.Yield{Value: val, Final: wn.Bool}, nil
	case "throw":
		val, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		return sir.Throw{Value: val}, nil
	case "flowinstr":
		flow, err := d.kid(wn, 0)
		if err != nil {
			return nil, err
		}
		val, err := d.kid(wn, 1)
		if err != nil {
			return nil, err
		}
		return sir.FlowInstr{Flow: flow, Value: val}, nil
	default:
		return nil, fmt.Errorf("sirenc: unknown node kind %q", wn.Kind)
	}
}
