package sirenc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"sirlower/internal/sir"
)

// buildSampleModule assembles a module exercising interned composite
// types, a global, a generator function and loop-targeted break routing.
func buildSampleModule() *sir.Module {
	var ids sir.IDGen

	point := &sir.RecordType{Name: "Point", Fields: []sir.Field{
		{Name: "x", Type: sir.IntType{}},
		{Name: "y", Type: sir.IntType{}},
	}}

	counter := &sir.Var{ID: ids.Next(), Name: "counter", Type: sir.IntType{}, Global: true}

	loop := &sir.Loop{}
	i := &sir.Var{ID: ids.Next(), Name: "i", Type: sir.IntType{}}

	gen := &sir.Func{
		Var:    sir.Var{ID: ids.Next(), Name: "nums", Type: &sir.GeneratorType{Base: sir.IntType{}}, Global: true},
		Kind:   sir.Bodied,
		Locals: []*sir.Var{i},
		Body: sir.Series{Items: []sir.Node{
			sir.ImperativeFor{
				LoopVar: i,
				Start:   sir.IntConst{Value: 0},
				End:     sir.IntConst{Value: 10},
				Step:    sir.IntConst{Value: 1},
				Loop:    loop,
				Body: sir.Series{Items: []sir.Node{
					sir.If{
						Cond: sir.BoolConst{Value: false},
						True: sir.Break{Loop: loop},
					},
					sir.Yield{Value: sir.VarValue{V: i}},
				}},
			},
		}},
	}

	pvar := &sir.Var{ID: ids.Next(), Name: "p", Type: &sir.RefType{Contents: point}}
	mainFn := &sir.Func{
		Var:    sir.Var{ID: ids.Next(), Name: "main", Type: sir.VoidType{}, Global: true},
		Kind:   sir.Bodied,
		Locals: []*sir.Var{pvar},
		Body: sir.Series{Items: []sir.Node{
			sir.Assign{Target: counter, Value: sir.IntConst{Value: 1}},
			sir.Extract{Container: sir.VarValue{V: pvar}, FieldIndex: 1, FieldName: "y"},
			sir.Return{},
		}},
	}

	return &sir.Module{
		Name:     "sample",
		Vars:     []*sir.Var{counter},
		Funcs:    []*sir.Func{gen, mainFn},
		MainFunc: mainFn,
	}
}

func TestRoundTrip(t *testing.T) {
	mod := buildSampleModule()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, mod))

	got, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, "sample", got.Name)
	require.Len(t, got.Funcs, 2)
	require.Len(t, got.Vars, 1)
	assert.Equal(t, "counter", got.Vars[0].Name)
	assert.True(t, got.Vars[0].Global)
	require.NotNil(t, got.MainFunc)
	assert.Equal(t, "main", got.MainFunc.Name)
	assert.Same(t, got.Funcs[1], got.MainFunc)

	gen := got.Funcs[0]
	assert.Equal(t, "nums", gen.Name)
	_, ok := gen.Type.(*sir.GeneratorType)
	assert.True(t, ok, "generator return type survives the round trip")
}

// TestRoundTripLoopIdentity verifies a Break targeting its enclosing loop
// still points at the same *Loop value after decoding.
func TestRoundTripLoopIdentity(t *testing.T) {
	mod := buildSampleModule()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, mod))
	got, err := Decode(&buf)
	require.NoError(t, err)

	body := got.Funcs[0].Body.(sir.Series)
	impFor := body.Items[0].(sir.ImperativeFor)
	inner := impFor.Body.(sir.Series)
	brk := inner.Items[0].(sir.If).True.(sir.Break)

	require.NotNil(t, impFor.Loop)
	assert.Same(t, impFor.Loop, brk.Loop, "break and loop share identity")
}

// TestRoundTripRecursiveRecord verifies a record reaching itself through a
// Ref field decodes to one shared record value rather than diverging.
func TestRoundTripRecursiveRecord(t *testing.T) {
	node := &sir.RecordType{Name: "ListNode"}
	node.Fields = []sir.Field{
		{Name: "value", Type: sir.IntType{}},
		{Name: "next", Type: &sir.RefType{Contents: node}},
	}

	var ids sir.IDGen
	v := &sir.Var{ID: ids.Next(), Name: "head", Type: &sir.RefType{Contents: node}, Global: true}
	mod := &sir.Module{Name: "list", Vars: []*sir.Var{v}}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, mod))
	got, err := Decode(&buf)
	require.NoError(t, err)

	ref := got.Vars[0].Type.(*sir.RefType)
	require.Len(t, ref.Contents.Fields, 2)
	nextRef := ref.Contents.Fields[1].Type.(*sir.RefType)
	assert.Same(t, ref.Contents, nextRef.Contents, "cycle decodes to one record")
}

// TestDecodeRejectsWrongSchema guards the wire-format version check: a
// payload stamped with a different schema version is refused, and so is an
// empty payload.
func TestDecodeRejectsWrongSchema(t *testing.T) {
	mod := &sir.Module{Name: "m"}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, mod))

	// Write the wire struct directly with a bumped schema version.
	var bumped bytes.Buffer
	require.NoError(t, msgpack.NewEncoder(&bumped).Encode(&wireModule{Schema: schemaVersion + 1, Name: "m", MainFunc: -1}))
	_, err := Decode(&bumped)
	assert.Error(t, err)

	// An empty payload fails before the schema check is reached.
	_, err = Decode(bytes.NewReader(nil))
	assert.Error(t, err)
}
