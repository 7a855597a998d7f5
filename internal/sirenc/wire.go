// Package sirenc serializes sir.Module values to and from a compact
// msgpack wire form, the `.sir` file format the front end hands this
// backend. Types are interned into a table so recursive records (a record
// referencing itself through a Ref field) encode as finite data; vars are
// referenced by their stable ID; loops by an index into a shared loop
// table so Break/Continue keep pointing at the same loop identity after a
// round trip.
package sirenc

// schemaVersion guards against decoding a payload written by an
// incompatible writer. Increment on any wire-layout change.
const schemaVersion uint16 = 1

// Type kind tags.
const (
	kindInt    = "int"
	kindFloat  = "float"
	kindBool   = "bool"
	kindByte   = "byte"
	kindVoid   = "void"
	kindIntN   = "intn"
	kindRecord = "record"
	kindRef    = "ref"
	kindFunc   = "func"
	kindOpt    = "opt"
	kindPtr    = "ptr"
	kindGen    = "gen"
)

// noType marks an absent type reference in fields that hold a type-table
// index.
const noType = -1

// wireLoc mirrors sir.SourceLoc.
type wireLoc struct {
	File string `msgpack:"f"`
	Line int    `msgpack:"l"`
	Pos  int    `msgpack:"p"`
}

// wireField is one record member; Type indexes the module's type table.
type wireField struct {
	Name string   `msgpack:"n"`
	Type int      `msgpack:"t"`
	Loc  *wireLoc `msgpack:"loc,omitempty"`
}

// wireType is one interned type. Which fields are meaningful depends on
// Kind; the rest stay at their zero values.
type wireType struct {
	Kind     string      `msgpack:"k"`
	Bits     int         `msgpack:"b,omitempty"`
	Signed   bool        `msgpack:"s,omitempty"`
	Name     string      `msgpack:"n,omitempty"`
	Fields   []wireField `msgpack:"fs,omitempty"`
	Args     []int       `msgpack:"as,omitempty"`
	Ret      int         `msgpack:"r,omitempty"`
	Variadic bool        `msgpack:"v,omitempty"`
	Base     int         `msgpack:"base,omitempty"`
	Loc      *wireLoc    `msgpack:"loc,omitempty"`
}

// wireVar mirrors sir.Var; Type indexes the type table.
type wireVar struct {
	ID     int64   `msgpack:"id"`
	Name   string  `msgpack:"n"`
	Type   int     `msgpack:"t"`
	Loc    wireLoc `msgpack:"loc"`
	Global bool    `msgpack:"g,omitempty"`
}

// wireCatch is one catch clause; Type is noType for catch-all and VarID 0
// when the exception value is unbound.
type wireCatch struct {
	Type    int       `msgpack:"t"`
	VarID   int64     `msgpack:"v,omitempty"`
	Handler *wireNode `msgpack:"h"`
}

// wireStage is one pipeline stage.
type wireStage struct {
	Callee    *wireNode   `msgpack:"c"`
	Args      []*wireNode `msgpack:"as,omitempty"`
	HoleIndex int         `msgpack:"hi"`
	Generator bool        `msgpack:"g,omitempty"`
}

// wireNode is one SIR node. Kind selects the variant; Kids carries child
// nodes in a fixed per-kind order (documented on the decoder's switch).
// A nil child is encoded as a nil pointer in Kids so optional slots (an
// If's missing else branch, a void Return's value) keep their position.
type wireNode struct {
	Kind       string      `msgpack:"k"`
	Int        int64       `msgpack:"i,omitempty"`
	Float      float64     `msgpack:"f,omitempty"`
	Bool       bool        `msgpack:"b,omitempty"`
	Str        string      `msgpack:"s,omitempty"`
	VarID      int64       `msgpack:"v,omitempty"`
	Type       int         `msgpack:"t,omitempty"`
	Kids       []*wireNode `msgpack:"ks,omitempty"`
	Catches    []wireCatch `msgpack:"cs,omitempty"`
	Stages     []wireStage `msgpack:"ps,omitempty"`
	Loop       int         `msgpack:"lp,omitempty"`
	FieldIndex int         `msgpack:"fi,omitempty"`
	FieldName  string      `msgpack:"fn,omitempty"`
}

// wireFunc mirrors sir.Func. Params and Locals reference vars by ID; the
// vars themselves appear in the module's Vars table.
type wireFunc struct {
	Var      wireVar   `msgpack:"var"`
	Kind     int       `msgpack:"k"`
	Params   []int64   `msgpack:"ps,omitempty"`
	Locals   []int64   `msgpack:"ls,omitempty"`
	Body     *wireNode `msgpack:"b,omitempty"`
	Export   bool      `msgpack:"ex,omitempty"`
	Inline   bool      `msgpack:"in,omitempty"`
	NoInline bool      `msgpack:"ni,omitempty"`
	Template string    `msgpack:"tpl,omitempty"`
	Pattern  int       `msgpack:"pat,omitempty"`
}

// wireModule is the top-level payload of a `.sir` file.
type wireModule struct {
	Schema   uint16     `msgpack:"schema"`
	Name     string     `msgpack:"name"`
	Types    []wireType `msgpack:"types"`
	Vars     []wireVar  `msgpack:"vars"`
	Funcs    []wireFunc `msgpack:"funcs"`
	Globals  []int64    `msgpack:"globals"`
	Loops    int        `msgpack:"loops"`
	MainFunc int        `msgpack:"main"` // index into Funcs, -1 if none
	ArgVar   int64      `msgpack:"argv"` // var ID, 0 if none
}
