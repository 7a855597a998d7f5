package sir

// Node is the sum type of every value-producing and control-flow SIR
// construct. The lowering visitor type-switches over Node; each variant
// carries its own strongly typed fields instead of reading out of a shared
// untyped payload slot.
type Node interface {
	isNode()
}

// ---- constants ----

type IntConst struct{ Value int64 }
type FloatConst struct{ Value float64 }
type BoolConst struct{ Value bool }
type StringConst struct{ Value string }

func (IntConst) isNode()    {}
func (FloatConst) isNode()  {}
func (BoolConst) isNode()   {}
func (StringConst) isNode() {}

// ---- variable access ----

// VarValue reads the current value of a Var.
type VarValue struct{ V *Var }

// PointerValue yields the address of a Var rather than its value.
type PointerValue struct{ V *Var }

func (VarValue) isNode()     {}
func (PointerValue) isNode() {}

// ---- structuring ----

// Series is an ordered sequence of Nodes executed for effect, the value (if
// any) of the whole Series being that of its last element.
type Series struct{ Items []Node }

func (Series) isNode() {}

// If is a conditional with optional true/false branches.
type If struct {
	Cond        Node
	True, False Node // either may be nil
}

func (If) isNode() {}

// While is a pre-tested loop.
type While struct {
	Cond Node
	Body Node
	Loop *Loop
}

func (While) isNode() {}

// For is a generator-driven loop: iterates a Generator-typed Node, binding
// each yielded value to LoopVar.
type For struct {
	Iterable Node
	LoopVar  *Var
	Body     Node
	Loop     *Loop
}

func (For) isNode() {}

// ImperativeFor is a classic counted loop: for LoopVar = Start; step-wise
// compare against End; LoopVar += Step.
type ImperativeFor struct {
	LoopVar          *Var
	Start, End, Step Node
	Body             Node
	Loop             *Loop
}

func (ImperativeFor) isNode() {}

// Loop is shared loop identity used for Break/Continue targeting and
// sequence-number comparisons against try-frames.
type Loop struct {
	Seq int64 // assigned when the loop frame is pushed
}

// CatchClause is one clause of a TryCatch. A nil Type denotes catch-all.
type CatchClause struct {
	Type    Type
	Var     *Var // nil if the exception value is not bound
	Handler Node
}

// TryCatch is the try/catch/finally construct.
type TryCatch struct {
	Body    Node
	Catches []CatchClause
	Finally Node // nil if there is no finally block
}

func (TryCatch) isNode() {}

// PipelineStage is one stage of a Pipeline: a callee applied to Args, one of
// which may be the hole (the previous stage's result).
type PipelineStage struct {
	Callee    Node
	Args      []Node
	HoleIndex int // index into Args that receives the previous stage's value, or -1
	Generator bool
}

// Pipeline lowers a chain of `|>`-style stages, some of which may be
// generator-producing.
type Pipeline struct {
	Stages []PipelineStage
}

func (Pipeline) isNode() {}

// Assign stores Value into the location named by Target.
type Assign struct {
	Target *Var
	Value  Node
}

func (Assign) isNode() {}

// Extract reads field FieldIndex out of Container.
type Extract struct {
	Container  Node
	FieldIndex int
	FieldName  string
}

func (Extract) isNode() {}

// Insert writes Value into field FieldIndex of Container, producing the
// updated aggregate (or mutating through the Ref pointer in place).
type Insert struct {
	Container  Node
	FieldIndex int
	FieldName  string
	Value      Node
}

func (Insert) isNode() {}

// Call invokes Callee with Args, by value-producing call or invoke
// depending on whether a try-frame is active.
type Call struct {
	Callee Node
	Args   []Node
}

func (Call) isNode() {}

// PropertyKind distinguishes the two TypeProperty queries.
type PropertyKind int

const (
	Sizeof PropertyKind = iota
	IsAtomic
)

// TypeProperty queries a compile-time property of Target's lowered type.
type TypeProperty struct {
	Kind   PropertyKind
	Target Type
}

func (TypeProperty) isNode() {}

// YieldIn resumes the generator bound by the enclosing pipeline/for context
// and yields a value into it; Suspending selects the variant that
// suspends at the resume point before loading the promise.
type YieldIn struct {
	Suspending bool
}

func (YieldIn) isNode() {}

// StackAlloc allocates Count elements of Elem on the stack, producing a
// {i64 len, T* data} struct value. With a constant Count the alloca is
// hoisted to the entry block's terminator; a dynamic Count is allocated in
// place.
type StackAlloc struct {
	Count Node
	Elem  Type
}

func (StackAlloc) isNode() {}

// Ternary is `Cond ? True : False` as a value-producing expression.
type Ternary struct {
	Cond, True, False Node
}

func (Ternary) isNode() {}

// Break exits Loop (nil means the innermost loop).
type Break struct{ Loop *Loop }

// Continue restarts Loop (nil means the innermost loop).
type Continue struct{ Loop *Loop }

func (Break) isNode()    {}
func (Continue) isNode() {}

// Return returns Value (nil for void returns) from the enclosing function.
type Return struct{ Value Node }

func (Return) isNode() {}

// Yield suspends the enclosing generator, optionally storing Value in its
// promise; Final marks the terminal yield emitted in the generator's exit
// block.
type Yield struct {
	Value Node
	Final bool
}

func (Yield) isNode() {}

// Throw raises Value as an exception.
type Throw struct{ Value Node }

func (Throw) isNode() {}

// FlowInstr pairs a Flow executed for effect with the Value the whole node
// yields; used where SIR keeps flow and value constructs uniform.
type FlowInstr struct {
	Flow  Node
	Value Node
}

func (FlowInstr) isNode() {}

// CustomNodeBuilder is the DSL extension point for DSLCustom nodes.
type CustomNodeBuilder interface {
	Name() string
}

// DSLCustomNode delegates lowering to an external builder.
type DSLCustomNode struct{ Builder CustomNodeBuilder }

func (DSLCustomNode) isNode() {}
