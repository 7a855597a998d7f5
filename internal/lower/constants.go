// constants.go implements the Constant Emitter: one shared routine for
// every constant-producing SIR node, so call sites do not each carry
// their own constant switch.
package lower

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"sirlower/internal/sir"
)

// EmitConst lowers one of the SIR constant node kinds to an llvm.Value.
// Returns an error (never a panic) if passed a non-constant node, so
// callers that only expect constants in a given position surface a clean
// invariant-violation diagnostic rather than a type-assertion crash.
func (s *Session) EmitConst(n sir.Node) (llvm.Value, error) {
	switch v := n.(type) {
	case sir.IntConst:
		return llvm.ConstInt(s.Ctx.Int64Type(), uint64(v.Value), true), nil
	case sir.FloatConst:
		return llvm.ConstFloat(s.Ctx.DoubleType(), v.Value), nil
	case sir.BoolConst:
		val := uint64(0)
		if v.Value {
			val = 1
		}
		return llvm.ConstInt(s.Ctx.Int8Type(), val, false), nil
	case sir.StringConst:
		return s.Builder.CreateGlobalStringPtr(v.Value, "str"), nil
	default:
		return llvm.Value{}, fmt.Errorf("lower: emitConst: %T is not a constant node", n)
	}
}

// isConst reports whether n is one of the constant node kinds.
func isConst(n sir.Node) bool {
	switch n.(type) {
	case sir.IntConst, sir.FloatConst, sir.BoolConst, sir.StringConst:
		return true
	default:
		return false
	}
}
