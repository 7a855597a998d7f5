// optimize.go is the hand-off to the pass pipeline: the pipeline's
// contents are out of scope, so this file only configures the standard
// pass-manager builder at the requested level and runs it over the
// module once.
package backend

import (
	"tinygo.org/x/go-llvm"
)

// OptLevel selects the optimization preset applied before output.
type OptLevel int

const (
	// O0 disables optimization; the module is emitted as lowered.
	O0 OptLevel = iota
	O1
	O2
	O3
)

// Optimize runs the standard pass pipeline over m at the given level.
// Coroutine intrinsics survive O0 untouched; any level above it includes
// the coroutine lowering passes via the builder's populated pipeline.
func Optimize(m llvm.Module, level OptLevel) {
	if level == O0 {
		return
	}

	pmb := llvm.NewPassManagerBuilder()
	defer pmb.Dispose()
	pmb.SetOptLevel(int(level))

	fpm := llvm.NewFunctionPassManagerForModule(m)
	defer fpm.Dispose()
	pmb.PopulateFunc(fpm)

	fpm.InitializeFunc()
	for fn := m.FirstFunction(); !fn.IsNil(); fn = llvm.NextFunction(fn) {
		fpm.RunFunc(fn)
	}
	fpm.FinalizeFunc()

	mpm := llvm.NewPassManager()
	defer mpm.Dispose()
	pmb.Populate(mpm)
	mpm.Run(m)
}
