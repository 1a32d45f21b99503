// Package optpass implements the module-level pass driver of §4.7 row 10:
// individual optimization passes (SCCP, Mem2Reg, LICM, DCE, SimplifyCFG)
// are out of scope, only the driver contract that would run them is.
//
// Grounded on the teacher's internal/concurrency.ConcurrencyModule worker
// pool (fan out units of work, join completion, collect first error),
// adapted from a manual WaitGroup-plus-channel pool to an errgroup over
// clone-isolated per-function sandboxes (§4.2 "Module may be cloned to
// permit parallel transforms").
package optpass

import (
	"viper/internal/ilmodule"
)

// Pass transforms a single Function in place. Changed reports whether the
// pass modified anything, letting a Driver iterate passes to a fixed
// point (§4.7 row 10 "may be run to convergence").
type Pass interface {
	Name() string
	RunOnFunction(fn *ilmodule.Function) (changed bool, err error)
}

// PassFunc adapts a plain function to the Pass interface.
type PassFunc struct {
	PassName string
	Fn       func(*ilmodule.Function) (bool, error)
}

func (p PassFunc) Name() string { return p.PassName }
func (p PassFunc) RunOnFunction(fn *ilmodule.Function) (bool, error) {
	return p.Fn(fn)
}
