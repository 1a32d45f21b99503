package optpass

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"viper/internal/ilmodule"
)

// maxIterations bounds the fixed-point loop per function: a pass pipeline
// that still reports "changed" after this many passes over a single
// function is treated as non-convergent, not looped forever.
const maxIterations = 32

// Report summarizes one Driver.Run: which functions a pass actually
// touched, and how many fixed-point iterations each took.
type Report struct {
	Changed    []string
	Iterations map[string]int
}

// Driver runs a fixed ordered pipeline of Passes over every Function in a
// Module, each function processed independently to a local fixed point
// (§4.7 row 10). Functions are independent optimization units — nothing
// in the pipeline contract lets one pass reach across function
// boundaries — so the Driver clones the Module once up front and then
// runs each function's pipeline concurrently against its own Function in
// the clone, joined with errgroup the way the teacher's worker pool joins
// job completions.
type Driver struct {
	passes      []Pass
	concurrency int
}

// NewDriver builds a Driver over passes, run in the given order against
// every function. Concurrency defaults to runtime.NumCPU(), mirroring the
// teacher's CreateWorkerPool default sizing.
func NewDriver(passes ...Pass) *Driver {
	return &Driver{passes: passes, concurrency: runtime.NumCPU()}
}

// WithConcurrency overrides the worker cap, mainly for deterministic
// tests.
func (d *Driver) WithConcurrency(n int) *Driver {
	if n > 0 {
		d.concurrency = n
	}
	return d
}

// Run clones mod and applies the pipeline to the clone, returning the
// transformed clone and a Report. The input Module is left untouched
// (§4.2's clone-for-sandbox contract), so a caller can compare before and
// after or discard the result entirely.
func (d *Driver) Run(ctx context.Context, mod *ilmodule.Module) (*ilmodule.Module, *Report, error) {
	out := mod.Clone()

	g, gctx := errgroup.WithContext(ctx)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}

	type outcome struct {
		name string
		iters int
		changed bool
	}
	results := make(chan outcome, len(out.Functions))

	for _, fn := range out.Functions {
		fn := fn
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			iters, changed, err := d.runToFixedPoint(fn)
			if err != nil {
				return fmt.Errorf("optpass: function %q: %w", fn.Name, err)
			}
			results <- outcome{name: fn.Name, iters: iters, changed: changed}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	close(results)

	report := &Report{Iterations: make(map[string]int, len(out.Functions))}
	for r := range results {
		report.Iterations[r.name] = r.iters
		if r.changed {
			report.Changed = append(report.Changed, r.name)
		}
	}
	return out, report, nil
}

// runToFixedPoint runs every pass over fn in order, repeating the whole
// pipeline while any pass still reports a change, up to maxIterations.
func (d *Driver) runToFixedPoint(fn *ilmodule.Function) (iterations int, everChanged bool, err error) {
	for iterations = 0; iterations < maxIterations; iterations++ {
		roundChanged := false
		for _, p := range d.passes {
			changed, err := p.RunOnFunction(fn)
			if err != nil {
				return iterations, everChanged, fmt.Errorf("pass %q: %w", p.Name(), err)
			}
			roundChanged = roundChanged || changed
		}
		if !roundChanged {
			return iterations, everChanged, nil
		}
		everChanged = true
	}
	return iterations, everChanged, fmt.Errorf("did not converge after %d iterations", maxIterations)
}
