package optpass

import (
	"context"
	"sync"
	"testing"

	"viper/internal/ilmodule"
	"viper/internal/ilparser"
)

// markVisited is a minimal demonstration Pass: it is not an optimization
// (no SCCP/Mem2Reg/LICM/DCE/SimplifyCFG internals — those stay out of
// scope), just a fixture exercising the driver's fixed-point and
// concurrency contract. It flips on a single attribute the first time it
// sees a function, then reports no further change.
func markVisited() Pass {
	return PassFunc{
		PassName: "mark-visited",
		Fn: func(fn *ilmodule.Function) (bool, error) {
			if fn.Attrs == nil {
				fn.Attrs = make(map[string]bool)
			}
			if fn.Attrs["visited"] {
				return false, nil
			}
			fn.Attrs["visited"] = true
			return true, nil
		},
	}
}

func TestDriverRunsToFixedPoint(t *testing.T) {
	src := `il 1.0.0

func @a(%x: i32) -> i32 {
^entry:
  ret %x;
}

func @b(%x: i32) -> i32 {
^entry:
  %y:i32 = iadd %x, 1:i32;
  ret %y;
}
`
	mod, errs := ilparser.Parse(src, "driver.il")
	if errs != nil {
		t.Fatalf("parse errors: %v", errs)
	}

	driver := NewDriver(markVisited()).WithConcurrency(2)
	out, report, err := driver.Run(context.Background(), mod)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if out == mod {
		t.Fatalf("Run must return a clone, not the input module")
	}

	for _, name := range []string{"a", "b"} {
		fn, ok := out.LookupFunction(name)
		if !ok {
			t.Fatalf("clone missing function %q", name)
		}
		if !fn.HasAttr("visited") {
			t.Fatalf("function %q was not visited by the pass", name)
		}
		if iters := report.Iterations[name]; iters != 1 {
			t.Fatalf("function %q converged after %d iterations, want 1", name, iters)
		}
	}
	if len(report.Changed) != 2 {
		t.Fatalf("changed = %v, want both functions reported", report.Changed)
	}

	if origFn, _ := mod.LookupFunction("a"); origFn.HasAttr("visited") {
		t.Fatalf("Run mutated the input module's function in place")
	}
}

func TestDriverNonConvergentPassReturnsError(t *testing.T) {
	src := `il 1.0.0

func @loop() -> i32 {
^entry:
  ret 0:i32;
}
`
	mod, errs := ilparser.Parse(src, "driver.il")
	if errs != nil {
		t.Fatalf("parse errors: %v", errs)
	}

	alwaysChanges := PassFunc{
		PassName: "always-changes",
		Fn:       func(*ilmodule.Function) (bool, error) { return true, nil },
	}

	driver := NewDriver(alwaysChanges)
	if _, _, err := driver.Run(context.Background(), mod); err == nil {
		t.Fatalf("expected a non-convergence error, got nil")
	}
}

func TestDriverRunsFunctionsConcurrently(t *testing.T) {
	src := `il 1.0.0

func @a() -> i32 {
^entry:
  ret 1:i32;
}

func @b() -> i32 {
^entry:
  ret 2:i32;
}

func @c() -> i32 {
^entry:
  ret 3:i32;
}
`
	mod, errs := ilparser.Parse(src, "driver.il")
	if errs != nil {
		t.Fatalf("parse errors: %v", errs)
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	recordPass := PassFunc{
		PassName: "record",
		Fn: func(fn *ilmodule.Function) (bool, error) {
			mu.Lock()
			seen[fn.Name] = true
			mu.Unlock()
			return false, nil
		},
	}

	driver := NewDriver(recordPass).WithConcurrency(3)
	_, report, err := driver.Run(context.Background(), mod)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if !seen[name] {
			t.Fatalf("function %q was never processed", name)
		}
	}
	if len(report.Changed) != 0 {
		t.Fatalf("record pass never reports change, got %v", report.Changed)
	}
}
