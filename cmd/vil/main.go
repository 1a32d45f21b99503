// cmd/vil is the minimal load/verify/run entry point: enough to execute
// a .il file from the command line and report a verification failure or
// an unhandled trap the way §6.6 specifies. It is not the "CLI driver
// glue" spec.md's Non-goals exclude (a full frontend/packaging tool with
// subcommands, REPL, formatter, LSP); it is the one invocation the VM
// component needs to be runnable standalone at all.
//
// Grounded on the teacher's cmd/sentra/main.go run path: read the file,
// build a fresh interpreter, run it, and print a structured error to
// stderr with a non-zero exit on failure.
package main

import (
	"flag"
	"fmt"
	"os"

	"viper/internal/diag"
	"viper/internal/ilparser"
	"viper/internal/runtimesig"
	"viper/internal/testrt"
	"viper/internal/verifier"
	"viper/internal/vm"
)

func main() {
	funcName := flag.String("func", "main", "entry function to run")
	trace := flag.Bool("trace", false, "log each dispatched instruction to stderr")
	maxSteps := flag.Uint64("max-steps", 0, "abort with a RuntimeError trap after this many instructions (0 = unbounded)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vil [flags] <file.il>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	if err := run(path, *funcName, *trace, *maxSteps); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path, funcName string, trace bool, maxSteps uint64) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("vil: %w", err)
	}

	mod, errs := ilparser.Parse(string(source), path)
	if errs != nil {
		return errs
	}

	registry := runtimesig.Standard()
	result := verifier.Verify(mod, registry)
	if !result.OK {
		for _, d := range result.Diagnostics {
			fmt.Fprintln(os.Stderr, d.Error())
		}
		return fmt.Errorf("vil: %s failed verification", path)
	}

	rt := testrt.NewRuntime()
	defer rt.Close()

	cfg := vm.RunConfig{MaxSteps: maxSteps}
	if trace {
		cfg.TraceSink = diag.NewWriterTraceSink(os.Stderr)
	}

	machine := vm.NewVM(mod, registry, rt.Bridge(), cfg)
	runResult, err := machine.Run(funcName, nil)
	if err != nil {
		return fmt.Errorf("vil: %w", err)
	}

	switch runResult.Status {
	case vm.StatusCompleted:
		fmt.Println(runResult.ReturnValue.GoString())
		return nil
	case vm.StatusTrapped:
		fmt.Fprint(os.Stderr, runResult.Diagnostic.Error())
		return fmt.Errorf("vil: %s trapped", path)
	default:
		return fmt.Errorf("vil: %s paused without a host to resume it (func %s declares no breakpoints/interrupts here)", path, funcName)
	}
}
