// Package vm implements the VIPER interpreter (§4.7): a threaded
// instruction dispatch loop over a frame stack, SSA value tables,
// block-parameter edge copies, a per-frame handler stack driving trap
// unwinding and resume tokens, periodic host-interrupt polling, and
// breakpoint/trace hooks.
//
// Grounded on the teacher's internal/vm.EnhancedVM: a single struct
// owning the frame stack, a debug hook interface, and an instruction
// counter, generalized here from a flat bytecode register machine to
// VIPER's SSA-with-block-parameters execution model, and from the
// teacher's tryStack-based divide-by-zero catch (around OpDiv) to a
// general handler-stack/resume-token trap protocol (§4.7.4).
package vm

import (
	"fmt"

	"viper/internal/diag"
	"viper/internal/ilmodule"
	"viper/internal/iltype"
	"viper/internal/runtimesig"
)

// VM is a single module's execution context (§4.7.1 "Runner"). One VM
// drives one call stack; concurrency across VMs is the host's concern
// (§5 "no shared mutable IL-level state across Runners").
type VM struct {
	mod      *ilmodule.Module
	registry *runtimesig.Registry
	bridge   *Bridge
	cfg      RunConfig

	frames      []*frame
	nextFrameID uint64
	nextFault   uint64

	globals map[string]iltype.Value

	instrCount uint64
	opCounts   map[string]uint64

	status      Status
	pendingDiag *diag.TrapDiagnostic
	pendingRet  iltype.Value
}

// NewVM constructs a Runner over mod, consulting registry to resolve
// extern calls and bridge (may be nil) to actually invoke them (§4.9).
func NewVM(mod *ilmodule.Module, registry *runtimesig.Registry, bridge *Bridge, cfg RunConfig) *VM {
	v := &VM{
		mod:      mod,
		registry: registry,
		bridge:   bridge,
		cfg:      cfg,
		globals:  make(map[string]iltype.Value),
		opCounts: make(map[string]uint64),
	}
	for _, g := range mod.Globals {
		if g.Init != nil {
			v.globals[g.Name] = *g.Init
		} else {
			v.globals[g.Name] = zeroValue(g.Kind)
		}
	}
	return v
}

func zeroValue(k iltype.Kind) iltype.Value {
	switch {
	case k.IsSignedInt():
		return iltype.Int(k, 0)
	case k.IsUnsignedInt():
		return iltype.Uint(k, 0)
	case k == iltype.F32:
		return iltype.Float32(0)
	case k == iltype.F64:
		return iltype.Float64(0)
	case k == iltype.Str:
		return iltype.Str("")
	case k == iltype.Ptr:
		return iltype.NullPtr()
	default:
		return iltype.Value{Kind: k}
	}
}

// Run starts execution of funcName with args bound to its parameters
// (§4.7.1) and drives the dispatch loop until the run completes, traps
// unhandled, or pauses (§5 "Suspension points").
func (vm *VM) Run(funcName string, args []iltype.Value) (*RunResult, error) {
	fn, ok := vm.mod.LookupFunction(funcName)
	if !ok {
		return nil, fmt.Errorf("vm: no such function %q", funcName)
	}
	if len(args) != len(fn.Params) {
		return nil, fmt.Errorf("vm: %s expects %d arguments, got %d", funcName, len(fn.Params), len(args))
	}
	f := newFrame(vm.nextFrameID, fn)
	vm.nextFrameID++
	for i, p := range fn.Params {
		f.define(p.Name, args[i])
	}
	f.enterBlock(fn.Entry())
	vm.frames = []*frame{f}
	return vm.loop()
}

// ContinueRun resumes a Paused VM exactly where it left off (§4.7.5,
// §4.7.6): the frame stack, instruction counters, and arenas are all
// untouched by a pause, so this is just re-entering the same loop.
func (vm *VM) ContinueRun() (*RunResult, error) {
	if len(vm.frames) == 0 {
		return nil, fmt.Errorf("vm: no paused run to continue")
	}
	return vm.loop()
}

func (vm *VM) topFrame() *frame {
	if len(vm.frames) == 0 {
		return nil
	}
	return vm.frames[len(vm.frames)-1]
}

// loop is the threaded dispatch loop (§4.7.2). It only ever suspends at
// whole-instruction boundaries: a breakpoint hit, a declined interrupt
// poll, an unhandled trap, or normal return from the outermost frame.
func (vm *VM) loop() (*RunResult, error) {
	for {
		f := vm.topFrame()
		if f == nil {
			vm.status = StatusCompleted
			if vm.cfg.TraceSink != nil {
				vm.cfg.TraceSink.TraceSummary(vm.instrCount, vm.opCounts)
			}
			return &RunResult{Status: StatusCompleted, ReturnValue: vm.pendingRet, InstrExecuted: vm.instrCount}, nil
		}

		instr := f.currentInstr()

		if vm.hitBreakpoint(f, instr) {
			vm.status = StatusPaused
			return &RunResult{Status: StatusPaused, InstrExecuted: vm.instrCount}, nil
		}
		if vm.cfg.TraceSink != nil {
			vm.cfg.TraceSink.TraceInstruction(f.fn.Name, f.block.Label, f.ip, instr.Mnemonic)
		}

		vm.step(f, instr)
		vm.instrCount++
		vm.opCounts[instr.Mnemonic]++

		if vm.status == StatusTrapped {
			if vm.cfg.TraceSink != nil {
				vm.cfg.TraceSink.TraceSummary(vm.instrCount, vm.opCounts)
			}
			return &RunResult{Status: StatusTrapped, Diagnostic: vm.pendingDiag, InstrExecuted: vm.instrCount}, nil
		}

		if vm.cfg.MaxSteps > 0 && vm.instrCount >= vm.cfg.MaxSteps {
			vm.raiseTrap(iltype.TrapRuntimeError, 0, f, instr)
			if vm.status == StatusTrapped {
				if vm.cfg.TraceSink != nil {
					vm.cfg.TraceSink.TraceSummary(vm.instrCount, vm.opCounts)
				}
				return &RunResult{Status: StatusTrapped, Diagnostic: vm.pendingDiag, InstrExecuted: vm.instrCount}, nil
			}
			continue
		}

		if vm.cfg.InterruptEveryN > 0 && vm.cfg.PollCallback != nil && vm.instrCount%vm.cfg.InterruptEveryN == 0 {
			if !vm.cfg.PollCallback(vm) {
				vm.status = StatusPaused
				return &RunResult{Status: StatusPaused, InstrExecuted: vm.instrCount}, nil
			}
		}
	}
}

func (vm *VM) hitBreakpoint(f *frame, instr *ilmodule.Instruction) bool {
	for _, b := range vm.cfg.Breakpoints {
		if b.matchesIL(f.fn.Name, f.block.Label, f.ip) {
			return true
		}
		if instr.Line > 0 && b.matchesSource("", instr.Line) {
			return true
		}
	}
	return false
}

// InstructionCount, OpCounts and Status expose read-only run state to the
// host between Run/ContinueRun calls (§4.7.6 "inspect the VM state").
func (vm *VM) InstructionCount() uint64          { return vm.instrCount }
func (vm *VM) OpCounts() map[string]uint64       { return vm.opCounts }
func (vm *VM) CurrentStatus() Status             { return vm.status }
func (vm *VM) Global(name string) (iltype.Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}
func (vm *VM) SetGlobal(name string, v iltype.Value) { vm.globals[name] = v }
func (vm *VM) SetBreakpoints(bp []BreakSpec)         { vm.cfg.Breakpoints = bp }

// FrameInfo is a read-only snapshot of one call-stack entry, consumed by
// internal/debugger's call-stack display (§4.7.6).
type FrameInfo struct {
	Function string
	Block    string
	IP       int
}

// CallStack returns the current frame stack, outermost first.
func (vm *VM) CallStack() []FrameInfo {
	out := make([]FrameInfo, len(vm.frames))
	for i, f := range vm.frames {
		out[i] = FrameInfo{Function: f.fn.Name, Block: f.block.Label, IP: f.ip}
	}
	return out
}

// Locals returns a copy of the top frame's SSA value table, keyed by
// name, for watch-expression evaluation (§4.7.6). Returns nil if no frame
// is active.
func (vm *VM) Locals() map[string]iltype.Value {
	f := vm.topFrame()
	if f == nil {
		return nil
	}
	out := make(map[string]iltype.Value, len(f.ssa))
	for k, v := range f.ssa {
		out[k] = v
	}
	return out
}

// raiseTrap implements §4.7.4's unwind protocol. It is called both for
// explicit trap*/checked-op failures in the current frame and internally
// when MaxSteps is exceeded.
func (vm *VM) raiseTrap(kind iltype.TrapKind, code int32, faultFrame *frame, faultInstr *ilmodule.Instruction) {
	vm.raiseTrapWithCause(kind, code, faultFrame, faultInstr, nil)
}

func (vm *VM) raiseTrapWithCause(kind iltype.TrapKind, code int32, faultFrame *frame, faultInstr *ilmodule.Instruction, cause error) {
	faultBlock := faultFrame.block.Label
	faultIdx := faultFrame.ip
	faultLine := faultInstr.Line
	if faultLine <= 0 {
		faultLine = -1
	}

	// Unwind frames top-down looking for a handler, starting at the
	// frame that actually faulted (always the current top frame when
	// this is invoked from step(), but written generally so a future
	// runtime-bridge failure reported against a callee's frame unwinds
	// correctly too).
	for len(vm.frames) > 0 {
		cur := vm.topFrame()
		if len(cur.handlers) > 0 {
			top := cur.handlers[len(cur.handlers)-1]
			cur.handlers = cur.handlers[:len(cur.handlers)-1]
			handlerDepth := len(cur.handlers)

			vm.nextFault++
			tok := iltype.NewResumeToken(cur.id, vm.nextFault, handlerDepth)
			record := iltype.ErrorRecord{Kind: kind, Code: code, IP: vm.nextFault, Line: int32(faultLine)}
			errVal := iltype.ErrorValue(record)

			cur.pendingFaultBlock = faultBlock
			cur.pendingFaultIdx = faultIdx
			cur.pendingFaultLine = faultLine
			cur.currentError = &record

			handlerBlock, ok := cur.fn.Block(top.label)
			if !ok || len(handlerBlock.Params) != 2 {
				// Verifier guarantees this can't happen for a verified
				// module; a hand-assembled Module that skipped
				// verification hits this as a host-level invariant
				// violation instead of corrupting frame state.
				panic(fmt.Sprintf("vm: handler block %q missing or malformed", top.label))
			}
			cur.define(handlerBlock.Params[0].Name, errVal)
			cur.define(handlerBlock.Params[1].Name, tok)
			cur.enterBlock(handlerBlock)
			return
		}

		vm.frames = vm.frames[:len(vm.frames)-1]
		if len(vm.frames) == 0 {
			break
		}
	}

	vm.status = StatusTrapped
	vm.pendingDiag = &diag.TrapDiagnostic{
		Kind:     kind,
		Function: faultFrame.fn.Name,
		Block:    faultBlock,
		InstrIdx: faultIdx,
		Line:     faultLine,
		Cause:    cause,
	}
}
