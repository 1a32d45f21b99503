package vm

import (
	"viper/internal/diag"
	"viper/internal/iltype"
)

// RunConfig configures a Runner's cooperative scheduling and observability
// (§6.5). Grounded on the teacher's EnhancedVM fields (debug/debugHook,
// loopCounter, instrCount) generalized into one explicit, host-supplied
// struct instead of scattered VM fields set by ad hoc setters.
type RunConfig struct {
	// InterruptEveryN, when nonzero, calls PollCallback after every N
	// dispatched instructions (§4.7.5). A false return pauses the run.
	InterruptEveryN uint64
	PollCallback    func(*VM) bool

	// MaxSteps bounds total dispatched instructions across the whole
	// run; reaching it raises a RuntimeError trap (§5 "Cancellation").
	MaxSteps uint64

	// BoundsChecks is advisory: the VM does not read it, and idx.chk
	// always performs its range check whatever its value.
	BoundsChecks bool

	// Breakpoints is consulted before dispatching every instruction
	// (§4.7.6). Entries are matched by Function/Block/InstrIdx only; a
	// File/Line entry is accepted but never matches, since instructions
	// carry no source file name.
	Breakpoints []BreakSpec

	// TraceSink, if non-nil, receives one TraceInstruction call per
	// dispatched instruction and a TraceSummary call at run end
	// (§4.7.7).
	TraceSink diag.TraceWriter
}

// BreakSpec is one breakpoint table entry (§4.7.6).
type BreakSpec struct {
	Function string
	Block    string
	InstrIdx int

	File string
	Line int
}

func (b BreakSpec) matchesIL(function, block string, instrIdx int) bool {
	return b.Function == function && b.Block == block && b.InstrIdx == instrIdx
}

func (b BreakSpec) matchesSource(file string, line int) bool {
	return b.File != "" && b.File == file && b.Line == line
}

// Status is the externally observable run state (§5 "Suspension points").
type Status int

const (
	StatusCompleted Status = iota
	StatusPaused
	StatusTrapped
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "Completed"
	case StatusPaused:
		return "Paused"
	case StatusTrapped:
		return "Trapped"
	default:
		return "Unknown"
	}
}

// RunResult reports the outcome of Run/ContinueRun (§5, §6.6).
type RunResult struct {
	Status        Status
	ReturnValue   iltype.Value
	Diagnostic    *diag.TrapDiagnostic
	InstrExecuted uint64
}
