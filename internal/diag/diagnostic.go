// Package diag implements VIPER's diagnostic taxonomy (§7): Trap,
// Verification failure, and Parse failure are distinct, non-overlapping
// error families, each rendered with the context §4.5/§4.4/§6.6 require.
// Grounded on the teacher's internal/errors.SentraError (type + source
// location + call stack + source-line caret rendering), split here into
// one concrete type per family instead of one tagged union, since the
// three families are never caught the same way (§7 "not catchable" vs
// "catchable").
package diag

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"viper/internal/iltype"
)

// TrapDiagnostic is the unhandled-trap report of §6.6, produced when a
// trap unwinds the entire call stack without finding a handler.
type TrapDiagnostic struct {
	Kind     iltype.TrapKind
	Function string
	Block    string
	InstrIdx int
	Line     int // -1 if unknown
	Cause    error
}

func (d *TrapDiagnostic) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Trap: %s\n", d.Kind)
	fmt.Fprintf(&sb, "Function: @%s\n", d.Function)
	fmt.Fprintf(&sb, "IL: @%s#%s#%d\n", d.Function, d.Block, d.InstrIdx)
	fmt.Fprintf(&sb, "Source line: %d\n", d.Line)
	return sb.String()
}

func (d *TrapDiagnostic) Unwrap() error { return d.Cause }

// WrapRuntimeError builds a TrapDiagnostic from a runtime-bridge failure,
// preserving the underlying error via errors.Wrap so errors.Cause still
// recovers the original *driver* error.
func WrapRuntimeError(kind iltype.TrapKind, function, block string, instrIdx, line int, cause error) *TrapDiagnostic {
	return &TrapDiagnostic{
		Kind: kind, Function: function, Block: block,
		InstrIdx: instrIdx, Line: line,
		Cause: errors.Wrap(cause, "runtime bridge"),
	}
}

// VerifyDiagnostic reports a structural/typing/SSA/CFG/EH violation
// (§4.5). Verification failures are never catchable (§7) — they are
// reported and execution never starts.
type VerifyDiagnostic struct {
	Function string
	Block    string
	InstrIdx int
	Kind     string // "structural" | "typing" | "ssa" | "cfg" | "eh" | "runtime-call" | "determinism"
	Message  string
}

func (d *VerifyDiagnostic) Error() string {
	loc := fmt.Sprintf("@%s", d.Function)
	if d.Block != "" {
		loc += fmt.Sprintf("#%s#%d", d.Block, d.InstrIdx)
	}
	return fmt.Sprintf("verify error [%s] at %s: %s", d.Kind, loc, d.Message)
}

// ParseDiagnostic reports malformed .il text with source position (§4.4).
type ParseDiagnostic struct {
	File    string
	Line    int
	Column  int
	Code    string // stable diagnostic code, e.g. "E_UNEXPECTED_TOKEN"
	Message string
}

func (d *ParseDiagnostic) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s [%s]", d.File, d.Line, d.Column, d.Message, d.Code)
}

// MultiParseError accumulates ParseDiagnostics across function-boundary
// recovery (§4.4 "the parser recovers to the next function boundary to
// report multiple errors").
type MultiParseError struct {
	Diags []*ParseDiagnostic
}

func (m *MultiParseError) Error() string {
	var sb strings.Builder
	for i, d := range m.Diags {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(d.Error())
	}
	return sb.String()
}

func (m *MultiParseError) Add(d *ParseDiagnostic) {
	m.Diags = append(m.Diags, d)
}

func (m *MultiParseError) HasErrors() bool {
	return len(m.Diags) > 0
}
