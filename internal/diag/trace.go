package diag

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// TraceWriter receives per-instruction log lines under §4.7.7's optional
// tracing flag and §6.5's trace_sink configuration field. Disabled (a nil
// TraceWriter passed to the VM) costs nothing on the hot path beyond the
// existing nil check the VM already does before dispatch.
type TraceWriter interface {
	TraceInstruction(function, block string, instrIdx int, mnemonic string)
	TraceSummary(totalInstructions uint64, perOpcode map[string]uint64)
}

// WriterTraceSink is the default TraceWriter, writing human-readable
// lines to an io.Writer. Grounded on the teacher's formatter package's
// preference for humanized counts and TTY-aware coloring in CLI output.
type WriterTraceSink struct {
	w      io.Writer
	color  bool
}

// NewWriterTraceSink wraps w; if w is an *os.File, coloring is enabled
// only when it is a real terminal (mirrors the teacher's REPL color
// gating, never emitting escape codes into a redirected file).
func NewWriterTraceSink(w io.Writer) *WriterTraceSink {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &WriterTraceSink{w: w, color: color}
}

func (s *WriterTraceSink) TraceInstruction(function, block string, instrIdx int, mnemonic string) {
	if s.color {
		fmt.Fprintf(s.w, "\x1b[90m%s#%s#%d\x1b[0m %s\n", function, block, instrIdx, mnemonic)
		return
	}
	fmt.Fprintf(s.w, "%s#%s#%d %s\n", function, block, instrIdx, mnemonic)
}

func (s *WriterTraceSink) TraceSummary(total uint64, perOpcode map[string]uint64) {
	fmt.Fprintf(s.w, "executed %s instructions across %d opcodes\n",
		humanize.Comma(int64(total)), len(perOpcode))
}

// FormatStepBudget renders a max_steps / instruction-count diagnostic
// line the way the unhandled-trap diagnostic's surrounding CLI reporting
// does (§6.5 max_steps, §5 cancellation).
func FormatStepBudget(executed, limit uint64) string {
	return fmt.Sprintf("%s / %s instructions", humanize.Comma(int64(executed)), humanize.Comma(int64(limit)))
}
