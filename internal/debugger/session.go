package debugger

import (
	"fmt"

	"viper/internal/iltype"
	"viper/internal/vm"
)

// Session drives one VM run under debugger control: it keeps the
// breakpoint and watch tables, pushes the breakpoint table into the VM's
// RunConfig whenever a breakpoint is added or removed, and polls watches
// each time the VM yields
// control back (§4.7.6).
type Session struct {
	v           *vm.VM
	breakpoints *breakpointTable
	watches     *watchTable
}

func NewSession(v *vm.VM) *Session {
	return &Session{v: v, breakpoints: newBreakpointTable(), watches: newWatchTable()}
}

func (s *Session) AddBreakpointAtSource(file string, line int) *Breakpoint {
	bp := s.breakpoints.addSource(file, line)
	s.v.SetBreakpoints(s.breakpoints.specs())
	return bp
}

func (s *Session) AddBreakpointAtIL(function, block string, idx int) *Breakpoint {
	bp := s.breakpoints.addIL(function, block, idx)
	s.v.SetBreakpoints(s.breakpoints.specs())
	return bp
}

func (s *Session) RemoveBreakpoint(id int) bool {
	ok := s.breakpoints.remove(id)
	s.v.SetBreakpoints(s.breakpoints.specs())
	return ok
}

func (s *Session) Breakpoints() []*Breakpoint { return s.breakpoints.list() }

func (s *Session) AddWatch(expr string) *Watch { return s.watches.add(expr) }
func (s *Session) RemoveWatch(expr string) bool { return s.watches.remove(expr) }
func (s *Session) Watches() []*Watch            { return s.watches.list() }
func (s *Session) CallStack() []vm.FrameInfo    { return s.v.CallStack() }

// Start begins execution of funcName under this session's breakpoints
// and watches.
func (s *Session) Start(funcName string, args []iltype.Value) (*vm.RunResult, []Change, error) {
	result, err := s.v.Run(funcName, args)
	if err != nil {
		return nil, nil, err
	}
	return result, s.observe(), nil
}

// Continue resumes a Paused session, as RunDebugger's "continue" command
// does interactively in the teacher.
func (s *Session) Continue() (*vm.RunResult, []Change, error) {
	if s.v.CurrentStatus() != vm.StatusPaused {
		return nil, nil, fmt.Errorf("debugger: session is not paused (status %v)", s.v.CurrentStatus())
	}
	result, err := s.v.ContinueRun()
	if err != nil {
		return nil, nil, err
	}
	return result, s.observe(), nil
}

func (s *Session) observe() []Change {
	s.breakpoints.recordHit(s.v.CallStack())
	return s.watches.poll(s.v.Locals(), s.v.Global)
}
