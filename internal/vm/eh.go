package vm

import (
	"viper/internal/ilmodule"
	"viper/internal/iltype"
)

type resumeMode int

const (
	resumeSame resumeMode = iota
	resumeNext
	resumeLabel
)

// trapKindOrder fixes the ordinal trap.kind materializes (§4.8, ResultExact
// i32): the closed set from §6.3, in the order the spec enumerates it.
var trapKindOrder = []iltype.TrapKind{
	iltype.TrapDivideByZero, iltype.TrapOverflow, iltype.TrapInvalidCast,
	iltype.TrapDomainError, iltype.TrapBounds, iltype.TrapFileNotFound,
	iltype.TrapEOF, iltype.TrapIOError, iltype.TrapInvalidOperation,
	iltype.TrapRuntimeError,
}

func trapKindOrdinal(k iltype.TrapKind) int64 {
	for i, tk := range trapKindOrder {
		if tk == k {
			return int64(i)
		}
	}
	return int64(len(trapKindOrder) - 1)
}

// execResume validates the token operand against the handler that is
// currently running in f (§9 "the VM validates it at consumption time")
// and transfers control per §4.7.4's three resume forms.
func (vm *VM) execResume(f *frame, instr *ilmodule.Instruction, mode resumeMode) {
	tokVal := vm.resolve(f, instr.Operands[0])
	tok, ok := tokVal.AsResumeToken()
	if !ok || tok.FrameID != f.id || tok.HandlerDepth != len(f.handlers) {
		panic("vm: resume token does not match the enclosing handler (forged token past an unverified module)")
	}

	switch mode {
	case resumeSame:
		block, ok := f.fn.Block(f.pendingFaultBlock)
		if !ok {
			panic("vm: resume.same target block vanished: " + f.pendingFaultBlock)
		}
		f.block = block
		f.ip = f.pendingFaultIdx
	case resumeNext:
		block, ok := f.fn.Block(f.pendingFaultBlock)
		if !ok {
			panic("vm: resume.next target block vanished: " + f.pendingFaultBlock)
		}
		f.block = block
		f.ip = f.pendingFaultIdx + 1
	case resumeLabel:
		vm.branch(f, instr.Targets[0])
	}
}
