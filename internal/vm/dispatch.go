package vm

import (
	"viper/internal/ilmodule"
	"viper/internal/iltype"
	"viper/internal/opcode"
)

// resolve reads an operand's runtime Value out of the current frame (or
// the module's globals, for OperandGlobalRef). The verifier has already
// proven every operand resolves to something defined before use (§4.5.3),
// so a miss here indicates a hand-assembled, unverified Module.
func (vm *VM) resolve(f *frame, op ilmodule.Operand) iltype.Value {
	switch op.Kind {
	case ilmodule.OperandConst:
		return op.Const
	case ilmodule.OperandSSA, ilmodule.OperandBlockParam:
		v, ok := f.lookup(op.Name)
		if !ok {
			panic("vm: use of undefined SSA name " + op.Name)
		}
		return v
	case ilmodule.OperandGlobalRef:
		v, ok := vm.globals[op.Name]
		if !ok {
			panic("vm: use of undefined global " + op.Name)
		}
		return v
	case ilmodule.OperandFuncRef:
		return iltype.FuncRef(op.Name)
	default:
		panic("vm: unresolvable operand kind")
	}
}

func (vm *VM) resolveAll(f *frame, ops []ilmodule.Operand) []iltype.Value {
	out := make([]iltype.Value, len(ops))
	for i, o := range ops {
		out[i] = vm.resolve(f, o)
	}
	return out
}

// step dispatches exactly one instruction (§4.7.2). Terminators mutate
// frame/VM control state directly; everything else binds a result (if
// any) into the frame's SSA table and advances ip by one.
func (vm *VM) step(f *frame, instr *ilmodule.Instruction) {
	switch instr.Op {
	case opcode.OpBr:
		vm.branch(f, instr.Targets[0])
		return
	case opcode.OpCbr:
		cond := vm.resolve(f, instr.Operands[0])
		if cond.Bool() {
			vm.branch(f, instr.Targets[0])
		} else {
			vm.branch(f, instr.Targets[1])
		}
		return
	case opcode.OpSwitch:
		vm.execSwitch(f, instr)
		return
	case opcode.OpRet:
		vm.execRet(f, instr)
		return
	case opcode.OpCall:
		vm.execCall(f, instr)
		return
	case opcode.OpCallIndirect:
		vm.execCallIndirect(f, instr)
		return
	case opcode.OpSelect:
		cond := vm.resolve(f, instr.Operands[0])
		a := vm.resolve(f, instr.Operands[1])
		b := vm.resolve(f, instr.Operands[2])
		if cond.Bool() {
			f.define(instr.Result, a)
		} else {
			f.define(instr.Result, b)
		}
		f.ip++
		return

	case opcode.OpEHPush:
		handler, _ := instr.Attr("handler")
		f.pushHandler(handler)
		f.ip++
		return
	case opcode.OpEHPop:
		f.popHandler()
		f.ip++
		return
	case opcode.OpTrap:
		kind, code := vm.explicitTrapAttrs(instr)
		vm.raiseTrap(kind, code, f, instr)
		return
	case opcode.OpTrapFromErr:
		kind, code := vm.explicitTrapAttrs(instr)
		vm.raiseTrap(kind, code, f, instr)
		return
	case opcode.OpTrapKind:
		f.define(instr.Result, iltype.Int(iltype.I32, trapKindOrdinal(vm.ambientTrapKind(f))))
		f.ip++
		return
	case opcode.OpTrapErr:
		rec := iltype.ErrorRecord{}
		if f.currentError != nil {
			rec = *f.currentError
		}
		f.define(instr.Result, iltype.ErrorValue(rec))
		f.ip++
		return
	case opcode.OpResumeSame:
		vm.execResume(f, instr, resumeSame)
		return
	case opcode.OpResumeNext:
		vm.execResume(f, instr, resumeNext)
		return
	case opcode.OpResumeLabel:
		vm.execResume(f, instr, resumeLabel)
		return

	case opcode.OpAlloca:
		vm.execAlloca(f, instr)
		return
	case opcode.OpLoad:
		vm.execLoad(f, instr)
		return
	case opcode.OpStore:
		vm.execStore(f, instr)
		return
	case opcode.OpGep:
		vm.execGep(f, instr)
		return
	case opcode.OpIdxChk:
		vm.execIdxChk(f, instr)
		return

	case opcode.OpTrunc, opcode.OpSExt, opcode.OpZExt, opcode.OpFPToSI, opcode.OpSIToFP,
		opcode.OpFPTrunc, opcode.OpFPExt, opcode.OpBitcast,
		opcode.OpCastFPToSIChk, opcode.OpCastFPToUIChk, opcode.OpCastSINarrowChk, opcode.OpCastUINarrowChk:
		vm.execCast(f, instr)
		return

	default:
		vm.execArithOrCompare(f, instr)
		return
	}
}

func (vm *VM) ambientTrapKind(f *frame) iltype.TrapKind {
	if f.currentError == nil {
		return iltype.TrapRuntimeError
	}
	return f.currentError.Kind
}

func (vm *VM) explicitTrapAttrs(instr *ilmodule.Instruction) (iltype.TrapKind, int32) {
	kind := iltype.TrapRuntimeError
	if k, ok := instr.Attr("kind"); ok {
		kind = iltype.TrapKind(k)
	}
	var code int32
	if c, ok := instr.Attr("code"); ok {
		code = parseAttrInt32(c)
	}
	return kind, code
}

func parseAttrInt32(s string) int32 {
	var n int32
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int32(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

// branch implements the parallel block-parameter edge copy of §4.7.3:
// every argument is resolved against the *source* block's SSA table
// before any is bound into the target block, so `br ^b(%y, %x)` correctly
// swaps two values rather than letting the first bind clobber the second
// operand's lookup.
func (vm *VM) branch(f *frame, target ilmodule.BranchTarget) {
	targetBlock, ok := f.fn.Block(target.Label)
	if !ok {
		panic("vm: branch to undefined block " + target.Label)
	}
	args := vm.resolveAll(f, target.Args)
	f.enterBlock(targetBlock)
	for i, p := range targetBlock.Params {
		if i < len(args) {
			f.define(p.Name, args[i])
		}
	}
}

func (vm *VM) execSwitch(f *frame, instr *ilmodule.Instruction) {
	v := vm.resolve(f, instr.Operands[0])
	for i := 1; i < len(instr.Targets); i++ {
		caseVal, ok := instr.Attr(caseAttrKey(i))
		if !ok {
			continue
		}
		if matchesCase(v, caseVal) {
			vm.branch(f, instr.Targets[i])
			return
		}
	}
	vm.branch(f, instr.Targets[0])
}

func caseAttrKey(i int) string {
	return "case_" + itoa(i)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

func matchesCase(v iltype.Value, caseVal string) bool {
	if v.Kind.IsUnsignedInt() {
		return itoaU(v.Uint64()) == caseVal
	}
	return itoa64(v.Int64()) == caseVal
}

func itoa64(n int64) string {
	if n < 0 {
		return "-" + itoaU(uint64(-n))
	}
	return itoaU(uint64(n))
}

func itoaU(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

func (vm *VM) execRet(f *frame, instr *ilmodule.Instruction) {
	var retVal iltype.Value
	if len(instr.Operands) == 1 {
		retVal = vm.resolve(f, instr.Operands[0])
	}
	callResult := f.callResult
	vm.frames = vm.frames[:len(vm.frames)-1]
	if len(vm.frames) == 0 {
		vm.pendingRet = retVal
		return
	}
	caller := vm.topFrame()
	if callResult != "" {
		caller.define(callResult, retVal)
	}
	caller.ip++
}
