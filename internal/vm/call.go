package vm

import (
	"viper/internal/ilmodule"
	"viper/internal/iltype"
)

// execCall implements `call @callee(args...)` (§4.8 Control): a direct
// call resolves either to another IL function (push a new frame) or to
// an extern runtime function (§4.9, dispatched through the Bridge).
func (vm *VM) execCall(f *frame, instr *ilmodule.Instruction) {
	callee, _ := instr.Attr("callee")
	args := vm.resolveAll(f, instr.Operands)

	if fn, ok := vm.mod.LookupFunction(callee); ok {
		vm.pushCall(f, fn, args, instr.Result)
		return
	}

	ext, ok := vm.mod.LookupExtern(callee)
	if !ok {
		panic("vm: call to undeclared function " + callee)
	}
	vm.execExternCall(f, instr, ext, args)
}

func (vm *VM) execCallIndirect(f *frame, instr *ilmodule.Instruction) {
	fnPtr := vm.resolve(f, instr.Operands[0])
	args := vm.resolveAll(f, instr.Operands[1:])

	name, ok := fnPtr.AsFuncRef()
	if !ok {
		panic("vm: call.indirect target is not a function reference")
	}
	fn, ok := vm.mod.LookupFunction(name)
	if !ok {
		panic("vm: call.indirect target function not found: " + name)
	}
	vm.pushCall(f, fn, args, instr.Result)
}

func (vm *VM) pushCall(caller *frame, fn *ilmodule.Function, args []iltype.Value, resultName string) {
	nf := newFrame(vm.nextFrameID, fn)
	vm.nextFrameID++
	for i, p := range fn.Params {
		if i < len(args) {
			nf.define(p.Name, args[i])
		}
	}
	nf.callResult = resultName
	nf.enterBlock(fn.Entry())
	vm.frames = append(vm.frames, nf)
}
