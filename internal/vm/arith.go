package vm

import (
	"math"

	"viper/internal/ilmodule"
	"viper/internal/iltype"
	"viper/internal/opcode"
)

// execArithOrCompare covers every pure and checked arithmetic, bitwise,
// and comparison opcode (§4.8): the catch-all branch of step() for
// everything that isn't control flow, memory, cast, or EH. Unchecked
// integer ops wrap per two's complement (§7 "Propagation policy");
// checked variants raise the exact TrapKind §6.4 names.
func (vm *VM) execArithOrCompare(f *frame, instr *ilmodule.Instruction) {
	a := vm.resolve(f, instr.Operands[0])
	kind := a.Kind

	switch instr.Op {
	case opcode.OpINeg:
		if kind.IsUnsignedInt() {
			f.define(instr.Result, iltype.Uint(kind, uint64(-int64(a.Uint64()))))
		} else {
			f.define(instr.Result, iltype.Int(kind, -a.Int64()))
		}
		f.ip++
		return
	case opcode.OpNot:
		f.define(instr.Result, bitwiseResult(kind, ^a.Uint64()))
		f.ip++
		return
	case opcode.OpFNeg:
		f.define(instr.Result, floatResult(kind, -a.Float64()))
		f.ip++
		return
	}

	b := vm.resolve(f, instr.Operands[1])

	switch instr.Op {
	case opcode.OpIAdd:
		f.define(instr.Result, intResult(kind, a, b, func(x, y int64) int64 { return x + y }, func(x, y uint64) uint64 { return x + y }))
		f.ip++
	case opcode.OpISub:
		f.define(instr.Result, intResult(kind, a, b, func(x, y int64) int64 { return x - y }, func(x, y uint64) uint64 { return x - y }))
		f.ip++
	case opcode.OpIMul:
		f.define(instr.Result, intResult(kind, a, b, func(x, y int64) int64 { return x * y }, func(x, y uint64) uint64 { return x * y }))
		f.ip++

	case opcode.OpSDiv:
		f.define(instr.Result, iltype.Int(kind, a.Int64()/b.Int64()))
		f.ip++
	case opcode.OpUDiv:
		f.define(instr.Result, iltype.Uint(kind, a.Uint64()/b.Uint64()))
		f.ip++
	case opcode.OpSRem:
		f.define(instr.Result, iltype.Int(kind, a.Int64()%b.Int64()))
		f.ip++
	case opcode.OpURem:
		f.define(instr.Result, iltype.Uint(kind, a.Uint64()%b.Uint64()))
		f.ip++

	case opcode.OpIAddOvf:
		vm.checkedAdd(f, instr, kind, a, b)
	case opcode.OpISubOvf:
		vm.checkedSub(f, instr, kind, a, b)
	case opcode.OpIMulOvf:
		vm.checkedMul(f, instr, kind, a, b)

	case opcode.OpSDivChk0:
		if b.Int64() == 0 {
			vm.raiseTrap(iltype.TrapDivideByZero, 0, f, instr)
			return
		}
		if a.Int64() == math.MinInt64 && b.Int64() == -1 && kind.BitWidth() >= 64 {
			vm.raiseTrap(iltype.TrapOverflow, 0, f, instr)
			return
		}
		min, _ := signedRange(kind)
		if a.Int64() == min && b.Int64() == -1 {
			vm.raiseTrap(iltype.TrapOverflow, 0, f, instr)
			return
		}
		f.define(instr.Result, iltype.Int(kind, a.Int64()/b.Int64()))
		f.ip++
	case opcode.OpSRemChk0:
		if b.Int64() == 0 {
			vm.raiseTrap(iltype.TrapDivideByZero, 0, f, instr)
			return
		}
		f.define(instr.Result, iltype.Int(kind, a.Int64()%b.Int64()))
		f.ip++
	case opcode.OpUDivChk0:
		if b.Uint64() == 0 {
			vm.raiseTrap(iltype.TrapDivideByZero, 0, f, instr)
			return
		}
		f.define(instr.Result, iltype.Uint(kind, a.Uint64()/b.Uint64()))
		f.ip++
	case opcode.OpURemChk0:
		if b.Uint64() == 0 {
			vm.raiseTrap(iltype.TrapDivideByZero, 0, f, instr)
			return
		}
		f.define(instr.Result, iltype.Uint(kind, a.Uint64()%b.Uint64()))
		f.ip++

	case opcode.OpFAdd:
		f.define(instr.Result, floatResult(kind, a.Float64()+b.Float64()))
		f.ip++
	case opcode.OpFSub:
		f.define(instr.Result, floatResult(kind, a.Float64()-b.Float64()))
		f.ip++
	case opcode.OpFMul:
		f.define(instr.Result, floatResult(kind, a.Float64()*b.Float64()))
		f.ip++
	case opcode.OpFDiv:
		f.define(instr.Result, floatResult(kind, a.Float64()/b.Float64()))
		f.ip++
	case opcode.OpPow:
		r := math.Pow(a.Float64(), b.Float64())
		if a.Float64() < 0 && math.Trunc(b.Float64()) != b.Float64() {
			vm.raiseTrap(iltype.TrapDomainError, 0, f, instr)
			return
		}
		if math.IsInf(r, 0) || math.IsNaN(r) {
			vm.raiseTrap(iltype.TrapOverflow, 0, f, instr)
			return
		}
		f.define(instr.Result, floatResult(kind, r))
		f.ip++

	case opcode.OpAnd:
		f.define(instr.Result, bitwiseResult(kind, a.Uint64()&b.Uint64()))
		f.ip++
	case opcode.OpOr:
		f.define(instr.Result, bitwiseResult(kind, a.Uint64()|b.Uint64()))
		f.ip++
	case opcode.OpXor:
		f.define(instr.Result, bitwiseResult(kind, a.Uint64()^b.Uint64()))
		f.ip++
	case opcode.OpShl:
		shift := maskedShift(kind, b)
		f.define(instr.Result, bitwiseResult(kind, a.Uint64()<<shift))
		f.ip++
	case opcode.OpLShr:
		shift := maskedShift(kind, b)
		f.define(instr.Result, bitwiseResult(kind, a.Uint64()>>shift))
		f.ip++
	case opcode.OpAShr:
		shift := maskedShift(kind, b)
		f.define(instr.Result, iltype.Int(kind, a.Int64()>>shift))
		f.ip++

	case opcode.OpICmpEq:
		f.define(instr.Result, iltype.Bool(a.Equal(b)))
		f.ip++
	case opcode.OpICmpNe:
		f.define(instr.Result, iltype.Bool(!a.Equal(b)))
		f.ip++
	case opcode.OpSCmpLt:
		f.define(instr.Result, iltype.Bool(a.Int64() < b.Int64()))
		f.ip++
	case opcode.OpSCmpLe:
		f.define(instr.Result, iltype.Bool(a.Int64() <= b.Int64()))
		f.ip++
	case opcode.OpSCmpGt:
		f.define(instr.Result, iltype.Bool(a.Int64() > b.Int64()))
		f.ip++
	case opcode.OpSCmpGe:
		f.define(instr.Result, iltype.Bool(a.Int64() >= b.Int64()))
		f.ip++
	case opcode.OpUCmpLt:
		f.define(instr.Result, iltype.Bool(a.Uint64() < b.Uint64()))
		f.ip++
	case opcode.OpUCmpLe:
		f.define(instr.Result, iltype.Bool(a.Uint64() <= b.Uint64()))
		f.ip++
	case opcode.OpUCmpGt:
		f.define(instr.Result, iltype.Bool(a.Uint64() > b.Uint64()))
		f.ip++
	case opcode.OpUCmpGe:
		f.define(instr.Result, iltype.Bool(a.Uint64() >= b.Uint64()))
		f.ip++

	case opcode.OpFCmpOeq:
		f.define(instr.Result, iltype.Bool(a.Float64() == b.Float64()))
		f.ip++
	case opcode.OpFCmpOne:
		f.define(instr.Result, iltype.Bool(ordered(a, b) && a.Float64() != b.Float64()))
		f.ip++
	case opcode.OpFCmpOlt:
		f.define(instr.Result, iltype.Bool(a.Float64() < b.Float64()))
		f.ip++
	case opcode.OpFCmpOle:
		f.define(instr.Result, iltype.Bool(a.Float64() <= b.Float64()))
		f.ip++
	case opcode.OpFCmpOgt:
		f.define(instr.Result, iltype.Bool(a.Float64() > b.Float64()))
		f.ip++
	case opcode.OpFCmpOge:
		f.define(instr.Result, iltype.Bool(a.Float64() >= b.Float64()))
		f.ip++
	case opcode.OpFCmpUeq:
		f.define(instr.Result, iltype.Bool(!ordered(a, b) || a.Float64() == b.Float64()))
		f.ip++
	case opcode.OpFCmpUne:
		f.define(instr.Result, iltype.Bool(!ordered(a, b) || a.Float64() != b.Float64()))
		f.ip++

	default:
		panic("vm: unhandled opcode " + instr.Mnemonic)
	}
}

func ordered(a, b iltype.Value) bool {
	return !math.IsNaN(a.Float64()) && !math.IsNaN(b.Float64())
}

func intResult(kind iltype.Kind, a, b iltype.Value, signedOp func(int64, int64) int64, unsignedOp func(uint64, uint64) uint64) iltype.Value {
	if kind.IsUnsignedInt() {
		return iltype.Uint(kind, unsignedOp(a.Uint64(), b.Uint64()))
	}
	return iltype.Int(kind, signedOp(a.Int64(), b.Int64()))
}

func bitwiseResult(kind iltype.Kind, bits uint64) iltype.Value {
	if kind.IsUnsignedInt() {
		return iltype.Uint(kind, bits)
	}
	return iltype.Int(kind, int64(bits))
}

func floatResult(kind iltype.Kind, f float64) iltype.Value {
	if kind == iltype.F32 {
		return iltype.Float32(float32(f))
	}
	return iltype.Float64(f)
}

// maskedShift implements "shift count masked modulo bit width" (§9 Design
// Notes cross reference to the hosted lattice's shift semantics).
func maskedShift(kind iltype.Kind, shiftOperand iltype.Value) uint64 {
	w := kind.BitWidth()
	if w <= 0 {
		w = 64
	}
	return shiftOperand.Uint64() % uint64(w)
}

func (vm *VM) checkedAdd(f *frame, instr *ilmodule.Instruction, kind iltype.Kind, a, b iltype.Value) {
	if kind.IsUnsignedInt() {
		sum := a.Uint64() + b.Uint64()
		if sum < a.Uint64() || sum > unsignedMax(kind) {
			vm.raiseTrap(iltype.TrapOverflow, 0, f, instr)
			return
		}
		f.define(instr.Result, iltype.Uint(kind, sum))
		f.ip++
		return
	}
	x, y := a.Int64(), b.Int64()
	sum := x + y
	if overflows := addOverflows(kind, x, y, sum); overflows {
		vm.raiseTrap(iltype.TrapOverflow, 0, f, instr)
		return
	}
	f.define(instr.Result, iltype.Int(kind, sum))
	f.ip++
}

func (vm *VM) checkedSub(f *frame, instr *ilmodule.Instruction, kind iltype.Kind, a, b iltype.Value) {
	if kind.IsUnsignedInt() {
		x, y := a.Uint64(), b.Uint64()
		if y > x {
			vm.raiseTrap(iltype.TrapOverflow, 0, f, instr)
			return
		}
		f.define(instr.Result, iltype.Uint(kind, x-y))
		f.ip++
		return
	}
	x, y := a.Int64(), b.Int64()
	diff := x - y
	if overflows := subOverflows(kind, x, y, diff); overflows {
		vm.raiseTrap(iltype.TrapOverflow, 0, f, instr)
		return
	}
	f.define(instr.Result, iltype.Int(kind, diff))
	f.ip++
}

func (vm *VM) checkedMul(f *frame, instr *ilmodule.Instruction, kind iltype.Kind, a, b iltype.Value) {
	if kind.IsUnsignedInt() {
		x, y := a.Uint64(), b.Uint64()
		if x != 0 && y > unsignedMax(kind)/x {
			vm.raiseTrap(iltype.TrapOverflow, 0, f, instr)
			return
		}
		prod := x * y
		if prod > unsignedMax(kind) {
			vm.raiseTrap(iltype.TrapOverflow, 0, f, instr)
			return
		}
		f.define(instr.Result, iltype.Uint(kind, prod))
		f.ip++
		return
	}
	x, y := a.Int64(), b.Int64()
	prod := x * y
	if mulOverflows(kind, x, y, prod) {
		vm.raiseTrap(iltype.TrapOverflow, 0, f, instr)
		return
	}
	f.define(instr.Result, iltype.Int(kind, prod))
	f.ip++
}

// addOverflows/subOverflows/mulOverflows detect overflow within kind's
// declared width given the int64-widened operands and the (possibly
// already-wrapped) naive result (§6.4 iadd.ovf/isub.ovf/imul.ovf).
func addOverflows(kind iltype.Kind, a, b, sum int64) bool {
	if kind.BitWidth() >= 64 {
		return ((a ^ sum) & (b ^ sum)) < 0
	}
	return iltype.Int(kind, sum).Int64() != sum
}

func subOverflows(kind iltype.Kind, a, b, diff int64) bool {
	if kind.BitWidth() >= 64 {
		return ((a ^ b) & (a ^ diff)) < 0
	}
	return iltype.Int(kind, diff).Int64() != diff
}

func mulOverflows(kind iltype.Kind, a, b, prod int64) bool {
	if kind.BitWidth() >= 64 {
		if a == 0 || b == 0 {
			return false
		}
		if a == -1 && b == math.MinInt64 {
			return true
		}
		return prod/a != b
	}
	return iltype.Int(kind, prod).Int64() != prod
}
