package vm

import (
	"encoding/binary"
	"math"

	"viper/internal/ilmodule"
	"viper/internal/iltype"
)

// execAlloca implements `alloca size, align` (§4.8 Memory): a frame-local,
// zeroed byte buffer released on frame pop regardless of how the frame
// exits (§5 "Scoped resources").
func (vm *VM) execAlloca(f *frame, instr *ilmodule.Instruction) {
	size := vm.resolve(f, instr.Operands[0]).Int64()
	if size < 0 {
		size = 0
	}
	ptr := f.allocArena(int(size))
	f.define(instr.Result, ptr)
	f.ip++
}

func (vm *VM) execLoad(f *frame, instr *ilmodule.Instruction) {
	ptr := vm.resolve(f, instr.Operands[0])
	width := instr.ResultTy.SizeBytes()
	buf, ok := f.bytesAt(ptr.Uint64(), width)
	if !ok {
		vm.raiseTrap(iltype.TrapBounds, 0, f, instr)
		return
	}
	f.define(instr.Result, decodeValueBytes(instr.ResultTy, buf))
	f.ip++
}

func (vm *VM) execStore(f *frame, instr *ilmodule.Instruction) {
	ptr := vm.resolve(f, instr.Operands[0])
	val := vm.resolve(f, instr.Operands[1])
	width := val.Kind.SizeBytes()
	buf, ok := f.bytesAt(ptr.Uint64(), width)
	if !ok {
		vm.raiseTrap(iltype.TrapBounds, 0, f, instr)
		return
	}
	copy(buf, encodeValueBytes(val))
	f.ip++
}

func (vm *VM) execGep(f *frame, instr *ilmodule.Instruction) {
	ptr := vm.resolve(f, instr.Operands[0])
	offset := vm.resolve(f, instr.Operands[1]).Int64()
	f.define(instr.Result, iltype.Ptr_(ptr.Uint64()+uint64(offset)))
	f.ip++
}

// execIdxChk implements `idx.chk ptr, idx, lo, hi` (§6.4 "index ∉ [lo,
// hi)" → Bounds).
func (vm *VM) execIdxChk(f *frame, instr *ilmodule.Instruction) {
	ptr := vm.resolve(f, instr.Operands[0])
	idx := vm.resolve(f, instr.Operands[1]).Int64()
	lo := vm.resolve(f, instr.Operands[2]).Int64()
	hi := vm.resolve(f, instr.Operands[3]).Int64()
	if idx < lo || idx >= hi {
		vm.raiseTrap(iltype.TrapBounds, 0, f, instr)
		return
	}
	f.define(instr.Result, iltype.Ptr_(ptr.Uint64()+uint64(idx)))
	f.ip++
}

func encodeValueBytes(v iltype.Value) []byte {
	switch {
	case v.Kind.IsUnsignedInt():
		buf := make([]byte, v.Kind.SizeBytes())
		putUint(buf, v.Uint64())
		return buf
	case v.Kind.IsSignedInt():
		buf := make([]byte, v.Kind.SizeBytes())
		putUint(buf, uint64(v.Int64()))
		return buf
	case v.Kind == iltype.F32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v.Float32()))
		return buf
	case v.Kind == iltype.F64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.Float64()))
		return buf
	case v.Kind == iltype.Ptr:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, v.Uint64())
		return buf
	default:
		return nil
	}
}

func decodeValueBytes(k iltype.Kind, buf []byte) iltype.Value {
	switch {
	case k.IsUnsignedInt():
		return iltype.Uint(k, getUint(buf))
	case k.IsSignedInt():
		return iltype.Int(k, int64(getUint(buf)))
	case k == iltype.F32:
		return iltype.Float32(math.Float32frombits(uint32(getUint(buf))))
	case k == iltype.F64:
		return iltype.Float64(math.Float64frombits(getUint(buf)))
	case k == iltype.Ptr:
		return iltype.Ptr_(getUint(buf))
	default:
		return iltype.Value{Kind: k}
	}
}

func putUint(buf []byte, v uint64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	default:
		binary.LittleEndian.PutUint64(buf, v)
	}
}

func getUint(buf []byte) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	default:
		return binary.LittleEndian.Uint64(buf)
	}
}
