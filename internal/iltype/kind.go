// Package iltype implements VIPER's closed primitive type system: the
// fixed set of IL types (§3.1), typed constant/value construction (§3.2),
// and the size/alignment/promotion oracle consulted by the verifier and
// the VM (§4.1).
package iltype

import "fmt"

// Kind enumerates the closed set of IL primitive types. There is no open
// extension point: adding a type means adding a row here and in every
// switch that type-checks or dispatches on Kind, mirroring the single
// source of truth discipline the opcode schema uses for opcodes.
type Kind byte

const (
	Void Kind = iota
	I1
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
	Ptr
	Str
	Error
	ResumeTok
)

var kindNames = [...]string{
	Void: "void", I1: "i1", I8: "i8", I16: "i16", I32: "i32", I64: "i64",
	U8: "u8", U16: "u16", U32: "u32", U64: "u64",
	F32: "f32", F64: "f64", Ptr: "ptr", Str: "str",
	Error: "error", ResumeTok: "resume_tok",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// ParseKind maps the textual spelling used in the .il grammar back to a
// Kind. Used by the parser (internal/ilparser) when reading type-explicit
// constants (`42:i32`) and block-parameter declarations.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return Void, false
}

func (k Kind) IsSignedInt() bool {
	switch k {
	case I1, I8, I16, I32, I64:
		return true
	}
	return false
}

func (k Kind) IsUnsignedInt() bool {
	switch k {
	case U8, U16, U32, U64:
		return true
	}
	return false
}

func (k Kind) IsInteger() bool {
	return k.IsSignedInt() || k.IsUnsignedInt()
}

func (k Kind) IsFloat() bool {
	return k == F32 || k == F64
}

// BitWidth returns the fixed bit width of k, or 0 for types that carry no
// numeric width (void, ptr, str, error, resume_tok).
func (k Kind) BitWidth() int {
	switch k {
	case I1:
		return 1
	case I8, U8:
		return 8
	case I16, U16:
		return 16
	case I32, U32, F32:
		return 32
	case I64, U64, F64:
		return 64
	default:
		return 0
	}
}

// SizeBytes is the size/alignment oracle of §4.1: fixed, not
// target-dependent. i1 is stored as a full byte per §3.1.
func (k Kind) SizeBytes() int {
	switch k {
	case Void:
		return 0
	case I1, I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32, F32:
		return 4
	case I64, U64, F64:
		return 8
	case Ptr, Str:
		return 8
	case Error:
		// {kind:i32, code:i32, ip:u64, line:i32} packed conceptually;
		// the VM never lays this out byte-for-byte, only the runtime
		// bridge's err_out marshalling cares about a concrete layout.
		return 24
	case ResumeTok:
		return 8
	default:
		return 0
	}
}

func (k Kind) AlignBytes() int {
	s := k.SizeBytes()
	switch {
	case s >= 8:
		return 8
	case s == 0:
		return 1
	default:
		return s
	}
}

// promotionRank implements the lattice i16 < i32 < i64 < f32 < f64 from
// §4.1 and the DESIGN NOTES numeric-semantics cross reference. i8/i1/u*
// are promoted to their signed counterpart's rank below i16 promotion
// happens; unsigned types rank alongside their same-width signed peer so
// mixed unsigned/float promotion still resolves to a float kind.
func promotionRank(k Kind) (int, bool) {
	switch k {
	case I8, U8, I1:
		return 0, true
	case I16, U16:
		return 1, true
	case I32, U32:
		return 2, true
	case I64, U64:
		return 3, true
	case F32:
		return 4, true
	case F64:
		return 5, true
	default:
		return 0, false
	}
}

var rankKind = []Kind{I16, I16, I32, I64, F32, F64}

// Promote returns the common type two operand kinds promote to under the
// hosted-BASIC numeric semantics lattice, or ok=false if either kind is
// not a numeric type (ptr/str/error/resume_tok/void never promote).
func Promote(a, b Kind) (Kind, bool) {
	ra, oka := promotionRank(a)
	rb, okb := promotionRank(b)
	if !oka || !okb {
		return Void, false
	}
	r := ra
	if rb > r {
		r = rb
	}
	if r == 0 {
		// two 8-bit operands promote to i16, never staying at i8,
		// matching the hosted lattice's stated floor.
		r = 1
	}
	return rankKind[r], true
}

// AssignableTo reports whether a value of kind src may be used directly
// where dst is expected, with no implicit conversion: VIPER's verifier
// requires exact type equality at every operand site (§4.5.2); the only
// exception is that any integer/float kind is "assignable" to itself.
// Polymorphic ops resolve their expected type from operands before this
// check ever runs, so AssignableTo never performs coercion.
func AssignableTo(src, dst Kind) bool {
	return src == dst
}
