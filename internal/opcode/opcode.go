// Package opcode holds VIPER's declarative opcode schema (§4.3): the
// single table the verifier, the VM dispatch table, and the text
// parser/serializer all read from. The teacher's bytecode package
// enumerated opcodes as a flat byte constant (internal/bytecode/opcodes.go);
// this generalizes that into schema rows carrying operand arity, operand
// type predicates, a result-type rule, trait flags, and (for may-trap
// rows) the TrapKinds the op can raise.
package opcode

import "viper/internal/iltype"

// Op is the numeric opcode id. Adding an opcode means adding one row to
// Table — every consumer (verifier, VM dispatch, serializer) is driven
// from that table, so a forgotten row fails loudly in
// TestTableCoversAllOps, not silently at runtime.
type Op int

const (
	// Arithmetic (integer)
	OpIAdd Op = iota
	OpISub
	OpIMul
	OpSDiv
	OpUDiv
	OpSRem
	OpURem
	OpINeg
	OpIAddOvf
	OpISubOvf
	OpIMulOvf
	OpSDivChk0
	OpSRemChk0
	OpUDivChk0
	OpURemChk0

	// Arithmetic (float)
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg
	OpPow

	// Bitwise / shift
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpLShr
	OpAShr

	// Comparison
	OpICmpEq
	OpICmpNe
	OpSCmpLt
	OpSCmpLe
	OpSCmpGt
	OpSCmpGe
	OpUCmpLt
	OpUCmpLe
	OpUCmpGt
	OpUCmpGe
	OpFCmpOeq
	OpFCmpOne
	OpFCmpOlt
	OpFCmpOle
	OpFCmpOgt
	OpFCmpOge
	OpFCmpUeq
	OpFCmpUne

	// Cast
	OpTrunc
	OpSExt
	OpZExt
	OpFPToSI
	OpSIToFP
	OpFPTrunc
	OpFPExt
	OpBitcast
	OpCastFPToSIChk
	OpCastFPToUIChk
	OpCastSINarrowChk
	OpCastUINarrowChk

	// Memory
	OpAlloca
	OpLoad
	OpStore
	OpGep
	OpIdxChk

	// Control
	OpBr
	OpCbr
	OpSwitch
	OpRet
	OpCall
	OpCallIndirect
	OpSelect

	// Exception
	OpTrap
	OpTrapFromErr
	OpTrapKind
	OpTrapErr
	OpEHPush
	OpEHPop
	OpResumeSame
	OpResumeNext
	OpResumeLabel

	opCount
)

// Flag are per-opcode traits consulted by the verifier and by
// optimization passes deciding what may be reordered/eliminated (§4.3,
// §4.9 "effect flags guide optimization passes").
type Flag uint16

const (
	Pure Flag = 1 << iota
	HasSideEffect
	MayTrap
	Terminator
	EHOnly
	Checked
)

func (f Flag) Has(x Flag) bool { return f&x != 0 }

// OperandPred classifies what an operand slot accepts; the verifier
// resolves these against the instruction's actual operand kinds (§4.5.2).
type OperandPred int

const (
	PredExact         OperandPred = iota // ExactKinds[i] must match exactly
	PredSameAsOperand0                   // same kind as operand 0
	PredAnyInteger                       // any i*/u* kind
	PredAnySignedInt
	PredAnyUnsignedInt
	PredAnyFloat
	PredAny // schema imposes no constraint (e.g. select's condition excluded, call args)
)

// ResultRule tells the verifier/VM how to derive an instruction's result
// type from its schema row and its actual operand kinds.
type ResultRule int

const (
	ResultNone           ResultRule = iota // terminators, store, eh.push/pop, ret
	ResultExact                            // Row.ResultKind
	ResultSameAsOperand0                   // arithmetic/bitwise
	ResultI1                               // all comparisons
	ResultFromAttr                         // cast target kind carried as instruction attribute
	ResultPtr                              // alloca/gep/idx.chk
)

// Row is one schema entry (§4.3).
type Row struct {
	Op           Op
	Mnemonic     string
	OperandPreds []OperandPred
	ExactKinds   []iltype.Kind // parallel to OperandPreds where PredExact
	ResultRule   ResultRule
	ResultKind   iltype.Kind
	Flags        Flag
	TrapKinds    []iltype.TrapKind
}

func row(op Op, mnemonic string, preds []OperandPred, resultRule ResultRule, resultKind iltype.Kind, flags Flag, traps ...iltype.TrapKind) Row {
	return Row{op, mnemonic, preds, nil, resultRule, resultKind, flags, traps}
}

// withExact attaches ExactKinds to a Row built by row(), for the rows that
// declare one or more PredExact operand slots (§4.5.2).
func withExact(r Row, exactKinds []iltype.Kind) Row {
	r.ExactKinds = exactKinds
	return r
}

func anyInt(n int) []OperandPred {
	p := make([]OperandPred, n)
	for i := range p {
		p[i] = PredAnyInteger
	}
	return p
}

func same0(n int) []OperandPred {
	p := make([]OperandPred, n)
	p[0] = PredAny
	for i := 1; i < n; i++ {
		p[i] = PredSameAsOperand0
	}
	return p
}

// exact builds an ExactKinds array of length n with k at idx, leaving the
// rest zero (Void — never read, since OperandPreds[j] != PredExact there).
func exact(n, idx int, k iltype.Kind) []iltype.Kind {
	ks := make([]iltype.Kind, n)
	ks[idx] = k
	return ks
}

// Table is the single source of truth. Every row must appear exactly
// once; TestTableCoversAllOps enforces that at build-verification time.
var Table = buildTable()

func buildTable() map[Op]Row {
	t := map[Op]Row{
		OpIAdd: row(OpIAdd, "iadd", same0(2), ResultSameAsOperand0, 0, Pure),
		OpISub: row(OpISub, "isub", same0(2), ResultSameAsOperand0, 0, Pure),
		OpIMul: row(OpIMul, "imul", same0(2), ResultSameAsOperand0, 0, Pure),
		OpSDiv: row(OpSDiv, "sdiv", same0(2), ResultSameAsOperand0, 0, Pure),
		OpUDiv: row(OpUDiv, "udiv", same0(2), ResultSameAsOperand0, 0, Pure),
		OpSRem: row(OpSRem, "srem", same0(2), ResultSameAsOperand0, 0, Pure),
		OpURem: row(OpURem, "urem", same0(2), ResultSameAsOperand0, 0, Pure),
		OpINeg: row(OpINeg, "ineg", []OperandPred{PredAnyInteger}, ResultSameAsOperand0, 0, Pure),

		OpIAddOvf:  row(OpIAddOvf, "iadd.ovf", same0(2), ResultSameAsOperand0, 0, Checked|MayTrap, iltype.TrapOverflow),
		OpISubOvf:  row(OpISubOvf, "isub.ovf", same0(2), ResultSameAsOperand0, 0, Checked|MayTrap, iltype.TrapOverflow),
		OpIMulOvf:  row(OpIMulOvf, "imul.ovf", same0(2), ResultSameAsOperand0, 0, Checked|MayTrap, iltype.TrapOverflow),
		OpSDivChk0: row(OpSDivChk0, "sdiv.chk0", same0(2), ResultSameAsOperand0, 0, Checked|MayTrap, iltype.TrapDivideByZero, iltype.TrapOverflow),
		OpSRemChk0: row(OpSRemChk0, "srem.chk0", same0(2), ResultSameAsOperand0, 0, Checked|MayTrap, iltype.TrapDivideByZero),
		OpUDivChk0: row(OpUDivChk0, "udiv.chk0", same0(2), ResultSameAsOperand0, 0, Checked|MayTrap, iltype.TrapDivideByZero),
		OpURemChk0: row(OpURemChk0, "urem.chk0", same0(2), ResultSameAsOperand0, 0, Checked|MayTrap, iltype.TrapDivideByZero),

		OpFAdd: row(OpFAdd, "fadd", same0(2), ResultSameAsOperand0, 0, Pure),
		OpFSub: row(OpFSub, "fsub", same0(2), ResultSameAsOperand0, 0, Pure),
		OpFMul: row(OpFMul, "fmul", same0(2), ResultSameAsOperand0, 0, Pure),
		OpFDiv: row(OpFDiv, "fdiv", same0(2), ResultSameAsOperand0, 0, Pure),
		OpFNeg: row(OpFNeg, "fneg", []OperandPred{PredAnyFloat}, ResultSameAsOperand0, 0, Pure),
		OpPow:  row(OpPow, "pow", same0(2), ResultSameAsOperand0, 0, MayTrap, iltype.TrapDomainError, iltype.TrapOverflow),

		OpAnd:  row(OpAnd, "and", same0(2), ResultSameAsOperand0, 0, Pure),
		OpOr:   row(OpOr, "or", same0(2), ResultSameAsOperand0, 0, Pure),
		OpXor:  row(OpXor, "xor", same0(2), ResultSameAsOperand0, 0, Pure),
		OpNot:  row(OpNot, "not", []OperandPred{PredAnyInteger}, ResultSameAsOperand0, 0, Pure),
		OpShl:  row(OpShl, "shl", anyInt(2), ResultSameAsOperand0, 0, Pure),
		OpLShr: row(OpLShr, "lshr", anyInt(2), ResultSameAsOperand0, 0, Pure),
		OpAShr: row(OpAShr, "ashr", anyInt(2), ResultSameAsOperand0, 0, Pure),

		OpICmpEq: row(OpICmpEq, "icmp_eq", same0(2), ResultI1, iltype.I1, Pure),
		OpICmpNe: row(OpICmpNe, "icmp_ne", same0(2), ResultI1, iltype.I1, Pure),
		OpSCmpLt: row(OpSCmpLt, "scmp_lt", same0(2), ResultI1, iltype.I1, Pure),
		OpSCmpLe: row(OpSCmpLe, "scmp_le", same0(2), ResultI1, iltype.I1, Pure),
		OpSCmpGt: row(OpSCmpGt, "scmp_gt", same0(2), ResultI1, iltype.I1, Pure),
		OpSCmpGe: row(OpSCmpGe, "scmp_ge", same0(2), ResultI1, iltype.I1, Pure),
		OpUCmpLt: row(OpUCmpLt, "ucmp_lt", same0(2), ResultI1, iltype.I1, Pure),
		OpUCmpLe: row(OpUCmpLe, "ucmp_le", same0(2), ResultI1, iltype.I1, Pure),
		OpUCmpGt: row(OpUCmpGt, "ucmp_gt", same0(2), ResultI1, iltype.I1, Pure),
		OpUCmpGe: row(OpUCmpGe, "ucmp_ge", same0(2), ResultI1, iltype.I1, Pure),

		OpFCmpOeq: row(OpFCmpOeq, "fcmp_oeq", same0(2), ResultI1, iltype.I1, Pure),
		OpFCmpOne: row(OpFCmpOne, "fcmp_one", same0(2), ResultI1, iltype.I1, Pure),
		OpFCmpOlt: row(OpFCmpOlt, "fcmp_olt", same0(2), ResultI1, iltype.I1, Pure),
		OpFCmpOle: row(OpFCmpOle, "fcmp_ole", same0(2), ResultI1, iltype.I1, Pure),
		OpFCmpOgt: row(OpFCmpOgt, "fcmp_ogt", same0(2), ResultI1, iltype.I1, Pure),
		OpFCmpOge: row(OpFCmpOge, "fcmp_oge", same0(2), ResultI1, iltype.I1, Pure),
		OpFCmpUeq: row(OpFCmpUeq, "fcmp_ueq", same0(2), ResultI1, iltype.I1, Pure),
		OpFCmpUne: row(OpFCmpUne, "fcmp_une", same0(2), ResultI1, iltype.I1, Pure),

		OpTrunc:    row(OpTrunc, "trunc", []OperandPred{PredAnyInteger}, ResultFromAttr, 0, Pure),
		OpSExt:     row(OpSExt, "sext", []OperandPred{PredAnyInteger}, ResultFromAttr, 0, Pure),
		OpZExt:     row(OpZExt, "zext", []OperandPred{PredAnyInteger}, ResultFromAttr, 0, Pure),
		OpFPToSI:   row(OpFPToSI, "fptosi", []OperandPred{PredAnyFloat}, ResultFromAttr, 0, Pure),
		OpSIToFP:   row(OpSIToFP, "sitofp", []OperandPred{PredAnyInteger}, ResultFromAttr, 0, Pure),
		OpFPTrunc:  row(OpFPTrunc, "fptrunc", []OperandPred{PredAnyFloat}, ResultFromAttr, 0, Pure),
		OpFPExt:    row(OpFPExt, "fpext", []OperandPred{PredAnyFloat}, ResultFromAttr, 0, Pure),
		OpBitcast:  row(OpBitcast, "bitcast", []OperandPred{PredAny}, ResultFromAttr, 0, Pure),
		OpCastFPToSIChk:   row(OpCastFPToSIChk, "cast.fp_to_si.rte.chk", []OperandPred{PredAnyFloat}, ResultFromAttr, 0, Checked|MayTrap, iltype.TrapOverflow),
		OpCastFPToUIChk:   row(OpCastFPToUIChk, "cast.fp_to_ui.rte.chk", []OperandPred{PredAnyFloat}, ResultFromAttr, 0, Checked|MayTrap, iltype.TrapOverflow),
		OpCastSINarrowChk: row(OpCastSINarrowChk, "cast.si_narrow.chk", []OperandPred{PredAnyInteger}, ResultFromAttr, 0, Checked|MayTrap, iltype.TrapOverflow),
		OpCastUINarrowChk: row(OpCastUINarrowChk, "cast.ui_narrow.chk", []OperandPred{PredAnyInteger}, ResultFromAttr, 0, Checked|MayTrap, iltype.TrapOverflow),

		OpAlloca: row(OpAlloca, "alloca", anyInt(2), ResultPtr, iltype.Ptr, HasSideEffect),
		OpLoad:   withExact(row(OpLoad, "load", []OperandPred{PredExact}, ResultFromAttr, 0, HasSideEffect), exact(1, 0, iltype.Ptr)),
		OpStore:  withExact(row(OpStore, "store", []OperandPred{PredExact, PredAny}, ResultNone, 0, HasSideEffect), exact(2, 0, iltype.Ptr)),
		OpGep:    withExact(row(OpGep, "gep", []OperandPred{PredExact, PredAnyInteger}, ResultPtr, iltype.Ptr, Pure), exact(2, 0, iltype.Ptr)),
		OpIdxChk: withExact(row(OpIdxChk, "idx.chk", []OperandPred{PredExact, PredAnyInteger, PredAnyInteger, PredAnyInteger}, ResultPtr, iltype.Ptr, Checked|MayTrap|HasSideEffect, iltype.TrapBounds), exact(4, 0, iltype.Ptr)),

		OpBr:           row(OpBr, "br", nil, ResultNone, 0, Terminator),
		OpCbr:          withExact(row(OpCbr, "cbr", []OperandPred{PredExact}, ResultNone, 0, Terminator), exact(1, 0, iltype.I1)),
		OpSwitch:       row(OpSwitch, "switch", []OperandPred{PredAnyInteger}, ResultNone, 0, Terminator),
		OpRet:          row(OpRet, "ret", nil, ResultNone, 0, Terminator),
		OpCall:         row(OpCall, "call", nil, ResultFromAttr, 0, HasSideEffect|MayTrap),
		OpCallIndirect: row(OpCallIndirect, "call.indirect", nil, ResultFromAttr, 0, HasSideEffect|MayTrap),
		OpSelect:       withExact(row(OpSelect, "select", []OperandPred{PredExact, PredAny, PredSameAsOperand0}, ResultSameAsOperand0, 0, Pure), exact(3, 0, iltype.I1)),

		OpTrap:         row(OpTrap, "trap", nil, ResultNone, 0, Terminator|MayTrap),
		OpTrapFromErr:  row(OpTrapFromErr, "trap.from_err", nil, ResultNone, 0, Terminator|MayTrap),
		OpTrapKind:     row(OpTrapKind, "trap.kind", nil, ResultExact, iltype.I32, EHOnly|Pure),
		OpTrapErr:      row(OpTrapErr, "trap.err", nil, ResultExact, iltype.Error, EHOnly|Pure),
		OpEHPush:       row(OpEHPush, "eh.push", nil, ResultNone, 0, 0),
		OpEHPop:        row(OpEHPop, "eh.pop", nil, ResultNone, 0, 0),
		OpResumeSame:   withExact(row(OpResumeSame, "resume.same", []OperandPred{PredExact}, ResultNone, 0, Terminator|EHOnly), exact(1, 0, iltype.ResumeTok)),
		OpResumeNext:   withExact(row(OpResumeNext, "resume.next", []OperandPred{PredExact}, ResultNone, 0, Terminator|EHOnly), exact(1, 0, iltype.ResumeTok)),
		OpResumeLabel:  withExact(row(OpResumeLabel, "resume.label", []OperandPred{PredExact}, ResultNone, 0, Terminator|EHOnly), exact(1, 0, iltype.ResumeTok)),
	}
	return t
}

var byMnemonic = func() map[string]Op {
	m := make(map[string]Op, len(Table))
	for op, r := range Table {
		m[r.Mnemonic] = op
	}
	return m
}()

func Lookup(mnemonic string) (Op, bool) {
	op, ok := byMnemonic[mnemonic]
	return op, ok
}

func (op Op) Row() Row {
	return Table[op]
}

func (op Op) String() string {
	return Table[op].Mnemonic
}

// AllOps returns every declared opcode, used by the verifier/parser/VM
// consistency checks and by documentation generation (§4.3).
func AllOps() []Op {
	ops := make([]Op, 0, len(Table))
	for op := range Table {
		ops = append(ops, op)
	}
	return ops
}
