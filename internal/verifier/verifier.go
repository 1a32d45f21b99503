// Package verifier implements the IL verifier (§4.5): the gate between
// parsing/building and execution/codegen. A module must pass verification
// before VM execution or codegen lowering; downstream components may
// assume(verified) once it has.
//
// Grounded on the teacher's layered pre-pass validation style
// (internal/compiler/hoisting_compiler.go hoists and validates scope
// before codegen ever runs); generalized here into the seven-point
// checklist §4.5 enumerates.
package verifier

import (
	"fmt"

	"viper/internal/diag"
	"viper/internal/ilmodule"
	"viper/internal/iltype"
	"viper/internal/opcode"
	"viper/internal/runtimesig"
)

// Result is the outcome of verifying one Module: OK reports whether every
// check passed; Diagnostics carries every violation found (the verifier
// does not stop at the first error within a function, matching "emit a
// diagnostic with (function, block, instruction index, kind)").
type Result struct {
	OK          bool
	Diagnostics []*diag.VerifyDiagnostic
	Warnings    []*diag.VerifyDiagnostic // unreachable blocks: a warning, not an error (§4.5.4)
}

func Verify(mod *ilmodule.Module, registry *runtimesig.Registry) *Result {
	v := &verification{mod: mod, registry: registry, res: &Result{OK: true}}
	v.structural()
	v.names()
	v.perFunction()
	return v.res
}

type verification struct {
	mod      *ilmodule.Module
	registry *runtimesig.Registry
	res      *Result
}

func (v *verification) fail(function, block string, idx int, kind, format string, args ...interface{}) {
	v.res.OK = false
	v.res.Diagnostics = append(v.res.Diagnostics, &diag.VerifyDiagnostic{
		Function: function, Block: block, InstrIdx: idx, Kind: kind,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *verification) warn(function, block string, idx int, kind, format string, args ...interface{}) {
	v.res.Warnings = append(v.res.Warnings, &diag.VerifyDiagnostic{
		Function: function, Block: block, InstrIdx: idx, Kind: kind,
		Message: fmt.Sprintf(format, args...),
	})
}

// structural: duplicate-name invariants that ilmodule itself already
// enforces at construction time are re-checked here defensively, since a
// Module can also be hand-assembled by a frontend builder that bypasses
// Module.AddFunction (§6.2's builder talks to the data model directly).
func (v *verification) structural() {
	seenFn := map[string]bool{}
	for _, fn := range v.mod.Functions {
		if seenFn[fn.Name] {
			v.fail(fn.Name, "", 0, "structural", "duplicate function name %q", fn.Name)
		}
		seenFn[fn.Name] = true
		if len(fn.Blocks) == 0 {
			v.fail(fn.Name, "", 0, "structural", "function has no blocks")
			continue
		}
	}
}

func (v *verification) names() {
	for _, fn := range v.mod.Functions {
		seen := map[string]bool{}
		for _, b := range fn.Blocks {
			if seen[b.Label] {
				v.fail(fn.Name, b.Label, 0, "structural", "duplicate block label %q", b.Label)
			}
			seen[b.Label] = true
		}
	}
}

func (v *verification) perFunction() {
	for _, fn := range v.mod.Functions {
		if len(fn.Blocks) == 0 {
			continue
		}
		v.checkTerminators(fn)
		types := v.collectTypes(fn)
		g := buildCFG(fn)
		v.checkDanglingTargets(fn)
		v.checkReachability(fn, g)
		dom := g.dominators()
		v.checkSSADominance(fn, g, dom, types)
		v.checkTypingAndArity(fn, types)
		v.checkEHBalance(fn, g)
		v.checkHandlerShape(fn)
		v.checkResumeTokenIdentity(fn, g, dom)
		v.checkRuntimeCalls(fn)
		v.checkDeterminismHooks(fn)
	}
}

// checkTerminators enforces §4.5.1/§3.5: exactly one terminator, in last
// position; no fall-through.
func (v *verification) checkTerminators(fn *ilmodule.Function) {
	for _, b := range fn.Blocks {
		if len(b.Instrs) == 0 {
			v.fail(fn.Name, b.Label, 0, "structural", "block has no instructions (missing terminator)")
			continue
		}
		for i, instr := range b.Instrs {
			isTerm := instr.Op.Row().Flags.Has(opcode.Terminator)
			last := i == len(b.Instrs)-1
			if isTerm && !last {
				v.fail(fn.Name, b.Label, i, "structural", "terminator %q not in last position", instr.Mnemonic)
			}
			if !isTerm && last {
				v.fail(fn.Name, b.Label, i, "structural", "block falls through without a terminator")
			}
		}
	}
}

func (v *verification) checkDanglingTargets(fn *ilmodule.Function) {
	for bi, b := range fn.Blocks {
		_ = bi
		term := b.Terminator()
		if term == nil {
			continue
		}
		for _, t := range term.Targets {
			if _, ok := fn.Block(t.Label); !ok {
				v.fail(fn.Name, b.Label, len(b.Instrs)-1, "cfg", "branch to undefined block %q", t.Label)
			}
		}
	}
}

// checkReachability: unreachable blocks are a warning, never an error
// (§4.5.4 — transforms may introduce them temporarily).
func (v *verification) checkReachability(fn *ilmodule.Function, g *cfg) {
	reach := g.reachableFromEntry()
	for _, b := range fn.Blocks {
		if !reach[b.Label] {
			v.warn(fn.Name, b.Label, 0, "cfg", "block %q is unreachable from entry", b.Label)
		}
	}
}

// typeInfo records where a name (SSA temp or block param — both share one
// namespace per §3.2) is defined and what it resolves to.
type typeInfo struct {
	kind     iltype.Kind
	block    string
	instrIdx int // -1 for block parameters, which are defined "before" instruction 0
	isParam  bool
}

func (v *verification) collectTypes(fn *ilmodule.Function) map[string]typeInfo {
	types := map[string]typeInfo{}
	for _, b := range fn.Blocks {
		for _, p := range b.Params {
			if existing, ok := types[p.Name]; ok {
				v.fail(fn.Name, b.Label, -1, "ssa", "name %q redefined (previously in %s)", p.Name, existing.block)
				continue
			}
			types[p.Name] = typeInfo{kind: p.Kind, block: b.Label, instrIdx: -1, isParam: true}
		}
	}
	for i, p := range fn.Params {
		_ = i
		types[p.Name] = typeInfo{kind: p.Kind, block: fn.Entry().Label, instrIdx: -1, isParam: true}
	}
	for _, b := range fn.Blocks {
		for idx, instr := range b.Instrs {
			if instr.Result == "" {
				continue
			}
			if existing, ok := types[instr.Result]; ok {
				v.fail(fn.Name, b.Label, idx, "ssa", "SSA temporary %q redefined (previously in %s)", instr.Result, existing.block)
				continue
			}
			types[instr.Result] = typeInfo{kind: instr.ResultTy, block: b.Label, instrIdx: idx}
		}
	}
	return types
}

// checkSSADominance enforces testable property 2: every use of a value is
// dominated by its definition.
func (v *verification) checkSSADominance(fn *ilmodule.Function, g *cfg, dom map[string]map[string]bool, types map[string]typeInfo) {
	for _, b := range fn.Blocks {
		for idx, instr := range b.Instrs {
			for _, op := range instr.Operands {
				if op.Kind != ilmodule.OperandSSA && op.Kind != ilmodule.OperandBlockParam {
					continue
				}
				def, ok := types[op.Name]
				if !ok {
					v.fail(fn.Name, b.Label, idx, "ssa", "use of undefined value %q", op.Name)
					continue
				}
				if !v.dominatesUse(g, dom, def, b.Label, idx) {
					v.fail(fn.Name, b.Label, idx, "ssa", "use of %q is not dominated by its definition in %s", op.Name, def.block)
				}
			}
			for _, t := range instr.Targets {
				for _, arg := range t.Args {
					if arg.Kind != ilmodule.OperandSSA && arg.Kind != ilmodule.OperandBlockParam {
						continue
					}
					def, ok := types[arg.Name]
					if !ok {
						v.fail(fn.Name, b.Label, idx, "ssa", "use of undefined value %q in branch args", arg.Name)
						continue
					}
					if !v.dominatesUse(g, dom, def, b.Label, idx) {
						v.fail(fn.Name, b.Label, idx, "ssa", "branch argument %q is not dominated by its definition in %s", arg.Name, def.block)
					}
				}
			}
		}
	}
}

func (v *verification) dominatesUse(g *cfg, dom map[string]map[string]bool, def typeInfo, useBlock string, useIdx int) bool {
	if def.block == useBlock {
		if def.isParam {
			return true
		}
		return def.instrIdx <= useIdx
	}
	return g.dominates(dom, def.block, useBlock)
}

// checkTypingAndArity enforces §4.5.2/testable property 3: operand/result
// type conformance to the schema, and branch-edge arity/type matching.
func (v *verification) checkTypingAndArity(fn *ilmodule.Function, types map[string]typeInfo) {
	kindOf := func(op ilmodule.Operand) (iltype.Kind, bool) {
		switch op.Kind {
		case ilmodule.OperandConst:
			return op.Const.Kind, true
		case ilmodule.OperandSSA, ilmodule.OperandBlockParam:
			ti, ok := types[op.Name]
			return ti.kind, ok
		default:
			return iltype.Void, false
		}
	}

	for _, b := range fn.Blocks {
		for idx, instr := range b.Instrs {
			row := instr.Op.Row()
			for i, pred := range row.OperandPreds {
				if i >= len(instr.Operands) {
					v.fail(fn.Name, b.Label, idx, "typing", "%s: missing operand %d", instr.Mnemonic, i)
					continue
				}
				k, ok := kindOf(instr.Operands[i])
				if !ok {
					continue // already reported as an undefined-value ssa error
				}
				v.checkPredicate(fn, b, idx, instr, row, pred, i, k, kindOf)
			}
			v.checkResultRule(fn, b, idx, instr, kindOf)
			if row.Flags.Has(opcode.Terminator) {
				for _, t := range instr.Targets {
					target, ok := fn.Block(t.Label)
					if !ok {
						continue // already reported by checkDanglingTargets
					}
					if len(t.Args) != len(target.Params) {
						v.fail(fn.Name, b.Label, idx, "typing", "branch to %q supplies %d args, expects %d", t.Label, len(t.Args), len(target.Params))
						continue
					}
					for i, arg := range t.Args {
						ak, ok := kindOf(arg)
						if !ok {
							continue
						}
						if !iltype.AssignableTo(ak, target.Params[i].Kind) {
							v.fail(fn.Name, b.Label, idx, "typing", "branch to %q arg %d has type %s, expects %s", t.Label, i, ak, target.Params[i].Kind)
						}
					}
				}
			}
			if instr.Op == opcode.OpRet {
				v.checkReturnType(fn, b, idx, instr, kindOf)
			}
		}
	}
}

func (v *verification) checkPredicate(fn *ilmodule.Function, b *ilmodule.Block, idx int, instr *ilmodule.Instruction, row opcode.Row, pred opcode.OperandPred, opIdx int, k iltype.Kind, kindOf func(ilmodule.Operand) (iltype.Kind, bool)) {
	switch pred {
	case opcode.PredAny:
		return
	case opcode.PredExact:
		want := row.ExactKinds[opIdx]
		if k != want {
			v.fail(fn.Name, b.Label, idx, "typing", "%s: operand %d has type %s, expected %s", instr.Mnemonic, opIdx, k, want)
		}
	case opcode.PredAnyInteger:
		if !k.IsInteger() {
			v.fail(fn.Name, b.Label, idx, "typing", "%s: operand %d has type %s, expected an integer type", instr.Mnemonic, opIdx, k)
		}
	case opcode.PredAnySignedInt:
		if !k.IsSignedInt() {
			v.fail(fn.Name, b.Label, idx, "typing", "%s: operand %d has type %s, expected a signed integer type", instr.Mnemonic, opIdx, k)
		}
	case opcode.PredAnyUnsignedInt:
		if !k.IsUnsignedInt() {
			v.fail(fn.Name, b.Label, idx, "typing", "%s: operand %d has type %s, expected an unsigned integer type", instr.Mnemonic, opIdx, k)
		}
	case opcode.PredAnyFloat:
		if !k.IsFloat() {
			v.fail(fn.Name, b.Label, idx, "typing", "%s: operand %d has type %s, expected a float type", instr.Mnemonic, opIdx, k)
		}
	case opcode.PredSameAsOperand0:
		if len(instr.Operands) == 0 {
			return
		}
		k0, ok := kindOf(instr.Operands[0])
		if ok && k0 != k {
			v.fail(fn.Name, b.Label, idx, "typing", "%s: operand %d has type %s, expected %s (same as operand 0)", instr.Mnemonic, opIdx, k, k0)
		}
	}
}

func (v *verification) checkResultRule(fn *ilmodule.Function, b *ilmodule.Block, idx int, instr *ilmodule.Instruction, kindOf func(ilmodule.Operand) (iltype.Kind, bool)) {
	row := instr.Op.Row()
	switch row.ResultRule {
	case opcode.ResultNone:
		if instr.Result != "" {
			v.fail(fn.Name, b.Label, idx, "typing", "%s produces no result but one was assigned", instr.Mnemonic)
		}
	case opcode.ResultExact:
		if instr.Result != "" && instr.ResultTy != row.ResultKind {
			v.fail(fn.Name, b.Label, idx, "typing", "%s result type %s does not match schema %s", instr.Mnemonic, instr.ResultTy, row.ResultKind)
		}
	case opcode.ResultI1:
		if instr.Result != "" && instr.ResultTy != iltype.I1 {
			v.fail(fn.Name, b.Label, idx, "typing", "%s result type must be i1", instr.Mnemonic)
		}
	case opcode.ResultSameAsOperand0:
		if len(instr.Operands) == 0 || instr.Result == "" {
			return
		}
		k0, ok := kindOf(instr.Operands[0])
		if ok && instr.ResultTy != k0 {
			v.fail(fn.Name, b.Label, idx, "typing", "%s result type %s does not match operand 0 type %s", instr.Mnemonic, instr.ResultTy, k0)
		}
	case opcode.ResultFromAttr, opcode.ResultPtr:
		// cast/load/alloca/gep/call carry their result type on the
		// instruction itself (set by the builder/parser); nothing
		// further to cross-check generically here.
	}
}

func (v *verification) checkReturnType(fn *ilmodule.Function, b *ilmodule.Block, idx int, instr *ilmodule.Instruction, kindOf func(ilmodule.Operand) (iltype.Kind, bool)) {
	if fn.ReturnKind == iltype.Void {
		if len(instr.Operands) != 0 {
			v.fail(fn.Name, b.Label, idx, "typing", "ret supplies a value but function returns void")
		}
		return
	}
	if len(instr.Operands) != 1 {
		v.fail(fn.Name, b.Label, idx, "typing", "ret must supply exactly one value for non-void function")
		return
	}
	k, ok := kindOf(instr.Operands[0])
	if ok && k != fn.ReturnKind {
		v.fail(fn.Name, b.Label, idx, "typing", "ret value type %s does not match declared return type %s", k, fn.ReturnKind)
	}
}

func (v *verification) checkRuntimeCalls(fn *ilmodule.Function) {
	for _, b := range fn.Blocks {
		for idx, instr := range b.Instrs {
			if instr.Op != opcode.OpCall {
				continue
			}
			calleeName, _ := instr.Attr("callee")
			if calleeName == "" {
				continue
			}
			if _, ok := v.mod.LookupFunction(calleeName); ok {
				continue // direct IL function call, not a runtime extern
			}
			ext, ok := v.mod.LookupExtern(calleeName)
			if !ok {
				v.fail(fn.Name, b.Label, idx, "runtime-call", "call to undeclared extern %q", calleeName)
				continue
			}
			entry, ok := v.registry.Lookup(calleeName)
			if !ok {
				v.fail(fn.Name, b.Label, idx, "runtime-call", "extern %q has no Runtime Signature Registry entry", calleeName)
				continue
			}
			if len(ext.Params) != len(entry.Params) || ext.Return != entry.Return {
				v.fail(fn.Name, b.Label, idx, "runtime-call", "extern %q declaration does not match registry signature", calleeName)
			}
		}
	}
}

// checkDeterminismHooks: trap.kind and trap.err only appear inside
// handler blocks (§4.5.7).
func (v *verification) checkDeterminismHooks(fn *ilmodule.Function) {
	handlers := handlerBlocks(fn)
	for _, b := range fn.Blocks {
		for idx, instr := range b.Instrs {
			if instr.Op == opcode.OpTrapKind || instr.Op == opcode.OpTrapErr {
				if !handlers[b.Label] {
					v.fail(fn.Name, b.Label, idx, "determinism", "%s used outside a handler block", instr.Mnemonic)
				}
			}
		}
	}
}

// checkHandlerShape: every handler block (the target of some eh.push) has
// exactly two parameters (error, resume_tok) (§4.5.5).
func (v *verification) checkHandlerShape(fn *ilmodule.Function) {
	for label := range handlerBlocks(fn) {
		b, ok := fn.Block(label)
		if !ok {
			continue
		}
		if len(b.Params) != 2 || b.Params[0].Kind != iltype.Error || b.Params[1].Kind != iltype.ResumeTok {
			v.fail(fn.Name, label, -1, "eh", "handler block must declare exactly (error, resume_tok) parameters")
		}
	}
}

// checkResumeTokenIdentity enforces spec.md:86/spec.md:326's resume-token
// integrity rule: a resume.* instruction's token operand must be exactly
// the resume_tok parameter of its statically enclosing handler block —
// not merely some in-scope value of kind ResumeTok. The enclosing handler
// of a resume site is the handler block (an eh.push target, per
// handlerBlocks) that dominates it; a handler block trivially dominates
// itself, covering the common case of resume.* terminating its own
// handler body directly. Where more than one handler block dominates the
// site (a handler whose body falls through into a second, nested push's
// handler), the innermost one — the dominator with the most dominators of
// its own — is the enclosing handler. Forging or smuggling a sibling
// handler's token into scope this way is rejected here at verify time;
// internal/vm/eh.go's (FrameID, HandlerDepth) runtime check remains as
// defense-in-depth, not the sole enforcement.
func (v *verification) checkResumeTokenIdentity(fn *ilmodule.Function, g *cfg, dom map[string]map[string]bool) {
	handlers := handlerBlocks(fn)
	for _, b := range fn.Blocks {
		for idx, instr := range b.Instrs {
			switch instr.Op {
			case opcode.OpResumeSame, opcode.OpResumeNext, opcode.OpResumeLabel:
				v.checkResumeToken(fn, b, idx, instr, handlers, dom, g)
			}
		}
	}
}

// checkResumeToken validates one resume.* instruction's token operand
// against the innermost handler block dominating its use site.
func (v *verification) checkResumeToken(fn *ilmodule.Function, b *ilmodule.Block, idx int, instr *ilmodule.Instruction, handlers map[string]bool, dom map[string]map[string]bool, g *cfg) {
	if len(instr.Operands) == 0 {
		return // already reported as a missing operand by checkTypingAndArity
	}
	tok := instr.Operands[0]

	var enclosing string
	for h := range handlers {
		if !g.dominates(dom, h, b.Label) {
			continue
		}
		if enclosing == "" || g.dominates(dom, enclosing, h) {
			enclosing = h
		}
	}
	if enclosing == "" {
		v.fail(fn.Name, b.Label, idx, "eh", "%s used with no statically enclosing handler block", instr.Mnemonic)
		return
	}
	hb, ok := fn.Block(enclosing)
	if !ok || len(hb.Params) != 2 {
		return // malformed handler shape already reported by checkHandlerShape
	}
	want := hb.Params[1].Name
	isName := tok.Kind == ilmodule.OperandSSA || tok.Kind == ilmodule.OperandBlockParam
	if !isName || tok.Name != want {
		v.fail(fn.Name, b.Label, idx, "eh", "%s: token operand must be resume_tok parameter %%%s of enclosing handler %q, got %q", instr.Mnemonic, want, enclosing, tok.Name)
	}
}

func handlerBlocks(fn *ilmodule.Function) map[string]bool {
	handlers := map[string]bool{}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if instr.Op == opcode.OpEHPush {
				if label, ok := instr.Attr("handler"); ok {
					handlers[label] = true
				}
			}
		}
	}
	return handlers
}

// checkEHBalance enforces testable property 4: along every CFG path from
// entry to a ret, the net count of eh.push minus eh.pop is zero.
func (v *verification) checkEHBalance(fn *ilmodule.Function, g *cfg) {
	if len(fn.Blocks) == 0 {
		return
	}
	entry := fn.Blocks[0].Label
	type state struct {
		label string
		depth int
	}
	visited := map[string]map[int]bool{}
	stack := []state{{entry, 0}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur.label] == nil {
			visited[cur.label] = map[int]bool{}
		}
		if visited[cur.label][cur.depth] {
			continue
		}
		visited[cur.label][cur.depth] = true

		b, ok := fn.Block(cur.label)
		if !ok {
			continue
		}
		depth := cur.depth
		for _, instr := range b.Instrs {
			switch instr.Op {
			case opcode.OpEHPush:
				depth++
			case opcode.OpEHPop:
				depth--
				if depth < 0 {
					v.fail(fn.Name, cur.label, 0, "eh", "eh.pop with no matching eh.push on this path")
					depth = 0
				}
			case opcode.OpRet:
				if depth != 0 {
					v.fail(fn.Name, cur.label, 0, "eh", "eh.push/eh.pop imbalance reaching ret (net depth %d)", depth)
				}
			}
		}
		term := b.Terminator()
		if term == nil {
			continue
		}
		for _, s := range successors(term) {
			stack = append(stack, state{s, depth})
		}
	}
}
