package ilparser

import (
	"fmt"
	"sort"
	"strings"

	"viper/internal/ilmodule"
	"viper/internal/iltype"
)

// Serialize renders a Module back to `.il` text (§4.4, §6.1). Non-ordered
// sets (externs, globals) are emitted sorted by name so the output is
// stable across parse/serialize cycles regardless of the order they were
// added to the in-memory Module; functions keep their declared order,
// which the grammar treats as significant only for human readability.
func Serialize(mod *ilmodule.Module) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "il %s\n\n", mod.Schema)

	externs := append([]*ilmodule.Extern(nil), mod.Externs...)
	sort.Slice(externs, func(i, j int) bool { return externs[i].Name < externs[j].Name })
	for _, e := range externs {
		writeExtern(&sb, e)
	}
	if len(externs) > 0 {
		sb.WriteString("\n")
	}

	globals := append([]*ilmodule.Global(nil), mod.Globals...)
	sort.Slice(globals, func(i, j int) bool { return globals[i].Name < globals[j].Name })
	for _, g := range globals {
		writeGlobal(&sb, g)
	}
	if len(globals) > 0 {
		sb.WriteString("\n")
	}

	for _, fn := range mod.Functions {
		writeFunction(&sb, fn)
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeExtern(sb *strings.Builder, e *ilmodule.Extern) {
	params := make([]string, len(e.Params))
	for i, k := range e.Params {
		params[i] = k.String()
	}
	fmt.Fprintf(sb, "extern @%s(%s) -> %s", e.Name, strings.Join(params, ", "), e.Return)
	if e.ErrOut {
		sb.WriteString(" err_out")
	}
	sb.WriteString("\n")
}

func writeGlobal(sb *strings.Builder, g *ilmodule.Global) {
	fmt.Fprintf(sb, "global @%s: %s", g.Name, g.Kind)
	if g.Init != nil {
		fmt.Fprintf(sb, " = %s", literalText(*g.Init))
	}
	if g.Mutable {
		sb.WriteString(" mut")
	}
	sb.WriteString("\n")
}

// literalText renders a Value without its trailing ":kind" (the kind is
// already explicit at the global's declaration site).
func literalText(v iltype.Value) string {
	full := v.GoString()
	if idx := strings.LastIndex(full, ":"); idx >= 0 {
		return full[:idx]
	}
	return full
}

func writeFunction(sb *strings.Builder, fn *ilmodule.Function) {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = fmt.Sprintf("%%%s: %s", p.Name, p.Kind)
	}
	fmt.Fprintf(sb, "func @%s(%s) -> %s {\n", fn.Name, strings.Join(params, ", "), fn.ReturnKind)
	for _, b := range fn.Blocks {
		writeBlock(sb, b)
	}
	sb.WriteString("}\n")
}

func writeBlock(sb *strings.Builder, b *ilmodule.Block) {
	sb.WriteString("^" + b.Label)
	if len(b.Params) > 0 {
		parts := make([]string, len(b.Params))
		for i, p := range b.Params {
			parts[i] = fmt.Sprintf("%%%s: %s", p.Name, p.Kind)
		}
		sb.WriteString("(" + strings.Join(parts, ", ") + ")")
	}
	sb.WriteString(":\n")
	for _, instr := range b.Instrs {
		sb.WriteString("  ")
		writeInstruction(sb, instr)
		sb.WriteString("\n")
	}
}

func writeInstruction(sb *strings.Builder, instr *ilmodule.Instruction) {
	if instr.Result != "" {
		fmt.Fprintf(sb, "%%%s:%s = ", instr.Result, instr.ResultTy)
	}
	sb.WriteString(instr.Mnemonic)

	switch {
	case len(instr.Targets) == 1 && instr.Mnemonic == "br":
		sb.WriteString(" " + targetText(instr.Targets[0]))
	case instr.Mnemonic == "cbr" && len(instr.Targets) == 2:
		fmt.Fprintf(sb, " %s, %s, %s", operandText(instr.Operands[0]), targetText(instr.Targets[0]), targetText(instr.Targets[1]))
	case instr.Mnemonic == "switch":
		writeSwitchOperands(sb, instr)
	case instr.Mnemonic == "ret":
		if len(instr.Operands) == 1 {
			sb.WriteString(" " + operandText(instr.Operands[0]))
		}
	case instr.Mnemonic == "call":
		callee := instr.Attrs["callee"]
		fmt.Fprintf(sb, " @%s(%s)", callee, operandListText(instr.Operands))
	case instr.Mnemonic == "call.indirect":
		fmt.Fprintf(sb, " %s(%s)", operandText(instr.Operands[0]), operandListText(instr.Operands[1:]))
	case instr.Mnemonic == "select":
		fmt.Fprintf(sb, " %s, %s, %s", operandText(instr.Operands[0]), operandText(instr.Operands[1]), operandText(instr.Operands[2]))
	case instr.Mnemonic == "eh.push":
		sb.WriteString(" ^" + instr.Attrs["handler"])
	case instr.Mnemonic == "eh.pop", instr.Mnemonic == "trap", instr.Mnemonic == "trap.kind", instr.Mnemonic == "trap.err":
		// no operands
	case instr.Mnemonic == "trap.from_err":
		fmt.Fprintf(sb, " kind=%s, code=%s", instr.Attrs["kind"], instr.Attrs["code"])
	case instr.Mnemonic == "resume.same", instr.Mnemonic == "resume.next":
		sb.WriteString(" " + operandText(instr.Operands[0]))
	case instr.Mnemonic == "resume.label":
		fmt.Fprintf(sb, " %s, %s", operandText(instr.Operands[0]), targetText(instr.Targets[0]))
	default:
		if len(instr.Operands) > 0 {
			sb.WriteString(" " + operandListText(instr.Operands))
		}
	}
	sb.WriteString(";")
}

func writeSwitchOperands(sb *strings.Builder, instr *ilmodule.Instruction) {
	fmt.Fprintf(sb, " %s, default %s", operandText(instr.Operands[0]), targetText(instr.Targets[0]))
	for i := 1; i < len(instr.Targets); i++ {
		caseVal := instr.Attrs[fmt.Sprintf("case_%d", i)]
		fmt.Fprintf(sb, ", case %s -> %s", caseVal, targetText(instr.Targets[i]))
	}
}

func targetText(t ilmodule.BranchTarget) string {
	if len(t.Args) == 0 {
		return "^" + t.Label
	}
	return "^" + t.Label + "(" + operandListText(t.Args) + ")"
}

func operandListText(ops []ilmodule.Operand) string {
	parts := make([]string, len(ops))
	for i, o := range ops {
		parts[i] = operandText(o)
	}
	return strings.Join(parts, ", ")
}

func operandText(o ilmodule.Operand) string {
	switch o.Kind {
	case ilmodule.OperandConst:
		return o.Const.GoString()
	case ilmodule.OperandSSA, ilmodule.OperandBlockParam:
		return "%" + o.Name
	case ilmodule.OperandFuncRef, ilmodule.OperandGlobalRef:
		return "@" + o.Name
	case ilmodule.OperandBlockLabel:
		return "^" + o.Name
	default:
		return "?"
	}
}
