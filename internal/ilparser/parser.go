package ilparser

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"viper/internal/diag"
	"viper/internal/ilmodule"
	"viper/internal/iltype"
	"viper/internal/opcode"
)

// Parse reads `.il` text and builds a Module. On malformed input the
// parser recovers to the next `func` boundary so a single file can report
// every error in one pass (§4.4); the returned *diag.MultiParseError is
// nil when there were no errors. A non-nil module is returned even when
// errors were recorded, holding whatever top-level declarations and
// functions parsed cleanly, so tooling can still inspect partial results.
func Parse(source, file string) (*ilmodule.Module, *diag.MultiParseError) {
	p := &parser{
		toks: NewScanner(source).ScanTokens(),
		file: file,
		errs: &diag.MultiParseError{},
	}
	mod := p.parseModule()
	if p.errs.HasErrors() {
		return mod, p.errs
	}
	return mod, nil
}

type parser struct {
	toks []Token
	pos  int
	file string
	errs *diag.MultiParseError
	mod  *ilmodule.Module
}

func (p *parser) cur() Token  { return p.toks[p.pos] }
func (p *parser) atEnd() bool { return p.cur().Type == TokEOF }

func (p *parser) peekType(offset int) TokenType {
	i := p.pos + offset
	if i >= len(p.toks) {
		return TokEOF
	}
	return p.toks[i].Type
}

func (p *parser) advance() Token {
	t := p.toks[p.pos]
	if !p.atEnd() {
		p.pos++
	}
	return t
}

func (p *parser) check(t TokenType) bool { return p.cur().Type == t }

func (p *parser) match(t TokenType) (Token, bool) {
	if p.check(t) {
		return p.advance(), true
	}
	return Token{}, false
}

func (p *parser) expect(t TokenType, context string) (Token, error) {
	if p.check(t) {
		return p.advance(), nil
	}
	tok := p.cur()
	err := errors.Errorf("expected %s %s, found %s %q", t, context, tok.Type, tok.Lexeme)
	p.report(tok, "E_UNEXPECTED_TOKEN", err.Error())
	return tok, err
}

func (p *parser) report(tok Token, code, msg string) {
	p.errs.Add(&diag.ParseDiagnostic{File: p.file, Line: tok.Line, Column: tok.Col, Code: code, Message: msg})
}

// recoverToNextFunction skips tokens until the start of the next `func`
// declaration (or extern/global at top level) or EOF, matching §4.4's
// "recovers to the next function boundary" contract.
func (p *parser) recoverToNextFunction() {
	for !p.atEnd() {
		if p.check(TokFunc) || p.check(TokExtern) || p.check(TokGlobal) {
			return
		}
		p.advance()
	}
}

func (p *parser) parseModule() *ilmodule.Module {
	if _, err := p.expect(TokIL, "schema header"); err != nil {
		// without even a valid header, nothing downstream is trustworthy
		return ilmodule.NewModule("")
	}
	version := p.parseVersion()

	mod := ilmodule.NewModule("")
	mod.Schema = version
	p.mod = mod

	if version != ilmodule.CurrentSchema {
		p.report(p.cur(), "E_SCHEMA_MISMATCH", fmt.Sprintf("module schema %q does not match %q", version, ilmodule.CurrentSchema))
	}

	for !p.atEnd() {
		switch {
		case p.check(TokExtern):
			p.parseExtern()
		case p.check(TokGlobal):
			p.parseGlobal()
		case p.check(TokFunc):
			p.parseFunction()
		default:
			tok := p.cur()
			p.report(tok, "E_UNEXPECTED_TOP_LEVEL", fmt.Sprintf("expected extern/global/func, found %s %q", tok.Type, tok.Lexeme))
			p.advance()
		}
	}
	return mod
}

// parseVersion concatenates the INT/FLOAT/DOT run the scanner produces for
// a dotted version literal like "1.0.0" back into one string.
func (p *parser) parseVersion() string {
	s := ""
	for p.check(TokInt) || p.check(TokFloat) || p.check(TokDot) {
		s += p.advance().Lexeme
	}
	return s
}

func (p *parser) parseKind(context string) (iltype.Kind, bool) {
	tok, err := p.expect(TokIdent, context)
	if err != nil {
		return iltype.Void, false
	}
	k, ok := iltype.ParseKind(tok.Lexeme)
	if !ok {
		p.report(tok, "E_UNKNOWN_TYPE", fmt.Sprintf("unknown type %q", tok.Lexeme))
		return iltype.Void, false
	}
	return k, true
}

func (p *parser) parseExtern() {
	p.advance() // 'extern'
	name, err := p.expect(TokFuncRef, "extern name")
	if err != nil {
		p.recoverToNextFunction()
		return
	}
	if _, err := p.expect(TokLParen, "extern parameter list"); err != nil {
		p.recoverToNextFunction()
		return
	}
	var params []iltype.Kind
	for !p.check(TokRParen) && !p.atEnd() {
		k, ok := p.parseKind("extern parameter type")
		if !ok {
			p.recoverToNextFunction()
			return
		}
		params = append(params, k)
		if _, ok := p.match(TokComma); !ok {
			break
		}
	}
	if _, err := p.expect(TokRParen, "extern parameter list"); err != nil {
		p.recoverToNextFunction()
		return
	}
	if _, err := p.expect(TokArrow, "extern return type"); err != nil {
		p.recoverToNextFunction()
		return
	}
	ret, ok := p.parseKind("extern return type")
	if !ok {
		p.recoverToNextFunction()
		return
	}
	errOut := false
	if tok, ok := p.match(TokIdent); ok {
		if tok.Lexeme == "err_out" {
			errOut = true
		} else {
			p.report(tok, "E_UNEXPECTED_TOKEN", fmt.Sprintf("unexpected modifier %q on extern", tok.Lexeme))
		}
	}
	if err := p.mod.AddExtern(&ilmodule.Extern{Name: name.Lexeme, Params: params, Return: ret, ErrOut: errOut}); err != nil {
		p.report(name, "E_DUPLICATE_EXTERN", err.Error())
	}
}

func (p *parser) parseGlobal() {
	p.advance() // 'global'
	name, err := p.expect(TokFuncRef, "global name")
	if err != nil {
		p.recoverToNextFunction()
		return
	}
	if _, err := p.expect(TokColon, "global type"); err != nil {
		p.recoverToNextFunction()
		return
	}
	k, ok := p.parseKind("global type")
	if !ok {
		p.recoverToNextFunction()
		return
	}
	var init *iltype.Value
	if _, ok := p.match(TokEquals); ok {
		v, ok := p.parseTypedLiteral(k)
		if !ok {
			p.recoverToNextFunction()
			return
		}
		init = &v
	}
	mutable := false
	if tok, ok := p.match(TokIdent); ok {
		if tok.Lexeme == "mut" {
			mutable = true
		} else {
			p.report(tok, "E_UNEXPECTED_TOKEN", fmt.Sprintf("unexpected modifier %q on global", tok.Lexeme))
		}
	}
	if err := p.mod.AddGlobal(&ilmodule.Global{Name: name.Lexeme, Kind: k, Init: init, Mutable: mutable}); err != nil {
		p.report(name, "E_DUPLICATE_GLOBAL", err.Error())
	}
}

// parseTypedLiteral parses a bare literal (no trailing ":kind" — the kind
// is already known from the declaration site) for global initializers.
func (p *parser) parseTypedLiteral(k iltype.Kind) (iltype.Value, bool) {
	switch {
	case k.IsFloat():
		tok, err := p.expectNumber("global initializer")
		if err != nil {
			return iltype.Value{}, false
		}
		f, perr := strconv.ParseFloat(tok.Lexeme, 64)
		if perr != nil {
			p.report(tok, "E_BAD_LITERAL", perr.Error())
			return iltype.Value{}, false
		}
		if k == iltype.F32 {
			return iltype.Float32(float32(f)), true
		}
		return iltype.Float64(f), true
	case k.IsSignedInt():
		tok, err := p.expectNumber("global initializer")
		if err != nil {
			return iltype.Value{}, false
		}
		n, perr := strconv.ParseInt(tok.Lexeme, 10, 64)
		if perr != nil {
			p.report(tok, "E_BAD_LITERAL", perr.Error())
			return iltype.Value{}, false
		}
		return iltype.Int(k, n), true
	case k.IsUnsignedInt():
		tok, err := p.expectNumber("global initializer")
		if err != nil {
			return iltype.Value{}, false
		}
		n, perr := strconv.ParseUint(tok.Lexeme, 10, 64)
		if perr != nil {
			p.report(tok, "E_BAD_LITERAL", perr.Error())
			return iltype.Value{}, false
		}
		return iltype.Uint(k, n), true
	case k == iltype.Str:
		tok, err := p.expect(TokString, "global initializer")
		if err != nil {
			return iltype.Value{}, false
		}
		return iltype.Str(tok.Lexeme), true
	default:
		tok := p.cur()
		p.report(tok, "E_BAD_LITERAL", fmt.Sprintf("type %s has no literal form", k))
		return iltype.Value{}, false
	}
}

func (p *parser) expectNumber(context string) (Token, error) {
	if p.check(TokInt) || p.check(TokFloat) {
		return p.advance(), nil
	}
	tok := p.cur()
	err := errors.Errorf("expected numeric literal %s, found %s %q", context, tok.Type, tok.Lexeme)
	p.report(tok, "E_UNEXPECTED_TOKEN", err.Error())
	return tok, err
}

func (p *parser) parseFunction() {
	p.advance() // 'func'
	name, err := p.expect(TokFuncRef, "function name")
	if err != nil {
		p.recoverToNextFunction()
		return
	}
	if _, err := p.expect(TokLParen, "parameter list"); err != nil {
		p.recoverToNextFunction()
		return
	}
	var params []ilmodule.Param
	for !p.check(TokRParen) && !p.atEnd() {
		pname, err := p.expect(TokSSA, "parameter name")
		if err != nil {
			p.recoverToNextFunction()
			return
		}
		if _, err := p.expect(TokColon, "parameter type"); err != nil {
			p.recoverToNextFunction()
			return
		}
		k, ok := p.parseKind("parameter type")
		if !ok {
			p.recoverToNextFunction()
			return
		}
		params = append(params, ilmodule.Param{Name: pname.Lexeme, Kind: k})
		if _, ok := p.match(TokComma); !ok {
			break
		}
	}
	if _, err := p.expect(TokRParen, "parameter list"); err != nil {
		p.recoverToNextFunction()
		return
	}
	if _, err := p.expect(TokArrow, "return type"); err != nil {
		p.recoverToNextFunction()
		return
	}
	retKind, ok := p.parseKind("return type")
	if !ok {
		p.recoverToNextFunction()
		return
	}
	if _, err := p.expect(TokLBrace, "function body"); err != nil {
		p.recoverToNextFunction()
		return
	}

	fn := &ilmodule.Function{Name: name.Lexeme, Params: params, ReturnKind: retKind}
	for p.check(TokLabel) {
		b := p.parseBlock()
		if b == nil {
			p.recoverToNextFunction()
			return
		}
		fn.AddBlock(b)
	}
	if _, err := p.expect(TokRBrace, "end of function body"); err != nil {
		p.recoverToNextFunction()
		return
	}
	if err := p.mod.AddFunction(fn); err != nil {
		p.report(name, "E_DUPLICATE_FUNCTION", err.Error())
	}
}

func (p *parser) parseBlock() *ilmodule.Block {
	label, err := p.expect(TokLabel, "block label")
	if err != nil {
		return nil
	}
	b := &ilmodule.Block{Label: label.Lexeme}
	if _, ok := p.match(TokLParen); ok {
		for !p.check(TokRParen) && !p.atEnd() {
			pname, err := p.expect(TokSSA, "block parameter name")
			if err != nil {
				return nil
			}
			if _, err := p.expect(TokColon, "block parameter type"); err != nil {
				return nil
			}
			k, ok := p.parseKind("block parameter type")
			if !ok {
				return nil
			}
			b.Params = append(b.Params, ilmodule.Param{Name: pname.Lexeme, Kind: k})
			if _, ok := p.match(TokComma); !ok {
				break
			}
		}
		if _, err := p.expect(TokRParen, "block parameter list"); err != nil {
			return nil
		}
	}
	if _, err := p.expect(TokColon, "block header"); err != nil {
		return nil
	}
	for !p.check(TokLabel) && !p.check(TokRBrace) && !p.atEnd() {
		instr := p.parseInstruction()
		if instr == nil {
			return nil
		}
		b.Instrs = append(b.Instrs, instr)
	}
	return b
}

func (p *parser) parseInstruction() *ilmodule.Instruction {
	line := p.cur().Line
	var result string
	var resultKind iltype.Kind
	hasResult := false
	if p.check(TokSSA) && p.peekType(1) == TokColon {
		nameTok := p.advance()
		p.advance() // ':'
		k, ok := p.parseKind("result type")
		if !ok {
			return nil
		}
		if _, err := p.expect(TokEquals, "result assignment"); err != nil {
			return nil
		}
		result, resultKind, hasResult = nameTok.Lexeme, k, true
	}

	mnemonicTok, err := p.expect(TokIdent, "instruction mnemonic")
	if err != nil {
		return nil
	}
	op, ok := opcode.Lookup(mnemonicTok.Lexeme)
	if !ok {
		p.report(mnemonicTok, "E_UNKNOWN_OPCODE", fmt.Sprintf("unknown opcode %q", mnemonicTok.Lexeme))
		return nil
	}

	instr := &ilmodule.Instruction{Op: op, Mnemonic: mnemonicTok.Lexeme, Line: line}
	if hasResult {
		instr.Result = result
		instr.ResultTy = resultKind
	}

	if !p.parseOperandsFor(op, mnemonicTok.Lexeme, instr) {
		return nil
	}

	if _, err := p.expect(TokSemi, "end of instruction"); err != nil {
		return nil
	}
	return instr
}

// parseOperandsFor dispatches to the operand grammar appropriate to this
// opcode's family — terminators carry branch targets, call carries a
// callee name, eh.push carries a handler label, trap.from_err carries a
// literal kind/code pair — everything else is a plain comma-separated
// operand list (§4.3's schema rows drive exactly which family each op is
// in; this mirrors that grouping in the concrete syntax).
func (p *parser) parseOperandsFor(op opcode.Op, mnemonic string, instr *ilmodule.Instruction) bool {
	switch op {
	case opcode.OpBr:
		t, ok := p.parseBranchTarget()
		if !ok {
			return false
		}
		instr.Targets = []ilmodule.BranchTarget{t}
		return true

	case opcode.OpCbr:
		cond, ok := p.parseOperand()
		if !ok {
			return false
		}
		instr.Operands = []ilmodule.Operand{cond}
		if _, err := p.expect(TokComma, "cbr true target"); err != nil {
			return false
		}
		tt, ok := p.parseBranchTarget()
		if !ok {
			return false
		}
		if _, err := p.expect(TokComma, "cbr false target"); err != nil {
			return false
		}
		ft, ok := p.parseBranchTarget()
		if !ok {
			return false
		}
		instr.Targets = []ilmodule.BranchTarget{tt, ft}
		return true

	case opcode.OpSwitch:
		return p.parseSwitch(instr)

	case opcode.OpRet:
		if p.check(TokSemi) {
			return true
		}
		v, ok := p.parseOperand()
		if !ok {
			return false
		}
		instr.Operands = []ilmodule.Operand{v}
		return true

	case opcode.OpCall:
		callee, err := p.expect(TokFuncRef, "call callee")
		if err != nil {
			return false
		}
		args, ok := p.parseParenOperandList()
		if !ok {
			return false
		}
		instr.Attrs = map[string]string{"callee": callee.Lexeme}
		instr.Operands = args
		return true

	case opcode.OpCallIndirect:
		fnptr, ok := p.parseOperand()
		if !ok {
			return false
		}
		args, ok := p.parseParenOperandList()
		if !ok {
			return false
		}
		instr.Operands = append([]ilmodule.Operand{fnptr}, args...)
		return true

	case opcode.OpSelect:
		cond, ok := p.parseOperand()
		if !ok {
			return false
		}
		if _, err := p.expect(TokComma, "select then-value"); err != nil {
			return false
		}
		a, ok := p.parseOperand()
		if !ok {
			return false
		}
		if _, err := p.expect(TokComma, "select else-value"); err != nil {
			return false
		}
		b, ok := p.parseOperand()
		if !ok {
			return false
		}
		instr.Operands = []ilmodule.Operand{cond, a, b}
		return true

	case opcode.OpEHPush:
		label, err := p.expect(TokLabel, "eh.push handler")
		if err != nil {
			return false
		}
		instr.Attrs = map[string]string{"handler": label.Lexeme}
		return true

	case opcode.OpEHPop, opcode.OpTrap, opcode.OpTrapKind, opcode.OpTrapErr:
		return true

	case opcode.OpTrapFromErr:
		kindTok, err := p.expectAttrValue("kind")
		if err != nil {
			return false
		}
		if _, err := p.expect(TokComma, "trap.from_err code"); err != nil {
			return false
		}
		codeTok, err := p.expectAttrValue("code")
		if err != nil {
			return false
		}
		instr.Attrs = map[string]string{"kind": kindTok, "code": codeTok}
		return true

	case opcode.OpResumeSame, opcode.OpResumeNext:
		v, ok := p.parseOperand()
		if !ok {
			return false
		}
		instr.Operands = []ilmodule.Operand{v}
		return true

	case opcode.OpResumeLabel:
		v, ok := p.parseOperand()
		if !ok {
			return false
		}
		if _, err := p.expect(TokComma, "resume.label target"); err != nil {
			return false
		}
		t, ok := p.parseBranchTarget()
		if !ok {
			return false
		}
		instr.Operands = []ilmodule.Operand{v}
		instr.Targets = []ilmodule.BranchTarget{t}
		return true

	default:
		return p.parseGenericOperandList(instr)
	}
}

// expectAttrValue parses `name=value` and returns value's lexeme.
func (p *parser) expectAttrValue(name string) (string, error) {
	tok, err := p.expect(TokIdent, "attribute name")
	if err != nil {
		return "", err
	}
	if tok.Lexeme != name {
		err := errors.Errorf("expected attribute %q, found %q", name, tok.Lexeme)
		p.report(tok, "E_UNEXPECTED_TOKEN", err.Error())
		return "", err
	}
	if _, err := p.expect(TokEquals, "attribute value"); err != nil {
		return "", err
	}
	// value may be an identifier or a number
	if p.check(TokInt) || p.check(TokFloat) {
		return p.advance().Lexeme, nil
	}
	v, err := p.expect(TokIdent, "attribute value")
	if err != nil {
		return "", err
	}
	return v.Lexeme, nil
}

func (p *parser) parseGenericOperandList(instr *ilmodule.Instruction) bool {
	if p.check(TokSemi) {
		return true
	}
	for {
		op, ok := p.parseOperand()
		if !ok {
			return false
		}
		instr.Operands = append(instr.Operands, op)
		if _, ok := p.match(TokComma); !ok {
			break
		}
	}
	return true
}

func (p *parser) parseParenOperandList() ([]ilmodule.Operand, bool) {
	if _, err := p.expect(TokLParen, "argument list"); err != nil {
		return nil, false
	}
	var args []ilmodule.Operand
	for !p.check(TokRParen) && !p.atEnd() {
		a, ok := p.parseOperand()
		if !ok {
			return nil, false
		}
		args = append(args, a)
		if _, ok := p.match(TokComma); !ok {
			break
		}
	}
	if _, err := p.expect(TokRParen, "argument list"); err != nil {
		return nil, false
	}
	return args, true
}

func (p *parser) parseBranchTarget() (ilmodule.BranchTarget, bool) {
	label, err := p.expect(TokLabel, "branch target")
	if err != nil {
		return ilmodule.BranchTarget{}, false
	}
	t := ilmodule.BranchTarget{Label: label.Lexeme}
	if _, ok := p.match(TokLParen); ok {
		for !p.check(TokRParen) && !p.atEnd() {
			a, ok := p.parseOperand()
			if !ok {
				return ilmodule.BranchTarget{}, false
			}
			t.Args = append(t.Args, a)
			if _, ok := p.match(TokComma); !ok {
				break
			}
		}
		if _, err := p.expect(TokRParen, "branch target arguments"); err != nil {
			return ilmodule.BranchTarget{}, false
		}
	}
	return t, true
}

func (p *parser) parseSwitch(instr *ilmodule.Instruction) bool {
	v, ok := p.parseOperand()
	if !ok {
		return false
	}
	instr.Operands = []ilmodule.Operand{v}
	if _, err := p.expect(TokComma, "switch default"); err != nil {
		return false
	}
	defTok, err := p.expect(TokIdent, "switch default keyword")
	if err != nil {
		return false
	}
	if defTok.Lexeme != "default" {
		p.report(defTok, "E_UNEXPECTED_TOKEN", fmt.Sprintf("expected \"default\", found %q", defTok.Lexeme))
		return false
	}
	defTarget, ok := p.parseBranchTarget()
	if !ok {
		return false
	}
	instr.Targets = []ilmodule.BranchTarget{defTarget}
	instr.Attrs = map[string]string{"default_idx": "0"}

	caseIdx := 1
	for {
		if _, ok := p.match(TokComma); !ok {
			break
		}
		caseTok, err := p.expect(TokIdent, "switch case keyword")
		if err != nil {
			return false
		}
		if caseTok.Lexeme != "case" {
			p.report(caseTok, "E_UNEXPECTED_TOKEN", fmt.Sprintf("expected \"case\", found %q", caseTok.Lexeme))
			return false
		}
		valTok, err := p.expectNumber("switch case value")
		if err != nil {
			return false
		}
		if _, err := p.expect(TokArrow, "switch case target"); err != nil {
			return false
		}
		target, ok := p.parseBranchTarget()
		if !ok {
			return false
		}
		instr.Targets = append(instr.Targets, target)
		instr.Attrs[fmt.Sprintf("case_%d", caseIdx)] = valTok.Lexeme
		caseIdx++
	}
	return true
}

// parseOperand parses a constant, an SSA/block-param reference, a
// func/global reference, or a bare block label (returned as a label
// operand).
func (p *parser) parseOperand() (ilmodule.Operand, bool) {
	switch {
	case p.check(TokSSA):
		return ilmodule.SSAOperand(p.advance().Lexeme), true
	case p.check(TokFuncRef):
		name := p.advance().Lexeme
		if p.mod != nil {
			if _, ok := p.mod.LookupGlobal(name); ok {
				return ilmodule.GlobalRefOperand(name), true
			}
		}
		return ilmodule.FuncRefOperand(name), true
	case p.check(TokLabel):
		return ilmodule.LabelOperand(p.advance().Lexeme), true
	case p.check(TokInt), p.check(TokFloat), p.check(TokString):
		lit := p.advance()
		if _, err := p.expect(TokColon, "typed constant"); err != nil {
			return ilmodule.Operand{}, false
		}
		k, ok := p.parseKind("constant type")
		if !ok {
			return ilmodule.Operand{}, false
		}
		v, ok := p.buildLiteral(lit, k)
		if !ok {
			return ilmodule.Operand{}, false
		}
		return ilmodule.ConstOperand(v), true
	default:
		tok := p.cur()
		p.report(tok, "E_UNEXPECTED_TOKEN", fmt.Sprintf("expected operand, found %s %q", tok.Type, tok.Lexeme))
		return ilmodule.Operand{}, false
	}
}

func (p *parser) buildLiteral(lit Token, k iltype.Kind) (iltype.Value, bool) {
	switch {
	case k == iltype.Str:
		if lit.Type != TokString {
			p.report(lit, "E_BAD_LITERAL", "expected string literal for str constant")
			return iltype.Value{}, false
		}
		return iltype.Str(lit.Lexeme), true
	case k.IsFloat():
		f, err := strconv.ParseFloat(lit.Lexeme, 64)
		if err != nil {
			p.report(lit, "E_BAD_LITERAL", err.Error())
			return iltype.Value{}, false
		}
		if k == iltype.F32 {
			return iltype.Float32(float32(f)), true
		}
		return iltype.Float64(f), true
	case k.IsSignedInt():
		n, err := strconv.ParseInt(lit.Lexeme, 10, 64)
		if err != nil {
			p.report(lit, "E_BAD_LITERAL", err.Error())
			return iltype.Value{}, false
		}
		return iltype.Int(k, n), true
	case k.IsUnsignedInt():
		n, err := strconv.ParseUint(lit.Lexeme, 10, 64)
		if err != nil {
			p.report(lit, "E_BAD_LITERAL", err.Error())
			return iltype.Value{}, false
		}
		return iltype.Uint(k, n), true
	default:
		p.report(lit, "E_BAD_LITERAL", fmt.Sprintf("type %s has no literal form", k))
		return iltype.Value{}, false
	}
}
