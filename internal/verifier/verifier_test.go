package verifier

import (
	"testing"

	"viper/internal/ilmodule"
	"viper/internal/iltype"
	"viper/internal/opcode"
	"viper/internal/runtimesig"
)

// retI32 builds a single-block `main` function: `ret <v>:i32`.
func retI32(v int64) *ilmodule.Module {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.I32}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs, &ilmodule.Instruction{
		Op:       opcode.OpRet,
		Operands: []ilmodule.Operand{ilmodule.ConstOperand(iltype.Int(iltype.I32, v))},
	})
	fn.AddBlock(entry)
	mod.AddFunction(fn)
	return mod
}

func TestVerifyAcceptsMinimalModule(t *testing.T) {
	res := Verify(retI32(0), runtimesig.Standard())
	if !res.OK {
		t.Fatalf("expected OK, got diagnostics: %v", res.Diagnostics)
	}
}

func TestVerifyRejectsMissingTerminator(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	fn.AddBlock(&ilmodule.Block{Label: "entry"})
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected verification failure for block with no terminator")
	}
}

func TestVerifyRejectsDanglingBranchTarget(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs, &ilmodule.Instruction{
		Op:      opcode.OpBr,
		Targets: []ilmodule.BranchTarget{{Label: "nowhere"}},
	})
	fn.AddBlock(entry)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected verification failure for branch to undefined block")
	}
}

func TestVerifyRejectsUseNotDominatedByDefinition(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.I32}

	// entry branches straight to exit, never executing `side` where %x is
	// defined; exit uses %x, which is not dominated by its definition.
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs, &ilmodule.Instruction{
		Op:      opcode.OpBr,
		Targets: []ilmodule.BranchTarget{{Label: "exit"}},
	})
	side := &ilmodule.Block{Label: "side"}
	side.Instrs = append(side.Instrs,
		&ilmodule.Instruction{
			Op: opcode.OpIAdd, Result: "x", ResultTy: iltype.I32,
			Operands: []ilmodule.Operand{
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 1)),
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 2)),
			},
		},
		&ilmodule.Instruction{Op: opcode.OpBr, Targets: []ilmodule.BranchTarget{{Label: "exit"}}},
	)
	exit := &ilmodule.Block{Label: "exit"}
	exit.Instrs = append(exit.Instrs, &ilmodule.Instruction{
		Op:       opcode.OpRet,
		Operands: []ilmodule.Operand{ilmodule.SSAOperand("x")},
	})
	fn.AddBlock(entry)
	fn.AddBlock(side)
	fn.AddBlock(exit)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected dominance violation to be reported")
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Kind == "ssa" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an ssa-category diagnostic, got %v", res.Diagnostics)
	}
}

func TestVerifyRejectsBranchArityMismatch(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs, &ilmodule.Instruction{
		Op:      opcode.OpBr,
		Targets: []ilmodule.BranchTarget{{Label: "loop"}}, // loop expects one param
	})
	loop := &ilmodule.Block{Label: "loop", Params: []ilmodule.Param{{Name: "i", Kind: iltype.I32}}}
	loop.Instrs = append(loop.Instrs, &ilmodule.Instruction{Op: opcode.OpRet})
	fn.AddBlock(entry)
	fn.AddBlock(loop)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected branch arity mismatch to be reported")
	}
}

func TestVerifyFlagsUnreachableBlockAsWarningOnly(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs, &ilmodule.Instruction{Op: opcode.OpRet})
	dead := &ilmodule.Block{Label: "dead"}
	dead.Instrs = append(dead.Instrs, &ilmodule.Instruction{Op: opcode.OpRet})
	fn.AddBlock(entry)
	fn.AddBlock(dead)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if !res.OK {
		t.Fatalf("unreachable block must not fail verification, got %v", res.Diagnostics)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected an unreachable-block warning")
	}
}

func TestVerifyRejectsHandlerShapeMismatch(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs,
		&ilmodule.Instruction{Op: opcode.OpEHPush, Attrs: map[string]string{"handler": "handler"}},
		&ilmodule.Instruction{Op: opcode.OpEHPop},
		&ilmodule.Instruction{Op: opcode.OpRet},
	)
	// handler block wrongly declares zero params instead of (error, resume_tok)
	handler := &ilmodule.Block{Label: "handler"}
	handler.Instrs = append(handler.Instrs, &ilmodule.Instruction{Op: opcode.OpRet})
	fn.AddBlock(entry)
	fn.AddBlock(handler)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected handler shape violation to be reported")
	}
}

func TestVerifyRejectsEHImbalance(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs,
		&ilmodule.Instruction{Op: opcode.OpEHPush, Attrs: map[string]string{"handler": "handler"}},
		&ilmodule.Instruction{Op: opcode.OpRet}, // no matching eh.pop before ret
	)
	handler := &ilmodule.Block{Label: "handler", Params: []ilmodule.Param{
		{Name: "e", Kind: iltype.Error}, {Name: "r", Kind: iltype.ResumeTok},
	}}
	handler.Instrs = append(handler.Instrs, &ilmodule.Instruction{Op: opcode.OpRet})
	fn.AddBlock(entry)
	fn.AddBlock(handler)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected eh.push/eh.pop imbalance to be reported")
	}
}

func TestVerifyRejectsDeterminismHookOutsideHandler(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs,
		&ilmodule.Instruction{Op: opcode.OpTrapKind, Result: "k", ResultTy: iltype.I32},
		&ilmodule.Instruction{Op: opcode.OpRet},
	)
	fn.AddBlock(entry)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected trap.kind outside a handler block to be rejected")
	}
}

func TestVerifyRejectsUnknownExternCall(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs,
		&ilmodule.Instruction{
			Op: opcode.OpCall, Attrs: map[string]string{"callee": "rt_does_not_exist"},
		},
		&ilmodule.Instruction{Op: opcode.OpRet},
	)
	fn.AddBlock(entry)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected call to undeclared extern to be rejected")
	}
}

func TestVerifyAcceptsKnownExternCall(t *testing.T) {
	mod := ilmodule.NewModule("test")
	mod.AddExtern(&ilmodule.Extern{
		Name: "rt_str_gt", Params: []iltype.Kind{iltype.Str, iltype.Str}, Return: iltype.I1,
	})
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs,
		&ilmodule.Instruction{
			Op: opcode.OpCall, Attrs: map[string]string{"callee": "rt_str_gt"},
			Result: "ok", ResultTy: iltype.I1,
			Operands: []ilmodule.Operand{
				ilmodule.ConstOperand(iltype.Str("a")),
				ilmodule.ConstOperand(iltype.Str("b")),
			},
		},
		&ilmodule.Instruction{Op: opcode.OpRet},
	)
	fn.AddBlock(entry)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if !res.OK {
		t.Fatalf("expected known extern call to verify cleanly, got %v", res.Diagnostics)
	}
}

func TestVerifyRejectsExactKindConditionMismatch(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs, &ilmodule.Instruction{
		Op:       opcode.OpCbr,
		Operands: []ilmodule.Operand{ilmodule.ConstOperand(iltype.Int(iltype.I32, 1))}, // i32, not i1
		Targets:  []ilmodule.BranchTarget{{Label: "a"}, {Label: "b"}},
	})
	a := &ilmodule.Block{Label: "a"}
	a.Instrs = append(a.Instrs, &ilmodule.Instruction{Op: opcode.OpRet})
	b := &ilmodule.Block{Label: "b"}
	b.Instrs = append(b.Instrs, &ilmodule.Instruction{Op: opcode.OpRet})
	fn.AddBlock(entry)
	fn.AddBlock(a)
	fn.AddBlock(b)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected cbr with a non-i1 condition to be rejected")
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Kind == "typing" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a typing-category diagnostic, got %v", res.Diagnostics)
	}
}

func TestVerifyRejectsStorePointerKindMismatch(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.Void}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs,
		&ilmodule.Instruction{
			Op: opcode.OpStore,
			Operands: []ilmodule.Operand{
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 7)), // not a pointer
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 1)),
			},
		},
		&ilmodule.Instruction{Op: opcode.OpRet},
	)
	fn.AddBlock(entry)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected store with a non-pointer target operand to be rejected")
	}
}

func TestVerifyAcceptsResumeWithOwnHandlerToken(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.I32}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs,
		&ilmodule.Instruction{Op: opcode.OpEHPush, Attrs: map[string]string{"handler": "h"}},
		&ilmodule.Instruction{
			Op: opcode.OpSDivChk0, Result: "q", ResultTy: iltype.I32,
			Operands: []ilmodule.Operand{
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 10)),
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 0)),
			},
		},
		&ilmodule.Instruction{Op: opcode.OpEHPop},
		&ilmodule.Instruction{Op: opcode.OpRet, Operands: []ilmodule.Operand{ilmodule.ConstOperand(iltype.Int(iltype.I32, 0))}},
	)
	handler := &ilmodule.Block{Label: "h", Params: []ilmodule.Param{
		{Name: "err", Kind: iltype.Error}, {Name: "tok", Kind: iltype.ResumeTok},
	}}
	handler.Instrs = append(handler.Instrs, &ilmodule.Instruction{
		Op:       opcode.OpResumeNext,
		Operands: []ilmodule.Operand{ilmodule.SSAOperand("tok")},
	})
	fn.AddBlock(entry)
	fn.AddBlock(handler)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if !res.OK {
		t.Fatalf("expected resume.next using its own handler's token to verify cleanly, got %v", res.Diagnostics)
	}
}

func TestVerifyRejectsForgedResumeToken(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.I32}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs,
		&ilmodule.Instruction{Op: opcode.OpEHPush, Attrs: map[string]string{"handler": "h1"}},
		&ilmodule.Instruction{
			Op: opcode.OpSDivChk0, Result: "q1", ResultTy: iltype.I32,
			Operands: []ilmodule.Operand{
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 10)),
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 0)),
			},
		},
		&ilmodule.Instruction{Op: opcode.OpEHPop},
		&ilmodule.Instruction{Op: opcode.OpEHPush, Attrs: map[string]string{"handler": "h2"}},
		&ilmodule.Instruction{
			Op: opcode.OpSDivChk0, Result: "q2", ResultTy: iltype.I32,
			Operands: []ilmodule.Operand{
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 20)),
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 0)),
			},
		},
		&ilmodule.Instruction{Op: opcode.OpEHPop},
		&ilmodule.Instruction{Op: opcode.OpRet, Operands: []ilmodule.Operand{ilmodule.ConstOperand(iltype.Int(iltype.I32, 0))}},
	)
	// h1 and h2 are both legitimate sibling handlers pushed in entry, but
	// h1's resume.next forges h2's token instead of using its own — the
	// attack the review describes: a token smuggled in from a sibling
	// handler at the same push depth.
	h1 := &ilmodule.Block{Label: "h1", Params: []ilmodule.Param{
		{Name: "err1", Kind: iltype.Error}, {Name: "tok1", Kind: iltype.ResumeTok},
	}}
	h1.Instrs = append(h1.Instrs, &ilmodule.Instruction{
		Op:       opcode.OpResumeNext,
		Operands: []ilmodule.Operand{ilmodule.SSAOperand("tok2")},
	})
	h2 := &ilmodule.Block{Label: "h2", Params: []ilmodule.Param{
		{Name: "err2", Kind: iltype.Error}, {Name: "tok2", Kind: iltype.ResumeTok},
	}}
	h2.Instrs = append(h2.Instrs, &ilmodule.Instruction{
		Op:       opcode.OpResumeNext,
		Operands: []ilmodule.Operand{ilmodule.SSAOperand("tok2")},
	})
	fn.AddBlock(entry)
	fn.AddBlock(h1)
	fn.AddBlock(h2)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected h1's resume.next using h2's token to be rejected")
	}
	found := false
	for _, d := range res.Diagnostics {
		if d.Kind == "eh" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an eh-category diagnostic, got %v", res.Diagnostics)
	}
}

func TestVerifyRejectsOperandTypeMismatch(t *testing.T) {
	mod := ilmodule.NewModule("test")
	fn := &ilmodule.Function{Name: "main", ReturnKind: iltype.I32}
	entry := &ilmodule.Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs,
		&ilmodule.Instruction{
			Op: opcode.OpIAdd, Result: "x", ResultTy: iltype.I32,
			Operands: []ilmodule.Operand{
				ilmodule.ConstOperand(iltype.Int(iltype.I32, 1)),
				ilmodule.ConstOperand(iltype.Float64(1.5)),
			},
		},
		&ilmodule.Instruction{
			Op:       opcode.OpRet,
			Operands: []ilmodule.Operand{ilmodule.SSAOperand("x")},
		},
	)
	fn.AddBlock(entry)
	mod.AddFunction(fn)

	res := Verify(mod, runtimesig.Standard())
	if res.OK {
		t.Fatal("expected operand type mismatch (iadd i32, f64) to be rejected")
	}
}
