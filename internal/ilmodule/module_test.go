package ilmodule

import (
	"testing"

	"viper/internal/iltype"
	"viper/internal/opcode"
)

func sampleModule() *Module {
	m := NewModule("generic")
	fn := &Function{Name: "main", ReturnKind: iltype.I32}
	entry := &Block{Label: "entry"}
	entry.Instrs = append(entry.Instrs, &Instruction{
		Op: opcode.OpRet, Mnemonic: "ret",
		Operands: []Operand{ConstOperand(iltype.Int(iltype.I32, 0))},
	})
	fn.AddBlock(entry)
	m.AddFunction(fn)
	return m
}

func TestDuplicateFunctionNameRejected(t *testing.T) {
	m := sampleModule()
	dup := &Function{Name: "main", ReturnKind: iltype.I32}
	if err := m.AddFunction(dup); err == nil {
		t.Fatal("expected duplicate function name error")
	}
}

func TestExternFunctionNameCollision(t *testing.T) {
	m := sampleModule()
	if err := m.AddExtern(&Extern{Name: "main", Return: iltype.Void}); err == nil {
		t.Fatal("expected extern/function name collision error")
	}
}

func TestStringInterningCanonical(t *testing.T) {
	m := NewModule("generic")
	a := m.InternString("hello")
	b := m.InternString("hello")
	c := m.InternString("world")
	if a != b {
		t.Fatalf("same byte content must intern to the same id: %d != %d", a, b)
	}
	if a == c {
		t.Fatal("different byte content must not collide")
	}
}

func TestInternIDDeterministic(t *testing.T) {
	a := InternID("func", "main")
	b := InternID("func", "main")
	c := InternID("global", "main")
	if a != b {
		t.Fatal("InternID must be a pure function of namespace+name")
	}
	if a == c {
		t.Fatal("different namespaces must not collide")
	}
}

func TestCloneIsStructurallyIndependent(t *testing.T) {
	m := sampleModule()
	clone := m.Clone()

	fn, _ := clone.LookupFunction("main")
	fn.Blocks[0].Instrs[0].Operands[0] = ConstOperand(iltype.Int(iltype.I32, 99))

	orig, _ := m.LookupFunction("main")
	got := orig.Blocks[0].Instrs[0].Operands[0].Const.Int64()
	if got != 0 {
		t.Fatalf("mutating the clone must not affect the original, got %d", got)
	}
}
