package opcode

import "testing"

// TestTableCoversAllOps is the build-time consistency check §4.3 calls
// for: "implementations that forget to update a consumer must fail
// loudly". Here the consumer is Table itself — every declared Op must
// have exactly one row.
func TestTableCoversAllOps(t *testing.T) {
	for op := Op(0); op < opCount; op++ {
		row, ok := Table[op]
		if !ok {
			t.Fatalf("opcode %d has no schema row", op)
		}
		if row.Mnemonic == "" {
			t.Fatalf("opcode %d has empty mnemonic", op)
		}
	}
	if len(Table) != int(opCount) {
		t.Fatalf("Table has %d rows, want %d", len(Table), opCount)
	}
}

func TestLookupRoundTrip(t *testing.T) {
	op, ok := Lookup("sdiv.chk0")
	if !ok || op != OpSDivChk0 {
		t.Fatalf("Lookup(sdiv.chk0) = %v,%v", op, ok)
	}
	if op.String() != "sdiv.chk0" {
		t.Fatalf("String() = %q", op.String())
	}
}

func TestCheckedOpsCarryTrapKinds(t *testing.T) {
	row := OpIdxChk.Row()
	if !row.Flags.Has(Checked) || !row.Flags.Has(MayTrap) {
		t.Fatal("idx.chk must be Checked|MayTrap")
	}
	if len(row.TrapKinds) == 0 {
		t.Fatal("idx.chk must declare at least one TrapKind")
	}
}
