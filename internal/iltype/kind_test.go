package iltype

import "testing"

func TestPromotionLattice(t *testing.T) {
	cases := []struct {
		a, b Kind
		want Kind
	}{
		{I16, I32, I32},
		{I32, I64, I64},
		{I64, F32, F32},
		{F32, F64, F64},
		{I8, U8, I16},
		{I32, I32, I32},
	}
	for _, c := range cases {
		got, ok := Promote(c.a, c.b)
		if !ok || got != c.want {
			t.Errorf("Promote(%s,%s) = %s,%v want %s", c.a, c.b, got, ok, c.want)
		}
	}
}

func TestPromoteRejectsNonNumeric(t *testing.T) {
	if _, ok := Promote(Ptr, I32); ok {
		t.Fatal("ptr must not participate in numeric promotion")
	}
}

func TestIntWrapping(t *testing.T) {
	v := Int(I8, 200)
	if v.Int64() != -56 {
		t.Errorf("i8 wrap of 200 = %d, want -56", v.Int64())
	}
	u := Uint(U8, 300)
	if u.Uint64() != 300%256 {
		t.Errorf("u8 wrap of 300 = %d, want %d", u.Uint64(), 300%256)
	}
}

func TestResumeTokenOpaque(t *testing.T) {
	tok := NewResumeToken(1, 42, 0)
	r, ok := tok.AsResumeToken()
	if !ok || r.FaultingIP != 42 {
		t.Fatalf("resume token round-trip failed: %+v %v", r, ok)
	}
}

func TestSizeOracleFixed(t *testing.T) {
	if I32.SizeBytes() != 4 || F64.SizeBytes() != 8 || I1.SizeBytes() != 1 {
		t.Fatal("size oracle must be fixed, not target dependent")
	}
}
