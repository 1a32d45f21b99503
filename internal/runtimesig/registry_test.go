package runtimesig

import (
	"testing"

	"viper/internal/iltype"
)

func TestStandardRegistryFrozen(t *testing.T) {
	r := Standard()
	if !r.Frozen() {
		t.Fatal("Standard() must return a frozen registry")
	}
	if err := r.Register(&Entry{Name: "rt_extra"}); err == nil {
		t.Fatal("Register must fail once frozen")
	}
}

func TestLookupKnownEntries(t *testing.T) {
	r := Standard()
	e, ok := r.Lookup("rt_file_open")
	if !ok {
		t.Fatal("rt_file_open must be present")
	}
	if !e.ErrOut || !e.Effects.Has(MayTrap) {
		t.Fatalf("rt_file_open must be ErrOut and MayTrap, got %+v", e)
	}
}

func TestDefaultTrapMapping(t *testing.T) {
	cases := []struct {
		code int32
		want iltype.TrapKind
	}{
		{int32(ErrFileNotFound), iltype.TrapFileNotFound},
		{int32(ErrBounds), iltype.TrapBounds},
		{12345, iltype.TrapRuntimeError},
	}
	for _, c := range cases {
		kind, _ := DefaultTrapMapping(c.code)
		if kind != c.want {
			t.Errorf("DefaultTrapMapping(%d) = %s, want %s", c.code, kind, c.want)
		}
	}
}
