package ilmodule

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"viper/internal/iltype"
)

// Extern declares an externally-resolved C-ABI function signature that IL
// may `call` (§3.3, §4.6 — the concrete registry of known runtime
// functions lives in internal/runtimesig; a Module's own Externs are the
// subset it actually declares and uses).
type Extern struct {
	Name    string
	Params  []iltype.Kind
	Return  iltype.Kind
	ErrOut  bool
}

// Global is a module-level named storage location (§3.3).
type Global struct {
	Name    string
	Kind    iltype.Kind
	Init    *iltype.Value
	Mutable bool
}

// internNamespace is fixed so that InternID is a pure function of a
// symbol's namespace and name — deterministic across
// parse/serialize round-trips and across processes, unlike a random
// UUID. This gives cross-references (§4.2: "by intern-id, never by name
// string at use sites") a stable identity without needing pointer
// addresses, which is awkward for a value exchanged over the text format.
var internNamespace = uuid.MustParse("8f14e45f-ceea-467e-bd9b-f28d5aa25ee0")

// InternID returns the stable intern identity for a symbol name within a
// given namespace ("func", "extern", "global", "str"). Two modules that
// declare the same symbol under the same namespace always get the same
// id, which is what lets transforms and the verifier compare identities
// across a clone without chasing pointers.
func InternID(namespace, name string) uuid.UUID {
	return uuid.NewSHA1(internNamespace, []byte(namespace+":"+name))
}

// Module owns all of its Functions, Externs, Globals, and interned string
// literals (§3.3). Ownership is exclusive: Functions do not outlive their
// Module.
type Module struct {
	Target  string // informational target triple
	Schema  string // "major.minor.patch"

	Functions []*Function
	funcIndex map[string]int

	Externs   []*Extern
	externIndex map[string]int

	Globals   []*Global
	globalIndex map[string]int

	strings   []string
	stringIdx map[string]int

	mu sync.RWMutex
}

const CurrentSchema = "1.0.0"

func NewModule(target string) *Module {
	return &Module{
		Target:      target,
		Schema:      CurrentSchema,
		funcIndex:   make(map[string]int),
		externIndex: make(map[string]int),
		globalIndex: make(map[string]int),
		stringIdx:   make(map[string]int),
	}
}

// AddFunction appends fn, enforcing the "function names unique" invariant
// (§3.3).
func (m *Module) AddFunction(fn *Function) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.funcIndex[fn.Name]; exists {
		return fmt.Errorf("duplicate function name %q", fn.Name)
	}
	if _, exists := m.externIndex[fn.Name]; exists {
		return fmt.Errorf("function name %q collides with extern", fn.Name)
	}
	m.funcIndex[fn.Name] = len(m.Functions)
	m.Functions = append(m.Functions, fn)
	return nil
}

// AddExtern appends an extern declaration, enforcing "extern names unique
// and disjoint from function names" (§3.3).
func (m *Module) AddExtern(ext *Extern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.externIndex[ext.Name]; exists {
		return fmt.Errorf("duplicate extern name %q", ext.Name)
	}
	if _, exists := m.funcIndex[ext.Name]; exists {
		return fmt.Errorf("extern name %q collides with function", ext.Name)
	}
	m.externIndex[ext.Name] = len(m.Externs)
	m.Externs = append(m.Externs, ext)
	return nil
}

func (m *Module) AddGlobal(g *Global) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.globalIndex[g.Name]; exists {
		return fmt.Errorf("duplicate global name %q", g.Name)
	}
	m.globalIndex[g.Name] = len(m.Globals)
	m.Globals = append(m.Globals, g)
	return nil
}

// InternString interns s, returning its stable index. Interning is
// canonical: the same byte content always returns the same index
// (§3.3 "pointer-equal iff byte-equal").
func (m *Module) InternString(s string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.stringIdx[s]; ok {
		return idx
	}
	idx := len(m.strings)
	m.strings = append(m.strings, s)
	m.stringIdx[s] = idx
	return idx
}

func (m *Module) StringAt(idx int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx < 0 || idx >= len(m.strings) {
		return "", false
	}
	return m.strings[idx], true
}

func (m *Module) Strings() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.strings))
	copy(out, m.strings)
	return out
}

func (m *Module) LookupFunction(name string) (*Function, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.funcIndex[name]
	if !ok {
		return nil, false
	}
	return m.Functions[idx], true
}

func (m *Module) LookupExtern(name string) (*Extern, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.externIndex[name]
	if !ok {
		return nil, false
	}
	return m.Externs[idx], true
}

func (m *Module) LookupGlobal(name string) (*Global, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.globalIndex[name]
	if !ok {
		return nil, false
	}
	return m.Globals[idx], true
}

// Clone produces a structural deep copy suitable as a transform sandbox
// (§4.2): passes that mutate in place may operate on the clone and the
// original remains valid for comparison or rollback. Cross-references are
// by name within the clone, matching the source, so intern ids are
// identical across clone boundaries (InternID is a pure function of
// namespace+name).
func (m *Module) Clone() *Module {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clone := NewModule(m.Target)
	clone.Schema = m.Schema

	for _, s := range m.strings {
		clone.InternString(s)
	}
	for _, g := range m.Globals {
		gc := *g
		if g.Init != nil {
			v := *g.Init
			gc.Init = &v
		}
		clone.AddGlobal(&gc)
	}
	for _, e := range m.Externs {
		ec := *e
		ec.Params = append([]iltype.Kind(nil), e.Params...)
		clone.AddExtern(&ec)
	}
	for _, f := range m.Functions {
		clone.AddFunction(cloneFunction(f))
	}
	return clone
}

func cloneFunction(f *Function) *Function {
	nf := &Function{
		Name:       f.Name,
		Params:     append([]Param(nil), f.Params...),
		ReturnKind: f.ReturnKind,
	}
	if f.Attrs != nil {
		nf.Attrs = make(map[string]bool, len(f.Attrs))
		for k, v := range f.Attrs {
			nf.Attrs[k] = v
		}
	}
	for _, b := range f.Blocks {
		nf.AddBlock(cloneBlock(b))
	}
	return nf
}

func cloneBlock(b *Block) *Block {
	nb := &Block{
		Label:  b.Label,
		Params: append([]Param(nil), b.Params...),
	}
	for _, instr := range b.Instrs {
		ni := *instr
		ni.Operands = append([]Operand(nil), instr.Operands...)
		ni.Targets = append([]BranchTarget(nil), instr.Targets...)
		if instr.Attrs != nil {
			ni.Attrs = make(map[string]string, len(instr.Attrs))
			for k, v := range instr.Attrs {
				ni.Attrs[k] = v
			}
		}
		nb.Instrs = append(nb.Instrs, &ni)
	}
	return nb
}
