package debugger

import "viper/internal/iltype"

// Watch tracks one named value (a local in the top frame, or a global if
// no local by that name exists) across suspension points, reporting
// scalar-change notifications the way §4.7.6 describes (“observe when a
// watched value changes between steps”).
type Watch struct {
	Expression string
	value      iltype.Value
	hasValue   bool
}

// Change is emitted by watchTable.poll (run by Session.Start and
// Session.Continue once the VM yields) for a Watch whose value
// differs from what was last observed (or is being observed for the
// first time).
type Change struct {
	Expression string
	Old        iltype.Value
	New        iltype.Value
	First      bool
}

type watchTable struct {
	byExpr map[string]*Watch
}

func newWatchTable() *watchTable {
	return &watchTable{byExpr: make(map[string]*Watch)}
}

func (t *watchTable) add(expr string) *Watch {
	if w, ok := t.byExpr[expr]; ok {
		return w
	}
	w := &Watch{Expression: expr}
	t.byExpr[expr] = w
	return w
}

func (t *watchTable) remove(expr string) bool {
	if _, ok := t.byExpr[expr]; !ok {
		return false
	}
	delete(t.byExpr, expr)
	return true
}

func (t *watchTable) list() []*Watch {
	out := make([]*Watch, 0, len(t.byExpr))
	for _, w := range t.byExpr {
		out = append(out, w)
	}
	return out
}

// poll resolves every watch against locals (preferred) or globals,
// returning a Change for each watch whose resolved value is new or
// differs from its last-seen value. Watches that resolve to nothing
// (name not in scope at this suspension point) are left untouched.
func (t *watchTable) poll(locals map[string]iltype.Value, globals func(string) (iltype.Value, bool)) []Change {
	var changes []Change
	for _, w := range t.byExpr {
		v, ok := locals[w.Expression]
		if !ok {
			v, ok = globals(w.Expression)
		}
		if !ok {
			continue
		}
		switch {
		case !w.hasValue:
			changes = append(changes, Change{Expression: w.Expression, New: v, First: true})
		case !w.value.Equal(v):
			changes = append(changes, Change{Expression: w.Expression, Old: w.value, New: v})
		}
		w.value = v
		w.hasValue = true
	}
	return changes
}
