package verifier

import "viper/internal/ilmodule"

// successors returns the block labels instr's terminator can transfer
// control to, used both for reachability and for dominator computation.
func successors(instr *ilmodule.Instruction) []string {
	labels := make([]string, 0, len(instr.Targets))
	for _, t := range instr.Targets {
		labels = append(labels, t.Label)
	}
	return labels
}

// cfg is the per-function control-flow graph built once per Verify call.
type cfg struct {
	fn      *ilmodule.Function
	preds   map[string][]string
	succs   map[string][]string
	order   []string // reverse postorder from entry, for dominator fixpoint
}

func buildCFG(fn *ilmodule.Function) *cfg {
	g := &cfg{fn: fn, preds: map[string][]string{}, succs: map[string][]string{}}
	for _, b := range fn.Blocks {
		g.preds[b.Label] = nil
		g.succs[b.Label] = nil
	}
	for _, b := range fn.Blocks {
		term := b.Terminator()
		if term == nil {
			continue
		}
		for _, s := range successors(term) {
			if _, ok := g.preds[s]; !ok {
				continue // dangling target; reported separately as structural error
			}
			g.succs[b.Label] = append(g.succs[b.Label], s)
			g.preds[s] = append(g.preds[s], b.Label)
		}
	}
	g.order = g.reversePostorder()
	return g
}

func (g *cfg) reversePostorder() []string {
	if len(g.fn.Blocks) == 0 {
		return nil
	}
	entry := g.fn.Blocks[0].Label
	visited := map[string]bool{}
	var post []string
	var visit func(string)
	visit = func(l string) {
		if visited[l] {
			return
		}
		visited[l] = true
		for _, s := range g.succs[l] {
			visit(s)
		}
		post = append(post, l)
	}
	visit(entry)
	// reverse
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func (g *cfg) reachableFromEntry() map[string]bool {
	reach := map[string]bool{}
	for _, l := range g.order {
		reach[l] = true
	}
	return reach
}

// dominators computes, for every reachable block, the set of blocks that
// dominate it (§4.5.3, testable property 2). Standard iterative
// data-flow fixpoint: Dom(entry) = {entry}; Dom(n) = {n} U (intersection
// of Dom(p) for every predecessor p), iterated to a fixpoint.
func (g *cfg) dominators() map[string]map[string]bool {
	dom := map[string]map[string]bool{}
	if len(g.order) == 0 {
		return dom
	}
	entry := g.order[0]
	all := map[string]bool{}
	for _, l := range g.order {
		all[l] = true
	}
	for _, l := range g.order {
		if l == entry {
			dom[l] = map[string]bool{entry: true}
			continue
		}
		full := map[string]bool{}
		for k := range all {
			full[k] = true
		}
		dom[l] = full
	}
	changed := true
	for changed {
		changed = false
		for _, l := range g.order {
			if l == entry {
				continue
			}
			var inter map[string]bool
			for _, p := range g.preds[l] {
				pd, ok := dom[p]
				if !ok {
					continue
				}
				if inter == nil {
					inter = copySet(pd)
					continue
				}
				intersectInPlace(inter, pd)
			}
			if inter == nil {
				inter = map[string]bool{}
			}
			inter[l] = true
			if !setsEqual(inter, dom[l]) {
				dom[l] = inter
				changed = true
			}
		}
	}
	return dom
}

func copySet(s map[string]bool) map[string]bool {
	out := make(map[string]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func intersectInPlace(a, b map[string]bool) {
	for k := range a {
		if !b[k] {
			delete(a, k)
		}
	}
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func (g *cfg) dominates(dom map[string]map[string]bool, a, b string) bool {
	if a == b {
		return true
	}
	set, ok := dom[b]
	if !ok {
		return false
	}
	return set[a]
}
