package expr

import (
	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/profiler"
)

// Optimize rewrites the analyzed tree below root in place and reports
// whether it changed anything. A changed tree has to be reset with
// ResetState(true) and analyzed again before it is evaluated.
//
// The only rewrite merges "descendant-or-self::node()/child::x" into one
// abbreviated "descendant::x" step. Positional predicates of the merged
// step still apply per parent. Subtrees wrapped in
// "(# exist:optimize enable=no #)" are left alone.
func Optimize(xc *Context, root Expression) bool {
	changed := false
	Walk(root, func(e Expression) bool {
		switch e := e.(type) {
		case *ExtensionExpression:
			return !e.disablesOptimizer()
		case *PathExpr:
			if mergeDescendantSteps(xc, e) {
				changed = true
			}
		}
		return true
	})
	return changed
}

func mergeDescendantSteps(xc *Context, p *PathExpr) bool {
	changed := false
	steps := p.Steps[:0]
	for i := 0; i < len(p.Steps); i++ {
		s := p.Steps[i]
		if i+1 < len(p.Steps) && isDescendantOrSelfNode(s) {
			if next, ok := p.Steps[i+1].(*LocationStep); ok && next.Axis == dom.AxisChild {
				merged := NewStep(dom.AxisDescendant, next.Test, next.Predicates...)
				merged.Abbreviated = true
				merged.SetLocation(next.Location())
				if xc.profiler.IsEnabled() {
					xc.profiler.Message(next.ID(), profiler.Optimizations, "OPTIMIZATION",
						"rewrote descendant-or-self::node()/"+Dump(next)+" to "+Dump(merged))
				}
				steps = append(steps, merged)
				i++
				changed = true
				continue
			}
		}
		steps = append(steps, s)
	}
	p.Steps = steps
	return changed
}

func isDescendantOrSelfNode(e Expression) bool {
	s, ok := e.(*LocationStep)
	if !ok || s.Axis != dom.AxisDescendantOrSelf || len(s.Predicates) > 0 {
		return false
	}
	_, ok = s.Test.(dom.AnyNode)
	return ok
}
