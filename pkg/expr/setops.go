package expr

import (
	"slices"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// SetOp is a node set combining operator.
type SetOp int

const (
	SetUnion SetOp = iota
	SetIntersect
	SetExcept
)

func (op SetOp) String() string {
	switch op {
	case SetIntersect:
		return "intersect"
	case SetExcept:
		return "except"
	default:
		return "union"
	}
}

// SetExpression combines two node sequences by node identity. The result
// is in document order without duplicates.
type SetExpression struct {
	Base
	Op          SetOp
	Left, Right Expression
}

// NewUnion creates "left | right".
func NewUnion(left, right Expression) *SetExpression {
	return &SetExpression{Op: SetUnion, Left: left, Right: right}
}

// NewIntersect creates "left intersect right".
func NewIntersect(left, right Expression) *SetExpression {
	return &SetExpression{Op: SetIntersect, Left: left, Right: right}
}

// NewExcept creates "left except right".
func NewExcept(left, right Expression) *SetExpression {
	return &SetExpression{Op: SetExcept, Left: left, Right: right}
}

func (e *SetExpression) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return analyzeAll(info, e, e.Left, e.Right)
}

func (e *SetExpression) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	l, err := Eval(xc, e.Left, seq, item)
	if err != nil {
		return nil, err
	}
	r, err := Eval(xc, e.Right, seq, item)
	if err != nil {
		return nil, err
	}
	if err := e.checkNodes(l, r, e.Left); err != nil {
		return nil, err
	}
	if err := e.checkNodes(r, l, e.Right); err != nil {
		return nil, err
	}
	switch {
	case e.Op == SetIntersect && (l.IsEmpty() || r.IsEmpty()):
		return dom.EmptyNodeSet(), nil
	case e.Op == SetExcept && l.IsEmpty():
		return dom.EmptyNodeSet(), nil
	}
	if ln, ok := l.(*dom.NodeSet); ok {
		if rn, ok := r.(*dom.NodeSet); ok {
			return e.combineSets(ln, rn), nil
		}
	}
	return e.combineItems(l, r), nil
}

// checkNodes fails if seq holds an atomic value. Against an empty other
// operand that cannot contribute to the result it passes.
func (e *SetExpression) checkNodes(seq, other value.Sequence, op Expression) error {
	if seq.IsEmpty() || value.AllNodes(seq) {
		return nil
	}
	if other.IsEmpty() && (e.Op == SetIntersect || e.Op == SetExcept && op == e.Right) {
		return nil
	}
	return types.Errorf(types.ErrType, "operands of %s must be node sequences", e.Op).
		WithValue(value.Render(seq)).At(op.Location())
}

func (e *SetExpression) combineSets(l, r *dom.NodeSet) value.Sequence {
	switch e.Op {
	case SetIntersect:
		return l.Intersection(r)
	case SetExcept:
		return l.Except(r)
	}
	return l.Union(r)
}

// combineItems handles operands holding constructed nodes: both sides are
// sorted into document order, then merged.
func (e *SetExpression) combineItems(l, r value.Sequence) value.Sequence {
	a, b := sortedNodes(l), sortedNodes(r)
	out := value.NewValueSequence()
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var c int
		switch {
		case i >= len(a):
			c = 1
		case j >= len(b):
			c = -1
		case a[i].IsSameNode(b[j]):
			c = 0
		default:
			c = a[i].CompareDocumentOrder(b[j])
		}
		switch {
		case c < 0:
			if e.Op != SetIntersect {
				out.Add(a[i])
			}
			i++
		case c > 0:
			if e.Op == SetUnion {
				out.Add(b[j])
			}
			j++
		default:
			if e.Op != SetExcept {
				out.Add(a[i])
			}
			i++
			j++
		}
	}
	return out
}

func sortedNodes(seq value.Sequence) []value.NodeValue {
	out := make([]value.NodeValue, 0, seq.ItemCount())
	for i := 0; i < seq.ItemCount(); i++ {
		out = append(out, seq.ItemAt(i).(value.NodeValue))
	}
	slices.SortStableFunc(out, func(a, b value.NodeValue) int { return a.CompareDocumentOrder(b) })
	return slices.CompactFunc(out, func(a, b value.NodeValue) bool { return a.IsSameNode(b) })
}

func (e *SetExpression) ReturnsType() types.Type {
	return types.CommonSuperType(e.Left.ReturnsType(), e.Right.ReturnsType())
}

func (e *SetExpression) Dependencies() types.Dependency { return depsOf(e.Left, e.Right) }
func (e *SetExpression) ResetState(full bool)           { resetAll(full, e.Left, e.Right) }
func (e *SetExpression) Children() []Expression         { return []Expression{e.Left, e.Right} }

func (e *SetExpression) Dump(d *Dumper) {
	op := " " + e.Op.String() + " "
	if e.Op == SetUnion {
		op = " | "
	}
	d.Expr(e.Left).Display(op).Expr(e.Right)
}
