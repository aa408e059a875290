package expr

import (
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// ValueComparison compares two singletons with eq, ne, lt, le, gt or ge.
type ValueComparison struct {
	Base
	Op          value.CompOp
	Left, Right Expression
	// Collation is the collation URI; empty selects the default.
	Collation string
}

// NewValueComparison creates a value comparison.
func NewValueComparison(op value.CompOp, left, right Expression) *ValueComparison {
	return &ValueComparison{Op: op, Left: left, Right: right}
}

func (e *ValueComparison) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := analyzeAll(info, e, e.Left, e.Right); err != nil {
		return err
	}
	if e.Collation != "" {
		if _, err := info.xc.Collator(e.Collation); err != nil {
			return types.Locate(err, e.loc)
		}
	}
	return nil
}

func (e *ValueComparison) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	a, err := atomicOperand(xc, e.Left, seq, item)
	if err != nil || a == nil {
		return value.Empty, err
	}
	b, err := atomicOperand(xc, e.Right, seq, item)
	if err != nil || b == nil {
		return value.Empty, err
	}
	coll, err := xc.Collator(e.Collation)
	if err != nil {
		return nil, err
	}
	ok, err := value.CompareValues(e.Op, a, b, coll)
	if err != nil {
		return nil, types.Locate(err, e.loc)
	}
	return value.BoolSequence(ok), nil
}

// atomicOperand evaluates and atomizes an optional operand.
func atomicOperand(xc *Context, e Expression, seq value.Sequence, item value.Item) (value.AtomicValue, error) {
	it, err := evalOptional(xc, e, seq, item)
	if err != nil || it == nil {
		return nil, err
	}
	av, err := it.Atomize()
	if err != nil {
		return nil, types.Locate(err, e.Location())
	}
	return av, nil
}

func (e *ValueComparison) ReturnsType() types.Type        { return types.Boolean }
func (e *ValueComparison) Cardinality() types.Cardinality { return types.ZeroOrOne }
func (e *ValueComparison) Dependencies() types.Dependency { return depsOf(e.Left, e.Right) }
func (e *ValueComparison) ResetState(full bool)           { resetAll(full, e.Left, e.Right) }
func (e *ValueComparison) Children() []Expression         { return []Expression{e.Left, e.Right} }

func (e *ValueComparison) Dump(d *Dumper) {
	d.Expr(e.Left).Display(" " + e.Op.ValueName() + " ").Expr(e.Right)
}

// GeneralComparison is an existential comparison (=, !=, <, <=, >, >=)
// between two sequences.
type GeneralComparison struct {
	Base
	Op          value.CompOp
	Left, Right Expression
	Collation   string
}

// NewGeneralComparison creates a general comparison.
func NewGeneralComparison(op value.CompOp, left, right Expression) *GeneralComparison {
	return &GeneralComparison{Op: op, Left: left, Right: right}
}

func (e *GeneralComparison) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := analyzeAll(info, e, e.Left, e.Right); err != nil {
		return err
	}
	if e.Collation != "" {
		if _, err := info.xc.Collator(e.Collation); err != nil {
			return types.Locate(err, e.loc)
		}
	}
	return nil
}

func (e *GeneralComparison) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	l, err := e.atomized(xc, e.Left, seq, item)
	if err != nil {
		return nil, err
	}
	if l.IsEmpty() {
		return value.FalseSequence, nil
	}
	r, err := e.atomized(xc, e.Right, seq, item)
	if err != nil {
		return nil, err
	}
	coll, err := xc.Collator(e.Collation)
	if err != nil {
		return nil, err
	}
	for i := 0; i < l.ItemCount(); i++ {
		a := l.ItemAt(i).(value.AtomicValue)
		for j := 0; j < r.ItemCount(); j++ {
			ok, err := value.GeneralCompare(e.Op, a, r.ItemAt(j).(value.AtomicValue), coll)
			if err != nil {
				return nil, types.Locate(err, e.loc)
			}
			if ok {
				return value.TrueSequence, nil
			}
		}
	}
	return value.FalseSequence, nil
}

func (e *GeneralComparison) atomized(xc *Context, op Expression, seq value.Sequence, item value.Item) (value.Sequence, error) {
	r, err := Eval(xc, op, seq, item)
	if err != nil {
		return nil, err
	}
	a, err := value.Atomize(r)
	if err != nil {
		return nil, types.Locate(err, op.Location())
	}
	return a, nil
}

func (e *GeneralComparison) ReturnsType() types.Type        { return types.Boolean }
func (e *GeneralComparison) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *GeneralComparison) Dependencies() types.Dependency { return depsOf(e.Left, e.Right) }
func (e *GeneralComparison) ResetState(full bool)           { resetAll(full, e.Left, e.Right) }
func (e *GeneralComparison) Children() []Expression         { return []Expression{e.Left, e.Right} }

func (e *GeneralComparison) Dump(d *Dumper) {
	d.Expr(e.Left).Display(" " + e.Op.String() + " ").Expr(e.Right)
}

// NodeOp is a node comparison operator.
type NodeOp int

const (
	NodeIs NodeOp = iota
	NodeBefore
	NodeAfter
)

func (op NodeOp) String() string {
	switch op {
	case NodeBefore:
		return "<<"
	case NodeAfter:
		return ">>"
	default:
		return "is"
	}
}

// NodeComparison compares node identity or document order.
type NodeComparison struct {
	Base
	Op          NodeOp
	Left, Right Expression
}

// NewNodeComparison creates a node comparison.
func NewNodeComparison(op NodeOp, left, right Expression) *NodeComparison {
	return &NodeComparison{Op: op, Left: left, Right: right}
}

func (e *NodeComparison) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return analyzeAll(info, e, e.Left, e.Right)
}

func (e *NodeComparison) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	a, err := e.node(xc, e.Left, seq, item)
	if err != nil || a == nil {
		return value.Empty, err
	}
	b, err := e.node(xc, e.Right, seq, item)
	if err != nil || b == nil {
		return value.Empty, err
	}
	switch e.Op {
	case NodeBefore:
		return value.BoolSequence(a.CompareDocumentOrder(b) < 0), nil
	case NodeAfter:
		return value.BoolSequence(a.CompareDocumentOrder(b) > 0), nil
	}
	return value.BoolSequence(a.IsSameNode(b)), nil
}

func (e *NodeComparison) node(xc *Context, op Expression, seq value.Sequence, item value.Item) (value.NodeValue, error) {
	it, err := evalOptional(xc, op, seq, item)
	if err != nil || it == nil {
		return nil, err
	}
	n, ok := it.(value.NodeValue)
	if !ok {
		return nil, types.Errorf(types.ErrType, "operand of %s must be a node, got %s", e.Op, it.Type()).
			WithValue(value.RenderItem(it)).At(op.Location())
	}
	return n, nil
}

func (e *NodeComparison) ReturnsType() types.Type        { return types.Boolean }
func (e *NodeComparison) Cardinality() types.Cardinality { return types.ZeroOrOne }
func (e *NodeComparison) Dependencies() types.Dependency { return depsOf(e.Left, e.Right) }
func (e *NodeComparison) ResetState(full bool)           { resetAll(full, e.Left, e.Right) }
func (e *NodeComparison) Children() []Expression         { return []Expression{e.Left, e.Right} }

func (e *NodeComparison) Dump(d *Dumper) {
	d.Expr(e.Left).Display(" " + e.Op.String() + " ").Expr(e.Right)
}
