package expr

import (
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// OpNumeric is a binary arithmetic operator.
type OpNumeric struct {
	Base
	Op          value.ArithOp
	Left, Right Expression
}

// NewArith creates an arithmetic expression.
func NewArith(op value.ArithOp, left, right Expression) *OpNumeric {
	return &OpNumeric{Op: op, Left: left, Right: right}
}

func (e *OpNumeric) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return analyzeAll(info, e, e.Left, e.Right)
}

func (e *OpNumeric) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	a, err := numericOperand(xc, e.Left, seq, item)
	if err != nil || a == nil {
		return value.Empty, err
	}
	b, err := numericOperand(xc, e.Right, seq, item)
	if err != nil || b == nil {
		return value.Empty, err
	}
	r, err := value.Arithmetic(xc.decimal, e.Op, a, b)
	if err != nil {
		return nil, types.Locate(err, e.loc)
	}
	return value.One(r), nil
}

// numericOperand evaluates an arithmetic operand: atomized, untyped values
// cast to xs:double. It returns nil for the empty sequence.
func numericOperand(xc *Context, e Expression, seq value.Sequence, item value.Item) (value.NumericValue, error) {
	it, err := evalOptional(xc, e, seq, item)
	if err != nil || it == nil {
		return nil, err
	}
	av, err := it.Atomize()
	if err != nil {
		return nil, err
	}
	if av.Type() == types.UntypedAtomic {
		if av, err = value.Cast(av, types.Double); err != nil {
			return nil, types.Locate(err, e.Location())
		}
	}
	n, ok := av.(value.NumericValue)
	if !ok {
		return nil, types.Errorf(types.ErrType, "arithmetic operand must be numeric, got %s", av.Type()).
			WithValue(value.RenderItem(av)).At(e.Location())
	}
	return n, nil
}

func (e *OpNumeric) ReturnsType() types.Type {
	l, r := e.Left.ReturnsType(), e.Right.ReturnsType()
	if !l.IsNumeric() || !r.IsNumeric() {
		return types.Numeric
	}
	if e.Op == value.OpIDiv {
		return types.Integer
	}
	t := types.CommonSuperType(l, r)
	if e.Op == value.OpDiv && t == types.Integer {
		return types.Decimal
	}
	return t
}

func (e *OpNumeric) Cardinality() types.Cardinality {
	if e.Left.Cardinality() == types.ExactlyOne && e.Right.Cardinality() == types.ExactlyOne {
		return types.ExactlyOne
	}
	return types.ZeroOrOne
}

func (e *OpNumeric) Dependencies() types.Dependency { return depsOf(e.Left, e.Right) }
func (e *OpNumeric) ResetState(full bool)           { resetAll(full, e.Left, e.Right) }
func (e *OpNumeric) Children() []Expression         { return []Expression{e.Left, e.Right} }

func (e *OpNumeric) Dump(d *Dumper) {
	d.Expr(e.Left).Display(" " + e.Op.String() + " ").Expr(e.Right)
}

// UnaryMinus negates its operand.
type UnaryMinus struct {
	Base
	Operand Expression
}

// NewUnaryMinus creates a negation.
func NewUnaryMinus(operand Expression) *UnaryMinus {
	return &UnaryMinus{Operand: operand}
}

func (e *UnaryMinus) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return analyzeAll(info, e, e.Operand)
}

func (e *UnaryMinus) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	n, err := numericOperand(xc, e.Operand, seq, item)
	if err != nil || n == nil {
		return value.Empty, err
	}
	return value.One(n.Negate()), nil
}

func (e *UnaryMinus) ReturnsType() types.Type {
	if t := e.Operand.ReturnsType(); t.IsNumeric() {
		return t
	}
	return types.Numeric
}

func (e *UnaryMinus) Cardinality() types.Cardinality { return types.ZeroOrOne }
func (e *UnaryMinus) Dependencies() types.Dependency { return e.Operand.Dependencies() }
func (e *UnaryMinus) ResetState(full bool)           { e.Operand.ResetState(full) }
func (e *UnaryMinus) Children() []Expression         { return []Expression{e.Operand} }
func (e *UnaryMinus) Dump(d *Dumper)                 { d.Display("-").Expr(e.Operand) }
