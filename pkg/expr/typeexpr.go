package expr

import (
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// castTarget validates the target of cast and castable.
func castTarget(t types.Type, loc types.Location) error {
	switch {
	case t == types.AnyAtomic || t == types.Numeric:
		return types.NewStaticError(types.ErrCastTargetAbstract, "cannot cast to abstract type "+t.Name()).At(loc)
	case !t.IsAtomic():
		return types.NewStaticError(types.ErrUnknownAtomicType, t.Name()+" is not an atomic type").At(loc)
	}
	return nil
}

// castOperand atomizes the operand of cast and castable. It returns nil
// for the empty sequence.
func castOperand(xc *Context, e Expression, seq value.Sequence, item value.Item) (value.AtomicValue, error) {
	r, err := Eval(xc, e, seq, item)
	if err != nil {
		return nil, err
	}
	a, err := value.Atomize(r)
	if err != nil {
		return nil, types.Locate(err, e.Location())
	}
	switch a.ItemCount() {
	case 0:
		return nil, nil
	case 1:
		return a.ItemAt(0).(value.AtomicValue), nil
	}
	return nil, types.NewError(types.ErrType, "the operand of a cast must not be a sequence of more than one item").
		WithValue(value.Render(a)).At(e.Location())
}

// CastExpression is "expr cast as T" or "expr cast as T?".
type CastExpression struct {
	Base
	Operand Expression
	Target  types.Type
	// Optional admits the empty sequence.
	Optional bool
}

// NewCast creates a cast.
func NewCast(operand Expression, target types.Type, optional bool) *CastExpression {
	return &CastExpression{Operand: operand, Target: target, Optional: optional}
}

func (e *CastExpression) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := castTarget(e.Target, e.loc); err != nil {
		return err
	}
	return e.Operand.Analyze(info.child(e))
}

func (e *CastExpression) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	v, err := castOperand(xc, e.Operand, seq, item)
	if err != nil {
		return nil, err
	}
	if v == nil {
		if e.Optional {
			return value.Empty, nil
		}
		return nil, types.NewError(types.ErrType, "cannot cast the empty sequence to "+e.Target.Name()).At(e.loc)
	}
	r, err := value.Cast(v, e.Target)
	if err != nil {
		return nil, types.Locate(err, e.loc)
	}
	return value.One(r), nil
}

func (e *CastExpression) ReturnsType() types.Type { return e.Target }

func (e *CastExpression) Cardinality() types.Cardinality {
	if e.Optional {
		return types.ZeroOrOne
	}
	return types.ExactlyOne
}

func (e *CastExpression) Dependencies() types.Dependency { return e.Operand.Dependencies() }
func (e *CastExpression) ResetState(full bool)           { e.Operand.ResetState(full) }
func (e *CastExpression) Children() []Expression         { return []Expression{e.Operand} }

func (e *CastExpression) Dump(d *Dumper) {
	d.Expr(e.Operand).Display(" cast as " + e.Target.Name())
	if e.Optional {
		d.Display("?")
	}
}

// CastableExpression is "expr castable as T".
type CastableExpression struct {
	Base
	Operand  Expression
	Target   types.Type
	Optional bool
}

// NewCastable creates a castable test.
func NewCastable(operand Expression, target types.Type, optional bool) *CastableExpression {
	return &CastableExpression{Operand: operand, Target: target, Optional: optional}
}

func (e *CastableExpression) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := castTarget(e.Target, e.loc); err != nil {
		return err
	}
	return e.Operand.Analyze(info.child(e))
}

func (e *CastableExpression) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	v, err := castOperand(xc, e.Operand, seq, item)
	if err != nil {
		if types.HasCode(err, types.ErrType) {
			return value.FalseSequence, nil
		}
		return nil, err
	}
	if v == nil {
		return value.BoolSequence(e.Optional), nil
	}
	return value.BoolSequence(value.Castable(v, e.Target)), nil
}

func (e *CastableExpression) ReturnsType() types.Type        { return types.Boolean }
func (e *CastableExpression) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *CastableExpression) Dependencies() types.Dependency { return e.Operand.Dependencies() }
func (e *CastableExpression) ResetState(full bool)           { e.Operand.ResetState(full) }
func (e *CastableExpression) Children() []Expression         { return []Expression{e.Operand} }

func (e *CastableExpression) Dump(d *Dumper) {
	d.Expr(e.Operand).Display(" castable as " + e.Target.Name())
	if e.Optional {
		d.Display("?")
	}
}

// matchesType reports whether seq is an instance of st.
func matchesType(seq value.Sequence, st types.SequenceType) bool {
	if !st.Cardinality.CheckCount(seq.ItemCount()) {
		return false
	}
	for i := 0; i < seq.ItemCount(); i++ {
		it := seq.ItemAt(i)
		if !it.Type().SubTypeOf(st.Type) {
			return false
		}
		if !st.NodeName.IsZero() {
			n, ok := it.(value.NodeValue)
			if !ok || !n.NodeName().Equals(st.NodeName) {
				return false
			}
		}
	}
	return true
}

// InstanceOf is "expr instance of T".
type InstanceOf struct {
	Base
	Operand Expression
	Type    types.SequenceType
}

// NewInstanceOf creates an instance of test.
func NewInstanceOf(operand Expression, st types.SequenceType) *InstanceOf {
	return &InstanceOf{Operand: operand, Type: st}
}

func (e *InstanceOf) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return e.Operand.Analyze(info.child(e))
}

func (e *InstanceOf) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	r, err := Eval(xc, e.Operand, seq, item)
	if err != nil {
		return nil, err
	}
	return value.BoolSequence(matchesType(r, e.Type)), nil
}

func (e *InstanceOf) ReturnsType() types.Type        { return types.Boolean }
func (e *InstanceOf) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *InstanceOf) Dependencies() types.Dependency { return e.Operand.Dependencies() }
func (e *InstanceOf) ResetState(full bool)           { e.Operand.ResetState(full) }
func (e *InstanceOf) Children() []Expression         { return []Expression{e.Operand} }

func (e *InstanceOf) Dump(d *Dumper) {
	d.Expr(e.Operand).Display(" instance of " + e.Type.String())
}

// TreatAs is "expr treat as T". It fails with XPDY0050 if the value does
// not match.
type TreatAs struct {
	Base
	Operand Expression
	Type    types.SequenceType
}

// NewTreatAs creates a treat expression.
func NewTreatAs(operand Expression, st types.SequenceType) *TreatAs {
	return &TreatAs{Operand: operand, Type: st}
}

func (e *TreatAs) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return e.Operand.Analyze(info.child(e))
}

func (e *TreatAs) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	r, err := Eval(xc, e.Operand, seq, item)
	if err != nil {
		return nil, err
	}
	if !matchesType(r, e.Type) {
		return nil, types.NewError(types.ErrTreatMismatch, "value does not match the required type "+e.Type.String()).
			WithValue(value.Render(r)).At(e.loc)
	}
	return r, nil
}

func (e *TreatAs) ReturnsType() types.Type        { return e.Type.Type }
func (e *TreatAs) Cardinality() types.Cardinality { return e.Type.Cardinality }
func (e *TreatAs) Dependencies() types.Dependency { return e.Operand.Dependencies() }
func (e *TreatAs) ResetState(full bool)           { e.Operand.ResetState(full) }
func (e *TreatAs) Children() []Expression         { return []Expression{e.Operand} }

func (e *TreatAs) Dump(d *Dumper) {
	d.Expr(e.Operand).Display(" treat as " + e.Type.String())
}
