package expr

import (
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// check is implemented by the decorators inserted by derivedCheck.
type check interface {
	Expression
	inner() Expression
}

// derivedCheck wraps e in the decorators needed to guarantee that its
// value matches st. Checks the static type of e already satisfies are left
// out. An expression that is already wrapped is returned unchanged so that
// re-analysis does not stack decorators.
func derivedCheck(info *AnalyzeInfo, parent Expression, e Expression, st types.SequenceType, what string) Expression {
	if _, ok := e.(check); ok {
		return e
	}
	out := e
	wrap := func(c check) {
		c.(interface{ init(*AnalyzeInfo) }).init(info.child(parent))
		out = c
	}
	if st.Type.IsAtomic() {
		if !out.ReturnsType().IsAtomic() {
			wrap(NewAtomize(out))
		}
		if st.Type != types.AnyAtomic && st.Type != types.UntypedAtomic {
			wrap(NewUntypedValueCheck(st.Type, out, what))
		}
	}
	if st.Type != types.Item && !out.ReturnsType().SubTypeOf(st.Type) {
		wrap(NewDynamicTypeCheck(st.Type, out, what))
	}
	if !st.NodeName.IsZero() {
		wrap(NewDynamicNameCheck(st.Type, st.NodeName, out, what))
	}
	if !st.Cardinality.IsSuperCardinalityOrEqualOf(e.Cardinality()) {
		wrap(NewDynamicCardinalityCheck(st.Cardinality, out, what))
	}
	return out
}

// coerce applies the checks of derivedCheck to a value at run time, for
// calls whose target is only known dynamically.
func coerce(seq value.Sequence, st types.SequenceType, what string, loc types.Location) (value.Sequence, error) {
	var err error
	if st.Type.IsAtomic() {
		if seq, err = value.Atomize(seq); err != nil {
			return nil, types.Locate(err, loc)
		}
		if st.Type != types.AnyAtomic && st.Type != types.UntypedAtomic {
			if seq, err = convertItems(seq, st.Type); err != nil {
				return nil, types.Locate(err, loc)
			}
		}
	}
	if err := checkItemType(seq, st.Type, what); err != nil {
		return nil, types.Locate(err, loc)
	}
	if !st.NodeName.IsZero() {
		if err := checkNames(seq, st.Type, st.NodeName, what); err != nil {
			return nil, types.Locate(err, loc)
		}
	}
	if err := checkCardinality(seq, st.Cardinality, what); err != nil {
		return nil, types.Locate(err, loc)
	}
	return seq, nil
}

// convertItems casts untyped atomic values to target and promotes numeric
// and URI values where the target allows it.
func convertItems(seq value.Sequence, target types.Type) (value.Sequence, error) {
	var out *value.ValueSequence
	for i := 0; i < seq.ItemCount(); i++ {
		it := seq.ItemAt(i)
		av, ok := it.(value.AtomicValue)
		if !ok {
			continue
		}
		conv, err := convertAtomic(av, target)
		if err != nil {
			return nil, err
		}
		if conv == av && out == nil {
			continue
		}
		if out == nil {
			out = value.NewValueSequence(value.Items(seq)[:i]...)
		}
		out.Add(conv)
	}
	if out == nil {
		return seq, nil
	}
	return out, nil
}

func convertAtomic(av value.AtomicValue, target types.Type) (value.AtomicValue, error) {
	t := av.Type()
	switch {
	case t == types.UntypedAtomic:
		if target == types.Numeric {
			return value.Cast(av, types.Double)
		}
		return value.Cast(av, target)
	case t.IsNumeric() && (target == types.Double || target == types.Float) && !t.SubTypeOf(target):
		if t == types.Double && target == types.Float {
			return av, nil
		}
		return value.Cast(av, target)
	case t == types.AnyURI && target == types.String:
		return value.NewString(av.String()), nil
	}
	return av, nil
}

func checkItemType(seq value.Sequence, required types.Type, what string) error {
	if required == types.Item {
		return nil
	}
	for i := 0; i < seq.ItemCount(); i++ {
		it := seq.ItemAt(i)
		if !it.Type().SubTypeOf(required) {
			return types.Errorf(types.ErrType, "%s: item type %s does not match required type %s",
				what, it.Type(), required).WithValue(value.RenderItem(it))
		}
	}
	return nil
}

func checkNames(seq value.Sequence, kind types.Type, name types.QName, what string) error {
	for i := 0; i < seq.ItemCount(); i++ {
		n, ok := seq.ItemAt(i).(value.NodeValue)
		if !ok || !n.NodeName().Equals(name) {
			return types.Errorf(types.ErrType, "%s: expected %s(%s)", what, kind.Name()[:len(kind.Name())-2], name).
				WithValue(value.RenderItem(seq.ItemAt(i)))
		}
	}
	return nil
}

func checkCardinality(seq value.Sequence, required types.Cardinality, what string) error {
	n := seq.ItemCount()
	if required.CheckCount(n) {
		return nil
	}
	return types.Errorf(types.ErrType, "%s: expected cardinality %s, got %d items",
		what, required.Description(), n).WithValue(value.Render(seq))
}

// decorator carries the parts shared by the check expressions.
type decorator struct {
	Base
	Inner Expression
}

func (d *decorator) inner() Expression              { return d.Inner }
func (d *decorator) ReturnsType() types.Type        { return d.Inner.ReturnsType() }
func (d *decorator) Cardinality() types.Cardinality { return d.Inner.Cardinality() }
func (d *decorator) Dependencies() types.Dependency { return d.Inner.Dependencies() }
func (d *decorator) ResetState(full bool)           { d.Inner.ResetState(full) }
func (d *decorator) Children() []Expression         { return []Expression{d.Inner} }
func (d *decorator) Dump(dm *Dumper)                { dm.Expr(d.Inner) }
func (d *decorator) analyze(self Expression, info *AnalyzeInfo) error {
	d.init(info)
	return d.Inner.Analyze(info.child(self))
}

// Atomize replaces nodes by their typed values.
type Atomize struct{ decorator }

// NewAtomize creates an atomization.
func NewAtomize(inner Expression) *Atomize {
	return &Atomize{decorator{Inner: inner}}
}

func (e *Atomize) Analyze(info *AnalyzeInfo) error { return e.analyze(e, info) }

func (e *Atomize) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	r, err := Eval(xc, e.Inner, seq, item)
	if err != nil {
		return nil, err
	}
	return value.Atomize(r)
}

func (e *Atomize) ReturnsType() types.Type {
	if t := e.Inner.ReturnsType(); t.IsAtomic() {
		return t
	}
	return types.AnyAtomic
}

// UntypedValueCheck converts untyped atomic values to Target and applies
// numeric and URI promotion.
type UntypedValueCheck struct {
	decorator
	Target types.Type
	What   string
}

// NewUntypedValueCheck creates a conversion to target.
func NewUntypedValueCheck(target types.Type, inner Expression, what string) *UntypedValueCheck {
	return &UntypedValueCheck{decorator: decorator{Inner: inner}, Target: target, What: what}
}

func (e *UntypedValueCheck) Analyze(info *AnalyzeInfo) error { return e.analyze(e, info) }

func (e *UntypedValueCheck) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	r, err := Eval(xc, e.Inner, seq, item)
	if err != nil {
		return nil, err
	}
	out, err := convertItems(r, e.Target)
	if err != nil {
		return nil, types.Locate(err, e.Inner.Location())
	}
	return out, nil
}

func (e *UntypedValueCheck) ReturnsType() types.Type {
	if t := e.Inner.ReturnsType(); t.SubTypeOf(e.Target) {
		return t
	}
	return e.Target
}

// DynamicTypeCheck fails with XPTY0004 if an item does not match Required.
type DynamicTypeCheck struct {
	decorator
	Required types.Type
	What     string
}

// NewDynamicTypeCheck creates an item type check.
func NewDynamicTypeCheck(required types.Type, inner Expression, what string) *DynamicTypeCheck {
	return &DynamicTypeCheck{decorator: decorator{Inner: inner}, Required: required, What: what}
}

func (e *DynamicTypeCheck) Analyze(info *AnalyzeInfo) error { return e.analyze(e, info) }

func (e *DynamicTypeCheck) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	r, err := Eval(xc, e.Inner, seq, item)
	if err != nil {
		return nil, err
	}
	if err := checkItemType(r, e.Required, e.What); err != nil {
		return nil, types.Locate(err, e.Inner.Location())
	}
	return r, nil
}

func (e *DynamicTypeCheck) ReturnsType() types.Type { return e.Required }

// DynamicNameCheck fails with XPTY0004 if a node is not named Name.
type DynamicNameCheck struct {
	decorator
	Kind types.Type
	Name types.QName
	What string
}

// NewDynamicNameCheck creates a node name check.
func NewDynamicNameCheck(kind types.Type, name types.QName, inner Expression, what string) *DynamicNameCheck {
	return &DynamicNameCheck{decorator: decorator{Inner: inner}, Kind: kind, Name: name, What: what}
}

func (e *DynamicNameCheck) Analyze(info *AnalyzeInfo) error { return e.analyze(e, info) }

func (e *DynamicNameCheck) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	r, err := Eval(xc, e.Inner, seq, item)
	if err != nil {
		return nil, err
	}
	if err := checkNames(r, e.Kind, e.Name, e.What); err != nil {
		return nil, types.Locate(err, e.Inner.Location())
	}
	return r, nil
}

// DynamicCardinalityCheck fails with XPTY0004 if the number of items is
// not admitted by Required.
type DynamicCardinalityCheck struct {
	decorator
	Required types.Cardinality
	What     string
}

// NewDynamicCardinalityCheck creates a cardinality check.
func NewDynamicCardinalityCheck(required types.Cardinality, inner Expression, what string) *DynamicCardinalityCheck {
	return &DynamicCardinalityCheck{decorator: decorator{Inner: inner}, Required: required, What: what}
}

func (e *DynamicCardinalityCheck) Analyze(info *AnalyzeInfo) error { return e.analyze(e, info) }

func (e *DynamicCardinalityCheck) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	r, err := Eval(xc, e.Inner, seq, item)
	if err != nil {
		return nil, err
	}
	if err := checkCardinality(r, e.Required, e.What+" ("+Dump(e.Inner)+")"); err != nil {
		return nil, types.Locate(err, e.Inner.Location())
	}
	return r, nil
}

func (e *DynamicCardinalityCheck) Cardinality() types.Cardinality { return e.Required }
