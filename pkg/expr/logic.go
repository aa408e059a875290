package expr

import (
	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// logicalOp holds what OpAnd and OpOr share: two operands and the analysis
// facts deciding whether the node set fast path applies.
type logicalOp struct {
	Base
	Left, Right Expression

	inPredicate bool
	contextID   int
}

func (e *logicalOp) analyze(self Expression, info *AnalyzeInfo) error {
	e.init(info)
	e.inPredicate = info.Has(InPredicate)
	e.contextID = info.ContextID
	return analyzeAll(info, self, e.Left, e.Right)
}

// setMode reports whether the operands can be combined as node sets:
// inside a predicate, both node-typed, evaluated over the whole context set.
func (e *logicalOp) setMode(seq value.Sequence, item value.Item) bool {
	if item != nil || !e.inPredicate || e.contextID == noContextID {
		return false
	}
	if _, ok := seq.(*dom.NodeSet); !ok {
		return false
	}
	for _, op := range []Expression{e.Left, e.Right} {
		d := op.Dependencies()
		if !op.ReturnsType().IsNode() || d.DependsOn(types.ContextItem|types.ContextPosition) || !d.DependsOn(types.ContextSet) {
			return false
		}
	}
	return true
}

// contextsOf evaluates op over ctx and returns the context nodes its result
// was reached from. ok is false if a result node carries no context.
func (e *logicalOp) contextsOf(xc *Context, op Expression, ctx *dom.NodeSet) (*dom.NodeSet, bool, error) {
	r, err := Eval(xc, op, ctx, nil)
	if err != nil {
		return nil, false, err
	}
	res, err := nodesOf(r, op.Location())
	if err != nil {
		return nil, false, err
	}
	out := dom.EmptyNodeSet()
	for _, p := range res.Nodes() {
		cs := p.ContextNodes(e.contextID)
		if len(cs) == 0 {
			return nil, false, nil
		}
		for _, c := range cs {
			if q, ok := ctx.Lookup(c); ok {
				out.Add(q)
			}
		}
	}
	return out, true, nil
}

// tag records every node of s as its own context under the predicate id so
// that the enclosing predicate selects it.
func (e *logicalOp) tag(xc *Context, s *dom.NodeSet) *dom.NodeSet {
	out := dom.EmptyNodeSet()
	for _, c := range s.Nodes() {
		out.Add(c.AddContext(xc.arena, e.contextID, c.WithoutContext()))
	}
	return out
}

// evalSet runs the node set strategy. combine merges the context sets of
// both operands; eachItem is the per-item fallback.
func (e *logicalOp) evalSet(xc *Context, ctx *dom.NodeSet, combine func(a, b *dom.NodeSet) *dom.NodeSet,
	eachItem func(value.Item) (bool, error)) (value.Sequence, error) {
	l, ok, err := e.contextsOf(xc, e.Left, ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		var r *dom.NodeSet
		if r, ok, err = e.contextsOf(xc, e.Right, ctx); err != nil {
			return nil, err
		}
		if ok {
			return e.tag(xc, combine(l, r)), nil
		}
	}
	out := dom.EmptyNodeSet()
	defer xc.restoreFocus(xc.focus)
	n := ctx.ItemCount()
	for i, p := range ctx.Nodes() {
		xc.setFocus(p, i+1, n)
		keep, err := eachItem(p)
		if err != nil {
			return nil, err
		}
		if keep {
			out.Add(p)
		}
	}
	return e.tag(xc, out), nil
}

func ebv(xc *Context, e Expression, seq value.Sequence, item value.Item) (bool, error) {
	r, err := Eval(xc, e, seq, item)
	if err != nil {
		return false, err
	}
	b, err := value.EffectiveBooleanValue(r)
	if err != nil {
		return false, types.Locate(err, e.Location())
	}
	return b, nil
}

func (e *logicalOp) ReturnsType() types.Type        { return types.Boolean }
func (e *logicalOp) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *logicalOp) Dependencies() types.Dependency { return depsOf(e.Left, e.Right) }
func (e *logicalOp) ResetState(full bool)           { resetAll(full, e.Left, e.Right) }
func (e *logicalOp) Children() []Expression         { return []Expression{e.Left, e.Right} }

// OpAnd is the boolean "and".
type OpAnd struct{ logicalOp }

// NewAnd creates an "and" expression.
func NewAnd(left, right Expression) *OpAnd {
	return &OpAnd{logicalOp{Left: left, Right: right, contextID: noContextID}}
}

func (e *OpAnd) Analyze(info *AnalyzeInfo) error { return e.analyze(e, info) }

func (e *OpAnd) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	if e.setMode(seq, item) {
		return e.evalSet(xc, seq.(*dom.NodeSet), (*dom.NodeSet).Intersection, func(it value.Item) (bool, error) {
			return e.both(xc, seq, it)
		})
	}
	ok, err := e.both(xc, seq, item)
	if err != nil {
		return nil, err
	}
	return value.BoolSequence(ok), nil
}

func (e *OpAnd) both(xc *Context, seq value.Sequence, item value.Item) (bool, error) {
	l, err := ebv(xc, e.Left, seq, item)
	if err != nil || !l {
		return false, err
	}
	return ebv(xc, e.Right, seq, item)
}

func (e *OpAnd) Dump(d *Dumper) { d.Expr(e.Left).Display(" and ").Expr(e.Right) }

// OpOr is the boolean "or".
type OpOr struct{ logicalOp }

// NewOr creates an "or" expression.
func NewOr(left, right Expression) *OpOr {
	return &OpOr{logicalOp{Left: left, Right: right, contextID: noContextID}}
}

func (e *OpOr) Analyze(info *AnalyzeInfo) error { return e.analyze(e, info) }

func (e *OpOr) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	if e.setMode(seq, item) {
		return e.evalSet(xc, seq.(*dom.NodeSet), (*dom.NodeSet).Union, func(it value.Item) (bool, error) {
			return e.either(xc, seq, it)
		})
	}
	ok, err := e.either(xc, seq, item)
	if err != nil {
		return nil, err
	}
	return value.BoolSequence(ok), nil
}

func (e *OpOr) either(xc *Context, seq value.Sequence, item value.Item) (bool, error) {
	l, err := ebv(xc, e.Left, seq, item)
	if err != nil || l {
		return l, err
	}
	return ebv(xc, e.Right, seq, item)
}

func (e *OpOr) Dump(d *Dumper) { d.Expr(e.Left).Display(" or ").Expr(e.Right) }

// IfExpression is "if (test) then a else b".
type IfExpression struct {
	Base
	Test, Then, Else Expression
}

// NewIf creates a conditional.
func NewIf(test, then, els Expression) *IfExpression {
	return &IfExpression{Test: test, Then: then, Else: els}
}

func (e *IfExpression) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return analyzeAll(info, e, e.Test, e.Then, e.Else)
}

func (e *IfExpression) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	ok, err := ebv(xc, e.Test, seq, item)
	if err != nil {
		return nil, err
	}
	if ok {
		return Eval(xc, e.Then, seq, item)
	}
	return Eval(xc, e.Else, seq, item)
}

func (e *IfExpression) ReturnsType() types.Type {
	return types.CommonSuperType(e.Then.ReturnsType(), e.Else.ReturnsType())
}

func (e *IfExpression) Cardinality() types.Cardinality {
	return e.Then.Cardinality().Union(e.Else.Cardinality())
}

func (e *IfExpression) Dependencies() types.Dependency { return depsOf(e.Test, e.Then, e.Else) }
func (e *IfExpression) ResetState(full bool)           { resetAll(full, e.Test, e.Then, e.Else) }
func (e *IfExpression) Children() []Expression         { return []Expression{e.Test, e.Then, e.Else} }

func (e *IfExpression) Dump(d *Dumper) {
	d.Display("if (").Expr(e.Test).Display(") then ").Expr(e.Then).Display(" else ").Expr(e.Else)
}
