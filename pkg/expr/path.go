package expr

import (
	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// CachedResult memoizes one evaluation. An entry is valid only for the
// same context sequence, unchanged since it was stored, and an absent
// context item.
type CachedResult struct {
	seq    value.Sequence
	state  int
	result value.Sequence
}

// Get returns the memoized result for seq and item.
func (c *CachedResult) Get(seq value.Sequence, item value.Item) (value.Sequence, bool) {
	if c.result == nil || item != nil || seq == nil || !seq.IsCacheable() {
		return nil, false
	}
	if !sameSequence(c.seq, seq) || seq.HasChanged(c.state) {
		return nil, false
	}
	return c.result, true
}

// Put memoizes result when seq allows it.
func (c *CachedResult) Put(seq value.Sequence, item value.Item, result value.Sequence) {
	if item != nil || seq == nil || !seq.IsCacheable() {
		return
	}
	c.seq, c.state, c.result = seq, seq.State(), result
}

// Clear drops the entry.
func (c *CachedResult) Clear() {
	c.seq, c.state, c.result = nil, 0, nil
}

func sameSequence(a, b value.Sequence) bool {
	if a == nil || b == nil {
		return false
	}
	if na, ok := a.(*dom.NodeSet); ok {
		nb, ok := b.(*dom.NodeSet)
		return ok && na == nb
	}
	return a.IsEmpty() && b.IsEmpty()
}

// collector merges partial results of per-item evaluation. Node sets are
// united as long as every part is one.
type collector struct {
	nodes *dom.NodeSet
	items *value.ValueSequence
}

func (c *collector) add(seq value.Sequence) {
	if seq == nil || seq.IsEmpty() {
		return
	}
	if ns, ok := seq.(*dom.NodeSet); ok && c.items == nil {
		if c.nodes == nil {
			c.nodes = dom.EmptyNodeSet()
		}
		c.nodes.AddAll(ns)
		return
	}
	if c.items == nil {
		c.items = value.NewValueSequence()
		if c.nodes != nil {
			c.items.AddAll(c.nodes)
			c.nodes = nil
		}
	}
	c.items.AddAll(seq)
}

func (c *collector) result() value.Sequence {
	switch {
	case c.nodes != nil:
		return c.nodes
	case c.items != nil:
		return c.items
	}
	return value.Empty
}

// nodesOf returns ctx as a node set, failing with XPTY0020 if it holds an
// atomic value.
func nodesOf(ctx value.Sequence, loc types.Location) (*dom.NodeSet, error) {
	if ns, ok := ctx.(*dom.NodeSet); ok {
		return ns, nil
	}
	out := dom.EmptyNodeSet()
	for i := 0; i < ctx.ItemCount(); i++ {
		p, ok := ctx.ItemAt(i).(dom.NodeProxy)
		if !ok {
			return nil, types.Errorf(types.ErrContextItemNotNode,
				"cannot select nodes from a context item of type %s", ctx.ItemAt(i).Type()).
				WithValue(value.RenderItem(ctx.ItemAt(i))).At(loc)
		}
		out.Add(p)
	}
	return out, nil
}

// PathExpr is a sequence of steps separated by "/".
type PathExpr struct {
	Base
	Steps []Expression
}

// NewPath creates a path expression.
func NewPath(steps ...Expression) *PathExpr {
	return &PathExpr{Steps: steps}
}

// Add appends a step.
func (e *PathExpr) Add(step Expression) { e.Steps = append(e.Steps, step) }

func (e *PathExpr) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	for i, step := range e.Steps {
		ci := info.child(e)
		if i > 0 {
			prev := e.Steps[i-1]
			ci.Flags &^= InPredicate
			if !info.Has(InWhereClause) {
				ci.ContextID = noContextID
			}
			ci.ContextStep = prev
			ci.StaticType = prev.ReturnsType()
		}
		if err := step.Analyze(ci); err != nil {
			return err
		}
	}
	return nil
}

func (e *PathExpr) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	if len(e.Steps) == 0 {
		return value.Empty, nil
	}
	ctx := seq
	if item != nil {
		ctx = value.One(item)
	}
	var result value.Sequence
	for i, step := range e.Steps {
		if err := xc.Proceed(step.Location()); err != nil {
			return nil, err
		}
		if i > 0 && !value.AllNodes(ctx) {
			return nil, types.NewError(types.ErrPathStepNotNode,
				"the result of a path step other than the last must be a sequence of nodes").
				WithValue(value.Render(ctx)).At(step.Location())
		}
		var err error
		if ctx != nil && !ctx.IsEmpty() && e.perItem(step, ctx) {
			result, err = evalPerItem(xc, step, ctx)
		} else {
			result, err = Eval(xc, step, ctx, nil)
		}
		if err != nil {
			return nil, err
		}
		if result.IsEmpty() {
			return value.Empty, nil
		}
		ctx = result
	}
	if len(e.Steps) > 1 {
		return documentOrder(result, e.Location())
	}
	return result, nil
}

// perItem reports whether step has to be evaluated once per context item.
func (e *PathExpr) perItem(step Expression, ctx value.Sequence) bool {
	if step.Dependencies().DependsOn(types.ContextItem | types.ContextPosition) {
		return true
	}
	return !ctx.IsPersistentSet() && value.AllNodes(ctx)
}

// evalPerItem evaluates e for every item of ctx with the focus set.
func evalPerItem(xc *Context, e Expression, ctx value.Sequence) (value.Sequence, error) {
	var c collector
	n := ctx.ItemCount()
	defer xc.restoreFocus(xc.focus)
	for i := 0; i < n; i++ {
		it := ctx.ItemAt(i)
		xc.setFocus(it, i+1, n)
		r, err := Eval(xc, e, ctx, it)
		if err != nil {
			return nil, err
		}
		c.add(r)
	}
	return c.result(), nil
}

// documentOrder sorts a path result and removes duplicate nodes. A result
// mixing nodes and atomic values fails with XPTY0018.
func documentOrder(seq value.Sequence, loc types.Location) (value.Sequence, error) {
	if seq.IsPersistentSet() {
		return seq, nil
	}
	nodes, atoms := 0, 0
	for i := 0; i < seq.ItemCount(); i++ {
		if value.IsNode(seq.ItemAt(i)) {
			nodes++
		} else {
			atoms++
		}
	}
	if nodes > 0 && atoms > 0 {
		return nil, types.NewError(types.ErrMixedPathResult,
			"the result of the last step in a path expression contains both nodes and atomic values").At(loc)
	}
	if atoms > 0 {
		return seq, nil
	}
	out := value.NewValueSequence(value.Items(seq)...)
	out.SortInDocumentOrder()
	return out, nil
}

func (e *PathExpr) ReturnsType() types.Type {
	if len(e.Steps) == 0 {
		return types.EmptyType
	}
	return e.Steps[len(e.Steps)-1].ReturnsType()
}

func (e *PathExpr) Cardinality() types.Cardinality {
	if len(e.Steps) == 1 {
		return e.Steps[0].Cardinality()
	}
	return types.ZeroOrMore
}

func (e *PathExpr) Dependencies() types.Dependency {
	if len(e.Steps) == 0 {
		return types.NoDependency
	}
	d := e.Steps[0].Dependencies()
	for _, s := range e.Steps[1:] {
		d |= s.Dependencies() & types.Vars
	}
	return d
}

func (e *PathExpr) ResetState(full bool)   { resetAll(full, e.Steps...) }
func (e *PathExpr) Children() []Expression { return e.Steps }

func (e *PathExpr) Dump(d *Dumper) {
	for i, s := range e.Steps {
		if _, root := s.(*RootNode); root {
			if len(e.Steps) == 1 {
				d.Display("/")
			}
			continue
		}
		if i > 0 {
			d.Display("/")
		}
		d.Expr(s)
	}
}

// LocationStep navigates an axis from the context nodes and filters the
// result by a node test and predicates.
type LocationStep struct {
	Base
	Axis       dom.Axis
	Test       dom.NodeTest
	Predicates []*Predicate
	// Abbreviated marks a descendant step written as "//": positional
	// predicates then apply per parent.
	Abbreviated bool

	contextID   int
	inPredicate bool
	first       bool
	cache       CachedResult
}

// NewStep creates a location step.
func NewStep(axis dom.Axis, test dom.NodeTest, preds ...*Predicate) *LocationStep {
	return &LocationStep{Axis: axis, Test: test, Predicates: preds, contextID: noContextID}
}

// AddPredicate appends a predicate.
func (e *LocationStep) AddPredicate(p *Predicate) { e.Predicates = append(e.Predicates, p) }

func (e *LocationStep) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	e.inPredicate = info.Has(InPredicate)
	e.contextID = info.ContextID
	e.first = true
	if p, ok := info.Parent.(*PathExpr); ok && len(p.Steps) > 0 {
		e.first = p.Steps[0] == Expression(e)
	}
	for _, p := range e.Predicates {
		ci := info.child(e)
		ci.ContextStep = e
		ci.StaticType = e.ReturnsType()
		if err := p.Analyze(ci); err != nil {
			return err
		}
	}
	return nil
}

func (e *LocationStep) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	ctx := seq
	if item != nil {
		ctx = value.One(item)
	}
	if ctx == nil {
		return nil, types.NewError(types.ErrContextAbsent, "the context item for axis step "+Dump(e)+" is absent").At(e.loc)
	}
	if ctx.IsEmpty() {
		return dom.EmptyNodeSet(), nil
	}
	ctxSet, err := nodesOf(ctx, e.loc)
	if err != nil {
		return nil, err
	}
	if len(e.Predicates) > 0 && !e.setwise() {
		return e.evalGrouped(xc, ctxSet)
	}
	raw, ok := e.cache.Get(ctx, item)
	if !ok {
		raw = e.navigate(xc, ctxSet)
		e.cache.Put(ctx, item, raw)
	}
	return e.applyPredicates(xc, raw)
}

// navigate selects the nodes of the step from ctxSet. Named element steps
// along the child and descendant axes take their candidates from the name
// index and keep those the axis selector links to a context node.
func (e *LocationStep) navigate(xc *Context, ctxSet *dom.NodeSet) *dom.NodeSet {
	switch e.Axis {
	case dom.AxisChild, dom.AxisDescendant, dom.AxisDescendantOrSelf:
		if cands, ok := ctxSet.DocumentSet().ElementsByName(e.Test); ok {
			return dom.Filter(cands, dom.SelectorFor(e.Axis, ctxSet, xc.arena, e.contextID))
		}
	}
	return ctxSet.Navigate(xc.arena, e.Axis, e.Test, e.contextID)
}

// setwise reports whether all predicates can be applied to the combined
// axis result instead of per context node.
func (e *LocationStep) setwise() bool {
	for _, p := range e.Predicates {
		if !p.isSetwise() {
			return false
		}
	}
	return true
}

func (e *LocationStep) applyPredicates(xc *Context, seq value.Sequence) (value.Sequence, error) {
	var err error
	for _, p := range e.Predicates {
		if seq.IsEmpty() {
			break
		}
		if seq, err = p.Filter(xc, seq, e.Axis.IsReverse()); err != nil {
			return nil, err
		}
	}
	return seq, nil
}

// evalGrouped applies the predicates separately to the candidates of every
// context node, or of every parent for abbreviated descendant steps.
func (e *LocationStep) evalGrouped(xc *Context, ctxSet *dom.NodeSet) (value.Sequence, error) {
	var c collector
	for _, g := range e.groups(xc, ctxSet) {
		if err := xc.Proceed(e.loc); err != nil {
			return nil, err
		}
		r, err := e.applyPredicates(xc, g)
		if err != nil {
			return nil, err
		}
		c.add(r)
	}
	if c.nodes == nil && c.items == nil {
		return dom.EmptyNodeSet(), nil
	}
	return c.result(), nil
}

func (e *LocationStep) groups(xc *Context, ctxSet *dom.NodeSet) []*dom.NodeSet {
	var out []*dom.NodeSet
	if e.Abbreviated && (e.Axis == dom.AxisDescendant || e.Axis == dom.AxisDescendantOrSelf) {
		type parentKey struct {
			doc   *dom.Document
			index int32
		}
		byParent := make(map[parentKey]*dom.NodeSet)
		for _, p := range ctxSet.Navigate(xc.arena, e.Axis, e.Test, e.contextID).Nodes() {
			k := parentKey{doc: p.Doc, index: -1}
			if par, ok := p.Parent(); ok {
				k.index = par.Index
			}
			g, ok := byParent[k]
			if !ok {
				g = dom.EmptyNodeSet()
				byParent[k] = g
				out = append(out, g)
			}
			g.Add(p)
		}
		return out
	}
	for _, c := range ctxSet.Nodes() {
		g := dom.EmptyNodeSet()
		dom.Select(xc.arena, c, e.Axis, e.Test, e.contextID, func(p dom.NodeProxy) bool {
			g.Add(p)
			return true
		})
		if !g.IsEmpty() {
			out = append(out, g)
		}
	}
	return out
}

func (e *LocationStep) ReturnsType() types.Type {
	switch t := e.Test.(type) {
	case dom.NameTest:
		return t.Kind.Type()
	case dom.KindTest:
		return t.Kind.Type()
	}
	if e.Axis == dom.AxisAttribute {
		return types.Attribute
	}
	return types.Node
}

func (e *LocationStep) Cardinality() types.Cardinality {
	switch e.Axis {
	case dom.AxisSelf, dom.AxisParent:
		return types.ZeroOrOne
	}
	return types.ZeroOrMore
}

func (e *LocationStep) Dependencies() types.Dependency {
	d := types.ContextSet
	if !e.inPredicate && (e.Axis == dom.AxisSelf || e.first) {
		d |= types.ContextItem
	}
	for _, p := range e.Predicates {
		d |= p.Dependencies()
	}
	return d
}

func (e *LocationStep) ResetState(full bool) {
	e.cache.Clear()
	for _, p := range e.Predicates {
		p.ResetState(full)
	}
}

func (e *LocationStep) Children() []Expression {
	out := make([]Expression, len(e.Predicates))
	for i, p := range e.Predicates {
		out[i] = p
	}
	return out
}

func (e *LocationStep) Dump(d *Dumper) {
	switch {
	case e.Abbreviated:
		d.Display("/")
		if e.Axis != dom.AxisDescendant {
			d.Display(e.Axis.String()).Display("::")
		}
	case e.Axis == dom.AxisAttribute:
		if _, ok := e.Test.(dom.NameTest); !ok {
			d.Display("attribute::")
		}
	default:
		d.Display(e.Axis.String()).Display("::")
	}
	d.Display(e.Test.String())
	for _, p := range e.Predicates {
		d.Expr(p)
	}
}

// FilterExpr applies predicates to the result of a primary expression.
type FilterExpr struct {
	Base
	Primary    Expression
	Predicates []*Predicate
}

// NewFilter creates a filter expression.
func NewFilter(primary Expression, preds ...*Predicate) *FilterExpr {
	return &FilterExpr{Primary: primary, Predicates: preds}
}

func (e *FilterExpr) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := analyzeAll(info, e, e.Primary); err != nil {
		return err
	}
	for _, p := range e.Predicates {
		ci := info.child(e)
		ci.ContextStep = nil
		ci.StaticType = e.Primary.ReturnsType()
		if err := p.Analyze(ci); err != nil {
			return err
		}
	}
	return nil
}

func (e *FilterExpr) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	res, err := Eval(xc, e.Primary, seq, item)
	if err != nil {
		return nil, err
	}
	for _, p := range e.Predicates {
		if res.IsEmpty() {
			break
		}
		if res, err = p.Filter(xc, res, false); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (e *FilterExpr) ReturnsType() types.Type { return e.Primary.ReturnsType() }

func (e *FilterExpr) Cardinality() types.Cardinality {
	c := e.Primary.Cardinality()
	if c.AtLeastOne() {
		return c | types.EmptySequence
	}
	return c
}

func (e *FilterExpr) Dependencies() types.Dependency {
	d := e.Primary.Dependencies()
	for _, p := range e.Predicates {
		d |= p.Dependencies() & types.Vars
	}
	return d
}

func (e *FilterExpr) ResetState(full bool) {
	e.Primary.ResetState(full)
	for _, p := range e.Predicates {
		p.ResetState(full)
	}
}

func (e *FilterExpr) Children() []Expression {
	out := []Expression{e.Primary}
	for _, p := range e.Predicates {
		out = append(out, p)
	}
	return out
}

func (e *FilterExpr) Dump(d *Dumper) {
	d.Expr(e.Primary)
	for _, p := range e.Predicates {
		d.Expr(p)
	}
}
