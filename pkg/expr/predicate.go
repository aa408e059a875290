package expr

import (
	"math"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/profiler"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// PredicateMode is the strategy a predicate uses to filter its context.
type PredicateMode int

const (
	// ModeBoolean evaluates the inner expression once per context item.
	ModeBoolean PredicateMode = iota
	// ModePositional evaluates a numeric inner expression once and selects
	// the item at that position.
	ModePositional
	// ModeNode evaluates a node-returning inner expression once over the
	// whole context set and keeps the context nodes recorded in the
	// context chains of its result.
	ModeNode
)

func (m PredicateMode) String() string {
	switch m {
	case ModePositional:
		return "positional"
	case ModeNode:
		return "node"
	default:
		return "boolean"
	}
}

// Predicate is a bracketed filter "[expr]".
type Predicate struct {
	Base
	Inner Expression

	mode           PredicateMode
	outerContextID int
	cache          CachedResult
}

// NewPredicate creates a predicate.
func NewPredicate(inner Expression) *Predicate {
	return &Predicate{Inner: inner, outerContextID: noContextID}
}

// Mode returns the statically chosen execution mode.
func (e *Predicate) Mode() PredicateMode { return e.mode }

func (e *Predicate) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	e.outerContextID = info.ContextID
	ci := info.child(e)
	ci.Flags |= InPredicate
	ci.ContextID = e.id
	if err := e.Inner.Analyze(ci); err != nil {
		return err
	}
	deps := e.Inner.Dependencies()
	t := e.Inner.ReturnsType()
	independent := !deps.DependsOn(types.ContextItem | types.ContextPosition)
	switch {
	case t.IsNode() && independent:
		e.mode = ModeNode
	case t.IsNumeric() && independent && !deps.DependsOn(types.ContextSet) &&
		e.Inner.Cardinality().IsSuperCardinalityOrEqualOf(types.ExactlyOne):
		e.mode = ModePositional
	default:
		e.mode = ModeBoolean
	}
	if p := info.xc.profiler; p.Verbosity() >= profiler.Optimizations {
		p.Message(e.id, profiler.Optimizations, "predicate", "execution mode "+e.mode.String())
	}
	return nil
}

// isSetwise reports whether the predicate gives the same answer when
// applied to the union of several context groups as when applied to each
// group on its own.
func (e *Predicate) isSetwise() bool {
	switch e.mode {
	case ModeNode:
		return true
	case ModeBoolean:
		t := e.Inner.ReturnsType()
		return !e.Inner.Dependencies().DependsOn(types.ContextPosition) &&
			(t == types.Boolean || t.IsNode() || t == types.String)
	}
	return false
}

// Eval filters the context sequence, or the context item when one is set.
func (e *Predicate) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	ctx := seq
	if item != nil {
		ctx = value.One(item)
	}
	if ctx == nil {
		return value.Empty, nil
	}
	return e.Filter(xc, ctx, false)
}

// Filter applies the predicate to ctx. With reverse set positions are
// counted from the end, as they are on a reverse axis.
func (e *Predicate) Filter(xc *Context, ctx value.Sequence, reverse bool) (value.Sequence, error) {
	if ctx.IsEmpty() {
		return ctx, nil
	}
	mode, inner, err := e.recomputeMode(xc, ctx)
	if err != nil {
		return nil, err
	}
	switch mode {
	case ModeNode:
		return e.selectByNodeSet(xc, ctx, inner, reverse)
	case ModePositional:
		return e.selectByPosition(xc, ctx, inner, reverse)
	}
	if inner != nil {
		ok, err := value.EffectiveBooleanValue(inner)
		if err != nil {
			return nil, types.Locate(err, e.loc)
		}
		if ok {
			return ctx, nil
		}
		return emptyLike(ctx), nil
	}
	return e.evalBoolean(xc, ctx, reverse)
}

// recomputeMode adjusts the static mode to the actual context. Where the
// inner expression gives the same answer for every context item it is
// evaluated once here and returned. An expression reading the context set,
// such as a relative path, only qualifies on a persistent set when it
// returns nodes: their context chains then tell the matching items apart.
func (e *Predicate) recomputeMode(xc *Context, ctx value.Sequence) (PredicateMode, value.Sequence, error) {
	mode := e.mode
	deps := e.Inner.Dependencies()
	oneShot := !deps.DependsOn(types.ContextItem|types.ContextPosition|types.ContextSet)
	correlated := !deps.DependsOn(types.ContextItem|types.ContextPosition) &&
		deps.DependsOn(types.ContextSet) && e.Inner.ReturnsType().IsNode()
	var inner value.Sequence

	evalOnce := func() error {
		if r, ok := e.cache.Get(ctx, nil); ok {
			inner = r
			return nil
		}
		r, err := Eval(xc, e.Inner, ctx, nil)
		if err != nil {
			return err
		}
		if !deps.DependsOnVar() {
			e.cache.Put(ctx, nil, r)
		}
		inner = r
		return nil
	}

	switch {
	case !value.AllNodes(ctx):
		if mode == ModeNode {
			if e.Inner.ReturnsType().IsNumeric() {
				mode = ModePositional
			} else {
				mode = ModeBoolean
			}
		}
		if mode == ModeBoolean && oneShot {
			if err := evalOnce(); err != nil {
				return mode, nil, err
			}
			if isNumericSingleton(inner) {
				mode = ModePositional
			}
		}
	case !ctx.IsPersistentSet():
		if mode == ModeNode {
			mode = ModeBoolean
		}
		if mode == ModeBoolean && oneShot {
			if err := evalOnce(); err != nil {
				return mode, nil, err
			}
			if isNumericSingleton(inner) {
				mode = ModePositional
			}
		}
	default:
		if mode == ModeBoolean && (oneShot || correlated) {
			if err := evalOnce(); err != nil {
				return mode, nil, err
			}
			switch {
			case inner.IsPersistentSet() && !inner.IsEmpty() && deps.DependsOn(types.ContextSet):
				mode = ModeNode
			case isNumericSingleton(inner):
				mode = ModePositional
			case correlated && !inner.IsEmpty():
				// no chains to correlate with
				inner = nil
			}
		}
	}
	if mode == ModePositional && inner == nil {
		if !oneShot {
			return ModeBoolean, nil, nil
		}
		if err := evalOnce(); err != nil {
			return mode, nil, err
		}
	}
	return mode, inner, nil
}

func isNumericSingleton(seq value.Sequence) bool {
	return seq.HasOne() && seq.ItemAt(0).Type().IsNumeric()
}

// selectByNodeSet keeps the context nodes recorded under the predicate's
// id in the chains of the inner result. If the inner result does not carry
// the chains it falls back to boolean evaluation.
func (e *Predicate) selectByNodeSet(xc *Context, ctx value.Sequence, inner value.Sequence, reverse bool) (value.Sequence, error) {
	ctxSet, ok := ctx.(*dom.NodeSet)
	if !ok {
		return e.evalBoolean(xc, ctx, reverse)
	}
	if inner == nil {
		r, err := Eval(xc, e.Inner, ctxSet, nil)
		if err != nil {
			return nil, err
		}
		inner = r
	}
	res, ok := inner.(*dom.NodeSet)
	if !ok {
		if !value.AllNodes(inner) {
			return e.evalBoolean(xc, ctx, reverse)
		}
		if res, err := nodesOf(inner, e.loc); err == nil {
			return e.pickContexts(xc, ctxSet, res, reverse)
		}
		return e.evalBoolean(xc, ctx, reverse)
	}
	return e.pickContexts(xc, ctxSet, res, reverse)
}

func (e *Predicate) pickContexts(xc *Context, ctxSet, res *dom.NodeSet, reverse bool) (value.Sequence, error) {
	out := dom.EmptyNodeSet()
	for _, p := range res.Nodes() {
		cs := p.ContextNodes(e.id)
		if len(cs) == 0 {
			return e.evalBoolean(xc, ctxSet, reverse)
		}
		for _, c := range cs {
			if q, ok := ctxSet.Lookup(c); ok {
				out.Add(q)
			}
		}
	}
	return out, nil
}

// selectByPosition picks the item at the position given by inner.
func (e *Predicate) selectByPosition(_ *Context, ctx value.Sequence, inner value.Sequence, reverse bool) (value.Sequence, error) {
	if inner.IsEmpty() {
		return emptyLike(ctx), nil
	}
	if inner.HasMany() {
		return nil, types.NewError(types.ErrInvalidArgumentType,
			"a positional predicate requires a single numeric value").WithValue(value.Render(inner)).At(e.loc)
	}
	av, err := inner.ItemAt(0).Atomize()
	if err != nil {
		return nil, err
	}
	n, ok := av.(value.NumericValue)
	if !ok {
		b, err := value.EffectiveBooleanValue(inner)
		if err != nil {
			return nil, types.Locate(err, e.loc)
		}
		if b {
			return ctx, nil
		}
		return emptyLike(ctx), nil
	}
	pos, ok := position(n)
	count := ctx.ItemCount()
	if !ok || pos < 1 || pos > count {
		return emptyLike(ctx), nil
	}
	i := pos - 1
	if reverse {
		i = count - pos
	}
	return oneLike(ctx, i), nil
}

// position converts a numeric predicate value to a position. Non-integral
// values match no position.
func position(n value.NumericValue) (int, bool) {
	if n.IsNaN() {
		return 0, false
	}
	f := n.Float64()
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// evalBoolean evaluates the inner expression for every item with the
// focus set. A numeric result selects by position.
func (e *Predicate) evalBoolean(xc *Context, ctx value.Sequence, reverse bool) (value.Sequence, error) {
	ctxSet, persistent := ctx.(*dom.NodeSet)
	var nodes *dom.NodeSet
	var items *value.ValueSequence
	if persistent {
		nodes = dom.EmptyNodeSet()
	} else {
		items = value.NewValueSequence()
	}
	n := ctx.ItemCount()
	defer xc.restoreFocus(xc.focus)
	for i := 0; i < n; i++ {
		it := ctx.ItemAt(i)
		pos := i + 1
		if reverse {
			pos = n - i
		}
		xc.setFocus(it, pos, n)
		r, err := Eval(xc, e.Inner, ctx, it)
		if err != nil {
			return nil, err
		}
		keep := false
		if isNumericSingleton(r) {
			num, _ := r.ItemAt(0).(value.NumericValue)
			if num != nil {
				p, ok := position(num)
				keep = ok && p == pos
			}
		} else if keep, err = value.EffectiveBooleanValue(r); err != nil {
			return nil, types.Locate(err, e.loc)
		}
		if !keep {
			continue
		}
		if persistent {
			nodes.Add(ctxSet.Get(i))
		} else {
			items.Add(it)
		}
	}
	if persistent {
		return nodes, nil
	}
	return items, nil
}

// emptyLike returns an empty sequence of the same kind as seq.
func emptyLike(seq value.Sequence) value.Sequence {
	if _, ok := seq.(*dom.NodeSet); ok {
		return dom.EmptyNodeSet()
	}
	return value.Empty
}

// oneLike returns the i-th item of seq as a sequence of the same kind.
func oneLike(seq value.Sequence, i int) value.Sequence {
	if ns, ok := seq.(*dom.NodeSet); ok {
		return dom.NewNodeSet(ns.Get(i))
	}
	return value.One(seq.ItemAt(i))
}

func (e *Predicate) ReturnsType() types.Type        { return e.Inner.ReturnsType() }
func (e *Predicate) Cardinality() types.Cardinality { return e.Inner.Cardinality() }
func (e *Predicate) Dependencies() types.Dependency { return e.Inner.Dependencies() }
func (e *Predicate) Children() []Expression         { return []Expression{e.Inner} }
func (e *Predicate) Dump(d *Dumper)                 { d.Display("[").Expr(e.Inner).Display("]") }

func (e *Predicate) ResetState(full bool) {
	e.cache.Clear()
	e.Inner.ResetState(full)
	if full {
		e.mode = ModeBoolean
	}
}
