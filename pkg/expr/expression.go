// Package expr implements the expression tree of the query engine: the
// two-phase analyze/eval protocol, every expression variant, the static
// analyzer, the optimizer rewrite and the dynamic check decorators.
//
// A tree is built once (by hand, or decoded from a plan file) and then driven
// through [Analyze] before any evaluation:
//
//	xc := expr.NewContext(expr.WithRegistry(fn.NewRegistry()))
//	root := expr.NewPath(expr.NewStep(dom.AxisChild, dom.NameTest{Kind: dom.ElementNode, Name: types.LocalName("a")}))
//	if err := expr.Analyze(xc, root); err != nil {
//	    return err
//	}
//	xc.Prepare(ctx, watchdog.New(0, 0))
//	seq, err := expr.Eval(xc, root, docs, nil)
//
// A compiled tree holds per-evaluation state (cached results, order by
// buffers, selector indexes) and must not be evaluated by two goroutines at
// once. ResetState(false) returns it to a clean runtime state;
// ResetState(true) additionally drops analysis results so the tree can be
// analyzed again.
package expr

import (
	"fmt"
	"strings"

	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// Analyzable is implemented by nodes taking part in static analysis.
type Analyzable interface {
	Analyze(info *AnalyzeInfo) error
}

// Evaluable is implemented by nodes that can be evaluated. If the node
// depends on the context item, the caller invokes Eval once per item of
// the context sequence with item set; otherwise once with item nil.
type Evaluable interface {
	Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error)
}

// Dumpable is implemented by nodes that can render themselves.
type Dumpable interface {
	Dump(d *Dumper)
}

// Expression is a node of the expression tree.
type Expression interface {
	Analyzable
	Evaluable
	Dumpable

	ID() int
	Location() types.Location
	SetLocation(loc types.Location)
	Parent() Expression

	ReturnsType() types.Type
	Cardinality() types.Cardinality
	Dependencies() types.Dependency

	// ResetState clears runtime caches; with full set it also clears
	// analysis results.
	ResetState(full bool)
	// Children returns the owned sub-expressions.
	Children() []Expression
}

// Base carries the bookkeeping shared by all expressions.
type Base struct {
	id     int
	loc    types.Location
	parent Expression
}

func (b *Base) ID() int                        { return b.id }
func (b *Base) Location() types.Location       { return b.loc }
func (b *Base) SetLocation(loc types.Location) { b.loc = loc }
func (b *Base) Parent() Expression             { return b.parent }

// init assigns the expression id on first analysis and records the parent.
func (b *Base) init(info *AnalyzeInfo) {
	if b.id == 0 {
		b.id = info.xc.nextExpressionID()
	}
	b.parent = info.Parent
}

// ReturnsType defaults to item().
func (b *Base) ReturnsType() types.Type { return types.Item }

// Cardinality defaults to zero or more.
func (b *Base) Cardinality() types.Cardinality { return types.ZeroOrMore }

// Dependencies defaults to the context set and item.
func (b *Base) Dependencies() types.Dependency { return types.DefaultDependencies }

// Flag is a bit of the analysis context.
type Flag int

const (
	InPredicate Flag = 1 << iota
	InWhereClause
	InNodeConstructor
	// SingleStepExecution marks subtrees evaluated item by item, such as
	// boolean predicates and inline function bodies.
	SingleStepExecution
	PositionalPredicate
	// DotTest marks the context item expression.
	DotTest
)

// AnalyzeInfo is threaded through the static pass. Each node receives its
// own copy; changes made for children do not leak to siblings.
type AnalyzeInfo struct {
	xc          *Context
	Parent      Expression
	Flags       Flag
	StaticType  types.Type
	ContextID   int
	ContextStep Expression
}

// NewAnalyzeInfo creates the root analysis context.
func NewAnalyzeInfo(xc *Context) *AnalyzeInfo {
	return &AnalyzeInfo{xc: xc, StaticType: types.Item, ContextID: noContextID}
}

// Context returns the query context being analyzed.
func (a *AnalyzeInfo) Context() *Context { return a.xc }

// Has reports whether f is set.
func (a *AnalyzeInfo) Has(f Flag) bool { return a.Flags&f != 0 }

// child returns a copy of a with parent set.
func (a *AnalyzeInfo) child(parent Expression) *AnalyzeInfo {
	c := *a
	c.Parent = parent
	return &c
}

// analyzeAll analyzes children in order under parent.
func analyzeAll(info *AnalyzeInfo, parent Expression, exprs ...Expression) error {
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if err := e.Analyze(info.child(parent)); err != nil {
			return err
		}
	}
	return nil
}

// Analyze runs the static analyzer over root.
func Analyze(xc *Context, root Expression) error {
	return root.Analyze(NewAnalyzeInfo(xc))
}

// Eval evaluates e, back-filling the location of any error it raises and
// reporting to the profiler.
func Eval(xc *Context, e Expression, seq value.Sequence, item value.Item) (value.Sequence, error) {
	prof := xc.profiler.IsEnabled()
	if prof {
		xc.profiler.Start(e.ID())
	}
	if xc.debug {
		xc.logger.Debug("evaluating expression", "kind", kindOf(e), "id", e.ID(), "location", e.Location())
	}
	res, err := e.Eval(xc, seq, item)
	if prof {
		xc.profiler.End(e.ID(), kindOf(e), Dump(e))
	}
	if err != nil {
		return nil, types.Locate(err, e.Location())
	}
	return res, nil
}

// evalOptional evaluates e and requires at most one item.
func evalOptional(xc *Context, e Expression, seq value.Sequence, item value.Item) (value.Item, error) {
	res, err := Eval(xc, e, seq, item)
	if err != nil {
		return nil, err
	}
	switch res.ItemCount() {
	case 0:
		return nil, nil
	case 1:
		return res.ItemAt(0), nil
	}
	return nil, types.Errorf(types.ErrType, "a sequence of more than one item is not allowed here: %s", Dump(e)).
		WithValue(value.Render(res))
}

func resetAll(full bool, exprs ...Expression) {
	for _, e := range exprs {
		if e != nil {
			e.ResetState(full)
		}
	}
}

func kindOf(e Expression) string {
	s := fmt.Sprintf("%T", e)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// depsOf unites the dependencies of the given expressions.
func depsOf(exprs ...Expression) types.Dependency {
	var d types.Dependency
	for _, e := range exprs {
		if e != nil {
			d |= e.Dependencies()
		}
	}
	return d
}

// Walk calls fn for e and every descendant in depth-first order until fn
// returns false.
func Walk(e Expression, fn func(Expression) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, c := range e.Children() {
		Walk(c, fn)
	}
}
