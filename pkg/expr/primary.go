package expr

import (
	"sync"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// Literal is a constant atomic value.
type Literal struct {
	Base
	Value value.AtomicValue
}

// NewLiteral creates a literal.
func NewLiteral(v value.AtomicValue) *Literal {
	return &Literal{Value: v}
}

func (e *Literal) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return nil
}

func (e *Literal) Eval(*Context, value.Sequence, value.Item) (value.Sequence, error) {
	return value.One(e.Value), nil
}

func (e *Literal) ReturnsType() types.Type        { return e.Value.Type() }
func (e *Literal) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *Literal) Dependencies() types.Dependency { return types.NoDependency }
func (e *Literal) ResetState(bool)                {}
func (e *Literal) Children() []Expression         { return nil }
func (e *Literal) Dump(d *Dumper)                 { d.Display(value.RenderItem(e.Value)) }

// SequenceConstructor is the comma operator.
type SequenceConstructor struct {
	Base
	Items []Expression
}

// NewSequence creates a sequence constructor.
func NewSequence(items ...Expression) *SequenceConstructor {
	return &SequenceConstructor{Items: items}
}

func (e *SequenceConstructor) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return analyzeAll(info, e, e.Items...)
}

func (e *SequenceConstructor) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	out := value.NewValueSequence()
	for _, it := range e.Items {
		r, err := Eval(xc, it, seq, item)
		if err != nil {
			return nil, err
		}
		out.AddAll(r)
	}
	return out, nil
}

func (e *SequenceConstructor) ReturnsType() types.Type {
	t := types.EmptyType
	for _, it := range e.Items {
		t = types.CommonSuperType(t, it.ReturnsType())
	}
	return t
}

func (e *SequenceConstructor) Cardinality() types.Cardinality {
	c := types.EmptySequence
	for _, it := range e.Items {
		c = c.Sum(it.Cardinality())
	}
	return c
}

func (e *SequenceConstructor) Dependencies() types.Dependency { return depsOf(e.Items...) }
func (e *SequenceConstructor) ResetState(full bool)           { resetAll(full, e.Items...) }
func (e *SequenceConstructor) Children() []Expression         { return e.Items }

func (e *SequenceConstructor) Dump(d *Dumper) {
	d.Display("(").List(", ", e.Items...).Display(")")
}

// RangeExpression is "start to end".
type RangeExpression struct {
	Base
	Start, End Expression
}

// NewRange creates a range expression.
func NewRange(start, end Expression) *RangeExpression {
	return &RangeExpression{Start: start, End: end}
}

func (e *RangeExpression) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return analyzeAll(info, e, e.Start, e.End)
}

func (e *RangeExpression) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	lo, ok, err := e.bound(xc, e.Start, seq, item)
	if err != nil || !ok {
		return value.Empty, err
	}
	hi, ok, err := e.bound(xc, e.End, seq, item)
	if err != nil || !ok || lo > hi {
		return value.Empty, err
	}
	out := value.NewValueSequence()
	for i := lo; i <= hi; i++ {
		out.Add(value.IntegerValue(i))
	}
	return out, nil
}

func (e *RangeExpression) bound(xc *Context, b Expression, seq value.Sequence, item value.Item) (int64, bool, error) {
	it, err := evalOptional(xc, b, seq, item)
	if err != nil || it == nil {
		return 0, false, err
	}
	av, err := it.Atomize()
	if err != nil {
		return 0, false, err
	}
	if av.Type() == types.UntypedAtomic {
		if av, err = value.Cast(av, types.Integer); err != nil {
			return 0, false, err
		}
	}
	n, ok := av.(value.IntegerValue)
	if !ok {
		return 0, false, types.Errorf(types.ErrType, "range bounds must be xs:integer, got %s", av.Type()).
			WithValue(value.RenderItem(av))
	}
	return int64(n), true, nil
}

func (e *RangeExpression) ReturnsType() types.Type        { return types.Integer }
func (e *RangeExpression) Dependencies() types.Dependency { return depsOf(e.Start, e.End) }
func (e *RangeExpression) ResetState(full bool)           { resetAll(full, e.Start, e.End) }
func (e *RangeExpression) Children() []Expression         { return []Expression{e.Start, e.End} }

func (e *RangeExpression) Dump(d *Dumper) {
	d.Expr(e.Start).Display(" to ").Expr(e.End)
}

// ContextItem is ".".
type ContextItem struct {
	Base
	staticType types.Type
}

// NewContextItem creates a context item expression.
func NewContextItem() *ContextItem {
	return &ContextItem{staticType: types.Item}
}

func (e *ContextItem) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	e.staticType = info.StaticType
	return nil
}

func (e *ContextItem) Eval(_ *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	if item != nil {
		return value.One(item), nil
	}
	if seq == nil {
		return nil, types.NewError(types.ErrContextAbsent, "the context item is absent").At(e.loc)
	}
	return seq, nil
}

func (e *ContextItem) ReturnsType() types.Type        { return e.staticType }
func (e *ContextItem) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *ContextItem) Dependencies() types.Dependency { return types.ContextSet | types.ContextItem }
func (e *ContextItem) ResetState(bool)                {}
func (e *ContextItem) Children() []Expression         { return nil }
func (e *ContextItem) Dump(d *Dumper)                 { d.Display(".") }

// RootNode is the leading "/" of an absolute path. Without a node in focus
// it yields the roots of the statically known documents; the set is cached
// until the store reports a change.
type RootNode struct {
	Base

	mu       sync.Mutex
	docs     *dom.DocumentSet
	cached   *dom.NodeSet
	unlisten func()
}

// NewRootNode creates a root expression.
func NewRootNode() *RootNode {
	return &RootNode{}
}

func (e *RootNode) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return nil
}

func (e *RootNode) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	if p, ok := item.(dom.NodeProxy); ok {
		return dom.NewNodeSet(p.Doc.Root()), nil
	}
	if item == nil && seq != nil && !seq.IsEmpty() && value.AllNodes(seq) {
		return rootsOf(seq), nil
	}
	return e.staticRoots(xc)
}

// rootsOf returns the document nodes of the nodes in seq.
func rootsOf(seq value.Sequence) value.Sequence {
	ns := dom.EmptyNodeSet()
	var temp *value.ValueSequence
	for i := 0; i < seq.ItemCount(); i++ {
		p, ok := seq.ItemAt(i).(dom.NodeProxy)
		if !ok {
			continue
		}
		if p.Doc.Temporary {
			if temp == nil {
				temp = value.NewValueSequence()
			}
			temp.Add(p.Doc.Root())
			continue
		}
		ns.Add(p.Doc.Root())
	}
	if temp == nil {
		return ns
	}
	temp.AddAll(ns)
	temp.SortInDocumentOrder()
	return temp
}

func (e *RootNode) staticRoots(xc *Context) (value.Sequence, error) {
	ds := xc.StaticDocuments()
	e.mu.Lock()
	if e.cached != nil && e.docs.Equals(ds) {
		roots := e.cached
		e.mu.Unlock()
		return roots, nil
	}
	e.mu.Unlock()

	if store := xc.Store(); store != nil {
		unlock, err := store.LockDocuments(xc.GoContext(), ds, xc.LockTimeout())
		if err != nil {
			return nil, err
		}
		defer unlock()
		e.listen(store)
	}
	roots := ds.Roots()
	e.mu.Lock()
	e.docs, e.cached = ds, roots
	e.mu.Unlock()
	return roots, nil
}

func (e *RootNode) listen(store *dom.Store) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unlisten != nil {
		return
	}
	e.unlisten = store.AddListener(func(*dom.Document, dom.Event) {
		e.invalidate()
	})
}

// invalidate drops the cached roots. It is called from store goroutines.
func (e *RootNode) invalidate() {
	e.mu.Lock()
	e.docs, e.cached = nil, nil
	e.mu.Unlock()
}

func (e *RootNode) ResetState(full bool) {
	e.invalidate()
	if !full {
		return
	}
	e.mu.Lock()
	unlisten := e.unlisten
	e.unlisten = nil
	e.mu.Unlock()
	if unlisten != nil {
		unlisten()
	}
}

func (e *RootNode) ReturnsType() types.Type        { return types.Document }
func (e *RootNode) Dependencies() types.Dependency { return types.ContextSet }
func (e *RootNode) Children() []Expression         { return nil }
func (e *RootNode) Dump(d *Dumper)                 { d.Display("/") }

// VariableReference reads a variable.
type VariableReference struct {
	Base
	Name types.QName

	deps       types.Dependency
	staticType types.Type
	staticCard types.Cardinality
}

// NewVariableReference creates a reference to $name.
func NewVariableReference(name types.QName) *VariableReference {
	return &VariableReference{Name: name, deps: types.ContextVars, staticType: types.Item, staticCard: types.ZeroOrMore}
}

func (e *VariableReference) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	v, ok := info.xc.ResolveVariable(e.Name)
	if !ok {
		return types.NewStaticError(types.ErrUndeclaredName, "variable $"+e.Name.String()+" is not bound").At(e.loc)
	}
	if info.xc.isContextVariable(v) {
		e.deps = types.ContextVars
	} else {
		e.deps = types.LocalVars
	}
	e.staticType, e.staticCard = v.staticType, v.staticCard
	if v.Type != nil {
		e.staticType, e.staticCard = v.Type.Type, v.Type.Cardinality
	}
	return nil
}

func (e *VariableReference) Eval(xc *Context, _ value.Sequence, _ value.Item) (value.Sequence, error) {
	v, ok := xc.ResolveVariable(e.Name)
	if !ok {
		return nil, types.Errorf(types.ErrUndeclaredName, "variable $%s is not bound", e.Name).At(e.loc)
	}
	return v.Value(), nil
}

func (e *VariableReference) ReturnsType() types.Type        { return e.staticType }
func (e *VariableReference) Cardinality() types.Cardinality { return e.staticCard }
func (e *VariableReference) Dependencies() types.Dependency { return e.deps }
func (e *VariableReference) ResetState(bool)                {}
func (e *VariableReference) Children() []Expression         { return nil }
func (e *VariableReference) Dump(d *Dumper)                 { d.Display("$" + e.Name.String()) }
