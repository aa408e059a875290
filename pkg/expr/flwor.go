package expr

import (
	"slices"
	"strings"

	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// Clause is a FLWOR clause. Clauses form a chain through ReturnExpr; the
// first clause of a chain has no previous clause and drives PostEval on
// every clause once its loop has finished.
type Clause interface {
	Expression
	PreviousClause() Clause
	ReturnExpr() Expression
	// PostEval post-processes the collected result, e.g. sorting it.
	PostEval(xc *Context, seq value.Sequence) (value.Sequence, error)

	setPrevious(c Clause)
	// boundVariables lists the variables the clause binds.
	boundVariables() []types.QName
}

// buffered is implemented by clauses that accumulate tuples until PostEval.
type buffered interface {
	takeBuffer() any
	putBuffer(b any)
}

type clauseBase struct {
	Base
	Return   Expression
	previous Clause
}

func (c *clauseBase) PreviousClause() Clause                                          { return c.previous }
func (c *clauseBase) ReturnExpr() Expression                                          { return c.Return }
func (c *clauseBase) setPrevious(p Clause)                                            { c.previous = p }
func (c *clauseBase) PostEval(_ *Context, seq value.Sequence) (value.Sequence, error) { return seq, nil }

func (c *clauseBase) analyzeReturn(self Clause, info *AnalyzeInfo) error {
	if next, ok := c.Return.(Clause); ok {
		next.setPrevious(self)
	}
	return c.Return.Analyze(info.child(self))
}

// runClause evaluates a clause. The first clause of a chain isolates the
// buffers of the chain, which a recursive call may be using, and runs
// PostEval over the chain afterwards.
func runClause(xc *Context, self Clause, body func() (value.Sequence, error)) (value.Sequence, error) {
	if self.PreviousClause() != nil {
		return body()
	}
	var saved []any
	var holders []buffered
	for c := Clause(self); c != nil; c, _ = c.ReturnExpr().(Clause) {
		if b, ok := c.(buffered); ok {
			holders = append(holders, b)
			saved = append(saved, b.takeBuffer())
		}
	}
	defer func() {
		for i, b := range holders {
			b.putBuffer(saved[i])
		}
	}()
	res, err := body()
	if err != nil {
		return nil, err
	}
	for c := Clause(self); c != nil; c, _ = c.ReturnExpr().(Clause) {
		if res, err = c.PostEval(xc, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// scoped runs fn in a new variable scope that is closed even if fn fails.
func scoped(xc *Context, fn func() error) error {
	m := xc.MarkLocalVariables(false)
	defer xc.PopLocalVariables(m)
	return fn()
}

// ForExpr is "for $var at $pos in expr".
type ForExpr struct {
	clauseBase
	Var    types.QName
	PosVar types.QName
	// Type is the declared type of $var, nil if undeclared.
	Type *types.SequenceType
	In   Expression
}

// NewFor creates a for clause.
func NewFor(v types.QName, in, ret Expression) *ForExpr {
	return &ForExpr{clauseBase: clauseBase{Return: ret}, Var: v, In: in}
}

func (e *ForExpr) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := e.In.Analyze(info.child(e)); err != nil {
		return err
	}
	if e.Type != nil {
		e.In = derivedCheck(info, e, e.In, types.SequenceType{Type: e.Type.Type, Cardinality: types.ZeroOrMore, NodeName: e.Type.NodeName},
			"for $"+e.Var.String())
	}
	if !e.PosVar.IsZero() && e.PosVar.Equals(e.Var) {
		return types.NewStaticError(types.ErrPositionalVarName,
			"positional variable $"+e.PosVar.String()+" has the same name as the bound variable").At(e.loc)
	}
	return scoped(info.xc, func() error {
		v := info.xc.DeclareVariable(e.Var, e.Type, nil)
		v.staticType, v.staticCard = e.In.ReturnsType(), types.ExactlyOne
		if !e.PosVar.IsZero() {
			p := info.xc.DeclareVariable(e.PosVar, nil, nil)
			p.staticType, p.staticCard = types.Integer, types.ExactlyOne
		}
		return e.analyzeReturn(e, info)
	})
}

func (e *ForExpr) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	return runClause(xc, e, func() (value.Sequence, error) {
		in, err := Eval(xc, e.In, seq, item)
		if err != nil {
			return nil, err
		}
		out := value.NewValueSequence()
		for i := 0; i < in.ItemCount(); i++ {
			if err := xc.Proceed(e.loc); err != nil {
				return nil, err
			}
			err := scoped(xc, func() error {
				xc.DeclareVariable(e.Var, e.Type, value.One(in.ItemAt(i)))
				if !e.PosVar.IsZero() {
					xc.DeclareVariable(e.PosVar, nil, value.One(value.IntegerValue(i+1)))
				}
				r, err := Eval(xc, e.Return, seq, item)
				if err != nil {
					return err
				}
				out.AddAll(r)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

func (e *ForExpr) boundVariables() []types.QName {
	if e.PosVar.IsZero() {
		return []types.QName{e.Var}
	}
	return []types.QName{e.Var, e.PosVar}
}

func (e *ForExpr) ReturnsType() types.Type        { return e.Return.ReturnsType() }
func (e *ForExpr) Dependencies() types.Dependency { return depsOf(e.In, e.Return) }
func (e *ForExpr) ResetState(full bool)           { resetAll(full, e.In, e.Return) }
func (e *ForExpr) Children() []Expression         { return []Expression{e.In, e.Return} }

func (e *ForExpr) Dump(d *Dumper) {
	d.Display("for $" + e.Var.String())
	if e.Type != nil {
		d.Display(" as " + e.Type.String())
	}
	if !e.PosVar.IsZero() {
		d.Display(" at $" + e.PosVar.String())
	}
	d.Display(" in ").Expr(e.In).Nl()
	dumpReturn(d, e.Return)
}

func dumpReturn(d *Dumper, ret Expression) {
	if _, ok := ret.(Clause); !ok {
		d.Display("return ")
	}
	d.Expr(ret)
}

// LetExpr is "let $var := expr".
type LetExpr struct {
	clauseBase
	Var   types.QName
	Type  *types.SequenceType
	Value Expression
}

// NewLet creates a let clause.
func NewLet(v types.QName, val, ret Expression) *LetExpr {
	return &LetExpr{clauseBase: clauseBase{Return: ret}, Var: v, Value: val}
}

func (e *LetExpr) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := e.Value.Analyze(info.child(e)); err != nil {
		return err
	}
	if e.Type != nil {
		e.Value = derivedCheck(info, e, e.Value, *e.Type, "let $"+e.Var.String())
	}
	return scoped(info.xc, func() error {
		v := info.xc.DeclareVariable(e.Var, e.Type, nil)
		v.staticType, v.staticCard = e.Value.ReturnsType(), e.Value.Cardinality()
		return e.analyzeReturn(e, info)
	})
}

func (e *LetExpr) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	return runClause(xc, e, func() (value.Sequence, error) {
		val, err := Eval(xc, e.Value, seq, item)
		if err != nil {
			return nil, err
		}
		var res value.Sequence
		err = scoped(xc, func() error {
			xc.DeclareVariable(e.Var, e.Type, val)
			res, err = Eval(xc, e.Return, seq, item)
			return err
		})
		return res, err
	})
}

func (e *LetExpr) boundVariables() []types.QName { return []types.QName{e.Var} }

func (e *LetExpr) ReturnsType() types.Type        { return e.Return.ReturnsType() }
func (e *LetExpr) Cardinality() types.Cardinality { return e.Return.Cardinality() }
func (e *LetExpr) Dependencies() types.Dependency { return depsOf(e.Value, e.Return) }
func (e *LetExpr) ResetState(full bool)           { resetAll(full, e.Value, e.Return) }
func (e *LetExpr) Children() []Expression         { return []Expression{e.Value, e.Return} }

func (e *LetExpr) Dump(d *Dumper) {
	d.Display("let $" + e.Var.String())
	if e.Type != nil {
		d.Display(" as " + e.Type.String())
	}
	d.Display(" := ").Expr(e.Value).Nl()
	dumpReturn(d, e.Return)
}

// WhereClause filters tuples.
type WhereClause struct {
	clauseBase
	Condition Expression
}

// NewWhere creates a where clause.
func NewWhere(cond, ret Expression) *WhereClause {
	return &WhereClause{clauseBase: clauseBase{Return: ret}, Condition: cond}
}

func (e *WhereClause) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	ci := info.child(e)
	ci.Flags |= InWhereClause
	if err := e.Condition.Analyze(ci); err != nil {
		return err
	}
	return e.analyzeReturn(e, info)
}

func (e *WhereClause) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	return runClause(xc, e, func() (value.Sequence, error) {
		ok, err := ebv(xc, e.Condition, seq, item)
		if err != nil || !ok {
			return value.Empty, err
		}
		return Eval(xc, e.Return, seq, item)
	})
}

func (e *WhereClause) boundVariables() []types.QName { return nil }

func (e *WhereClause) ReturnsType() types.Type        { return e.Return.ReturnsType() }
func (e *WhereClause) Dependencies() types.Dependency { return depsOf(e.Condition, e.Return) }
func (e *WhereClause) ResetState(full bool)           { resetAll(full, e.Condition, e.Return) }
func (e *WhereClause) Children() []Expression         { return []Expression{e.Condition, e.Return} }

func (e *WhereClause) Dump(d *Dumper) {
	d.Display("where ").Expr(e.Condition).Nl()
	dumpReturn(d, e.Return)
}

// OrderSpec is one sort key of an order by clause.
type OrderSpec struct {
	Expr          Expression
	Descending    bool
	EmptyGreatest bool
	// Collation is a collation URI; empty selects the default.
	Collation string
}

type orderEntry struct {
	keys   []value.AtomicValue
	result value.Sequence
}

// OrderByClause buffers the results of the remaining chain with their sort
// keys and emits them stably sorted in PostEval.
type OrderByClause struct {
	clauseBase
	Specs []OrderSpec

	buf []orderEntry
}

// NewOrderBy creates an order by clause.
func NewOrderBy(ret Expression, specs ...OrderSpec) *OrderByClause {
	return &OrderByClause{clauseBase: clauseBase{Return: ret}, Specs: specs}
}

func (e *OrderByClause) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	for _, s := range e.Specs {
		if err := s.Expr.Analyze(info.child(e)); err != nil {
			return err
		}
		if _, err := info.xc.Collator(s.Collation); err != nil {
			return types.Locate(err, e.loc)
		}
	}
	return e.analyzeReturn(e, info)
}

func (e *OrderByClause) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	return runClause(xc, e, func() (value.Sequence, error) {
		keys := make([]value.AtomicValue, len(e.Specs))
		for i, s := range e.Specs {
			k, err := sortKey(xc, s.Expr, seq, item)
			if err != nil {
				return nil, err
			}
			keys[i] = k
		}
		r, err := Eval(xc, e.Return, seq, item)
		if err != nil {
			return nil, err
		}
		e.buf = append(e.buf, orderEntry{keys: keys, result: r})
		return value.Empty, nil
	})
}

// sortKey evaluates an order key: atomized, at most one item, untyped
// values compared as strings.
func sortKey(xc *Context, e Expression, seq value.Sequence, item value.Item) (value.AtomicValue, error) {
	r, err := Eval(xc, e, seq, item)
	if err != nil {
		return nil, err
	}
	if r.HasMany() {
		return nil, types.NewError(types.ErrType, "an order by key must not be a sequence of more than one item").
			WithValue(value.Render(r)).At(e.Location())
	}
	if r.IsEmpty() {
		return nil, nil
	}
	k, err := r.ItemAt(0).Atomize()
	if err != nil {
		return nil, types.Locate(err, e.Location())
	}
	if k.Type() == types.UntypedAtomic {
		k = value.NewString(k.String())
	}
	return k, nil
}

func (e *OrderByClause) PostEval(xc *Context, _ value.Sequence) (value.Sequence, error) {
	buf := e.buf
	e.buf = nil
	colls := make([]value.Collator, len(e.Specs))
	for i, s := range e.Specs {
		c, err := xc.Collator(s.Collation)
		if err != nil {
			return nil, err
		}
		colls[i] = c
	}
	var sortErr error
	slices.SortStableFunc(buf, func(a, b orderEntry) int {
		for i, s := range e.Specs {
			c, err := compareKeys(a.keys[i], b.keys[i], s.EmptyGreatest, colls[i])
			if err != nil && sortErr == nil {
				sortErr = types.Locate(err, s.Expr.Location())
			}
			if s.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	out := value.NewValueSequence()
	for _, en := range buf {
		out.AddAll(en.result)
	}
	return out, nil
}

// compareKeys orders two keys. The empty sequence and NaN sort first, or
// last with emptyGreatest.
func compareKeys(a, b value.AtomicValue, emptyGreatest bool, coll value.Collator) (int, error) {
	rank := func(v value.AtomicValue) int {
		switch {
		case v == nil:
			return 0
		case isNaNValue(v):
			return 1
		}
		return 2
	}
	ra, rb := rank(a), rank(b)
	if ra != 2 || rb != 2 {
		c := ra - rb
		if emptyGreatest {
			c = -c
		}
		return c, nil
	}
	return value.CompareAtomic(a, b, coll)
}

func isNaNValue(v value.AtomicValue) bool {
	n, ok := v.(value.NumericValue)
	return ok && n.IsNaN()
}

func (e *OrderByClause) takeBuffer() any {
	b := e.buf
	e.buf = nil
	return b
}

func (e *OrderByClause) putBuffer(b any) { e.buf, _ = b.([]orderEntry) }

func (e *OrderByClause) boundVariables() []types.QName { return nil }

func (e *OrderByClause) ReturnsType() types.Type { return e.Return.ReturnsType() }

func (e *OrderByClause) Dependencies() types.Dependency {
	d := e.Return.Dependencies()
	for _, s := range e.Specs {
		d |= s.Expr.Dependencies()
	}
	return d
}

func (e *OrderByClause) ResetState(full bool) {
	e.buf = nil
	for _, s := range e.Specs {
		s.Expr.ResetState(full)
	}
	e.Return.ResetState(full)
}

func (e *OrderByClause) Children() []Expression {
	out := make([]Expression, 0, len(e.Specs)+1)
	for _, s := range e.Specs {
		out = append(out, s.Expr)
	}
	return append(out, e.Return)
}

func (e *OrderByClause) Dump(d *Dumper) {
	d.Display("order by ")
	for i, s := range e.Specs {
		if i > 0 {
			d.Display(", ")
		}
		d.Expr(s.Expr)
		if s.Descending {
			d.Display(" descending")
		}
		if s.EmptyGreatest {
			d.Display(" empty greatest")
		}
		if s.Collation != "" {
			d.Display(" collation \"" + s.Collation + "\"")
		}
	}
	d.Nl()
	dumpReturn(d, e.Return)
}

// GroupSpec is one grouping key "$var := expr".
type GroupSpec struct {
	Var       types.QName
	Expr      Expression
	Collation string
}

type group struct {
	keys []value.AtomicValue
	vars []*value.ValueSequence
}

type groupBuffer struct {
	groups []*group
	index  map[string]*group
	seq    value.Sequence
	item   value.Item
}

// GroupByClause collects the tuples of the previous clauses into groups by
// key and evaluates the rest of the chain once per group, in the order the
// keys were first seen.
type GroupByClause struct {
	clauseBase
	Specs []GroupSpec

	// snapshot lists the variables of previous clauses rebound per group.
	snapshot []types.QName
	buf      groupBuffer
}

// NewGroupBy creates a group by clause.
func NewGroupBy(ret Expression, specs ...GroupSpec) *GroupByClause {
	return &GroupByClause{clauseBase: clauseBase{Return: ret}, Specs: specs}
}

func (e *GroupByClause) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	for _, s := range e.Specs {
		if err := s.Expr.Analyze(info.child(e)); err != nil {
			return err
		}
		if _, err := info.xc.Collator(s.Collation); err != nil {
			return types.Locate(err, e.loc)
		}
	}
	e.snapshot = e.snapshot[:0]
	seen := make(map[types.QName]bool)
	for _, s := range e.Specs {
		seen[expanded(s.Var)] = true
	}
	for c := e.previous; c != nil; c = c.PreviousClause() {
		for _, v := range c.boundVariables() {
			if !seen[expanded(v)] {
				seen[expanded(v)] = true
				e.snapshot = append(e.snapshot, v)
			}
		}
	}
	return scoped(info.xc, func() error {
		for _, s := range e.Specs {
			v := info.xc.DeclareVariable(s.Var, nil, nil)
			v.staticType, v.staticCard = types.AnyAtomic, types.ZeroOrOne
		}
		for _, name := range e.snapshot {
			v := info.xc.DeclareVariable(name, nil, nil)
			v.staticType, v.staticCard = types.Item, types.ZeroOrMore
		}
		return e.analyzeReturn(e, info)
	})
}

func (e *GroupByClause) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	return runClause(xc, e, func() (value.Sequence, error) {
		keys := make([]value.AtomicValue, len(e.Specs))
		for i, s := range e.Specs {
			k, err := groupKey(xc, s.Expr, seq, item)
			if err != nil {
				return nil, err
			}
			keys[i] = k
		}
		g, err := e.lookup(xc, keys)
		if err != nil {
			return nil, err
		}
		for i, name := range e.snapshot {
			if v, ok := xc.ResolveVariable(name); ok {
				g.vars[i].AddAll(v.Value())
			}
		}
		e.buf.seq, e.buf.item = seq, item
		return value.Empty, nil
	})
}

func groupKey(xc *Context, e Expression, seq value.Sequence, item value.Item) (value.AtomicValue, error) {
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
	return nil, types.NewError(types.ErrType, "a grouping key must not be a sequence of more than one item").
		WithValue(value.Render(a)).At(e.Location())
}

// lookup finds or creates the group for keys.
func (e *GroupByClause) lookup(xc *Context, keys []value.AtomicValue) (*group, error) {
	hashable := true
	var hk strings.Builder
	for i, s := range e.Specs {
		if s.Collation != "" {
			hashable = false
			break
		}
		if i > 0 {
			hk.WriteByte(0)
		}
		if keys[i] == nil {
			hk.WriteString("()")
		} else {
			hk.WriteString(value.HashKey(keys[i]))
		}
	}
	if hashable {
		if g, ok := e.buf.index[hk.String()]; ok {
			return g, nil
		}
	} else {
		for _, g := range e.buf.groups {
			same, err := e.sameKeys(xc, g.keys, keys)
			if err != nil {
				return nil, err
			}
			if same {
				return g, nil
			}
		}
	}
	g := &group{keys: keys, vars: make([]*value.ValueSequence, len(e.snapshot))}
	for i := range g.vars {
		g.vars[i] = value.NewValueSequence()
	}
	e.buf.groups = append(e.buf.groups, g)
	if hashable {
		if e.buf.index == nil {
			e.buf.index = make(map[string]*group)
		}
		e.buf.index[hk.String()] = g
	}
	return g, nil
}

func (e *GroupByClause) sameKeys(xc *Context, a, b []value.AtomicValue) (bool, error) {
	for i, s := range e.Specs {
		if a[i] == nil || b[i] == nil {
			if a[i] != b[i] {
				return false, nil
			}
			continue
		}
		coll, err := xc.Collator(s.Collation)
		if err != nil {
			return false, err
		}
		if !value.DeepEqualAtomic(a[i], b[i], coll) {
			return false, nil
		}
	}
	return true, nil
}

func (e *GroupByClause) PostEval(xc *Context, _ value.Sequence) (value.Sequence, error) {
	buf := e.buf
	e.buf = groupBuffer{}
	out := value.NewValueSequence()
	for _, g := range buf.groups {
		if err := xc.Proceed(e.loc); err != nil {
			return nil, err
		}
		err := scoped(xc, func() error {
			for i, s := range e.Specs {
				var kv value.Sequence = value.Empty
				if g.keys[i] != nil {
					kv = value.One(g.keys[i])
				}
				xc.DeclareVariable(s.Var, nil, kv)
			}
			for i, name := range e.snapshot {
				xc.DeclareVariable(name, nil, g.vars[i])
			}
			r, err := Eval(xc, e.Return, buf.seq, buf.item)
			if err != nil {
				return err
			}
			out.AddAll(r)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *GroupByClause) takeBuffer() any {
	b := e.buf
	e.buf = groupBuffer{}
	return b
}

func (e *GroupByClause) putBuffer(b any) { e.buf, _ = b.(groupBuffer) }

func (e *GroupByClause) boundVariables() []types.QName {
	out := make([]types.QName, 0, len(e.Specs)+len(e.snapshot))
	for _, s := range e.Specs {
		out = append(out, s.Var)
	}
	return append(out, e.snapshot...)
}

func (e *GroupByClause) ReturnsType() types.Type { return e.Return.ReturnsType() }

func (e *GroupByClause) Dependencies() types.Dependency {
	d := e.Return.Dependencies()
	for _, s := range e.Specs {
		d |= s.Expr.Dependencies()
	}
	return d
}

func (e *GroupByClause) ResetState(full bool) {
	e.buf = groupBuffer{}
	for _, s := range e.Specs {
		s.Expr.ResetState(full)
	}
	e.Return.ResetState(full)
}

func (e *GroupByClause) Children() []Expression {
	out := make([]Expression, 0, len(e.Specs)+1)
	for _, s := range e.Specs {
		out = append(out, s.Expr)
	}
	return append(out, e.Return)
}

func (e *GroupByClause) Dump(d *Dumper) {
	d.Display("group by ")
	for i, s := range e.Specs {
		if i > 0 {
			d.Display(", ")
		}
		d.Display("$" + s.Var.String() + " := ").Expr(s.Expr)
	}
	d.Nl()
	dumpReturn(d, e.Return)
}

// Quantifier selects some or every.
type Quantifier int

const (
	Some Quantifier = iota
	Every
)

func (q Quantifier) String() string {
	if q == Every {
		return "every"
	}
	return "some"
}

// QuantifiedExpression is "some/every $var in expr satisfies expr".
type QuantifiedExpression struct {
	Base
	Quantifier Quantifier
	Var        types.QName
	Type       *types.SequenceType
	In         Expression
	Satisfies  Expression
}

// NewQuantified creates a quantified expression.
func NewQuantified(q Quantifier, v types.QName, in, satisfies Expression) *QuantifiedExpression {
	return &QuantifiedExpression{Quantifier: q, Var: v, In: in, Satisfies: satisfies}
}

func (e *QuantifiedExpression) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := e.In.Analyze(info.child(e)); err != nil {
		return err
	}
	if e.Type != nil {
		e.In = derivedCheck(info, e, e.In, types.SequenceType{Type: e.Type.Type, Cardinality: types.ZeroOrMore, NodeName: e.Type.NodeName},
			e.Quantifier.String()+" $"+e.Var.String())
	}
	return scoped(info.xc, func() error {
		v := info.xc.DeclareVariable(e.Var, e.Type, nil)
		v.staticType, v.staticCard = e.In.ReturnsType(), types.ExactlyOne
		return e.Satisfies.Analyze(info.child(e))
	})
}

func (e *QuantifiedExpression) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	in, err := Eval(xc, e.In, seq, item)
	if err != nil {
		return nil, err
	}
	every := e.Quantifier == Every
	for i := 0; i < in.ItemCount(); i++ {
		if err := xc.Proceed(e.loc); err != nil {
			return nil, err
		}
		var ok bool
		err := scoped(xc, func() error {
			xc.DeclareVariable(e.Var, e.Type, value.One(in.ItemAt(i)))
			var err error
			ok, err = ebv(xc, e.Satisfies, seq, item)
			return err
		})
		if err != nil {
			return nil, err
		}
		if ok != every {
			return value.BoolSequence(ok), nil
		}
	}
	return value.BoolSequence(every), nil
}

func (e *QuantifiedExpression) ReturnsType() types.Type        { return types.Boolean }
func (e *QuantifiedExpression) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *QuantifiedExpression) Dependencies() types.Dependency { return depsOf(e.In, e.Satisfies) }
func (e *QuantifiedExpression) ResetState(full bool)           { resetAll(full, e.In, e.Satisfies) }
func (e *QuantifiedExpression) Children() []Expression         { return []Expression{e.In, e.Satisfies} }

func (e *QuantifiedExpression) Dump(d *Dumper) {
	d.Display(e.Quantifier.String() + " $" + e.Var.String() + " in ").Expr(e.In).
		Display(" satisfies ").Expr(e.Satisfies)
}
