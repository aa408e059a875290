package expr

import (
	"strconv"

	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/profiler"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// Param is a declared function parameter.
type Param struct {
	Name types.QName
	// Type is nil for an untyped parameter.
	Type *types.SequenceType
}

// UserDefinedFunction is a function declared in a query, or the body of an
// inline function expression.
type UserDefinedFunction struct {
	Base
	Name       types.QName
	Params     []Param
	ReturnType *types.SequenceType
	Body       Expression

	inline    bool
	analyzing bool
	analyzed  bool
}

// NewUserDefinedFunction creates a function declaration.
func NewUserDefinedFunction(name types.QName, params []Param, ret *types.SequenceType, body Expression) *UserDefinedFunction {
	return &UserDefinedFunction{Name: name, Params: params, ReturnType: ret, Body: body}
}

// Arity returns the number of parameters.
func (f *UserDefinedFunction) Arity() int { return len(f.Params) }

func (f *UserDefinedFunction) label() string {
	if f.inline {
		return "inline function"
	}
	return f.Name.String() + "#" + strconv.Itoa(len(f.Params))
}

// analyze analyzes the body once. A recursive call reached while the body
// is being analyzed returns at once.
func (f *UserDefinedFunction) analyze(info *AnalyzeInfo) error {
	if f.analyzed || f.analyzing {
		return nil
	}
	f.analyzing = true
	defer func() { f.analyzing = false }()
	xc := info.xc
	if f.id == 0 {
		f.id = xc.nextExpressionID()
	}
	for i, p := range f.Params {
		for _, q := range f.Params[:i] {
			if q.Name.Equals(p.Name) {
				return types.NewStaticError(types.ErrDuplicateParam,
					"duplicate parameter $"+p.Name.String()+" in "+f.label()).At(f.loc)
			}
		}
	}
	bi := &AnalyzeInfo{xc: xc, StaticType: types.Item, ContextID: noContextID}
	if f.inline {
		bi.Flags = info.Flags | SingleStepExecution
	}
	m := xc.MarkLocalVariables(!f.inline)
	err := func() error {
		defer xc.PopLocalVariables(m)
		for _, p := range f.Params {
			v := xc.DeclareVariable(p.Name, p.Type, nil)
			if p.Type != nil {
				v.staticType, v.staticCard = p.Type.Type, p.Type.Cardinality
			}
		}
		return f.Body.Analyze(bi)
	}()
	if err != nil {
		return err
	}
	if f.ReturnType != nil {
		f.Body = derivedCheck(bi, nil, f.Body, *f.ReturnType, "return value of "+f.label())
	}
	f.analyzed = true
	return nil
}

// invoke runs the body in a new frame holding the closure and arguments.
// The focus is absent inside the body.
func (f *UserDefinedFunction) invoke(xc *Context, args []value.Sequence, closure []*Variable, loc types.Location) (value.Sequence, error) {
	if err := xc.enterCall(loc); err != nil {
		return nil, err
	}
	defer xc.leaveCall()
	m := xc.MarkLocalVariables(true)
	defer xc.PopLocalVariables(m)
	xc.restoreLocals(closure)
	for i, p := range f.Params {
		xc.DeclareVariable(p.Name, p.Type, args[i])
	}
	defer xc.restoreFocus(xc.setFocus(nil, 0, 0))
	return Eval(xc, f.Body, nil, nil)
}

func (f *UserDefinedFunction) resetState(full bool) {
	f.Body.ResetState(full)
	if full {
		f.analyzed = false
	}
}

func (f *UserDefinedFunction) dump(d *Dumper) {
	if f.inline {
		d.Display("function(")
	} else {
		d.Display("declare function " + f.Name.String() + "(")
	}
	for i, p := range f.Params {
		if i > 0 {
			d.Display(", ")
		}
		d.Display("$" + p.Name.String())
		if p.Type != nil {
			d.Display(" as " + p.Type.String())
		}
	}
	d.Display(")")
	if f.ReturnType != nil {
		d.Display(" as " + f.ReturnType.String())
	}
	d.Display(" {").StartIndent().Expr(f.Body).EndIndent().Display("}")
}

// callBuiltin consults the permission checker for privileged functions and
// runs the body.
func callBuiltin(xc *Context, def *functions.Definition, args []value.Sequence, loc types.Location) (value.Sequence, error) {
	if def.Privileged && xc.checker != nil {
		if err := xc.checker(xc.goCtx, def); err != nil {
			return nil, types.PermissionDenied("permission denied calling "+def.Name.String()+": "+err.Error()).
				WithCause(err).At(loc)
		}
	}
	res, err := def.Fn(xc.goCtx, xc, args)
	if err != nil {
		return nil, types.Locate(err, loc)
	}
	if res == nil {
		return value.Empty, nil
	}
	return res, nil
}

// FunctionCall is a static call to a user-defined or built-in function,
// resolved during analysis.
type FunctionCall struct {
	Base
	Name types.QName
	Args []Expression

	udf     *UserDefinedFunction
	builtin *functions.Definition
}

// NewFunctionCall creates a call.
func NewFunctionCall(name types.QName, args ...Expression) *FunctionCall {
	return &FunctionCall{Name: name, Args: args}
}

func (e *FunctionCall) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := analyzeAll(info, e, e.Args...); err != nil {
		return err
	}
	xc := info.xc
	if f, ok := xc.ResolveFunction(e.Name, len(e.Args)); ok {
		e.udf = f
		for i, p := range f.Params {
			if p.Type != nil {
				e.Args[i] = derivedCheck(info, e, e.Args[i], *p.Type, e.argLabel(i))
			}
		}
		return f.analyze(info)
	}
	def, ok := xc.registry.Lookup(e.Name, len(e.Args))
	if !ok {
		return types.NewStaticError(types.ErrUnknownFunction,
			"function "+e.Name.String()+"#"+strconv.Itoa(len(e.Args))+" is not defined").At(e.loc)
	}
	e.builtin = def
	for i := range e.Args {
		e.Args[i] = derivedCheck(info, e, e.Args[i], def.ArgType(i), e.argLabel(i))
	}
	if info.xc.profiler.IsEnabled() {
		info.xc.profiler.Message(e.id, profiler.Dependencies, "FunctionCall", "resolved "+def.Signature.String())
	}
	return nil
}

func (e *FunctionCall) argLabel(i int) string {
	return "argument " + strconv.Itoa(i+1) + " of " + e.Name.String() + "()"
}

func (e *FunctionCall) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	args := make([]value.Sequence, len(e.Args))
	for i, a := range e.Args {
		r, err := Eval(xc, a, seq, item)
		if err != nil {
			return nil, err
		}
		args[i] = r
	}
	if e.udf != nil {
		return e.udf.invoke(xc, args, nil, e.loc)
	}
	if e.builtin == nil {
		return nil, types.Errorf(types.ErrInternal, "function %s was not analyzed", e.Name).At(e.loc)
	}
	if item != nil {
		defer xc.restoreFocus(xc.setFocus(item, xc.focus.pos, xc.focus.size))
	}
	return callBuiltin(xc, e.builtin, args, e.loc)
}

func (e *FunctionCall) ReturnsType() types.Type {
	switch {
	case e.udf != nil && e.udf.ReturnType != nil:
		return e.udf.ReturnType.Type
	case e.builtin != nil:
		return e.builtin.Return.Type
	}
	return types.Item
}

func (e *FunctionCall) Cardinality() types.Cardinality {
	switch {
	case e.udf != nil && e.udf.ReturnType != nil:
		return e.udf.ReturnType.Cardinality
	case e.builtin != nil:
		return e.builtin.Return.Cardinality
	}
	return types.ZeroOrMore
}

func (e *FunctionCall) Dependencies() types.Dependency {
	d := depsOf(e.Args...)
	switch {
	case e.builtin != nil:
		d |= e.builtin.Deps
	case e.udf != nil:
		d |= types.ContextVars
	default:
		d |= types.DefaultDependencies
	}
	return d
}

func (e *FunctionCall) ResetState(full bool) {
	resetAll(full, e.Args...)
	if e.udf != nil && !e.udf.analyzing {
		e.udf.analyzing = true
		e.udf.resetState(full)
		e.udf.analyzing = false
	}
	if full {
		e.udf, e.builtin = nil, nil
	}
}

func (e *FunctionCall) Children() []Expression { return e.Args }

func (e *FunctionCall) Dump(d *Dumper) {
	d.Display(e.Name.String() + "(").List(", ", e.Args...).Display(")")
}

// FunctionItem is a function value: a reference to a built-in or
// user-defined function, with the variables an inline function captured.
type FunctionItem struct {
	udf     *UserDefinedFunction
	builtin *functions.Definition
	closure []*Variable
}

var _ value.Item = (*FunctionItem)(nil)

func (fi *FunctionItem) Type() types.Type { return types.Function }

func (fi *FunctionItem) StringValue() (string, error) {
	return "", types.NewError(types.ErrFunctionStringValue, "a function item has no string value")
}

func (fi *FunctionItem) Atomize() (value.AtomicValue, error) {
	return nil, types.NewError(types.ErrAtomizeFunction, "a function item cannot be atomized")
}

// Name returns the function name; inline functions have none.
func (fi *FunctionItem) Name() types.QName {
	if fi.builtin != nil {
		return fi.builtin.Name
	}
	if fi.udf.inline {
		return types.QName{}
	}
	return fi.udf.Name
}

// Arity returns the number of parameters.
func (fi *FunctionItem) Arity() int {
	if fi.builtin != nil {
		return fi.builtin.Arity()
	}
	return fi.udf.Arity()
}

func (fi *FunctionItem) accepts(n int) bool {
	if fi.builtin != nil {
		return fi.builtin.Accepts(n)
	}
	return n == fi.udf.Arity()
}

func (fi *FunctionItem) call(xc *Context, args []value.Sequence, loc types.Location) (value.Sequence, error) {
	if !fi.accepts(len(args)) {
		return nil, types.Errorf(types.ErrType, "function %s expects %d arguments, got %d",
			fi.label(), fi.Arity(), len(args)).At(loc)
	}
	var err error
	for i := range args {
		st := types.AnySequence
		switch {
		case fi.builtin != nil:
			st = fi.builtin.ArgType(i)
		case fi.udf.Params[i].Type != nil:
			st = *fi.udf.Params[i].Type
		}
		what := "argument " + strconv.Itoa(i+1) + " of " + fi.label()
		if args[i], err = coerce(args[i], st, what, loc); err != nil {
			return nil, err
		}
	}
	if fi.builtin != nil {
		return callBuiltin(xc, fi.builtin, args, loc)
	}
	return fi.udf.invoke(xc, args, fi.closure, loc)
}

func (fi *FunctionItem) label() string {
	if fi.builtin != nil {
		return fi.builtin.Name.String() + "#" + strconv.Itoa(fi.builtin.Arity())
	}
	return fi.udf.label()
}

// InlineFunction is "function($a, ...) { body }". Evaluating it captures
// the visible local variables.
type InlineFunction struct {
	Base
	Fn *UserDefinedFunction
}

// NewInlineFunction creates an inline function expression.
func NewInlineFunction(params []Param, ret *types.SequenceType, body Expression) *InlineFunction {
	return &InlineFunction{Fn: &UserDefinedFunction{Params: params, ReturnType: ret, Body: body, inline: true}}
}

func (e *InlineFunction) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	e.Fn.loc = e.loc
	return e.Fn.analyze(info)
}

func (e *InlineFunction) Eval(xc *Context, _ value.Sequence, _ value.Item) (value.Sequence, error) {
	return value.One(&FunctionItem{udf: e.Fn, closure: xc.visibleLocals()}), nil
}

func (e *InlineFunction) ReturnsType() types.Type        { return types.Function }
func (e *InlineFunction) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *InlineFunction) Dependencies() types.Dependency { return types.Vars }
func (e *InlineFunction) ResetState(full bool)           { e.Fn.resetState(full) }
func (e *InlineFunction) Children() []Expression         { return []Expression{e.Fn.Body} }
func (e *InlineFunction) Dump(d *Dumper)                 { e.Fn.dump(d) }

// NamedFunctionRef is "name#arity".
type NamedFunctionRef struct {
	Base
	Name  types.QName
	Arity int

	udf     *UserDefinedFunction
	builtin *functions.Definition
}

// NewNamedFunctionRef creates a function reference.
func NewNamedFunctionRef(name types.QName, arity int) *NamedFunctionRef {
	return &NamedFunctionRef{Name: name, Arity: arity}
}

func (e *NamedFunctionRef) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if f, ok := info.xc.ResolveFunction(e.Name, e.Arity); ok {
		e.udf = f
		return f.analyze(info)
	}
	def, ok := info.xc.registry.Lookup(e.Name, e.Arity)
	if !ok {
		return types.NewStaticError(types.ErrUnknownFunction,
			"function "+e.Name.String()+"#"+strconv.Itoa(e.Arity)+" is not defined").At(e.loc)
	}
	e.builtin = def
	return nil
}

func (e *NamedFunctionRef) Eval(_ *Context, _ value.Sequence, _ value.Item) (value.Sequence, error) {
	return value.One(&FunctionItem{udf: e.udf, builtin: e.builtin}), nil
}

func (e *NamedFunctionRef) ReturnsType() types.Type        { return types.Function }
func (e *NamedFunctionRef) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *NamedFunctionRef) Dependencies() types.Dependency { return types.NoDependency }
func (e *NamedFunctionRef) Children() []Expression         { return nil }

func (e *NamedFunctionRef) ResetState(full bool) {
	if full {
		e.udf, e.builtin = nil, nil
	}
}

func (e *NamedFunctionRef) Dump(d *Dumper) {
	d.Display(e.Name.String() + "#" + strconv.Itoa(e.Arity))
}

// DynamicFunctionCall is "$f(args)".
type DynamicFunctionCall struct {
	Base
	Function Expression
	Args     []Expression
}

// NewDynamicFunctionCall creates a dynamic call.
func NewDynamicFunctionCall(fn Expression, args ...Expression) *DynamicFunctionCall {
	return &DynamicFunctionCall{Function: fn, Args: args}
}

func (e *DynamicFunctionCall) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := e.Function.Analyze(info.child(e)); err != nil {
		return err
	}
	return analyzeAll(info, e, e.Args...)
}

func (e *DynamicFunctionCall) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	f, err := Eval(xc, e.Function, seq, item)
	if err != nil {
		return nil, err
	}
	var fi *FunctionItem
	if f.HasOne() {
		fi, _ = f.ItemAt(0).(*FunctionItem)
	}
	if fi == nil {
		return nil, types.NewError(types.ErrType, "the target of a dynamic call must be a single function item").
			WithValue(value.Render(f)).At(e.loc)
	}
	args := make([]value.Sequence, len(e.Args))
	for i, a := range e.Args {
		if args[i], err = Eval(xc, a, seq, item); err != nil {
			return nil, err
		}
	}
	return fi.call(xc, args, e.loc)
}

func (e *DynamicFunctionCall) Dependencies() types.Dependency {
	return depsOf(e.Function) | depsOf(e.Args...) | types.ContextVars
}

func (e *DynamicFunctionCall) ResetState(full bool) {
	e.Function.ResetState(full)
	resetAll(full, e.Args...)
}

func (e *DynamicFunctionCall) Children() []Expression {
	return append([]Expression{e.Function}, e.Args...)
}

func (e *DynamicFunctionCall) Dump(d *Dumper) {
	d.Expr(e.Function).Display("(").List(", ", e.Args...).Display(")")
}
