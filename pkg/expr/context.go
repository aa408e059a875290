package expr

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/profiler"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
	"github.com/eXist-db/exist-sub013/pkg/watchdog"
)

const noContextID = dom.NoContextID

// DefaultMaxCallDepth bounds the nesting of user function calls.
const DefaultMaxCallDepth = 4096

// Variable is a named value slot.
type Variable struct {
	Name types.QName
	// Type is the declared type, nil if undeclared.
	Type *types.SequenceType

	value    value.Sequence
	stackPos int
	global   bool

	// static estimates recorded during analysis
	staticType types.Type
	staticCard types.Cardinality
}

// Value returns the bound value, or the empty sequence when unbound.
func (v *Variable) Value() value.Sequence {
	if v.value == nil {
		return value.Empty
	}
	return v.value
}

// SetValue binds the variable.
func (v *Variable) SetValue(seq value.Sequence) { v.value = seq }

// Mark records the state of the local variable stack.
type Mark struct {
	vars  int
	frame bool
}

type focus struct {
	item value.Item
	pos  int
	size int
}

type funcKey struct {
	name  types.QName
	arity int
}

// Context is the static and dynamic context of one compiled query. It
// implements [functions.Context] for function bodies.
type Context struct {
	goCtx    context.Context
	registry *functions.Registry
	store    *dom.Store
	arena    *dom.Arena
	watchdog *watchdog.Watchdog
	profiler *profiler.Profiler
	logger   *slog.Logger
	debug    bool
	checker  functions.PermissionChecker
	pragmas  map[types.QName]PragmaFactory

	decimal     *apd.Context
	collator    value.Collator
	namespaces  map[string]string
	staticDocs  *dom.DocumentSet
	lockTimeout time.Duration
	options     map[types.QName]string
	external    map[types.QName]value.Sequence

	vars      []*Variable
	frames    []int
	stackSize int
	globals   map[types.QName]*Variable
	functions map[funcKey]*UserDefinedFunction

	focus        focus
	nextID       int
	callDepth    int
	maxCallDepth int
}

var _ functions.Context = (*Context)(nil)

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithRegistry sets the built-in function registry.
func WithRegistry(r *functions.Registry) ContextOption {
	return func(xc *Context) { xc.registry = r }
}

// WithStore sets the document store.
func WithStore(s *dom.Store) ContextOption {
	return func(xc *Context) { xc.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ContextOption {
	return func(xc *Context) { xc.logger = l }
}

// WithDebug enables per-expression debug logging.
func WithDebug(on bool) ContextOption {
	return func(xc *Context) { xc.debug = on }
}

// WithProfiler sets the profiler.
func WithProfiler(p *profiler.Profiler) ContextOption {
	return func(xc *Context) { xc.profiler = p }
}

// WithPermissionChecker sets the hook consulted before privileged calls.
func WithPermissionChecker(c functions.PermissionChecker) ContextOption {
	return func(xc *Context) { xc.checker = c }
}

// WithStaticDocuments restricts the statically known documents. By
// default every document of the store is known.
func WithStaticDocuments(ds *dom.DocumentSet) ContextOption {
	return func(xc *Context) { xc.staticDocs = ds }
}

// WithDefaultCollation sets the default collation.
func WithDefaultCollation(c value.Collator) ContextOption {
	return func(xc *Context) { xc.collator = c }
}

// WithLockTimeout bounds the wait for document locks.
func WithLockTimeout(d time.Duration) ContextOption {
	return func(xc *Context) { xc.lockTimeout = d }
}

// WithNamespace binds a prefix in the static context.
func WithNamespace(prefix, uri string) ContextOption {
	return func(xc *Context) { xc.namespaces[prefix] = uri }
}

// WithPragma registers a pragma implementation.
func WithPragma(name types.QName, f PragmaFactory) ContextOption {
	return func(xc *Context) { xc.pragmas[expanded(name)] = f }
}

// WithMaxCallDepth bounds user function recursion.
func WithMaxCallDepth(n int) ContextOption {
	return func(xc *Context) { xc.maxCallDepth = n }
}

// NewContext creates a query context.
func NewContext(opts ...ContextOption) *Context {
	xc := &Context{
		goCtx:        context.Background(),
		arena:        dom.NewArena(),
		logger:       slog.Default(),
		decimal:      value.DecimalContext,
		collator:     value.Codepoint,
		lockTimeout:  dom.DefaultLockTimeout,
		namespaces:   defaultNamespaces(),
		pragmas:      defaultPragmas(),
		options:      make(map[types.QName]string),
		external:     make(map[types.QName]value.Sequence),
		globals:      make(map[types.QName]*Variable),
		functions:    make(map[funcKey]*UserDefinedFunction),
		maxCallDepth: DefaultMaxCallDepth,
	}
	for _, o := range opts {
		o(xc)
	}
	if xc.registry == nil {
		xc.registry = functions.NewRegistry()
	}
	return xc
}

// expanded drops the prefix so that map lookups compare expanded names.
func expanded(q types.QName) types.QName {
	return types.QName{Space: q.Space, Local: q.Local}
}

func defaultNamespaces() map[string]string {
	return map[string]string{
		"xs":    types.XMLSchemaNS,
		"fn":    types.FunctionsNS,
		"err":   types.ErrorNS,
		"exist": types.ExistNS,
		"local": types.LocalNS,
	}
}

// Prepare readies the context for an evaluation bound to ctx and guarded
// by wd. Chains and bindings of a previous evaluation are dropped.
func (xc *Context) Prepare(ctx context.Context, wd *watchdog.Watchdog) {
	xc.goCtx = ctx
	xc.watchdog = wd
	xc.arena.Reset()
	clear(xc.vars)
	xc.vars = xc.vars[:0]
	xc.frames = xc.frames[:0]
	xc.stackSize = 0
	xc.focus = focus{}
	xc.callDepth = 0
}

// Release detaches the context from the finished evaluation.
func (xc *Context) Release() {
	xc.goCtx = context.Background()
	xc.watchdog = nil
	for _, v := range xc.globals {
		v.value = nil
	}
}

func (xc *Context) nextExpressionID() int {
	xc.nextID++
	return xc.nextID
}

// GoContext returns the context.Context of the running evaluation.
func (xc *Context) GoContext() context.Context { return xc.goCtx }

// Watchdog returns the watchdog of the running evaluation, or nil.
func (xc *Context) Watchdog() *watchdog.Watchdog { return xc.watchdog }

// Proceed is the watchdog checkpoint.
func (xc *Context) Proceed(loc types.Location) error {
	if xc.watchdog == nil {
		return nil
	}
	return xc.watchdog.Proceed(loc)
}

// Arena returns the context chain arena.
func (xc *Context) Arena() *dom.Arena { return xc.arena }

func (xc *Context) Registry() *functions.Registry { return xc.registry }
func (xc *Context) Profiler() *profiler.Profiler  { return xc.profiler }
func (xc *Context) Logger() *slog.Logger          { return xc.logger }
func (xc *Context) Store() *dom.Store             { return xc.store }
func (xc *Context) Decimal() *apd.Context         { return xc.decimal }
func (xc *Context) LockTimeout() time.Duration    { return xc.lockTimeout }

// SetProfiler replaces the profiler.
func (xc *Context) SetProfiler(p *profiler.Profiler) { xc.profiler = p }

// StaticDocuments returns the statically known documents.
func (xc *Context) StaticDocuments() *dom.DocumentSet {
	if xc.staticDocs != nil {
		return xc.staticDocs
	}
	if xc.store != nil {
		return xc.store.Documents()
	}
	return dom.NewDocumentSet()
}

// Namespace resolves a prefix of the static context.
func (xc *Context) Namespace(prefix string) (string, bool) {
	uri, ok := xc.namespaces[prefix]
	return uri, ok
}

// Namespaces returns the prefix bindings of the static context.
func (xc *Context) Namespaces() map[string]string { return xc.namespaces }

// DefaultCollator returns the default collation.
func (xc *Context) DefaultCollator() value.Collator { return xc.collator }

// Collator resolves a collation URI; the empty URI selects the default.
func (xc *Context) Collator(uri string) (value.Collator, error) {
	if uri == "" {
		return xc.collator, nil
	}
	return value.NewCollator(uri)
}

// SetOption records a declared option such as exist:timeout.
func (xc *Context) SetOption(name types.QName, val string) {
	xc.options[expanded(name)] = val
}

// Option returns a declared option.
func (xc *Context) Option(name types.QName) (string, bool) {
	v, ok := xc.options[expanded(name)]
	return v, ok
}

// SetExternalVariable supplies the value of an external global variable.
func (xc *Context) SetExternalVariable(name types.QName, seq value.Sequence) {
	xc.external[expanded(name)] = seq
}

// ContextItem returns the focus item.
func (xc *Context) ContextItem() value.Item { return xc.focus.item }

// Position returns the 1-based focus position.
func (xc *Context) Position() int { return xc.focus.pos }

// Size returns the focus size.
func (xc *Context) Size() int { return xc.focus.size }

// SetContextItem installs the initial focus of an evaluation. Call it
// after Prepare.
func (xc *Context) SetContextItem(item value.Item) {
	xc.focus = focus{item: item, pos: 1, size: 1}
}

// setFocus installs a new focus and returns the previous one.
func (xc *Context) setFocus(item value.Item, pos, size int) focus {
	prev := xc.focus
	xc.focus = focus{item: item, pos: pos, size: size}
	return prev
}

func (xc *Context) restoreFocus(f focus) { xc.focus = f }

// MarkLocalVariables opens a binding scope. A new frame hides the
// variables of enclosing scopes, as a function call does.
func (xc *Context) MarkLocalVariables(newFrame bool) Mark {
	if newFrame {
		xc.frames = append(xc.frames, len(xc.vars))
	}
	xc.stackSize++
	return Mark{vars: len(xc.vars), frame: newFrame}
}

// PopLocalVariables closes the scope opened by MarkLocalVariables.
func (xc *Context) PopLocalVariables(m Mark) {
	clear(xc.vars[m.vars:])
	xc.vars = xc.vars[:m.vars]
	if m.frame && len(xc.frames) > 0 {
		xc.frames = xc.frames[:len(xc.frames)-1]
	}
	xc.stackSize--
}

// DeclareVariable binds a local variable in the current scope.
func (xc *Context) DeclareVariable(name types.QName, typ *types.SequenceType, seq value.Sequence) *Variable {
	v := &Variable{Name: name, Type: typ, value: seq, stackPos: xc.stackSize,
		staticType: types.Item, staticCard: types.ZeroOrMore}
	xc.vars = append(xc.vars, v)
	return v
}

// DeclareGlobalVariable binds a global variable.
func (xc *Context) DeclareGlobalVariable(name types.QName, typ *types.SequenceType, seq value.Sequence) *Variable {
	v, ok := xc.globals[expanded(name)]
	if !ok {
		v = &Variable{Name: name, global: true, staticType: types.Item, staticCard: types.ZeroOrMore}
		xc.globals[expanded(name)] = v
	}
	v.Type = typ
	v.value = seq
	return v
}

func (xc *Context) frameBase() int {
	if len(xc.frames) == 0 {
		return 0
	}
	return xc.frames[len(xc.frames)-1]
}

// ResolveVariable looks a variable up in the visible local scopes, then
// among the globals.
func (xc *Context) ResolveVariable(name types.QName) (*Variable, bool) {
	for i := len(xc.vars) - 1; i >= xc.frameBase(); i-- {
		if xc.vars[i].Name.Equals(name) {
			return xc.vars[i], true
		}
	}
	v, ok := xc.globals[expanded(name)]
	return v, ok
}

// isContextVariable reports whether v was bound outside the current
// binding scope.
func (xc *Context) isContextVariable(v *Variable) bool {
	return v.global || xc.stackSize > v.stackPos
}

// visibleLocals snapshots the visible local variables for a closure.
func (xc *Context) visibleLocals() []*Variable {
	base := xc.frameBase()
	out := make([]*Variable, 0, len(xc.vars)-base)
	for _, v := range xc.vars[base:] {
		c := *v
		out = append(out, &c)
	}
	return out
}

// restoreLocals declares closure variables in the current scope.
func (xc *Context) restoreLocals(vars []*Variable) {
	for _, v := range vars {
		nv := xc.DeclareVariable(v.Name, v.Type, v.value)
		nv.staticType, nv.staticCard = v.staticType, v.staticCard
	}
}

// DeclareFunction registers a user-defined function.
func (xc *Context) DeclareFunction(f *UserDefinedFunction) error {
	key := funcKey{name: expanded(f.Name), arity: len(f.Params)}
	if _, ok := xc.functions[key]; ok {
		return types.NewStaticError(types.ErrDuplicateFunction, "function "+f.Name.String()+" is already declared").At(f.Location())
	}
	xc.functions[key] = f
	return nil
}

// ResolveFunction finds a user-defined function by name and arity.
func (xc *Context) ResolveFunction(name types.QName, arity int) (*UserDefinedFunction, bool) {
	f, ok := xc.functions[funcKey{name: expanded(name), arity: arity}]
	return f, ok
}

// Call invokes a function item.
func (xc *Context) Call(ctx context.Context, fn value.Item, args []value.Sequence) (value.Sequence, error) {
	fi, ok := fn.(*FunctionItem)
	if !ok {
		return nil, types.Errorf(types.ErrType, "expected a function item, got %s", fn.Type())
	}
	return fi.call(xc, args, types.Location{})
}

// enterCall tracks user function nesting. Every call is a watchdog
// checkpoint.
func (xc *Context) enterCall(loc types.Location) error {
	if err := xc.Proceed(loc); err != nil {
		return err
	}
	xc.callDepth++
	if xc.maxCallDepth > 0 && xc.callDepth > xc.maxCallDepth {
		xc.callDepth--
		return types.Errorf(types.ErrCallDepth, "maximum call depth of %d exceeded", xc.maxCallDepth).At(loc)
	}
	return nil
}

func (xc *Context) leaveCall() { xc.callDepth-- }
