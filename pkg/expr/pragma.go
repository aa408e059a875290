package expr

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/eXist-db/exist-sub013/pkg/metrics"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// Pragma is a before/after hook pair around the expression of an
// extension expression.
type Pragma interface {
	Before(xc *Context, e Expression, seq value.Sequence) error
	After(xc *Context, e Expression) error
	ResetState(full bool)
}

// PragmaFactory creates a pragma from its contents, the text following the
// pragma name.
type PragmaFactory func(xc *Context, name types.QName, contents string) (Pragma, error)

// Names of the built-in pragmas.
var (
	TimePragmaName     = types.NewQName(types.ExistNS, "time", "exist")
	TimerPragmaName    = types.NewQName(types.ExistNS, "timer", "exist")
	ProfilingPragma    = types.NewQName(types.ExistNS, "profiling", "exist")
	OptimizePragma     = types.NewQName(types.ExistNS, "optimize", "exist")
	BatchPragma        = types.NewQName(types.ExistNS, "batch-transaction", "exist")
	pragmaLevelTrace   = slog.LevelDebug - 4
	defaultPragmaLabel = "time"
)

func defaultPragmas() map[types.QName]PragmaFactory {
	return map[types.QName]PragmaFactory{
		expanded(TimePragmaName):  newTimePragma,
		expanded(TimerPragmaName): newTimePragma,
		expanded(ProfilingPragma): newProfilingPragma,
		expanded(OptimizePragma):  newOptimizePragma,
		expanded(BatchPragma):     newBatchPragma,
	}
}

// pragmaOptions parses whitespace separated key=value pairs.
func pragmaOptions(contents string) map[string]string {
	out := make(map[string]string)
	for _, f := range strings.Fields(contents) {
		k, v, _ := strings.Cut(f, "=")
		out[k] = v
	}
	return out
}

func yes(s string) bool {
	return s == "yes" || s == "true"
}

// PragmaDecl is a pragma as written: "(# name contents #)".
type PragmaDecl struct {
	Name     types.QName
	Contents string
}

// ExtensionExpression evaluates Inner between the hooks of its pragmas.
// Pragmas without a registered factory are ignored.
type ExtensionExpression struct {
	Base
	Decls []PragmaDecl
	Inner Expression

	pragmas []Pragma
}

// NewExtension creates an extension expression.
func NewExtension(inner Expression, decls ...PragmaDecl) *ExtensionExpression {
	return &ExtensionExpression{Decls: decls, Inner: inner}
}

func (e *ExtensionExpression) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	xc := info.xc
	e.pragmas = e.pragmas[:0]
	for _, d := range e.Decls {
		f, ok := xc.pragmas[expanded(d.Name)]
		if !ok {
			xc.logger.Debug("ignoring unknown pragma", "name", d.Name.String(), "location", e.loc)
			continue
		}
		p, err := f(xc, d.Name, d.Contents)
		if err != nil {
			return types.Locate(err, e.loc)
		}
		e.pragmas = append(e.pragmas, p)
	}
	return e.Inner.Analyze(info.child(e))
}

func (e *ExtensionExpression) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	for i, p := range e.pragmas {
		if err := p.Before(xc, e.Inner, seq); err != nil {
			e.after(xc, i)
			return nil, types.Locate(err, e.loc)
		}
	}
	res, err := Eval(xc, e.Inner, seq, item)
	if aerr := e.after(xc, len(e.pragmas)); err == nil && aerr != nil {
		return nil, types.Locate(aerr, e.loc)
	}
	return res, err
}

// after runs the after hooks of the first n pragmas in reverse order and
// returns the first error.
func (e *ExtensionExpression) after(xc *Context, n int) error {
	var first error
	for i := n - 1; i >= 0; i-- {
		if err := e.pragmas[i].After(xc, e.Inner); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// disablesOptimizer reports whether an exist:optimize pragma switched the
// optimizer off for the inner expression.
func (e *ExtensionExpression) disablesOptimizer() bool {
	for _, d := range e.Decls {
		if d.Name.Equals(OptimizePragma) {
			if v, ok := pragmaOptions(d.Contents)["enable"]; ok && !yes(v) {
				return true
			}
		}
	}
	return false
}

func (e *ExtensionExpression) ReturnsType() types.Type        { return e.Inner.ReturnsType() }
func (e *ExtensionExpression) Cardinality() types.Cardinality { return e.Inner.Cardinality() }
func (e *ExtensionExpression) Dependencies() types.Dependency { return e.Inner.Dependencies() }
func (e *ExtensionExpression) Children() []Expression         { return []Expression{e.Inner} }

func (e *ExtensionExpression) ResetState(full bool) {
	for _, p := range e.pragmas {
		p.ResetState(full)
	}
	if full {
		e.pragmas = nil
	}
	e.Inner.ResetState(full)
}

func (e *ExtensionExpression) Dump(d *Dumper) {
	for _, p := range e.Decls {
		d.Display("(# " + p.Name.String())
		if p.Contents != "" {
			d.Display(" " + p.Contents)
		}
		d.Display(" #)").Nl()
	}
	d.Display("{").StartIndent().Expr(e.Inner).EndIndent().Display("}")
}

// timePragma logs the time spent evaluating its expression. In single
// mode every evaluation is logged; in multiple mode a summary is logged
// when the query is reset.
type timePragma struct {
	logger   *slog.Logger
	verbose  bool
	level    slog.Level
	prefix   string
	multiple bool

	start time.Time
	iter  int
	first time.Duration
	min   time.Duration
	max   time.Duration
	last  time.Duration
	total time.Duration
}

func newTimePragma(xc *Context, _ types.QName, contents string) (Pragma, error) {
	opts := pragmaOptions(contents)
	p := &timePragma{
		logger:   xc.logger,
		verbose:  yes(opts["verbose"]),
		level:    pragmaLevelTrace,
		prefix:   opts["log-message-prefix"],
		multiple: strings.EqualFold(opts["measurement-mode"], "multiple"),
	}
	if lv := opts["logging-level"]; lv != "" && !strings.EqualFold(lv, "trace") {
		if err := p.level.UnmarshalText([]byte(lv)); err != nil {
			return nil, types.NewStaticError(types.ErrGrammar, "invalid logging-level "+lv+" in time pragma").WithCause(err)
		}
	}
	return p, nil
}

func (p *timePragma) Before(_ *Context, _ Expression, _ value.Sequence) error {
	p.start = time.Now()
	return nil
}

func (p *timePragma) After(xc *Context, e Expression) error {
	d := time.Since(p.start)
	label := p.prefix
	if label == "" {
		label = defaultPragmaLabel
	}
	metrics.PragmaDuration.WithLabelValues(label).Observe(d.Seconds())
	if !p.multiple {
		p.log(xc.goCtx, e, "Elapsed: "+d.String(), "humane", humanize.SIWithDigits(d.Seconds(), 2, "s"))
		return nil
	}
	if p.iter == 0 || d < p.min {
		p.min = d
	}
	if p.iter == 0 {
		p.first = d
	}
	p.max = max(p.max, d)
	p.last = d
	p.total += d
	p.iter++
	return nil
}

func (p *timePragma) log(ctx context.Context, e Expression, msg string, args ...any) {
	if p.prefix != "" {
		msg = p.prefix + " " + msg
	}
	if p.verbose && e != nil {
		args = append(args, "expression", Dump(e))
	}
	p.logger.Log(ctx, p.level, msg, args...)
}

func (p *timePragma) ResetState(bool) {
	if p.multiple && p.iter > 0 {
		p.log(context.Background(), nil, "Elapsed: "+p.total.String(),
			"humane", humanize.SIWithDigits(p.total.Seconds(), 2, "s"),
			"iterations", humanize.Comma(int64(p.iter)),
			"first", p.first, "min", p.min, "avg", p.total/time.Duration(p.iter), "max", p.max, "last", p.last)
	}
	p.iter, p.first, p.min, p.max, p.last, p.total = 0, 0, 0, 0, 0, 0
}

// profilingPragma switches the profiler on for its expression, or off
// with "enable=no".
type profilingPragma struct {
	enable bool
	prev   bool
}

func newProfilingPragma(_ *Context, _ types.QName, contents string) (Pragma, error) {
	v, ok := pragmaOptions(contents)["enable"]
	return &profilingPragma{enable: !ok || yes(v)}, nil
}

func (p *profilingPragma) Before(xc *Context, _ Expression, _ value.Sequence) error {
	p.prev = xc.profiler.IsEnabled()
	xc.profiler.SetEnabled(p.enable)
	return nil
}

func (p *profilingPragma) After(xc *Context, _ Expression) error {
	xc.profiler.SetEnabled(p.prev)
	return nil
}

func (p *profilingPragma) ResetState(bool) {}

// optimizePragma has no runtime effect; the optimizer reads its options.
type optimizePragma struct{}

func newOptimizePragma(*Context, types.QName, string) (Pragma, error) { return optimizePragma{}, nil }

func (optimizePragma) Before(*Context, Expression, value.Sequence) error { return nil }
func (optimizePragma) After(*Context, Expression) error                  { return nil }
func (optimizePragma) ResetState(bool)                                   {}

// batchPragma groups the store update notifications raised while its
// expression runs.
type batchPragma struct{}

func newBatchPragma(*Context, types.QName, string) (Pragma, error) { return batchPragma{}, nil }

func (batchPragma) Before(xc *Context, _ Expression, _ value.Sequence) error {
	if xc.store != nil {
		xc.store.BeginBatch()
	}
	return nil
}

func (batchPragma) After(xc *Context, _ Expression) error {
	if xc.store != nil {
		xc.store.EndBatch()
	}
	return nil
}

func (batchPragma) ResetState(bool) {}
