// Package evaluator compiles and runs query expression trees.
//
// The evaluator receives an already built expression tree, analyzes it
// once, optionally optimizes it, and evaluates it any number of times.
// Every evaluation runs under a fresh watchdog and leaves the tree reset
// for the next run.
//
// # Example
//
//	ev := evaluator.New(evaluator.WithTimeout(5 * time.Second))
//	q, err := ev.Compile(root)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := ev.Eval(ctx, q, nil)
//
// # Concurrency
//
// An Evaluator is safe for concurrent use. A Query holds per-run state in
// its tree and serializes its evaluations; use a [cache.Pool] to run the
// same query in parallel.
package evaluator

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/expr"
	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/functions/fn"
	"github.com/eXist-db/exist-sub013/pkg/metrics"
	"github.com/eXist-db/exist-sub013/pkg/profiler"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
	"github.com/eXist-db/exist-sub013/pkg/watchdog"
)

// Declared options read at the start of every evaluation.
var (
	// TimeoutOption is the timeout in milliseconds.
	TimeoutOption = types.NewQName(types.ExistNS, "timeout", "exist")
	// OutputSizeLimitOption bounds the number of constructed nodes.
	OutputSizeLimitOption = types.NewQName(types.ExistNS, "output-size-limit", "exist")
	// OptimizeOption with "enable=no" switches the optimizer off.
	OptimizeOption = types.NewQName(types.ExistNS, "optimize", "exist")
)

// ErrNilQuery is returned when Eval is called without a compiled query.
var ErrNilQuery = errors.New("evaluator: nil query")

// Evaluator compiles and evaluates expression trees.
type Evaluator struct {
	opts   EvalOptions
	logger *slog.Logger
}

// EvalOptions configures evaluator behavior.
type EvalOptions struct {
	// Timeout bounds every evaluation. Zero disables the limit.
	Timeout time.Duration
	// MaxOutputSize bounds the nodes constructed by one evaluation. Zero
	// disables the limit.
	MaxOutputSize int64
	// Optimize enables the tree rewrites of expr.Optimize.
	Optimize bool
	// LockTimeout bounds the wait for document read locks.
	LockTimeout time.Duration
	// MaxCallDepth bounds user function recursion.
	MaxCallDepth int
	// Debug enables debug logging.
	Debug bool
	// Logger for structured logging.
	Logger *slog.Logger
	// Profiler receives per-expression timings. It may be nil.
	Profiler *profiler.Profiler
	// Registry holds the built-in functions. Defaults to the fn catalog.
	Registry *functions.Registry
	// Store is the document store. It may be nil.
	Store *dom.Store
	// PermissionChecker is consulted before privileged calls.
	PermissionChecker functions.PermissionChecker
	// Options are declared options applied before the query prolog.
	Options map[types.QName]string
}

// EvalOption configures evaluation behavior.
type EvalOption func(*EvalOptions)

// New creates an Evaluator.
func New(opts ...EvalOption) *Evaluator {
	options := EvalOptions{
		Optimize:     true,
		LockTimeout:  dom.DefaultLockTimeout,
		MaxCallDepth: expr.DefaultMaxCallDepth,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Registry == nil {
		options.Registry = fn.NewRegistry()
	}
	return &Evaluator{opts: options, logger: options.Logger}
}

// Options returns a copy of the configuration.
func (e *Evaluator) Options() EvalOptions { return e.opts }

// Compile analyzes root and, unless disabled, optimizes it. Extra context
// options are applied after the evaluator's own.
func (e *Evaluator) Compile(root expr.Expression, extra ...expr.ContextOption) (*Query, error) {
	if root == nil {
		return nil, ErrNilQuery
	}
	opts := []expr.ContextOption{
		expr.WithRegistry(e.opts.Registry),
		expr.WithLogger(e.logger),
		expr.WithDebug(e.opts.Debug),
		expr.WithProfiler(e.opts.Profiler),
		expr.WithLockTimeout(e.opts.LockTimeout),
		expr.WithMaxCallDepth(e.opts.MaxCallDepth),
	}
	if e.opts.Store != nil {
		opts = append(opts, expr.WithStore(e.opts.Store))
	}
	if e.opts.PermissionChecker != nil {
		opts = append(opts, expr.WithPermissionChecker(e.opts.PermissionChecker))
	}
	xc := expr.NewContext(append(opts, extra...)...)
	for name, v := range e.opts.Options {
		xc.SetOption(name, v)
	}

	start := time.Now()
	if err := expr.Analyze(xc, root); err != nil {
		return nil, err
	}
	q := &Query{root: root, xc: xc}
	if e.opts.Optimize && !optimizerDisabled(xc) && expr.Optimize(xc, root) {
		root.ResetState(true)
		if err := expr.Analyze(xc, root); err != nil {
			return nil, err
		}
		q.optimized = true
	}
	if e.opts.Debug {
		e.logger.Debug("compiled query", "optimized", q.optimized, "elapsed", time.Since(start), "query", expr.Dump(root))
	}
	return q, nil
}

func optimizerDisabled(xc *expr.Context) bool {
	v, ok := xc.Option(OptimizeOption)
	if !ok {
		return false
	}
	for _, f := range strings.Fields(v) {
		if k, val, _ := strings.Cut(f, "="); k == "enable" {
			return val == "no" || val == "false"
		}
	}
	return false
}

// Eval runs q with initial as context sequence, which may be nil. A
// singleton initial sequence also becomes the context item.
func (e *Evaluator) Eval(ctx context.Context, q *Query, initial value.Sequence) (value.Sequence, error) {
	if q == nil {
		return nil, ErrNilQuery
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	runID := uuid.NewString()
	logger := e.logger.With("run", runID)
	wd := watchdog.New(e.timeout(q.xc), e.outputLimit(q.xc))
	wd.BindContext(ctx)
	defer wd.Release()

	start := time.Now()
	res, err := e.run(ctx, q, wd, initial, logger)
	elapsed := time.Since(start)

	status := "ok"
	switch {
	case types.IsTerminated(err):
		status = "terminated"
		xe, _ := types.AsError(err)
		metrics.TerminatedTotal.WithLabelValues(xe.Reason.String()).Inc()
		logger.Warn("query terminated", "reason", xe.Reason.String(), "location", xe.Location, "elapsed", elapsed)
	case err != nil:
		status = "error"
		if e.opts.Debug {
			logger.Debug("query failed", "error", err, "elapsed", elapsed)
		}
	case e.opts.Debug:
		logger.Debug("query finished", "items", res.ItemCount(), "nodes", wd.Nodes(), "elapsed", elapsed)
	}
	metrics.QueriesTotal.WithLabelValues(status).Inc()
	metrics.QueryDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	return res, err
}

func (e *Evaluator) run(ctx context.Context, q *Query, wd *watchdog.Watchdog, initial value.Sequence, logger *slog.Logger) (value.Sequence, error) {
	xc := q.xc
	if s := xc.Store(); s != nil {
		unlock, err := s.LockDocuments(ctx, xc.StaticDocuments(), xc.LockTimeout())
		if err != nil {
			return nil, err
		}
		defer unlock()
	}
	xc.Prepare(ctx, wd)
	defer xc.Release()
	defer q.root.ResetState(false)

	var item value.Item
	if initial != nil && initial.HasOne() {
		item = initial.ItemAt(0)
		xc.SetContextItem(item)
	}
	if e.opts.Debug {
		logger.Debug("evaluating query", "timeout", wd.Timeout(), "output-size-limit", wd.MaxNodes())
	}
	return expr.Eval(xc, q.root, initial, item)
}

// timeout returns the exist:timeout option of the query, or the configured
// timeout.
func (e *Evaluator) timeout(xc *expr.Context) time.Duration {
	if v, ok := xc.Option(TimeoutOption); ok {
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		e.logger.Warn("ignoring invalid option", "option", TimeoutOption.String(), "value", v)
	}
	return e.opts.Timeout
}

// outputLimit returns the exist:output-size-limit option of the query, or
// the configured limit.
func (e *Evaluator) outputLimit(xc *expr.Context) int64 {
	if v, ok := xc.Option(OutputSizeLimitOption); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
		e.logger.Warn("ignoring invalid option", "option", OutputSizeLimitOption.String(), "value", v)
	}
	return e.opts.MaxOutputSize
}

// WithTimeout sets the evaluation timeout.
func WithTimeout(timeout time.Duration) EvalOption {
	return func(opts *EvalOptions) {
		opts.Timeout = timeout
	}
}

// WithMaxOutputSize bounds the nodes constructed by one evaluation.
func WithMaxOutputSize(n int64) EvalOption {
	return func(opts *EvalOptions) {
		opts.MaxOutputSize = n
	}
}

// WithOptimizer enables or disables the optimizer.
func WithOptimizer(enabled bool) EvalOption {
	return func(opts *EvalOptions) {
		opts.Optimize = enabled
	}
}

// WithLockTimeout bounds the wait for document read locks.
func WithLockTimeout(d time.Duration) EvalOption {
	return func(opts *EvalOptions) {
		opts.LockTimeout = d
	}
}

// WithMaxCallDepth bounds user function recursion.
func WithMaxCallDepth(n int) EvalOption {
	return func(opts *EvalOptions) {
		opts.MaxCallDepth = n
	}
}

// WithDebug enables or disables debug logging.
func WithDebug(enabled bool) EvalOption {
	return func(opts *EvalOptions) {
		opts.Debug = enabled
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) EvalOption {
	return func(opts *EvalOptions) {
		opts.Logger = logger
	}
}

// WithProfiler sets the profiler.
func WithProfiler(p *profiler.Profiler) EvalOption {
	return func(opts *EvalOptions) {
		opts.Profiler = p
	}
}

// WithRegistry sets the built-in function registry.
func WithRegistry(r *functions.Registry) EvalOption {
	return func(opts *EvalOptions) {
		opts.Registry = r
	}
}

// WithStore sets the document store.
func WithStore(s *dom.Store) EvalOption {
	return func(opts *EvalOptions) {
		opts.Store = s
	}
}

// WithPermissionChecker sets the hook consulted before privileged calls.
func WithPermissionChecker(c functions.PermissionChecker) EvalOption {
	return func(opts *EvalOptions) {
		opts.PermissionChecker = c
	}
}

// WithOption declares an option such as exist:timeout for every query.
// Options declared in a query prolog take precedence.
func WithOption(name types.QName, v string) EvalOption {
	return func(opts *EvalOptions) {
		if opts.Options == nil {
			opts.Options = make(map[types.QName]string)
		}
		opts.Options[name] = v
	}
}
