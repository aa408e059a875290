// Package xquery evaluates XQuery expression trees over in-memory XML
// documents.
//
// Queries arrive as plans: YAML documents describing an already parsed
// main module (see package plan). They are analyzed, optimized and then
// evaluated under a watchdog that enforces time and output limits.
//
// # Quick Start
//
//	// Simple evaluation
//	result, err := xquery.Eval(`query: {to: [1, 3]}`)
//
//	// Compile once, evaluate many times
//	store := dom.NewStore()
//	q, err := xquery.Compile(src, evaluator.WithStore(store))
//	r1, _ := q.Eval(ctx, nil)
//	r2, _ := q.Eval(ctx, nil)
//
// # More Information
//
//   - Plans: github.com/eXist-db/exist-sub013/pkg/plan
//   - Evaluator: github.com/eXist-db/exist-sub013/pkg/evaluator
//   - Expressions: github.com/eXist-db/exist-sub013/pkg/expr
//   - Functions: github.com/eXist-db/exist-sub013/pkg/functions
//   - Documents: github.com/eXist-db/exist-sub013/pkg/dom
package xquery

import (
	"context"
	"fmt"

	"github.com/eXist-db/exist-sub013/pkg/evaluator"
	"github.com/eXist-db/exist-sub013/pkg/plan"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// Version returns the current version of the module.
func Version() string {
	return "v0.1.0-dev"
}

// New returns an evaluator configured with opts.
func New(opts ...evaluator.EvalOption) *evaluator.Evaluator {
	return evaluator.New(opts...)
}

// Query is a compiled plan together with the evaluator that runs it.
type Query struct {
	ev *evaluator.Evaluator
	q  *evaluator.Query
}

// Compile decodes and compiles a plan for repeated evaluation. Documents
// named by the plan are looked up in the store given with
// evaluator.WithStore.
//
// Evaluations of one Query are serialized; compile several for parallel
// runs.
func Compile(src string, opts ...evaluator.EvalOption) (*Query, error) {
	p, err := plan.Parse([]byte(src))
	if err != nil {
		return nil, err
	}
	ev := New(opts...)
	ctxOpts, err := p.Resolve(ev.Options().Store)
	if err != nil {
		return nil, err
	}
	q, err := ev.Compile(p.Module, ctxOpts...)
	if err != nil {
		return nil, err
	}
	return &Query{ev: ev, q: q}, nil
}

// MustCompile is like Compile but panics if the plan cannot be compiled.
// It simplifies safe initialization of global variables.
func MustCompile(src string, opts ...evaluator.EvalOption) *Query {
	q, err := Compile(src, opts...)
	if err != nil {
		panic(fmt.Sprintf("xquery: Compile(%q): %v", src, err))
	}
	return q
}

// Eval runs the query. A singleton initial sequence becomes the context
// item.
func (q *Query) Eval(ctx context.Context, initial value.Sequence) (value.Sequence, error) {
	return q.ev.Eval(ctx, q.q, initial)
}

// Bind sets an external variable for subsequent evaluations.
func (q *Query) Bind(name string, seq value.Sequence) *Query {
	q.q.SetExternalVariable(types.LocalName(name), seq)
	return q
}

// Dump returns the analyzed tree in query syntax.
func (q *Query) Dump() string { return q.q.Dump() }

// Eval compiles and evaluates a plan in a single call. For repeated
// evaluations use Compile.
func Eval(src string, opts ...evaluator.EvalOption) (value.Sequence, error) {
	return EvalWithContext(context.Background(), src, opts...)
}

// EvalWithContext is Eval with a caller supplied context.
func EvalWithContext(ctx context.Context, src string, opts ...evaluator.EvalOption) (value.Sequence, error) {
	q, err := Compile(src, opts...)
	if err != nil {
		return nil, err
	}
	return q.Eval(ctx, nil)
}
