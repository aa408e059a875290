package evaluator

import (
	"sync"

	"github.com/eXist-db/exist-sub013/pkg/expr"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// Query is an analyzed expression tree bound to its static context.
type Query struct {
	root      expr.Expression
	xc        *expr.Context
	optimized bool

	mu sync.Mutex
}

// Root returns the expression tree.
func (q *Query) Root() expr.Expression { return q.root }

// Context returns the static context of the query.
func (q *Query) Context() *expr.Context { return q.xc }

// Optimized reports whether the optimizer rewrote the tree.
func (q *Query) Optimized() bool { return q.optimized }

// Dump returns the tree in query syntax.
func (q *Query) Dump() string { return expr.Dump(q.root) }

// SetExternalVariable binds an external variable for subsequent runs.
func (q *Query) SetExternalVariable(name types.QName, seq value.Sequence) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.xc.SetExternalVariable(name, seq)
}

// ResetState clears runtime caches of the tree. A full reset also drops
// analysis results; the query must then be compiled again.
func (q *Query) ResetState(full bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.root.ResetState(full)
}
