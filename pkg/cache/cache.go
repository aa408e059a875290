// Package cache pools compiled queries.
//
// A compiled query carries per-run state in its expression tree, so one
// instance cannot run twice at the same time. The pool keeps a small list
// of idle instances per key; keys are evicted least recently used first.
//
// # Example
//
//	p := cache.New(128, 4)
//	q, err := p.Borrow(path, func() (*evaluator.Query, error) {
//	    return ev.Compile(buildTree())
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Return(path, q)
//	result, err := ev.Eval(ctx, q, nil)
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/eXist-db/exist-sub013/pkg/evaluator"
	"github.com/eXist-db/exist-sub013/pkg/metrics"
)

const (
	defaultSize    = 256
	defaultMaxIdle = 4
)

// CompileFunc builds a fresh query on a pool miss.
type CompileFunc func() (*evaluator.Query, error)

type idleList struct {
	mu      sync.Mutex
	queries []*evaluator.Query
}

// Pool is a keyed pool of compiled queries. Safe for concurrent use.
type Pool struct {
	maxIdle int
	lists   *lru.Cache[string, *idleList]
	mu      sync.Mutex
}

// New creates a pool holding at most size keys with up to maxIdle idle
// queries each. Values of zero or less select the defaults.
func New(size, maxIdle int) *Pool {
	if size <= 0 {
		size = defaultSize
	}
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdle
	}
	lists, err := lru.New[string, *idleList](size)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Pool{maxIdle: maxIdle, lists: lists}
}

// Borrow returns an idle query for key, or compiles a new one. The caller
// owns the query until it hands it back with Return.
func (p *Pool) Borrow(key string, compile CompileFunc) (*evaluator.Query, error) {
	if l, ok := p.lists.Get(key); ok {
		l.mu.Lock()
		if n := len(l.queries); n > 0 {
			q := l.queries[n-1]
			l.queries[n-1] = nil
			l.queries = l.queries[:n-1]
			l.mu.Unlock()
			metrics.CompiledQueries.WithLabelValues("hit").Inc()
			return q, nil
		}
		l.mu.Unlock()
	}
	metrics.CompiledQueries.WithLabelValues("miss").Inc()
	return compile()
}

// Return resets q and keeps it for the next Borrow of key. Queries beyond
// the idle limit are dropped.
func (p *Pool) Return(key string, q *evaluator.Query) {
	if q == nil {
		return
	}
	q.ResetState(false)

	p.mu.Lock()
	l, ok := p.lists.Get(key)
	if !ok {
		l = &idleList{}
		p.lists.Add(key, l)
	}
	p.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queries) < p.maxIdle {
		l.queries = append(l.queries, q)
	}
}

// Idle returns the number of idle queries kept for key.
func (p *Pool) Idle(key string) int {
	l, ok := p.lists.Peek(key)
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queries)
}

// Len returns the number of keys in the pool.
func (p *Pool) Len() int { return p.lists.Len() }

// Remove drops all idle queries of key.
func (p *Pool) Remove(key string) { p.lists.Remove(key) }

// Purge empties the pool.
func (p *Pool) Purge() { p.lists.Purge() }
