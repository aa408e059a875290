// Package profiler records per-expression timings for diagnostics. All
// methods are safe to call on a nil *Profiler and do nothing then.
package profiler

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eXist-db/exist-sub013/pkg/metrics"
)

// Verbosity levels for Message.
const (
	Optimizations = 1
	Dependencies  = 2
	StartSequence = 3
	ItemCount     = 4
	SequenceDump  = 5
)

// Stat aggregates the calls of one expression node.
type Stat struct {
	ID       int
	Kind     string
	Label    string
	Calls    int
	Elapsed  time.Duration
	MaxDepth int
}

type frame struct {
	id    int
	start time.Time
}

// Profiler collects start/end events and diagnostic messages.
type Profiler struct {
	enabled   atomic.Bool
	verbosity int
	logger    *slog.Logger

	mu    sync.Mutex
	stack []frame
	stats map[int]*Stat
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithLogger sets the logger used for messages.
func WithLogger(l *slog.Logger) Option {
	return func(p *Profiler) { p.logger = l }
}

// WithVerbosity sets the highest message verbosity that is logged.
func WithVerbosity(v int) Option {
	return func(p *Profiler) { p.verbosity = v }
}

// New creates a disabled profiler.
func New(opts ...Option) *Profiler {
	p := &Profiler{verbosity: Optimizations, logger: slog.Default(), stats: make(map[int]*Stat)}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetEnabled switches recording on or off.
func (p *Profiler) SetEnabled(on bool) {
	if p != nil {
		p.enabled.Store(on)
	}
}

// IsEnabled reports whether events are recorded.
func (p *Profiler) IsEnabled() bool {
	return p != nil && p.enabled.Load()
}

// Verbosity returns the configured verbosity.
func (p *Profiler) Verbosity() int {
	if p == nil {
		return 0
	}
	return p.verbosity
}

// Start records entry into the expression with the given id.
func (p *Profiler) Start(id int) {
	if !p.IsEnabled() {
		return
	}
	p.mu.Lock()
	p.stack = append(p.stack, frame{id: id, start: time.Now()})
	p.mu.Unlock()
}

// End records exit from the expression with the given id. kind and label
// describe the expression for reports.
func (p *Profiler) End(id int, kind, label string) {
	if !p.IsEnabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	// unwind to the matching frame; frames left by errors are dropped
	n := len(p.stack) - 1
	for n >= 0 && p.stack[n].id != id {
		n--
	}
	if n < 0 {
		return
	}
	elapsed := time.Since(p.stack[n].start)
	p.stack = p.stack[:n]
	st, ok := p.stats[id]
	if !ok {
		st = &Stat{ID: id, Kind: kind, Label: label}
		p.stats[id] = st
	}
	st.Calls++
	st.Elapsed += elapsed
	st.MaxDepth = max(st.MaxDepth, n+1)
	metrics.ExpressionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// Message logs a diagnostic message if verbosity permits.
func (p *Profiler) Message(id, verbosity int, label, msg string) {
	if !p.IsEnabled() || verbosity > p.verbosity {
		return
	}
	p.logger.Debug("profile", "expr", id, "label", label, "msg", msg)
}

// Stats returns the collected statistics ordered by elapsed time, longest
// first.
func (p *Profiler) Stats() []Stat {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stat, 0, len(p.stats))
	for _, s := range p.stats {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b Stat) int {
		if c := cmp.Compare(b.Elapsed, a.Elapsed); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Reset discards collected statistics.
func (p *Profiler) Reset() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.stack = p.stack[:0]
	clear(p.stats)
	p.mu.Unlock()
}
