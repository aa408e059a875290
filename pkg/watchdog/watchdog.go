// Package watchdog implements cooperative cancellation of a running query:
// a deadline, an output-size budget for constructed nodes, and an explicit
// kill switch, all observed at checkpoint calls.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// Watchdog guards one query evaluation. The budget is set before
// evaluation starts; only Kill and BindContext may be called from other
// goroutines.
type Watchdog struct {
	timeout  time.Duration
	maxNodes int64
	start    time.Time

	nodes  atomic.Int64
	reason atomic.Int32 // types.TerminationReason set by Kill
	stop   func() bool
}

// New creates a watchdog. A timeout or maxNodes of zero or less disables
// the corresponding limit.
func New(timeout time.Duration, maxNodes int64) *Watchdog {
	return &Watchdog{timeout: timeout, maxNodes: maxNodes, start: time.Now()}
}

// SetTimeout replaces the deadline relative to the start time.
func (w *Watchdog) SetTimeout(d time.Duration) { w.timeout = d }

// SetMaxNodes replaces the output-size budget.
func (w *Watchdog) SetMaxNodes(n int64) { w.maxNodes = n }

// Timeout returns the configured timeout.
func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// MaxNodes returns the configured output-size budget.
func (w *Watchdog) MaxNodes() int64 { return w.maxNodes }

// Elapsed returns the time since the watchdog was created or reset.
func (w *Watchdog) Elapsed() time.Duration { return time.Since(w.start) }

// Nodes returns the number of nodes constructed so far.
func (w *Watchdog) Nodes() int64 { return w.nodes.Load() }

// AddNodes accounts for n constructed nodes. The budget is checked at the
// next Proceed.
func (w *Watchdog) AddNodes(n int) {
	w.nodes.Add(int64(n))
}

// Kill requests termination. It never blocks.
func (w *Watchdog) Kill() {
	w.kill(types.TerminatedKilled)
}

func (w *Watchdog) kill(r types.TerminationReason) {
	w.reason.CompareAndSwap(int32(types.NotTerminated), int32(r))
}

// IsTerminated reports whether Kill was called.
func (w *Watchdog) IsTerminated() bool {
	return types.TerminationReason(w.reason.Load()) != types.NotTerminated
}

// BindContext kills the query when ctx is done. A context deadline counts
// as a timeout, any other cancellation as a kill.
func (w *Watchdog) BindContext(ctx context.Context) {
	if w.stop != nil {
		w.stop()
	}
	w.stop = context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			w.kill(types.TerminatedTimeout)
			return
		}
		w.kill(types.TerminatedKilled)
	})
}

// Proceed is the checkpoint. It fails with a terminated error located at
// loc when the query was killed, ran out of time or produced too many
// nodes.
func (w *Watchdog) Proceed(loc types.Location) error {
	switch r := types.TerminationReason(w.reason.Load()); r {
	case types.NotTerminated:
	case types.TerminatedTimeout:
		return w.timeoutError(loc)
	default:
		return types.NewTerminated(r, "the query has been killed by the server").At(loc)
	}
	if w.timeout > 0 && time.Since(w.start) > w.timeout {
		w.kill(types.TerminatedTimeout)
		return w.timeoutError(loc)
	}
	if w.maxNodes > 0 && w.nodes.Load() > w.maxNodes {
		w.kill(types.TerminatedOutputSize)
		return types.NewTerminated(types.TerminatedOutputSize,
			fmt.Sprintf("the constructed document fragment exceeded the predefined output size limit (current: %s nodes; allowed: %s)",
				humanize.Comma(w.nodes.Load()), humanize.Comma(w.maxNodes))).At(loc)
	}
	return nil
}

func (w *Watchdog) timeoutError(loc types.Location) error {
	return types.NewTerminated(types.TerminatedTimeout,
		fmt.Sprintf("the query exceeded the predefined timeout of %s and has been killed", w.timeout)).At(loc)
}

// Reset restarts the clock and clears counters and the kill flag for a new
// evaluation.
func (w *Watchdog) Reset() {
	if w.stop != nil {
		w.stop()
		w.stop = nil
	}
	w.start = time.Now()
	w.nodes.Store(0)
	w.reason.Store(int32(types.NotTerminated))
}

// Release detaches the watchdog from a bound context.
func (w *Watchdog) Release() {
	if w.stop != nil {
		w.stop()
		w.stop = nil
	}
}
