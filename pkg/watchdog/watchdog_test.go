package watchdog_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-quicktest/qt"

	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/watchdog"
)

func TestTimeoutBeforeLoopCompletes(t *testing.T) {
	w := watchdog.New(time.Millisecond, 0)
	loc := types.Loc(3, 14)
	var err error
	i := 0
	for ; i < 1_000_000; i++ {
		if i%1000 == 0 {
			time.Sleep(10 * time.Microsecond)
		}
		if err = w.Proceed(loc); err != nil {
			break
		}
	}
	qt.Assert(t, qt.IsNotNil(err))
	qt.Assert(t, qt.IsTrue(i < 1_000_000))
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Equals(xe.Reason, types.TerminatedTimeout))
	qt.Check(t, qt.Equals(xe.Location, loc))
	qt.Check(t, qt.IsFalse(xe.IsRecoverable()))
}

func TestOutputSizeLimit(t *testing.T) {
	w := watchdog.New(0, 10)
	w.AddNodes(10)
	qt.Assert(t, qt.IsNil(w.Proceed(types.Loc(1, 1))))
	w.AddNodes(1)
	err := w.Proceed(types.Loc(1, 1))
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Reason, types.TerminatedOutputSize))
}

func TestKillFromAnotherGoroutine(t *testing.T) {
	w := watchdog.New(0, 0)
	done := make(chan struct{})
	go func() {
		w.Kill()
		close(done)
	}()
	<-done
	err := w.Proceed(types.Loc(2, 1))
	qt.Assert(t, qt.IsTrue(types.IsTerminated(err)))
	xe, _ := types.AsError(err)
	qt.Assert(t, qt.Equals(xe.Reason, types.TerminatedKilled))
}

func TestBindContext(t *testing.T) {
	w := watchdog.New(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	w.BindContext(ctx)
	qt.Assert(t, qt.IsNil(w.Proceed(types.Location{})))
	cancel()
	deadline := time.Now().Add(time.Second)
	for !w.IsTerminated() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	qt.Assert(t, qt.IsTrue(types.IsTerminated(w.Proceed(types.Location{}))))

	w.Reset()
	qt.Assert(t, qt.IsNil(w.Proceed(types.Location{})))
}
