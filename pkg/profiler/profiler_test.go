package profiler_test

import (
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/eXist-db/exist-sub013/pkg/profiler"
)

func TestNilProfilerIsNoop(t *testing.T) {
	var p *profiler.Profiler
	p.Start(1)
	p.End(1, "Literal", "1")
	p.Message(1, profiler.Optimizations, "x", "y")
	qt.Assert(t, qt.IsFalse(p.IsEnabled()))
	qt.Assert(t, qt.IsNil(p.Stats()))
}

func TestCollectsStats(t *testing.T) {
	p := profiler.New()
	p.Start(1)
	p.End(1, "Literal", "1")
	qt.Assert(t, qt.HasLen(p.Stats(), 0))

	p.SetEnabled(true)
	for rep := 0; rep < 3; rep++ {
		p.Start(1)
		p.Start(2)
		p.End(2, "PathExpr", "a/b")
		p.End(1, "FLWOR", "for")
	}
	stats := p.Stats()
	qt.Assert(t, qt.HasLen(stats, 2))
	for _, s := range stats {
		qt.Check(t, qt.Equals(s.Calls, 3))
	}

	// an unmatched frame left behind by an error is unwound
	p.Start(3)
	p.Start(4)
	p.End(3, "If", "if")
	p.Reset()
	qt.Assert(t, qt.HasLen(p.Stats(), 0))
}
