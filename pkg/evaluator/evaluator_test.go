package evaluator_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/evaluator"
	"github.com/eXist-db/exist-sub013/pkg/expr"
	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/functions/fn"
	"github.com/eXist-db/exist-sub013/pkg/metrics"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

func num(n int) expr.Expression { return expr.NewLiteral(value.IntegerValue(n)) }

func ref(local string) expr.Expression {
	return expr.NewVariableReference(types.LocalName(local))
}

func elem(local string) dom.NodeTest {
	return dom.NameTest{Kind: dom.ElementNode, Name: types.LocalName(local)}
}

// firstPerParent is //a[1].
func firstPerParent() expr.Expression {
	return expr.NewPath(expr.NewRootNode(),
		expr.NewStep(dom.AxisDescendantOrSelf, dom.AnyNode{}),
		expr.NewStep(dom.AxisChild, elem("a"), expr.NewPredicate(num(1))))
}

func render(t *testing.T, seq value.Sequence) []string {
	t.Helper()
	a, err := value.Atomize(seq)
	qt.Assert(t, qt.IsNil(err))
	out := make([]string, 0, a.ItemCount())
	for _, it := range value.Items(a) {
		out = append(out, it.(value.AtomicValue).String())
	}
	return out
}

// sleepDef is local:sleep(), which blocks for 5ms.
var sleepDef = &functions.Definition{
	Signature: functions.Signature{
		Name:   types.NewQName(types.LocalNS, "sleep", "local"),
		Return: types.NewSequenceType(types.EmptyType, types.EmptySequence),
	},
	Fn: func(ctx context.Context, _ functions.Context, _ []value.Sequence) (value.Sequence, error) {
		time.Sleep(5 * time.Millisecond)
		return value.Empty, nil
	},
}

func sleepingLoop() expr.Expression {
	call := expr.NewFunctionCall(types.NewQName(types.LocalNS, "sleep", "local"))
	return expr.NewFor(types.LocalName("i"), expr.NewRange(num(1), num(10)), call)
}

func withSleep() evaluator.EvalOption {
	return evaluator.WithRegistry(functions.NewRegistry(append(fn.Library(), sleepDef)...))
}

const library = `<root><a>1</a><a>2</a><b><a>3</a><a>4</a></b></root>`

func libraryDocs(t *testing.T) expr.ContextOption {
	t.Helper()
	doc, err := dom.ParseString("library.xml", library)
	qt.Assert(t, qt.IsNil(err))
	return expr.WithStaticDocuments(dom.NewDocumentSet(doc))
}

// ── Compile ────────────────────────────────────────────────────────────────

func TestCompileAndEval(t *testing.T) {
	ev := evaluator.New()
	q, err := ev.Compile(expr.NewArith(value.OpPlus, num(40), num(2)))
	qt.Assert(t, qt.IsNil(err))
	res, err := ev.Eval(context.Background(), q, nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(render(t, res), []string{"42"}))
}

func TestNilQuery(t *testing.T) {
	ev := evaluator.New()
	_, err := ev.Compile(nil)
	qt.Assert(t, qt.ErrorIs(err, evaluator.ErrNilQuery))
	_, err = ev.Eval(context.Background(), nil, nil)
	qt.Assert(t, qt.ErrorIs(err, evaluator.ErrNilQuery))
}

func TestCompileReportsStaticErrors(t *testing.T) {
	_, err := evaluator.New().Compile(ref("missing"))
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Kind, types.KindStatic))
}

func TestCompileOptimizes(t *testing.T) {
	ev := evaluator.New()
	q, err := ev.Compile(firstPerParent(), libraryDocs(t))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(q.Optimized()))
	qt.Assert(t, qt.Equals(q.Dump(), "//a[1]"))

	res, err := ev.Eval(context.Background(), q, nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(render(t, res), []string{"1", "3"}))
}

func TestOptimizerDisabled(t *testing.T) {
	q, err := evaluator.New(evaluator.WithOptimizer(false)).Compile(firstPerParent(), libraryDocs(t))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(q.Optimized()))

	m := expr.NewModule(firstPerParent())
	m.DeclareOption(evaluator.OptimizeOption, "enable=no")
	q, err = evaluator.New().Compile(m, libraryDocs(t))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsFalse(q.Optimized()))
}

// ── Eval ───────────────────────────────────────────────────────────────────

func TestEvalIsRepeatable(t *testing.T) {
	ev := evaluator.New()
	loop := expr.NewFor(types.LocalName("i"), expr.NewRange(num(1), num(3)),
		expr.NewArith(value.OpMult, ref("i"), ref("i")))
	q, err := ev.Compile(loop)
	qt.Assert(t, qt.IsNil(err))
	for rep := 0; rep < 3; rep++ {
		res, err := ev.Eval(context.Background(), q, nil)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.DeepEquals(render(t, res), []string{"1", "4", "9"}))
	}
}

func TestInitialContextItem(t *testing.T) {
	ev := evaluator.New()
	q, err := ev.Compile(expr.NewArith(value.OpPlus, expr.NewContextItem(), num(1)))
	qt.Assert(t, qt.IsNil(err))

	res, err := ev.Eval(context.Background(), q, value.One(value.IntegerValue(9)))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(render(t, res), []string{"10"}))

	_, err = ev.Eval(context.Background(), q, nil)
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Code, types.ErrContextAbsent))
}

func TestExternalVariable(t *testing.T) {
	name := types.LocalName("x")
	m := expr.NewModule(expr.NewArith(value.OpMult, ref("x"), num(2)))
	m.DeclareVariable(&expr.VariableDeclaration{Name: name, External: true})
	ev := evaluator.New()
	q, err := ev.Compile(m)
	qt.Assert(t, qt.IsNil(err))

	q.SetExternalVariable(name, value.One(value.IntegerValue(21)))
	res, err := ev.Eval(context.Background(), q, nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(render(t, res), []string{"42"}))
}

func TestConcurrentEvalOfOneQuery(t *testing.T) {
	ev := evaluator.New()
	q, err := ev.Compile(firstPerParent(), libraryDocs(t))
	qt.Assert(t, qt.IsNil(err))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ev.Eval(context.Background(), q, nil)
			if err == nil && res.ItemCount() != 2 {
				err = errors.New("unexpected result size")
			}
			errs[i] = err
		}()
	}
	wg.Wait()
	for _, err := range errs {
		qt.Check(t, qt.IsNil(err))
	}
}

// ── Watchdog ───────────────────────────────────────────────────────────────

func TestTimeout(t *testing.T) {
	before := testutil.ToFloat64(metrics.TerminatedTotal.WithLabelValues(types.TerminatedTimeout.String()))

	ev := evaluator.New(withSleep(), evaluator.WithTimeout(time.Millisecond))
	q, err := ev.Compile(sleepingLoop())
	qt.Assert(t, qt.IsNil(err))
	_, err = ev.Eval(context.Background(), q, nil)
	qt.Assert(t, qt.IsTrue(types.IsTerminated(err)))
	xe, _ := types.AsError(err)
	qt.Assert(t, qt.Equals(xe.Reason, types.TerminatedTimeout))

	after := testutil.ToFloat64(metrics.TerminatedTotal.WithLabelValues(types.TerminatedTimeout.String()))
	qt.Assert(t, qt.Equals(after, before+1))
}

func TestTimeoutOption(t *testing.T) {
	m := expr.NewModule(sleepingLoop())
	m.DeclareOption(evaluator.TimeoutOption, "1")
	ev := evaluator.New(withSleep())
	q, err := ev.Compile(m)
	qt.Assert(t, qt.IsNil(err))
	_, err = ev.Eval(context.Background(), q, nil)
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Reason, types.TerminatedTimeout))
}

func TestOutputSizeLimitOption(t *testing.T) {
	body := expr.NewElementConstructor(types.LocalName("item"), ref("i"))
	m := expr.NewModule(expr.NewFor(types.LocalName("i"), expr.NewRange(num(1), num(50)), body))
	m.DeclareOption(evaluator.OutputSizeLimitOption, "10")
	ev := evaluator.New()
	q, err := ev.Compile(m)
	qt.Assert(t, qt.IsNil(err))
	_, err = ev.Eval(context.Background(), q, nil)
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Reason, types.TerminatedOutputSize))
}

func TestInvalidOptionIsIgnored(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ev := evaluator.New(evaluator.WithLogger(logger), evaluator.WithOption(evaluator.TimeoutOption, "soon"))
	q, err := ev.Compile(num(1))
	qt.Assert(t, qt.IsNil(err))
	_, err = ev.Eval(context.Background(), q, nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.StringContains(buf.String(), "ignoring invalid option"))
}

func TestCancelledContextKillsQuery(t *testing.T) {
	ev := evaluator.New(withSleep())
	q, err := ev.Compile(sleepingLoop())
	qt.Assert(t, qt.IsNil(err))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(7*time.Millisecond, cancel)
	_, err = ev.Eval(ctx, q, nil)
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Reason, types.TerminatedKilled))

	// the next run is not affected by the previous kill
	q2, err := ev.Compile(num(1))
	qt.Assert(t, qt.IsNil(err))
	_, err = ev.Eval(context.Background(), q2, nil)
	qt.Assert(t, qt.IsNil(err))
}

// ── Store ──────────────────────────────────────────────────────────────────

func TestEvalAgainstStore(t *testing.T) {
	ctx := context.Background()
	store := dom.NewStore()
	doc, err := dom.ParseString("/db/library.xml", library)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNil(store.Put(ctx, doc)))

	ev := evaluator.New(evaluator.WithStore(store), evaluator.WithLockTimeout(time.Second))
	q, err := ev.Compile(firstPerParent())
	qt.Assert(t, qt.IsNil(err))
	res, err := ev.Eval(ctx, q, nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(render(t, res), []string{"1", "3"}))

	// read locks are released after the run
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	qt.Assert(t, qt.IsNil(store.Remove(ctx, "/db/library.xml")))
}

func TestDebugLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ev := evaluator.New(evaluator.WithLogger(logger), evaluator.WithDebug(true))
	q, err := ev.Compile(num(7))
	qt.Assert(t, qt.IsNil(err))
	_, err = ev.Eval(context.Background(), q, nil)
	qt.Assert(t, qt.IsNil(err))
	out := buf.String()
	qt.Check(t, qt.StringContains(out, "compiled query"))
	qt.Check(t, qt.StringContains(out, "query finished"))
	qt.Check(t, qt.StringContains(out, "run="))
}
