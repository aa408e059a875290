package expr_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/expr"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

var varX = types.LocalName("x")

// ── FLWOR ──────────────────────────────────────────────────────────────────

func TestOrderByDescending(t *testing.T) {
	e := expr.NewFor(varX, nums(2, 1, 3),
		expr.NewOrderBy(ref("x"), expr.OrderSpec{Expr: ref("x"), Descending: true}))
	qt.Assert(t, qt.DeepEquals(strs(t, evalOK(t, e)), []string{"3", "2", "1"}))
}

func TestOrderByIsStable(t *testing.T) {
	// for $x in (21, 12, 11, 22) order by $x idiv 10 return $x
	e := expr.NewFor(varX, nums(21, 12, 11, 22),
		expr.NewOrderBy(ref("x"), expr.OrderSpec{Expr: expr.NewArith(value.OpIDiv, ref("x"), num(10))}))
	qt.Assert(t, qt.DeepEquals(strs(t, evalOK(t, e)), []string{"12", "11", "21", "22"}))
}

func TestForOverEmpty(t *testing.T) {
	e := expr.NewFor(varX, expr.NewSequence(), ref("x"))
	qt.Assert(t, qt.HasLen(strs(t, evalOK(t, e)), 0))
}

func TestForPositionalVariable(t *testing.T) {
	f := expr.NewFor(varX, nums(7, 8), ref("i"))
	f.PosVar = types.LocalName("i")
	qt.Assert(t, qt.DeepEquals(strs(t, evalOK(t, f)), []string{"1", "2"}))
}

func TestPositionalVariableClash(t *testing.T) {
	f := expr.NewFor(varX, nums(1), ref("x"))
	f.PosVar = varX
	xc := expr.NewContext(expr.WithRegistry(testRegistry()))
	err := expr.Analyze(xc, f)
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Code, types.ErrPositionalVarName))
}

func TestLetWhere(t *testing.T) {
	// for $x in 1 to 6 let $y := $x * $x where $y gt 10 return $y
	e := expr.NewFor(varX, expr.NewRange(num(1), num(6)),
		expr.NewLet(types.LocalName("y"), expr.NewArith(value.OpMult, ref("x"), ref("x")),
			expr.NewWhere(expr.NewValueComparison(value.CmpGt, ref("y"), num(10)), ref("y"))))
	qt.Assert(t, qt.DeepEquals(strs(t, evalOK(t, e)), []string{"16", "25", "36"}))
}

func TestGroupBy(t *testing.T) {
	// for $x in 1 to 5 group by $k := $x mod 2 return ($k, $x)
	k := types.LocalName("k")
	e := expr.NewFor(varX, expr.NewRange(num(1), num(5)),
		expr.NewGroupBy(expr.NewSequence(ref("k"), ref("x")),
			expr.GroupSpec{Var: k, Expr: expr.NewArith(value.OpMod, ref("x"), num(2))}))
	got := strings.Join(strs(t, evalOK(t, e)), " ")
	qt.Assert(t, qt.Equals(got, "1 1 3 5 0 2 4"))
}

func TestQuantified(t *testing.T) {
	gt := func(n int) expr.Expression { return expr.NewValueComparison(value.CmpGt, ref("x"), num(n)) }
	tests := []struct {
		name string
		q    expr.Quantifier
		in   expr.Expression
		cond expr.Expression
		want string
	}{
		{"some true", expr.Some, nums(1, 2, 3), gt(2), "true"},
		{"some false", expr.Some, nums(1, 2, 3), gt(3), "false"},
		{"every true", expr.Every, nums(1, 2, 3), gt(0), "true"},
		{"every false", expr.Every, nums(1, 2, 3), gt(1), "false"},
		{"some empty", expr.Some, expr.NewSequence(), gt(0), "false"},
		{"every empty", expr.Every, expr.NewSequence(), expr.NewLiteral(value.BooleanValue(false)), "true"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := expr.NewQuantified(tc.q, varX, tc.in, tc.cond)
			qt.Assert(t, qt.DeepEquals(strs(t, evalOK(t, e)), []string{tc.want}))
		})
	}
}

// ── Pragmas ────────────────────────────────────────────────────────────────

type recorder struct {
	name  string
	trace *[]string
	check func(xc *expr.Context)
}

func (r *recorder) Before(xc *expr.Context, _ expr.Expression, _ value.Sequence) error {
	*r.trace = append(*r.trace, "before "+r.name)
	if r.check != nil {
		r.check(xc)
	}
	return nil
}

func (r *recorder) After(*expr.Context, expr.Expression) error {
	*r.trace = append(*r.trace, "after "+r.name)
	return nil
}

func (r *recorder) ResetState(bool) {}

func recorderPragma(trace *[]string, check func(*expr.Context)) expr.ContextOption {
	name := types.NewQName("urn:test", "record", "t")
	return expr.WithPragma(name, func(_ *expr.Context, _ types.QName, contents string) (expr.Pragma, error) {
		return &recorder{name: contents, trace: trace, check: check}, nil
	})
}

func record(contents string) expr.PragmaDecl {
	return expr.PragmaDecl{Name: types.NewQName("urn:test", "record", "t"), Contents: contents}
}

func TestPragmaHookOrder(t *testing.T) {
	var trace []string
	e := expr.NewExtension(num(1), record("a"), record("b"))
	got := strs(t, evalOK(t, e, recorderPragma(&trace, nil)))
	qt.Assert(t, qt.DeepEquals(got, []string{"1"}))
	qt.Assert(t, qt.DeepEquals(trace, []string{"before a", "before b", "after b", "after a"}))
}

func TestPragmaAfterRunsOnError(t *testing.T) {
	var trace []string
	e := expr.NewExtension(expr.NewArith(value.OpDiv, num(1), num(0)), record("a"))
	xe := evalErr(t, e, recorderPragma(&trace, nil))
	qt.Assert(t, qt.Equals(xe.Code, types.ErrDivisionByZero))
	qt.Assert(t, qt.DeepEquals(trace, []string{"before a", "after a"}))
}

func TestUnknownPragmaIgnored(t *testing.T) {
	e := expr.NewExtension(num(5), expr.PragmaDecl{Name: types.NewQName("urn:nowhere", "x", "n")})
	qt.Assert(t, qt.DeepEquals(strs(t, evalOK(t, e)), []string{"5"}))
}

func TestBatchPragma(t *testing.T) {
	store := dom.NewStore()
	var trace []string
	inBatch := false
	inner := expr.NewExtension(num(1), record("inner"))
	e := expr.NewExtension(inner, expr.PragmaDecl{Name: expr.BatchPragma})
	evalOK(t, e, expr.WithStore(store), recorderPragma(&trace, func(xc *expr.Context) {
		inBatch = xc.Store().InBatch()
	}))
	qt.Assert(t, qt.IsTrue(inBatch))
	qt.Assert(t, qt.IsFalse(store.InBatch()))
}

func pragmaLogger(buf *bytes.Buffer) expr.ContextOption {
	h := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug - 4})
	return expr.WithLogger(slog.New(h))
}

func TestTimePragmaLogs(t *testing.T) {
	var buf bytes.Buffer
	e := expr.NewExtension(num(1), expr.PragmaDecl{Name: expr.TimePragmaName, Contents: "verbose=yes log-message-prefix=Q1"})
	evalOK(t, e, pragmaLogger(&buf))
	out := buf.String()
	qt.Check(t, qt.StringContains(out, "Q1 Elapsed:"))
	qt.Check(t, qt.StringContains(out, "expression=1"))
}

func TestTimePragmaMultipleMode(t *testing.T) {
	var buf bytes.Buffer
	timed := expr.NewExtension(ref("x"), expr.PragmaDecl{Name: expr.TimePragmaName, Contents: "measurement-mode=multiple"})
	e := expr.NewFor(varX, nums(1, 2, 3), timed)
	evalOK(t, e, pragmaLogger(&buf))
	out := buf.String()
	qt.Check(t, qt.Equals(strings.Count(out, "Elapsed"), 1))
	qt.Check(t, qt.StringContains(out, "iterations=3"))
}

func TestTimePragmaBadLevel(t *testing.T) {
	e := expr.NewExtension(num(1), expr.PragmaDecl{Name: expr.TimePragmaName, Contents: "logging-level=loud"})
	xc := expr.NewContext()
	err := expr.Analyze(xc, e)
	qt.Assert(t, qt.IsNotNil(err))
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Kind, types.KindStatic))
}
