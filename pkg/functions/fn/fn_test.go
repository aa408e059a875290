package fn_test

import (
	"context"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/expr"
	"github.com/eXist-db/exist-sub013/pkg/functions/fn"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

func num(n int) expr.Expression    { return expr.NewLiteral(value.IntegerValue(n)) }
func str(s string) expr.Expression { return expr.NewLiteral(value.NewString(s)) }
func empty() expr.Expression       { return expr.NewSequence() }

func seq(items ...expr.Expression) expr.Expression { return expr.NewSequence(items...) }

func call(local string, args ...expr.Expression) expr.Expression {
	return expr.NewFunctionCall(fn.Name(local), args...)
}

func eval(e expr.Expression, opts ...expr.ContextOption) (value.Sequence, error) {
	opts = append([]expr.ContextOption{expr.WithRegistry(fn.NewRegistry())}, opts...)
	xc := expr.NewContext(opts...)
	if err := expr.Analyze(xc, e); err != nil {
		return nil, err
	}
	xc.Prepare(context.Background(), nil)
	defer xc.Release()
	return expr.Eval(xc, e, nil, nil)
}

func evalString(t *testing.T, e expr.Expression, opts ...expr.ContextOption) string {
	t.Helper()
	res, err := eval(e, opts...)
	qt.Assert(t, qt.IsNil(err))
	a, err := value.Atomize(res)
	qt.Assert(t, qt.IsNil(err))
	out := ""
	for i := 0; i < a.ItemCount(); i++ {
		if i > 0 {
			out += " "
		}
		out += a.ItemAt(i).(value.AtomicValue).String()
	}
	return out
}

func evalError(t *testing.T, e expr.Expression, opts ...expr.ContextOption) *types.Error {
	t.Helper()
	_, err := eval(e, opts...)
	qt.Assert(t, qt.IsNotNil(err))
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	return xe
}

func decimal(t *testing.T, s string) expr.Expression {
	d, err := value.ParseDecimal(s)
	qt.Assert(t, qt.IsNil(err))
	return expr.NewLiteral(d)
}

// ── Catalog ────────────────────────────────────────────────────────────────

func TestFunctions(t *testing.T) {
	tests := []struct {
		name string
		e    expr.Expression
		want string
	}{
		{"true", call("true"), "true"},
		{"false", call("false"), "false"},
		{"not empty", call("not", empty()), "true"},
		{"boolean string", call("boolean", str("a")), "true"},
		{"count", call("count", seq(num(1), num(2), num(3))), "3"},
		{"count empty", call("count", empty()), "0"},
		{"empty", call("empty", empty()), "true"},
		{"exists", call("exists", num(1)), "true"},
		{"data", call("data", seq(num(1), str("x"))), "1 x"},
		{"sum", call("sum", seq(num(1), num(2), num(3))), "6"},
		{"sum empty", call("sum", empty()), "0"},
		{"sum empty zero", call("sum", empty(), empty()), ""},
		{"sum decimal", call("sum", seq(num(1), decimal(t, "2.5"))), "3.5"},
		{"zero-or-one", call("zero-or-one", num(4)), "4"},
		{"one-or-more", call("one-or-more", seq(num(1), num(2))), "1 2"},
		{"exactly-one", call("exactly-one", str("x")), "x"},
		{"string", call("string", num(12)), "12"},
		{"string empty", call("string", empty()), ""},
		{"string-length", call("string-length", str("héllo")), "5"},
		{"upper-case", call("upper-case", str("abc")), "ABC"},
		{"lower-case", call("lower-case", str("ÀB")), "àb"},
		{"concat", call("concat", str("a"), num(1), empty(), str("b")), "a1b"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			qt.Assert(t, qt.Equals(evalString(t, tc.e), tc.want))
		})
	}
}

func TestCardinalityFunctions(t *testing.T) {
	tests := []struct {
		e    expr.Expression
		code types.ErrorCode
	}{
		{call("zero-or-one", seq(num(1), num(2))), types.ErrZeroOrOne},
		{call("one-or-more", empty()), types.ErrOneOrMore},
		{call("exactly-one", empty()), types.ErrExactlyOne},
		{call("sum", seq(num(1), str("a"))), types.ErrInvalidArgumentType},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			qt.Assert(t, qt.Equals(evalError(t, tc.e).Code, tc.code))
		})
	}
}

func TestFocusFunctions(t *testing.T) {
	// (5, 6, 7)[position() = last()]
	last := expr.NewFilter(seq(num(5), num(6), num(7)),
		expr.NewPredicate(expr.NewGeneralComparison(value.CmpEq, call("position"), call("last"))))
	qt.Assert(t, qt.Equals(evalString(t, last), "7"))

	qt.Assert(t, qt.Equals(evalError(t, call("string")).Code, types.ErrContextAbsent))
	qt.Assert(t, qt.Equals(evalError(t, call("position")).Code, types.ErrContextAbsent))
}

func TestUnknownArity(t *testing.T) {
	xe := evalError(t, call("true", num(1)))
	qt.Assert(t, qt.Equals(xe.Code, types.ErrUnknownFunction))
	qt.Assert(t, qt.Equals(xe.Kind, types.KindStatic))
}

// ── Nodes ──────────────────────────────────────────────────────────────────

const library = `<lib:root xmlns:lib="urn:lib"><a>1</a><a>2</a></lib:root>`

func libraryDocs(t *testing.T) expr.ContextOption {
	t.Helper()
	doc, err := dom.ParseString("library.xml", library)
	qt.Assert(t, qt.IsNil(err))
	return expr.WithStaticDocuments(dom.NewDocumentSet(doc))
}

func rootElement() expr.Expression {
	return expr.NewPath(expr.NewRootNode(),
		expr.NewStep(dom.AxisChild, dom.NameTest{Kind: dom.ElementNode, AnySpace: true}))
}

func TestNodeFunctions(t *testing.T) {
	docs := libraryDocs(t)
	qt.Check(t, qt.Equals(evalString(t, call("name", rootElement()), docs), "lib:root"))
	qt.Check(t, qt.Equals(evalString(t, call("local-name", rootElement()), docs), "root"))
	qt.Check(t, qt.Equals(evalString(t, call("name", empty()), docs), ""))
	qt.Check(t, qt.Equals(evalString(t, call("string", call("root", rootElement())), docs), "12"))
	qt.Check(t, qt.Equals(evalString(t, call("count", call("root", rootElement())), docs), "1"))
}

func TestNameOfAtomicFails(t *testing.T) {
	qt.Assert(t, qt.Equals(evalError(t, call("string", call("name", str("x")))).Code, types.ErrType))
}

func TestDoc(t *testing.T) {
	docs := libraryDocs(t)
	qt.Check(t, qt.Equals(evalString(t, call("doc", str("library.xml")), docs), "12"))
	qt.Check(t, qt.Equals(evalString(t, call("doc", empty()), docs), ""))
	qt.Check(t, qt.Equals(evalError(t, call("doc", str("missing.xml")), docs).Code, types.ErrRetrieveResource))
}

func TestDocFromStore(t *testing.T) {
	store := dom.NewStore()
	doc, err := dom.ParseString("/db/a.xml", `<a>stored</a>`)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNil(store.Put(context.Background(), doc)))
	qt.Assert(t, qt.Equals(evalString(t, call("doc", str("/db/a.xml")), expr.WithStore(store)), "stored"))
}

// ── fn:error ───────────────────────────────────────────────────────────────

func TestErrorWithoutCode(t *testing.T) {
	xe := evalError(t, call("error"))
	qt.Assert(t, qt.Equals(xe.Code, types.ErrUnidentified))
	qt.Assert(t, qt.Equals(xe.QName().Space, types.ErrorNS))
}

func TestErrorWithObject(t *testing.T) {
	code := types.NewQName("urn:app", "oops", "app")
	e := call("error", expr.NewLiteral(value.NewQNameValue(code)), str("boom"), seq(num(1), num(2)))
	xe := evalError(t, e)
	qt.Check(t, qt.Equals(xe.Message, "boom"))
	qt.Check(t, qt.IsTrue(xe.QName().Equals(code)))
	obj, ok := xe.Object.(value.Sequence)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Equals(obj.ItemCount(), 2))
	qt.Check(t, qt.IsTrue(xe.IsRecoverable()))
}

func TestErrorIsCaught(t *testing.T) {
	code := types.NewQName("urn:app", "oops", "app")
	try := call("error", expr.NewLiteral(value.NewQNameValue(code)), str("boom"))
	e := expr.NewTryCatch(try, expr.CatchClause{
		Codes: []types.QName{code},
		Expr:  expr.NewVariableReference(expr.ErrDescriptionVar),
	})
	qt.Assert(t, qt.Equals(evalString(t, e), "boom"))
}
