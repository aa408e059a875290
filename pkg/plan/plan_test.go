package plan_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/evaluator"
	"github.com/eXist-db/exist-sub013/pkg/expr"
	"github.com/eXist-db/exist-sub013/pkg/plan"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

const library = `<lib:root xmlns:lib="urn:lib"><a>1</a><a>2</a><b><a>3</a><a>4</a></b></lib:root>`

func libraryDocs(t *testing.T) expr.ContextOption {
	t.Helper()
	doc, err := dom.ParseString("library.xml", library)
	qt.Assert(t, qt.IsNil(err))
	return expr.WithStaticDocuments(dom.NewDocumentSet(doc))
}

func run(t *testing.T, src string, opts ...expr.ContextOption) (value.Sequence, error) {
	t.Helper()
	p, err := plan.Parse([]byte(src))
	qt.Assert(t, qt.IsNil(err))
	ev := evaluator.New()
	q, err := ev.Compile(p.Module, append(p.ContextOptions(), opts...)...)
	if err != nil {
		return nil, err
	}
	return ev.Eval(context.Background(), q, nil)
}

func strs(t *testing.T, src string, opts ...expr.ContextOption) string {
	t.Helper()
	res, err := run(t, src, opts...)
	qt.Assert(t, qt.IsNil(err))
	a, err := value.Atomize(res)
	qt.Assert(t, qt.IsNil(err))
	out := make([]string, 0, a.ItemCount())
	for _, it := range value.Items(a) {
		out = append(out, it.(value.AtomicValue).String())
	}
	return strings.Join(out, " ")
}

func decodeError(t *testing.T, src string) *types.Error {
	t.Helper()
	_, err := plan.Parse([]byte(src))
	qt.Assert(t, qt.IsNotNil(err))
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok), qt.Commentf("error %v is not a query error", err))
	return xe
}

// ── Expressions ────────────────────────────────────────────────────────────

func TestExpressions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"integer", "query: 42", "42"},
		{"decimal", "query: 1.5", "1.5"},
		{"double", "query: {call: string, args: [1.5e0]}", "1.5"},
		{"boolean", "query: true", "true"},
		{"string", "query: hello", "hello"},
		{"explicit string", "query: {string: '12'}", "12"},
		{"null", "query: ~", ""},
		{"sequence", "query: [1, [2, 3], []]", "1 2 3"},
		{"range", "query: {to: [1, 4]}", "1 2 3 4"},
		{"arith", `query: {"*": [{"+": [1, 2]}, 4]}`, "12"},
		{"negate", `query: {"-": 5}`, "-5"},
		{"idiv", "query: {idiv: [7, 2]}", "3"},
		{"value comparison", "query: {lt: [1, 2]}", "true"},
		{"general comparison", `query: {"=": [[1, 2, 3], 3]}`, "true"},
		{"and", "query: {and: [true, true, false]}", "false"},
		{"or", "query: {or: [false, true]}", "true"},
		{"if", "query: {if: {gt: [2, 1]}, then: big, else: small}", "big"},
		{"if without else", "query: {if: false, then: big}", ""},
		{"call", "query: {call: count, args: [[1, 2, 3]]}", "3"},
		{"prefixed call", "query: {call: 'fn:upper-case', args: [abc]}", "ABC"},
		{"filter", "query: {filter: [5, 6, 7], predicates: [2]}", "6"},
		{"cast", "query: {cast: '42', as: xs:integer}", "42"},
		{"castable", "query: {castable: x, as: xs:integer}", "false"},
		{"instance of", "query: {instance-of: [1, 2], as: 'xs:integer+'}", "true"},
		{"treat", "query: {treat: 1, as: xs:integer}", "1"},
		{"inline function", "query: {dynamic-call: {function: [x], body: {\"*\": [{var: x}, 2]}}, args: [21]}", "42"},
		{"function ref", "query: {dynamic-call: {function-ref: 'count#1'}, args: [[1, 2]]}", "2"},
		{"element", "query: {call: string, args: [{element: item, content: [a, {text: b}]}]}", "ab"},
		{"attribute", "query: {call: string, args: [{attribute: id, value: [7]}]}", "7"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			qt.Assert(t, qt.Equals(strs(t, tc.src), tc.want))
		})
	}
}

func TestFLWOR(t *testing.T) {
	src := `
query:
  for: x
  in: {to: [1, 6]}
  return:
    let: y
    be: {"*": [{var: x}, {var: x}]}
    return:
      where: {gt: [{var: y}, 10]}
      return: {var: $y}
`
	qt.Assert(t, qt.Equals(strs(t, src), "16 25 36"))
}

func TestOrderAndGroup(t *testing.T) {
	order := `
query:
  for: x
  in: [2, 1, 3]
  return:
    order-by: [{by: {var: x}, descending: true}]
    return: {var: x}
`
	qt.Check(t, qt.Equals(strs(t, order), "3 2 1"))

	group := `
query:
  for: x
  in: {to: [1, 5]}
  return:
    group-by: {var: k, by: {mod: [{var: x}, 2]}}
    return: [{var: k}, {var: x}]
`
	qt.Check(t, qt.Equals(strs(t, group), "1 1 3 5 0 2 4"))
}

func TestPositionalVariable(t *testing.T) {
	src := `
query:
  for: x
  at: i
  in: [a, b]
  return: {var: i}
`
	qt.Assert(t, qt.Equals(strs(t, src), "1 2"))
}

func TestQuantified(t *testing.T) {
	qt.Check(t, qt.Equals(strs(t, "query: {some: x, in: [1, 2], satisfies: {eq: [{var: x}, 2]}}"), "true"))
	qt.Check(t, qt.Equals(strs(t, "query: {every: x, in: [1, 2], satisfies: {eq: [{var: x}, 2]}}"), "false"))
}

func TestTryCatch(t *testing.T) {
	src := `
query:
  try: {div: [1, 0]}
  catch:
    - codes: [XPTY0004]
      return: type
    - codes: ['err:FOAR0001']
      return: division
`
	qt.Assert(t, qt.Equals(strs(t, src), "division"))
	qt.Assert(t, qt.Equals(strs(t, "query: {try: {div: [1, 0]}, catch: {return: caught}}"), "caught"))
}

func TestPaths(t *testing.T) {
	docs := libraryDocs(t)
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"descendants", `query: {path: ["//", a]}`, "1 2 3 4"},
		{"first per parent", `query: {path: ["//", {step: a, predicates: [1]}]}`, "1 3"},
		{"prefixed root", "namespaces: {lib: urn:lib}\nquery: {path: [/, 'lib:root', b, a]}", "3 4"},
		{"namespace wildcard", `query: {path: [/, "*:root", "child::a"]}`, "1 2"},
		{"parent", `query: {call: count, args: [{path: ["//", a, ".."]}]}`, "2"},
		{"node predicate", `query: {path: [/, "*", {step: "*", predicates: [{path: [a]}]}]}`, "34"},
		{"context item comparison", `query: {path: ["//", {step: a, predicates: [{"=": [{path: ["."]}, {string: "3"}]}]}]}`, "3"},
		{"text comparison", `query: {path: [/, "*", b, {step: a, predicates: [{"=": [{path: ["text()"]}, {string: "3"}]}]}]}`, "3"},
		{"child comparison", `query: {path: [/, "*", {step: "*", predicates: [{"=": [{path: [a]}, {string: "3"}]}]}]}`, "34"},
		{"first text comparison", `query: {path: [/, "*", {step: a, predicates: [{"=": [{path: ["text()"]}, {string: "1"}]}]}]}`, "1"},
		{"primary step",`query: {path: [{call: root, args: [{path: ["//", b]}]}, "descendant::a"]}`, "1 2 3 4"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			qt.Assert(t, qt.Equals(strs(t, tc.src, docs), tc.want))
		})
	}
}

func TestPragma(t *testing.T) {
	src := `
query:
  pragma: [{name: 'exist:time', contents: "log-message-prefix=Q1"}, 'urn:unknown']
  in: {"+": [1, 1]}
`
	_, err := plan.Parse([]byte(src))
	// urn:unknown has no registered prefix
	qt.Assert(t, qt.IsNotNil(err))

	src = `
namespaces: {u: "urn:unknown"}
query:
  pragma: [{name: 'exist:time', contents: "log-message-prefix=Q1"}, 'u:ignored']
  in: {"+": [1, 1]}
`
	qt.Assert(t, qt.Equals(strs(t, src), "2"))
}

// ── Prolog ─────────────────────────────────────────────────────────────────

func TestProlog(t *testing.T) {
	src := `
options:
  exist:timeout: "2000"
documents: [/db/library.xml]
variables:
  - {name: limit, as: xs:integer, external: true}
  - {name: base, value: 10}
functions:
  - name: local:square
    params: [{name: n, as: xs:integer}]
    as: xs:integer
    body: {"*": [{var: n}, {var: n}]}
query:
  for: i
  in: {to: [1, {var: limit}]}
  return: {"+": [{var: base}, {call: 'local:square', args: [{var: i}]}]}
`
	p, err := plan.Parse([]byte(src))
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.DeepEquals(p.Documents, []string{"/db/library.xml"}))
	qt.Assert(t, qt.HasLen(p.Module.Options, 1))
	qt.Check(t, qt.IsTrue(p.Module.Options[0].Name.Equals(evaluator.TimeoutOption)))
	qt.Check(t, qt.Equals(p.Module.Options[0].Value, "2000"))

	ev := evaluator.New()
	q, err := ev.Compile(p.Module, p.ContextOptions()...)
	qt.Assert(t, qt.IsNil(err))
	q.SetExternalVariable(types.LocalName("limit"), value.One(value.IntegerValue(3)))
	res, err := ev.Eval(context.Background(), q, nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(value.Render(res), "(11, 14, 19)"))
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.yaml")
	qt.Assert(t, qt.IsNil(os.WriteFile(path, []byte("query: {call: count, args: [[1, 2]]}\n"), 0o644)))
	p, err := plan.DecodeFile(path)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(expr.Dump(p.Module.Body), "fn:count((1, 2))"))

	_, err = plan.DecodeFile(filepath.Join(t.TempDir(), "missing.yaml"))
	qt.Assert(t, qt.IsNotNil(err))
}

// ── Errors ─────────────────────────────────────────────────────────────────

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"no query", "options: {}", "no query"},
		{"unknown kind", "query: {frobnicate: 1}", `unknown expression kind "frobnicate"`},
		{"missing field", "query: {for: x, return: 1}", `missing "in"`},
		{"operand count", `query: {"+": [1]}`, "expected two operands"},
		{"bad arity", "query: {function-ref: count}", "has no arity"},
		{"unknown axis", `query: {path: ["sideways::a"]}`, "unknown axis"},
		{"unknown type", "query: {cast: 1, as: xs:nothing}", "unknown type"},
		{"unbound prefix", "query: {call: 'nope:f'}", "nope"},
		{"duplicate key", "query: {if: true, then: 1, then: 2}", "then"},
		{"variable without value", "variables: [{name: x}]\nquery: 1", "needs a value"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			xe := decodeError(t, tc.src)
			qt.Check(t, qt.Equals(xe.Kind, types.KindStatic))
			qt.Check(t, qt.StringContains(xe.Error(), tc.msg))
		})
	}
}

func TestErrorLocation(t *testing.T) {
	src := "query:\n  for: x\n  in: [1]\n  return: {bogus: 1}\n"
	xe := decodeError(t, src)
	qt.Assert(t, qt.Equals(xe.Location, types.Loc(4, 12)))
}

func TestRuntimeErrorCarriesPlanLocation(t *testing.T) {
	src := "query:\n  - 1\n  - {div: [1, 0]}\n"
	_, err := run(t, src)
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Code, types.ErrDivisionByZero))
	qt.Assert(t, qt.Equals(xe.Location, types.Loc(3, 5)))
}
