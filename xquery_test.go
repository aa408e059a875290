package xquery_test

import (
	"context"
	"testing"

	"github.com/go-quicktest/qt"

	xquery "github.com/eXist-db/exist-sub013"
	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/evaluator"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

func TestEval(t *testing.T) {
	res, err := xquery.Eval(`query: {to: [1, 3]}`)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(value.Render(res), "(1, 2, 3)"))
}

func TestCompileWithStore(t *testing.T) {
	ctx := context.Background()
	store := dom.NewStore()
	doc, err := dom.ParseString("/db/a.xml", `<r><x>1</x><x>2</x></r>`)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsNil(store.Put(ctx, doc)))

	q, err := xquery.Compile(`
documents: [/db/a.xml]
query: {call: count, args: [{path: ["//", x]}]}
`, evaluator.WithStore(store))
	qt.Assert(t, qt.IsNil(err))
	for rep := 0; rep < 2; rep++ {
		res, err := q.Eval(ctx, nil)
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.Equals(value.Render(res), "2"))
	}
}

func TestMissingDocument(t *testing.T) {
	_, err := xquery.Compile("documents: [/db/none.xml]\nquery: 1\n", evaluator.WithStore(dom.NewStore()))
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Code, types.ErrRetrieveResource))
}

func TestBind(t *testing.T) {
	q := xquery.MustCompile(`
variables: [{name: n, external: true}]
query: {"*": [{var: n}, 2]}
`)
	res, err := q.Bind("n", value.One(value.IntegerValue(21))).Eval(context.Background(), nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(value.Render(res), "42"))
}

func TestMustCompilePanics(t *testing.T) {
	defer func() {
		qt.Assert(t, qt.IsNotNil(recover()))
	}()
	xquery.MustCompile(`query: {bogus: 1}`)
}
