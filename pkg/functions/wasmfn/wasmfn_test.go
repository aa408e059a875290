package wasmfn_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/eXist-db/exist-sub013/pkg/expr"
	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/functions/wasmfn"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

const mathNS = "urn:test:math"

// arith is a module exporting add(i64, i64) i64 and mul(f64, f64) f64.
var arith = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// types
	0x01, 0x0d, 0x02,
	0x60, 0x02, 0x7e, 0x7e, 0x01, 0x7e,
	0x60, 0x02, 0x7c, 0x7c, 0x01, 0x7c,
	// functions
	0x03, 0x03, 0x02, 0x00, 0x01,
	// exports
	0x07, 0x0d, 0x02,
	0x03, 'a', 'd', 'd', 0x00, 0x00,
	0x03, 'm', 'u', 'l', 0x00, 0x01,
	// code
	0x0a, 0x11, 0x02,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x7c, 0x0b,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0xa2, 0x0b,
}

func load(t *testing.T, opts ...wasmfn.Option) *wasmfn.Module {
	t.Helper()
	ctx := context.Background()
	m, err := wasmfn.Load(ctx, mathNS, "m", arith, opts...)
	qt.Assert(t, qt.IsNil(err))
	t.Cleanup(func() { m.Close(ctx) })
	return m
}

func call(local string, args ...expr.Expression) expr.Expression {
	return expr.NewFunctionCall(types.NewQName(mathNS, local, "m"), args...)
}

func eval(t *testing.T, m *wasmfn.Module, e expr.Expression, opts ...expr.ContextOption) (value.Sequence, error) {
	t.Helper()
	reg := functions.NewRegistry(m.Definitions()...)
	xc := expr.NewContext(append([]expr.ContextOption{expr.WithRegistry(reg)}, opts...)...)
	qt.Assert(t, qt.IsNil(expr.Analyze(xc, e)))
	xc.Prepare(context.Background(), nil)
	defer xc.Release()
	return expr.Eval(xc, e, nil, nil)
}

func TestDefinitions(t *testing.T) {
	defs := load(t).Definitions()
	qt.Assert(t, qt.HasLen(defs, 2))
	qt.Check(t, qt.Equals(defs[0].Name.Local, "add"))
	qt.Check(t, qt.Equals(defs[0].Signature.String(), "m:add($arg1 as xs:integer, $arg2 as xs:integer) as xs:integer"))
	qt.Check(t, qt.Equals(defs[1].Name.Local, "mul"))
	qt.Check(t, qt.Equals(defs[1].Return.Type, types.Double))
}

func TestCallIntegerExport(t *testing.T) {
	res, err := eval(t, load(t), call("add", expr.NewLiteral(value.IntegerValue(40)), expr.NewLiteral(value.IntegerValue(2))))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(value.Render(res), "42"))
}

func TestCallDoubleExportPromotesIntegers(t *testing.T) {
	res, err := eval(t, load(t), call("mul", expr.NewLiteral(value.IntegerValue(3)), expr.NewLiteral(value.DoubleValue(2.5))))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.HasLen(value.Items(res), 1))
	qt.Assert(t, qt.Equals(res.ItemAt(0).(value.AtomicValue).String(), "7.5"))
}

func TestPrivilegedModule(t *testing.T) {
	deny := func(_ context.Context, d *functions.Definition) error {
		return errors.New("wasm disabled")
	}
	m := load(t, wasmfn.WithPrivileged(true))
	_, err := eval(t, m, call("add", expr.NewLiteral(value.IntegerValue(1)), expr.NewLiteral(value.IntegerValue(2))),
		expr.WithPermissionChecker(deny))
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.Equals(xe.Kind, types.KindPermission))
}

func TestInvalidModule(t *testing.T) {
	_, err := wasmfn.Load(context.Background(), mathNS, "m", []byte("not wasm"))
	qt.Assert(t, qt.IsNotNil(err))
}
