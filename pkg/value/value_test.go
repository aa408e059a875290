package value_test

import (
	"math"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

func dec(t *testing.T, s string) value.DecimalValue {
	t.Helper()
	d, err := value.ParseDecimal(s)
	qt.Assert(t, qt.IsNil(err))
	return d
}

// ── Arithmetic ─────────────────────────────────────────────────────────────

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   value.ArithOp
		a, b value.NumericValue
		want string
		typ  types.Type
	}{
		{"int plus", value.OpPlus, value.IntegerValue(2), value.IntegerValue(3), "5", types.Integer},
		{"int div yields decimal", value.OpDiv, value.IntegerValue(3), value.IntegerValue(2), "1.5", types.Decimal},
		{"exact int div", value.OpDiv, value.IntegerValue(4), value.IntegerValue(2), "2", types.Decimal},
		{"idiv truncates", value.OpIDiv, value.IntegerValue(-7), value.IntegerValue(2), "-3", types.Integer},
		{"mod sign of dividend", value.OpMod, value.IntegerValue(-7), value.IntegerValue(2), "-1", types.Integer},
		{"decimal promotion", value.OpPlus, value.IntegerValue(1), dec(t, "0.25"), "1.25", types.Decimal},
		{"double promotion", value.OpMult, dec(t, "1.5"), value.DoubleValue(2), "3", types.Double},
		{"float promotion", value.OpMinus, value.FloatValue(1.5), value.IntegerValue(1), "0.5", types.Float},
		{"double div by zero", value.OpDiv, value.DoubleValue(1), value.DoubleValue(0), "INF", types.Double},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := value.Arithmetic(nil, tc.op, tc.a, tc.b)
			qt.Assert(t, qt.IsNil(err))
			qt.Check(t, qt.Equals(got.String(), tc.want))
			qt.Check(t, qt.Equals(got.Type(), tc.typ))
		})
	}
}

func TestArithmeticErrors(t *testing.T) {
	tests := []struct {
		name string
		op   value.ArithOp
		a, b value.NumericValue
		code types.ErrorCode
	}{
		{"int overflow", value.OpPlus, value.IntegerValue(math.MaxInt64), value.IntegerValue(1), types.ErrNumericOverflow},
		{"mult overflow", value.OpMult, value.IntegerValue(math.MaxInt64), value.IntegerValue(2), types.ErrNumericOverflow},
		{"idiv by zero", value.OpIDiv, value.IntegerValue(1), value.IntegerValue(0), types.ErrDivisionByZero},
		{"decimal div by zero", value.OpDiv, dec(t, "1.0"), value.IntegerValue(0), types.ErrDivisionByZero},
		{"double idiv by zero", value.OpIDiv, value.DoubleValue(1), value.DoubleValue(0), types.ErrDivisionByZero},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := value.Arithmetic(nil, tc.op, tc.a, tc.b)
			qt.Assert(t, qt.IsTrue(types.HasCode(err, tc.code)), qt.Commentf("got %v", err))
		})
	}
}

func TestDecimalPrecision(t *testing.T) {
	got, err := value.Arithmetic(nil, value.OpDiv, value.IntegerValue(1), value.IntegerValue(3))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got.String(), "0."+repeat("3", 34)))
}

func repeat(s string, n int) string {
	out := ""
	for rep := 0; rep < n; rep++ {
		out += s
	}
	return out
}

// ── Formatting ─────────────────────────────────────────────────────────────

func TestDoubleCanonicalForm(t *testing.T) {
	tests := map[float64]string{
		3:           "3",
		1.5:         "1.5",
		-0.25:       "-0.25",
		1e7:         "1.0E7",
		1.25e-7:     "1.25E-7",
		math.Inf(1): "INF",
	}
	for in, want := range tests {
		qt.Check(t, qt.Equals(value.DoubleValue(in).String(), want))
	}
	qt.Check(t, qt.Equals(value.DoubleValue(math.NaN()).String(), "NaN"))
}

// ── Comparison ─────────────────────────────────────────────────────────────

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name string
		op   value.CompOp
		a, b value.AtomicValue
		want bool
	}{
		{"int eq decimal", value.CmpEq, value.IntegerValue(2), dec(t, "2.0"), true},
		{"int lt double", value.CmpLt, value.IntegerValue(2), value.DoubleValue(2.5), true},
		{"string codepoint", value.CmpLt, value.NewString("B"), value.NewString("a"), true},
		{"untyped as string", value.CmpEq, value.NewUntypedAtomic("x"), value.NewString("x"), true},
		{"boolean order", value.CmpLt, value.False, value.True, true},
		{"NaN ne NaN", value.CmpNe, value.DoubleValue(math.NaN()), value.DoubleValue(math.NaN()), true},
		{"NaN eq NaN", value.CmpEq, value.DoubleValue(math.NaN()), value.DoubleValue(math.NaN()), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := value.CompareValues(tc.op, tc.a, tc.b, nil)
			qt.Assert(t, qt.IsNil(err))
			qt.Assert(t, qt.Equals(got, tc.want))
		})
	}
}

func TestCompareIncomparable(t *testing.T) {
	_, err := value.CompareValues(value.CmpEq, value.NewString("1"), value.IntegerValue(1), nil)
	qt.Assert(t, qt.IsTrue(types.HasCode(err, types.ErrType)))
}

func TestGeneralComparePromotesUntyped(t *testing.T) {
	ok, err := value.GeneralCompare(value.CmpEq, value.NewUntypedAtomic("10"), value.IntegerValue(10), nil)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(ok))

	_, err = value.GeneralCompare(value.CmpEq, value.NewUntypedAtomic("ten"), value.IntegerValue(10), nil)
	qt.Assert(t, qt.IsTrue(types.HasCode(err, types.ErrInvalidCastValue)))
}

func TestCollation(t *testing.T) {
	c, err := value.NewCollator("http://exist-db.org/collation?lang=en&strength=primary")
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(c.Compare("Strasse", "strasse"), 0))
	qt.Check(t, qt.Equals(c.Compare("a", "B"), -1))

	_, err = value.NewCollator("http://example.com/unknown")
	qt.Assert(t, qt.IsTrue(types.HasCode(err, types.ErrUnsupportedCollation)))

	_, err = value.NewCollator("http://exist-db.org/collation?strength=bogus")
	qt.Assert(t, qt.IsTrue(types.HasCode(err, types.ErrUnsupportedCollation)))
}

// ── Casting ────────────────────────────────────────────────────────────────

func TestCast(t *testing.T) {
	tests := []struct {
		in     value.AtomicValue
		target types.Type
		want   string
	}{
		{value.NewString(" 42 "), types.Integer, "42"},
		{value.NewString("1"), types.Boolean, "true"},
		{value.DoubleValue(-2.7), types.Integer, "-2"},
		{value.NewString("INF"), types.Double, "INF"},
		{value.NewString("0.50"), types.Decimal, "0.5"},
		{value.IntegerValue(7), types.String, "7"},
		{dec(t, "3.99"), types.Integer, "3"},
		{value.True, types.Double, "1"},
	}
	for _, tc := range tests {
		got, err := value.Cast(tc.in, tc.target)
		qt.Assert(t, qt.IsNil(err))
		qt.Check(t, qt.Equals(got.String(), tc.want))
		qt.Check(t, qt.Equals(got.Type(), tc.target))
	}
}

func TestCastErrors(t *testing.T) {
	_, err := value.Cast(value.NewString("abc"), types.Integer)
	qt.Check(t, qt.IsTrue(types.HasCode(err, types.ErrInvalidCastValue)))

	_, err = value.Cast(value.DoubleValue(math.NaN()), types.Integer)
	qt.Check(t, qt.IsTrue(types.HasCode(err, types.ErrInvalidLexical)))

	_, err = value.Cast(value.NewString("1e3"), types.Decimal)
	qt.Check(t, qt.IsTrue(types.HasCode(err, types.ErrInvalidCastValue)))

	_, err = value.Cast(value.True, types.QNameType)
	qt.Check(t, qt.IsTrue(types.HasCode(err, types.ErrType)))
}

// ── Sequences ──────────────────────────────────────────────────────────────

func TestEffectiveBooleanValue(t *testing.T) {
	tests := []struct {
		seq  value.Sequence
		want bool
	}{
		{value.Empty, false},
		{value.One(value.NewString("")), false},
		{value.One(value.NewString("x")), true},
		{value.One(value.IntegerValue(0)), false},
		{value.One(value.DoubleValue(math.NaN())), false},
		{value.One(value.True), true},
	}
	for _, tc := range tests {
		got, err := tc.seq.EffectiveBooleanValue()
		qt.Assert(t, qt.IsNil(err))
		qt.Check(t, qt.Equals(got, tc.want), qt.Commentf("%s", value.Render(tc.seq)))
	}

	_, err := value.NewValueSequence(value.IntegerValue(1), value.IntegerValue(2)).EffectiveBooleanValue()
	qt.Assert(t, qt.IsTrue(types.HasCode(err, types.ErrInvalidArgumentType)))
}

func TestValueSequenceState(t *testing.T) {
	s := value.NewValueSequence(value.IntegerValue(1))
	st := s.State()
	qt.Assert(t, qt.IsFalse(s.HasChanged(st)))
	s.Add(value.NewString("a"))
	qt.Assert(t, qt.IsTrue(s.HasChanged(st)))
	qt.Assert(t, qt.Equals(s.ItemType(), types.AnyAtomic))
	qt.Assert(t, qt.Equals(s.Cardinality(), types.OneOrMore))
}

func TestRender(t *testing.T) {
	s := value.NewValueSequence(value.IntegerValue(1), value.NewString("a"), value.True)
	qt.Assert(t, qt.Equals(value.Render(s), `(1, "a", true())`))
	qt.Assert(t, qt.Equals(value.Render(value.Empty), "()"))
}
