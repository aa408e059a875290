package value

import (
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// DecimalContext is the default context for xs:decimal arithmetic.
var DecimalContext = apd.BaseContext.WithPrecision(34)

// NumericValue is implemented by xs:integer, xs:decimal, xs:double and
// xs:float values.
type NumericValue interface {
	AtomicValue
	IsNaN() bool
	IsZero() bool
	// Sign returns -1, 0 or +1. NaN reports 0.
	Sign() int
	Float64() float64
	Negate() NumericValue
}

// IntegerValue is an xs:integer.
type IntegerValue int64

func (v IntegerValue) Type() types.Type                     { return types.Integer }
func (v IntegerValue) StringValue() (string, error)         { return v.String(), nil }
func (v IntegerValue) Atomize() (AtomicValue, error)        { return v, nil }
func (v IntegerValue) String() string                       { return strconv.FormatInt(int64(v), 10) }
func (v IntegerValue) EffectiveBooleanValue() (bool, error) { return v != 0, nil }
func (v IntegerValue) IsNaN() bool                          { return false }
func (v IntegerValue) IsZero() bool                         { return v == 0 }
func (v IntegerValue) Float64() float64                     { return float64(v) }

func (v IntegerValue) Sign() int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}

func (v IntegerValue) Negate() NumericValue {
	if v == math.MinInt64 {
		return NewDecimal(apd.New(int64(v), 0)).Negate()
	}
	return -v
}

// DecimalValue is an xs:decimal. The wrapped decimal is never mutated.
type DecimalValue struct {
	d *apd.Decimal
}

// NewDecimal wraps d. The caller must not modify d afterwards.
func NewDecimal(d *apd.Decimal) DecimalValue {
	return DecimalValue{d: d}
}

// ParseDecimal parses the xs:decimal lexical form.
func ParseDecimal(s string) (DecimalValue, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "eEiInN") {
		return DecimalValue{}, types.Errorf(types.ErrInvalidCastValue, "invalid xs:decimal value %q", s)
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return DecimalValue{}, types.Errorf(types.ErrInvalidCastValue, "invalid xs:decimal value %q", s).WithCause(err)
	}
	return DecimalValue{d: d}, nil
}

// Decimal returns the wrapped value.
func (v DecimalValue) Decimal() *apd.Decimal {
	if v.d == nil {
		return apd.New(0, 0)
	}
	return v.d
}

func (v DecimalValue) Type() types.Type              { return types.Decimal }
func (v DecimalValue) StringValue() (string, error)  { return v.String(), nil }
func (v DecimalValue) Atomize() (AtomicValue, error) { return v, nil }
func (v DecimalValue) IsNaN() bool                   { return false }
func (v DecimalValue) IsZero() bool                  { return v.Decimal().IsZero() }
func (v DecimalValue) Sign() int                     { return v.Decimal().Sign() }

func (v DecimalValue) EffectiveBooleanValue() (bool, error) {
	return !v.IsZero(), nil
}

func (v DecimalValue) String() string {
	if v.IsZero() {
		return "0"
	}
	var r apd.Decimal
	r.Reduce(v.Decimal())
	return r.Text('f')
}

func (v DecimalValue) Float64() float64 {
	f, err := v.Decimal().Float64()
	if err != nil {
		return math.NaN()
	}
	return f
}

func (v DecimalValue) Negate() NumericValue {
	var r apd.Decimal
	r.Neg(v.Decimal())
	return DecimalValue{d: &r}
}

// DoubleValue is an xs:double.
type DoubleValue float64

func (v DoubleValue) Type() types.Type              { return types.Double }
func (v DoubleValue) StringValue() (string, error)  { return v.String(), nil }
func (v DoubleValue) Atomize() (AtomicValue, error) { return v, nil }
func (v DoubleValue) String() string                { return formatFloat(float64(v), 64) }
func (v DoubleValue) IsNaN() bool                   { return math.IsNaN(float64(v)) }
func (v DoubleValue) IsZero() bool                  { return v == 0 }
func (v DoubleValue) Float64() float64              { return float64(v) }
func (v DoubleValue) Negate() NumericValue          { return -v }
func (v DoubleValue) Sign() int                     { return floatSign(float64(v)) }

func (v DoubleValue) EffectiveBooleanValue() (bool, error) {
	return !(v.IsZero() || v.IsNaN()), nil
}

// FloatValue is an xs:float.
type FloatValue float32

func (v FloatValue) Type() types.Type              { return types.Float }
func (v FloatValue) StringValue() (string, error)  { return v.String(), nil }
func (v FloatValue) Atomize() (AtomicValue, error) { return v, nil }
func (v FloatValue) String() string                { return formatFloat(float64(v), 32) }
func (v FloatValue) IsNaN() bool                   { return math.IsNaN(float64(v)) }
func (v FloatValue) IsZero() bool                  { return v == 0 }
func (v FloatValue) Float64() float64              { return float64(v) }
func (v FloatValue) Negate() NumericValue          { return -v }
func (v FloatValue) Sign() int                     { return floatSign(float64(v)) }

func (v FloatValue) EffectiveBooleanValue() (bool, error) {
	return !(v.IsZero() || v.IsNaN()), nil
}

func floatSign(f float64) int {
	switch {
	case f < 0:
		return -1
	case f > 0:
		return 1
	}
	return 0
}

// formatFloat renders the canonical XPath lexical form: plain decimal
// notation for magnitudes in [1e-6, 1e6), scientific notation otherwise.
func formatFloat(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	case f == 0:
		if math.Signbit(f) {
			return "-0"
		}
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e6 {
		return strconv.FormatFloat(f, 'f', -1, bitSize)
	}
	s := strconv.FormatFloat(f, 'E', -1, bitSize)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	exp = strings.TrimPrefix(exp, "+")
	neg := strings.HasPrefix(exp, "-")
	exp = strings.TrimLeft(strings.TrimPrefix(exp, "-"), "0")
	if exp == "" {
		exp = "0"
	}
	if neg {
		exp = "-" + exp
	}
	return mant + "E" + exp
}

// ArithOp is a binary arithmetic operator.
type ArithOp int

const (
	OpPlus ArithOp = iota
	OpMinus
	OpMult
	OpDiv
	OpIDiv
	OpMod
)

func (op ArithOp) String() string {
	switch op {
	case OpPlus:
		return "+"
	case OpMinus:
		return "-"
	case OpMult:
		return "*"
	case OpDiv:
		return "div"
	case OpIDiv:
		return "idiv"
	default:
		return "mod"
	}
}

// numeric promotion ranks
const (
	rankInteger = iota
	rankDecimal
	rankFloat
	rankDouble
)

func rankOf(n NumericValue) int {
	switch n.(type) {
	case IntegerValue:
		return rankInteger
	case DecimalValue:
		return rankDecimal
	case FloatValue:
		return rankFloat
	default:
		return rankDouble
	}
}

// Arithmetic applies op to a and b after numeric type promotion. dc may be
// nil to use DecimalContext.
func Arithmetic(dc *apd.Context, op ArithOp, a, b NumericValue) (NumericValue, error) {
	if dc == nil {
		dc = DecimalContext
	}
	rank := max(rankOf(a), rankOf(b))
	if rank == rankInteger && op == OpDiv {
		rank = rankDecimal
	}
	switch rank {
	case rankInteger:
		return integerArith(op, int64(a.(IntegerValue)), int64(b.(IntegerValue)))
	case rankDecimal:
		x, err := ToDecimal(a)
		if err != nil {
			return nil, err
		}
		y, err := ToDecimal(b)
		if err != nil {
			return nil, err
		}
		return decimalArith(dc, op, x, y)
	case rankFloat:
		r, err := floatArith(op, a.Float64(), b.Float64())
		if err != nil {
			return nil, err
		}
		if d, ok := r.(DoubleValue); ok {
			return FloatValue(float32(d)), nil
		}
		return r, nil
	default:
		return floatArith(op, a.Float64(), b.Float64())
	}
}

func overflow(op ArithOp) error {
	return types.Errorf(types.ErrNumericOverflow, "integer overflow in %s", op)
}

func divByZero() error {
	return types.NewError(types.ErrDivisionByZero, "division by zero")
}

func integerArith(op ArithOp, a, b int64) (NumericValue, error) {
	switch op {
	case OpPlus:
		r := a + b
		if (a > 0 && b > 0 && r < 0) || (a < 0 && b < 0 && r >= 0) {
			return nil, overflow(op)
		}
		return IntegerValue(r), nil
	case OpMinus:
		r := a - b
		if (a >= 0 && b < 0 && r < 0) || (a < 0 && b > 0 && r >= 0) {
			return nil, overflow(op)
		}
		return IntegerValue(r), nil
	case OpMult:
		if a == 0 || b == 0 {
			return IntegerValue(0), nil
		}
		r := a * b
		if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return nil, overflow(op)
		}
		return IntegerValue(r), nil
	case OpIDiv:
		if b == 0 {
			return nil, divByZero()
		}
		if a == math.MinInt64 && b == -1 {
			return nil, overflow(op)
		}
		return IntegerValue(a / b), nil
	case OpMod:
		if b == 0 {
			return nil, divByZero()
		}
		if b == -1 {
			return IntegerValue(0), nil
		}
		return IntegerValue(a % b), nil
	}
	return nil, types.Errorf(types.ErrInternal, "unsupported integer operator %s", op)
}

func decimalArith(dc *apd.Context, op ArithOp, a, b *apd.Decimal) (NumericValue, error) {
	var r apd.Decimal
	var err error
	switch op {
	case OpPlus:
		_, err = dc.Add(&r, a, b)
	case OpMinus:
		_, err = dc.Sub(&r, a, b)
	case OpMult:
		_, err = dc.Mul(&r, a, b)
	case OpDiv:
		if b.IsZero() {
			return nil, divByZero()
		}
		_, err = dc.Quo(&r, a, b)
		if err == nil {
			r.Reduce(&r)
		}
	case OpIDiv:
		if b.IsZero() {
			return nil, divByZero()
		}
		if _, err = dc.QuoInteger(&r, a, b); err != nil {
			break
		}
		i, ierr := r.Int64()
		if ierr != nil {
			return nil, overflow(op)
		}
		return IntegerValue(i), nil
	case OpMod:
		if b.IsZero() {
			return nil, divByZero()
		}
		_, err = dc.Rem(&r, a, b)
	}
	if err != nil {
		return nil, types.Errorf(types.ErrNumericOverflow, "decimal %s failed", op).WithCause(err)
	}
	return DecimalValue{d: &r}, nil
}

func floatArith(op ArithOp, a, b float64) (NumericValue, error) {
	switch op {
	case OpPlus:
		return DoubleValue(a + b), nil
	case OpMinus:
		return DoubleValue(a - b), nil
	case OpMult:
		return DoubleValue(a * b), nil
	case OpDiv:
		return DoubleValue(a / b), nil
	case OpIDiv:
		if b == 0 {
			return nil, divByZero()
		}
		if math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) {
			return nil, types.Errorf(types.ErrNumericOverflow, "invalid operand for idiv: %s", formatFloat(a, 64))
		}
		q := math.Trunc(a / b)
		if q > math.MaxInt64 || q < math.MinInt64 {
			return nil, overflow(op)
		}
		return IntegerValue(int64(q)), nil
	case OpMod:
		return DoubleValue(math.Mod(a, b)), nil
	}
	return nil, types.Errorf(types.ErrInternal, "unsupported operator %s", op)
}

// ToDecimal converts a numeric value to an apd decimal.
func ToDecimal(n NumericValue) (*apd.Decimal, error) {
	switch v := n.(type) {
	case IntegerValue:
		return apd.New(int64(v), 0), nil
	case DecimalValue:
		return v.Decimal(), nil
	default:
		f := n.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, types.Errorf(types.ErrNaNToDecimal, "cannot convert %s to xs:decimal", n)
		}
		var d apd.Decimal
		if _, err := d.SetFloat64(f); err != nil {
			return nil, types.Errorf(types.ErrInvalidLexical, "cannot convert %s to xs:decimal", n).WithCause(err)
		}
		return &d, nil
	}
}
