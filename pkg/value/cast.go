package value

import (
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// Cast converts an atomic value to the target atomic type following the
// XPath casting table.
func Cast(v AtomicValue, target types.Type) (AtomicValue, error) {
	src := v.Type()
	if src == target {
		return v, nil
	}
	switch target {
	case types.AnyAtomic, types.Numeric:
		return nil, types.Errorf(types.ErrCastTargetAbstract, "cannot cast to abstract type %s", target)
	case types.String:
		return NewString(v.String()), nil
	case types.UntypedAtomic:
		return NewUntypedAtomic(v.String()), nil
	case types.AnyURI:
		if isStringLike(src) {
			return NewAnyURI(strings.TrimSpace(v.String())), nil
		}
	case types.Boolean:
		return castToBoolean(v)
	case types.Integer:
		return castToInteger(v)
	case types.Decimal:
		return castToDecimal(v)
	case types.Double:
		f, err := castToFloat(v)
		if err != nil {
			return nil, err
		}
		return DoubleValue(f), nil
	case types.Float:
		f, err := castToFloat(v)
		if err != nil {
			return nil, err
		}
		return FloatValue(float32(f)), nil
	case types.QNameType:
		if src == types.String || src == types.UntypedAtomic {
			return nil, types.Errorf(types.ErrType,
				"casting to xs:QName requires a static namespace context")
		}
	}
	return nil, types.Errorf(types.ErrType, "cannot cast %s to %s", src, target).WithValue(v.String())
}

// Castable reports whether Cast would succeed.
func Castable(v AtomicValue, target types.Type) bool {
	_, err := Cast(v, target)
	return err == nil
}

func invalidLexical(v AtomicValue, target types.Type) *types.Error {
	return types.Errorf(types.ErrInvalidCastValue, "invalid lexical value for %s", target).WithValue(v.String())
}

func castToBoolean(v AtomicValue) (AtomicValue, error) {
	switch {
	case v.Type().IsNumeric():
		n := v.(NumericValue)
		return BooleanValue(!(n.IsZero() || n.IsNaN())), nil
	case isStringLike(v.Type()) && v.Type() != types.AnyURI:
		switch strings.TrimSpace(v.String()) {
		case "true", "1":
			return True, nil
		case "false", "0":
			return False, nil
		}
		return nil, invalidLexical(v, types.Boolean)
	}
	return nil, types.Errorf(types.ErrType, "cannot cast %s to xs:boolean", v.Type())
}

func castToInteger(v AtomicValue) (AtomicValue, error) {
	switch x := v.(type) {
	case IntegerValue:
		return x, nil
	case BooleanValue:
		if x {
			return IntegerValue(1), nil
		}
		return IntegerValue(0), nil
	case DecimalValue:
		i, err := trunc(x.Decimal()).Int64()
		if err != nil {
			return nil, types.Errorf(types.ErrIntegerTooLarge, "value too large for xs:integer").WithValue(x.String())
		}
		return IntegerValue(i), nil
	case DoubleValue, FloatValue:
		f := x.(NumericValue).Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, types.Errorf(types.ErrInvalidLexical, "cannot cast %s to xs:integer", x)
		}
		f = math.Trunc(f)
		if f > math.MaxInt64 || f < math.MinInt64 {
			return nil, types.Errorf(types.ErrIntegerTooLarge, "value too large for xs:integer").WithValue(x.String())
		}
		return IntegerValue(int64(f)), nil
	case StringValue:
		if x.Type() == types.AnyURI {
			break
		}
		s := strings.TrimSpace(x.s)
		i, err := strconv.ParseInt(strings.TrimPrefix(s, "+"), 10, 64)
		if err != nil || s == "" || strings.HasPrefix(s, "+-") {
			if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
				return nil, types.Errorf(types.ErrIntegerTooLarge, "value too large for xs:integer").WithValue(s)
			}
			return nil, invalidLexical(v, types.Integer)
		}
		return IntegerValue(i), nil
	}
	return nil, types.Errorf(types.ErrType, "cannot cast %s to xs:integer", v.Type())
}

// trunc returns d with its fractional digits removed, rounding toward zero.
func trunc(d *apd.Decimal) *apd.Decimal {
	ctx := *DecimalContext
	ctx.Rounding = apd.RoundDown
	var r apd.Decimal
	_, _ = ctx.RoundToIntegralValue(&r, d)
	return &r
}

func castToDecimal(v AtomicValue) (AtomicValue, error) {
	switch x := v.(type) {
	case DecimalValue:
		return x, nil
	case IntegerValue:
		return NewDecimal(apd.New(int64(x), 0)), nil
	case BooleanValue:
		if x {
			return NewDecimal(apd.New(1, 0)), nil
		}
		return NewDecimal(apd.New(0, 0)), nil
	case DoubleValue, FloatValue:
		d, err := ToDecimal(x.(NumericValue))
		if err != nil {
			return nil, err
		}
		return NewDecimal(d), nil
	case StringValue:
		if x.Type() == types.AnyURI {
			break
		}
		return ParseDecimal(x.s)
	}
	return nil, types.Errorf(types.ErrType, "cannot cast %s to xs:decimal", v.Type())
}

func castToFloat(v AtomicValue) (float64, error) {
	switch x := v.(type) {
	case NumericValue:
		return x.Float64(), nil
	case BooleanValue:
		if x {
			return 1, nil
		}
		return 0, nil
	case StringValue:
		if x.Type() == types.AnyURI {
			break
		}
		return ParseDouble(x.s)
	}
	return 0, types.Errorf(types.ErrType, "cannot cast %s to xs:double", v.Type())
}

// ParseDouble parses the xs:double lexical form.
func ParseDouble(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "INF", "+INF":
		return math.Inf(1), nil
	case "-INF":
		return math.Inf(-1), nil
	case "NaN":
		return math.NaN(), nil
	}
	// Go accepts spellings XPath does not.
	if s == "" || strings.ContainsAny(s, "xXpP_iInN") {
		return 0, types.Errorf(types.ErrInvalidCastValue, "invalid lexical value for xs:double").WithValue(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f, nil
		}
		return 0, types.Errorf(types.ErrInvalidCastValue, "invalid lexical value for xs:double").WithValue(s)
	}
	return f, nil
}
