package value

import (
	"math"
	"strings"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// CompOp is a comparison operator shared by value and general comparisons.
type CompOp int

const (
	CmpEq CompOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

var (
	generalOpNames = [...]string{"=", "!=", "<", "<=", ">", ">="}
	valueOpNames   = [...]string{"eq", "ne", "lt", "le", "gt", "ge"}
)

// String returns the general comparison symbol.
func (op CompOp) String() string { return generalOpNames[op] }

// ValueName returns the value comparison keyword.
func (op CompOp) ValueName() string { return valueOpNames[op] }

// Holds reports whether the result c of a three-way comparison satisfies op.
func (op CompOp) Holds(c int) bool {
	switch op {
	case CmpEq:
		return c == 0
	case CmpNe:
		return c != 0
	case CmpLt:
		return c < 0
	case CmpLe:
		return c <= 0
	case CmpGt:
		return c > 0
	default:
		return c >= 0
	}
}

// Swap returns the operator that holds when the operands are exchanged.
func (op CompOp) Swap() CompOp {
	switch op {
	case CmpLt:
		return CmpGt
	case CmpLe:
		return CmpGe
	case CmpGt:
		return CmpLt
	case CmpGe:
		return CmpLe
	}
	return op
}

func isStringLike(t types.Type) bool {
	return t == types.String || t == types.UntypedAtomic || t == types.AnyURI
}

func incomparable(a, b AtomicValue) error {
	return types.Errorf(types.ErrType, "cannot compare %s with %s", a.Type(), b.Type())
}

// CompareAtomic performs a three-way comparison of two atomic values of
// comparable types. NaN compares equal to nothing; callers needing NaN
// semantics must use CompareValues. coll may be nil for codepoint order.
func CompareAtomic(a, b AtomicValue, coll Collator) (int, error) {
	ta, tb := a.Type(), b.Type()
	switch {
	case ta.IsNumeric() && tb.IsNumeric():
		return compareNumeric(a.(NumericValue), b.(NumericValue)), nil
	case isStringLike(ta) && isStringLike(tb):
		if coll == nil {
			return strings.Compare(a.String(), b.String()), nil
		}
		return coll.Compare(a.String(), b.String()), nil
	case ta == types.Boolean && tb == types.Boolean:
		x, y := bool(a.(BooleanValue)), bool(b.(BooleanValue))
		switch {
		case x == y:
			return 0, nil
		case !x:
			return -1, nil
		}
		return 1, nil
	case ta == types.QNameType && tb == types.QNameType:
		return a.(QNameValue).Name.Compare(b.(QNameValue).Name), nil
	}
	return 0, incomparable(a, b)
}

func compareNumeric(a, b NumericValue) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra == rankInteger && rb == rankInteger {
		x, y := a.(IntegerValue), b.(IntegerValue)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	if ra <= rankDecimal && rb <= rankDecimal {
		x, _ := ToDecimal(a)
		y, _ := ToDecimal(b)
		return x.Cmp(y)
	}
	x, y := a.Float64(), b.Float64()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func isNaN(v AtomicValue) bool {
	n, ok := v.(NumericValue)
	return ok && n.IsNaN()
}

// CompareValues evaluates a value comparison between two atomic values.
// xs:untypedAtomic operands are compared as xs:string.
func CompareValues(op CompOp, a, b AtomicValue, coll Collator) (bool, error) {
	if isNaN(a) || isNaN(b) {
		if !(a.Type().IsNumeric() && b.Type().IsNumeric()) {
			return false, incomparable(a, b)
		}
		return op == CmpNe, nil
	}
	if a.Type() == types.QNameType && op != CmpEq && op != CmpNe {
		return false, types.Errorf(types.ErrType, "xs:QName values only support eq and ne")
	}
	c, err := CompareAtomic(a, b, coll)
	if err != nil {
		return false, err
	}
	return op.Holds(c), nil
}

// GeneralCompare compares two atomized items the way a general comparison
// does for a single pair: xs:untypedAtomic is cast to the other operand's
// type, or to xs:double against numerics, or to xs:string when both are
// untyped.
func GeneralCompare(op CompOp, a, b AtomicValue, coll Collator) (bool, error) {
	var err error
	a, b, err = promoteUntyped(a, b)
	if err != nil {
		return false, err
	}
	return CompareValues(op, a, b, coll)
}

func promoteUntyped(a, b AtomicValue) (AtomicValue, AtomicValue, error) {
	ta, tb := a.Type(), b.Type()
	var err error
	switch {
	case ta == types.UntypedAtomic && tb == types.UntypedAtomic:
		return NewString(a.String()), NewString(b.String()), nil
	case ta == types.UntypedAtomic:
		a, err = castUntypedFor(a, tb)
	case tb == types.UntypedAtomic:
		b, err = castUntypedFor(b, ta)
	}
	return a, b, err
}

func castUntypedFor(v AtomicValue, other types.Type) (AtomicValue, error) {
	switch {
	case other.IsNumeric():
		return Cast(v, types.Double)
	case isStringLike(other):
		return NewString(v.String()), nil
	}
	return Cast(v, other)
}

// DeepEqualAtomic reports whether two atomic values are equal for the
// purposes of distinct-values and grouping: NaN equals NaN, and values of
// incomparable types are simply unequal.
func DeepEqualAtomic(a, b AtomicValue, coll Collator) bool {
	if isNaN(a) && isNaN(b) {
		return true
	}
	if isNaN(a) || isNaN(b) {
		return false
	}
	if a.Type() == types.UntypedAtomic {
		a = NewString(a.String())
	}
	if b.Type() == types.UntypedAtomic {
		b = NewString(b.String())
	}
	c, err := CompareAtomic(a, b, coll)
	return err == nil && c == 0
}

// HashKey returns a key under which values that are DeepEqualAtomic under
// codepoint collation map to the same string. Numeric values share a key
// across their types.
func HashKey(v AtomicValue) string {
	switch t := v.Type(); {
	case t.IsNumeric():
		n := v.(NumericValue)
		if n.IsNaN() {
			return "n:NaN"
		}
		if f := n.Float64(); !math.IsInf(f, 0) && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return "n:" + IntegerValue(int64(f)).String()
		}
		if d, err := ToDecimal(n); err == nil {
			return "n:" + NewDecimal(d).String()
		}
		return "n:" + n.String()
	case isStringLike(t):
		return "s:" + v.String()
	default:
		return t.Name() + ":" + v.String()
	}
}
