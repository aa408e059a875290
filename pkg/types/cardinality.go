package types

// Cardinality is a bit-flag union over {EMPTY, ONE, MANY} describing the
// length class of a sequence.
type Cardinality uint8

const (
	empty Cardinality = 1 << iota
	one
	many
)

// The canonical cardinalities. Every value handed out by this package is one
// of these five.
const (
	EmptySequence Cardinality = empty
	ExactlyOne    Cardinality = one
	ZeroOrOne     Cardinality = empty | one
	OneOrMore     Cardinality = one | many
	ZeroOrMore    Cardinality = empty | one | many
)

// CardinalityOf returns the cardinality class of a sequence with n items.
// A count of more than one yields OneOrMore since a bare MANY is not
// canonical.
func CardinalityOf(n int) Cardinality {
	switch {
	case n == 0:
		return EmptySequence
	case n == 1:
		return ExactlyOne
	default:
		return OneOrMore
	}
}

// actualOf returns the raw class (without canonicalization) used when checking
// actual counts against a required cardinality.
func actualOf(n int) Cardinality {
	switch {
	case n == 0:
		return empty
	case n == 1:
		return one
	default:
		return many
	}
}

// Canonical maps a raw flag union onto one of the five canonical values.
func (c Cardinality) Canonical() Cardinality {
	switch c {
	case empty, one, empty | one, one | many, empty | one | many:
		return c
	case many:
		return OneOrMore
	case empty | many:
		return ZeroOrMore
	default:
		return ZeroOrMore
	}
}

// Check reports whether actual is permitted by required, i.e. every flag of
// actual is present in required.
func Check(required, actual Cardinality) bool {
	return required&actual == actual
}

// CheckCount reports whether a sequence of n items satisfies c.
func (c Cardinality) CheckCount(n int) bool {
	return Check(c, actualOf(n))
}

// IsSuperCardinalityOrEqualOf reports whether c admits every count that
// other admits.
func (c Cardinality) IsSuperCardinalityOrEqualOf(other Cardinality) bool {
	return c&other == other
}

// IsSubCardinalityOrEqualOf reports whether every count admitted by c is
// admitted by other.
func (c Cardinality) IsSubCardinalityOrEqualOf(other Cardinality) bool {
	return other&c == c
}

// AtMostOne reports whether the cardinality excludes MANY.
func (c Cardinality) AtMostOne() bool {
	return c&many == 0
}

// AtLeastOne reports whether the cardinality excludes EMPTY.
func (c Cardinality) AtLeastOne() bool {
	return c&empty == 0
}

// IsEmpty reports whether c is exactly the empty sequence.
func (c Cardinality) IsEmpty() bool {
	return c == EmptySequence
}

// Union returns the superposition of two cardinalities, as for the branches of
// a conditional.
func (c Cardinality) Union(other Cardinality) Cardinality {
	return (c | other).Canonical()
}

// Sum returns the cardinality of the concatenation of two sequences.
func (c Cardinality) Sum(other Cardinality) Cardinality {
	if c == EmptySequence {
		return other
	}
	if other == EmptySequence {
		return c
	}
	r := one | many
	if c&empty != 0 && other&empty != 0 {
		r |= empty
	}
	return r.Canonical()
}

// Product returns the cardinality of a for-loop whose body has cardinality
// other and iterates over a sequence of cardinality c.
func (c Cardinality) Product(other Cardinality) Cardinality {
	if c == EmptySequence || other == EmptySequence {
		return EmptySequence
	}
	if c == ExactlyOne {
		return other
	}
	if other == ExactlyOne {
		return c
	}
	r := one | many
	if c&empty != 0 || other&empty != 0 {
		r |= empty
	}
	return r.Canonical()
}

// Occurrence returns the occurrence indicator used in sequence types.
func (c Cardinality) Occurrence() string {
	switch c.Canonical() {
	case EmptySequence:
		return "empty-sequence()"
	case ZeroOrOne:
		return "?"
	case OneOrMore:
		return "+"
	case ZeroOrMore:
		return "*"
	default:
		return ""
	}
}

// Description returns a human readable description for error messages.
func (c Cardinality) Description() string {
	switch c.Canonical() {
	case EmptySequence:
		return "empty"
	case ExactlyOne:
		return "exactly one"
	case ZeroOrOne:
		return "zero or one"
	case OneOrMore:
		return "one or more"
	default:
		return "zero or more"
	}
}

func (c Cardinality) String() string {
	return c.Description()
}
