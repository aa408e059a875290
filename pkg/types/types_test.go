package types_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// ── Cardinality ────────────────────────────────────────────────────────────

var cardinalities = []types.Cardinality{
	types.EmptySequence, types.ExactlyOne, types.ZeroOrOne, types.OneOrMore, types.ZeroOrMore,
}

func TestCheckIsFlagInclusion(t *testing.T) {
	for _, req := range cardinalities {
		for _, act := range cardinalities {
			qt.Check(t, qt.Equals(types.Check(req, act), req&act == act),
				qt.Commentf("required %v, actual %v", req, act))
		}
	}
}

func TestCheckCount(t *testing.T) {
	tests := []struct {
		c    types.Cardinality
		want [3]bool // counts 0, 1, 2
	}{
		{types.EmptySequence, [3]bool{true, false, false}},
		{types.ExactlyOne, [3]bool{false, true, false}},
		{types.ZeroOrOne, [3]bool{true, true, false}},
		{types.OneOrMore, [3]bool{false, true, true}},
		{types.ZeroOrMore, [3]bool{true, true, true}},
	}
	for _, tc := range tests {
		for n, want := range tc.want {
			qt.Check(t, qt.Equals(tc.c.CheckCount(n), want), qt.Commentf("%v with %d items", tc.c, n))
		}
	}
}

func TestCardinalityAlgebra(t *testing.T) {
	qt.Check(t, qt.Equals(types.CardinalityOf(5), types.OneOrMore))
	qt.Check(t, qt.Equals(types.ExactlyOne.Union(types.EmptySequence), types.ZeroOrOne))
	qt.Check(t, qt.Equals(types.ZeroOrOne.Sum(types.ExactlyOne), types.OneOrMore))
	qt.Check(t, qt.Equals(types.ZeroOrOne.Sum(types.ZeroOrOne), types.ZeroOrMore))
	qt.Check(t, qt.Equals(types.EmptySequence.Sum(types.ZeroOrOne), types.ZeroOrOne))
	qt.Check(t, qt.Equals(types.ExactlyOne.Product(types.ZeroOrOne), types.ZeroOrOne))
	qt.Check(t, qt.Equals(types.OneOrMore.Product(types.ZeroOrOne), types.ZeroOrMore))
	qt.Check(t, qt.Equals(types.ZeroOrMore.Product(types.EmptySequence), types.EmptySequence))
	qt.Check(t, qt.IsTrue(types.ZeroOrMore.IsSuperCardinalityOrEqualOf(types.OneOrMore)))
	qt.Check(t, qt.IsFalse(types.ExactlyOne.IsSuperCardinalityOrEqualOf(types.ZeroOrOne)))
	qt.Check(t, qt.IsTrue(types.ZeroOrOne.AtMostOne()))
	qt.Check(t, qt.IsTrue(types.OneOrMore.AtLeastOne()))
}

// ── Types ──────────────────────────────────────────────────────────────────

func TestTypeLattice(t *testing.T) {
	qt.Check(t, qt.IsTrue(types.Integer.SubTypeOf(types.Numeric)))
	qt.Check(t, qt.IsFalse(types.Double.SubTypeOf(types.Decimal)))
	qt.Check(t, qt.IsTrue(types.Element.IsNode()))
	qt.Check(t, qt.IsTrue(types.UntypedAtomic.IsAtomic()))
	qt.Check(t, qt.Equals(types.CommonSuperType(types.Integer, types.Double), types.Numeric))
	qt.Check(t, qt.Equals(types.CommonSuperType(types.Text, types.Element), types.Node))
	qt.Check(t, qt.Equals(types.CommonSuperType(types.String, types.Element), types.Item))
}

func TestTypeFromName(t *testing.T) {
	for _, name := range []string{"xs:integer", "integer", "element()"} {
		_, ok := types.TypeFromName(name)
		qt.Check(t, qt.IsTrue(ok), qt.Commentf("%s", name))
	}
	_, ok := types.TypeFromName("xs:nothing")
	qt.Check(t, qt.IsFalse(ok))
}

func TestSequenceTypeString(t *testing.T) {
	qt.Check(t, qt.Equals(types.NewSequenceType(types.Integer, types.ZeroOrMore).String(), "xs:integer*"))
	qt.Check(t, qt.Equals(types.NewSequenceType(types.String, types.ExactlyOne).String(), "xs:string"))
	qt.Check(t, qt.Equals(types.NewSequenceType(types.Item, types.EmptySequence).String(), "empty-sequence()"))
}

// ── Names ──────────────────────────────────────────────────────────────────

func TestParseQName(t *testing.T) {
	ns := map[string]string{"p": "urn:p"}
	q, err := types.ParseQName("p:x", ns, "")
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(q, types.NewQName("urn:p", "x", "p")))

	q, err = types.ParseQName("x", ns, types.FunctionsNS)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(q.Space, types.FunctionsNS))

	_, err = types.ParseQName("q:x", ns, "")
	qt.Check(t, qt.IsTrue(types.HasCode(err, types.ErrUnboundPrefix)))
}

func TestQNameEqualityIgnoresPrefix(t *testing.T) {
	a := types.NewQName("urn:p", "x", "p")
	b := types.NewQName("urn:p", "x", "other")
	qt.Check(t, qt.IsTrue(a.Equals(b)))
	qt.Check(t, qt.Equals(a.Compare(b), 0))
	qt.Check(t, qt.Equals(a.Compare(types.NewQName("urn:q", "a", "")), -1))
}

// ── Errors ─────────────────────────────────────────────────────────────────

func TestErrorFormat(t *testing.T) {
	err := types.NewError(types.ErrDivisionByZero, "division by zero").WithValue("1 div 0").At(types.Loc(3, 7))
	qt.Check(t, qt.Equals(err.Error(), "FOAR0001 [at line 3, column 7]: division by zero Got: 1 div 0"))
	qt.Check(t, qt.IsTrue(err.IsRecoverable()))
}

func TestLocateKeepsInnermostLocation(t *testing.T) {
	inner := types.NewError(types.ErrDivisionByZero, "x").At(types.Loc(1, 2))
	wrapped := fmt.Errorf("outer: %w", inner)
	qt.Assert(t, qt.Equals(types.Locate(wrapped, types.Loc(9, 9)), wrapped))
	qt.Check(t, qt.Equals(inner.Location, types.Loc(1, 2)))

	plain := errors.New("boom")
	err := types.Locate(plain, types.Loc(4, 1))
	xe, ok := types.AsError(err)
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Equals(xe.Code, types.ErrUnidentified))
	qt.Check(t, qt.Equals(xe.Location, types.Loc(4, 1)))
	qt.Check(t, qt.ErrorIs(err, plain))

	qt.Check(t, qt.IsNil(types.Locate(nil, types.Loc(1, 1))))
}

func TestTerminatedIsNotRecoverable(t *testing.T) {
	err := types.NewTerminated(types.TerminatedTimeout, "timeout")
	qt.Check(t, qt.IsTrue(types.IsTerminated(err)))
	qt.Check(t, qt.IsFalse(err.IsRecoverable()))
	qt.Check(t, qt.IsFalse(types.IsTerminated(types.PermissionDenied("no"))))
}
