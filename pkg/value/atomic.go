package value

import (
	"github.com/eXist-db/exist-sub013/pkg/types"
)

// StringValue holds xs:string, xs:untypedAtomic and xs:anyURI values. They
// share a representation and differ only in their dynamic type.
type StringValue struct {
	s string
	t types.Type
}

// NewString creates an xs:string.
func NewString(s string) StringValue {
	return StringValue{s: s, t: types.String}
}

// NewUntypedAtomic creates an xs:untypedAtomic.
func NewUntypedAtomic(s string) StringValue {
	return StringValue{s: s, t: types.UntypedAtomic}
}

// NewAnyURI creates an xs:anyURI.
func NewAnyURI(s string) StringValue {
	return StringValue{s: s, t: types.AnyURI}
}

func (v StringValue) Type() types.Type              { return v.t }
func (v StringValue) StringValue() (string, error)  { return v.s, nil }
func (v StringValue) Atomize() (AtomicValue, error) { return v, nil }
func (v StringValue) String() string                { return v.s }

func (v StringValue) EffectiveBooleanValue() (bool, error) {
	return v.s != "", nil
}

// BooleanValue is an xs:boolean.
type BooleanValue bool

// Boolean constants.
const (
	True  BooleanValue = true
	False BooleanValue = false
)

// TrueSequence and FalseSequence are shared singleton sequences.
var (
	TrueSequence  Sequence = One(True)
	FalseSequence Sequence = One(False)
)

// BoolSequence returns the shared singleton sequence for b.
func BoolSequence(b bool) Sequence {
	if b {
		return TrueSequence
	}
	return FalseSequence
}

func (v BooleanValue) Type() types.Type                     { return types.Boolean }
func (v BooleanValue) StringValue() (string, error)         { return v.String(), nil }
func (v BooleanValue) Atomize() (AtomicValue, error)        { return v, nil }
func (v BooleanValue) EffectiveBooleanValue() (bool, error) { return bool(v), nil }

func (v BooleanValue) String() string {
	if v {
		return "true"
	}
	return "false"
}

// QNameValue is an xs:QName.
type QNameValue struct {
	Name types.QName
}

// NewQNameValue wraps q.
func NewQNameValue(q types.QName) QNameValue {
	return QNameValue{Name: q}
}

func (v QNameValue) Type() types.Type              { return types.QNameType }
func (v QNameValue) StringValue() (string, error)  { return v.Name.String(), nil }
func (v QNameValue) Atomize() (AtomicValue, error) { return v, nil }
func (v QNameValue) String() string                { return v.Name.String() }

func (v QNameValue) EffectiveBooleanValue() (bool, error) {
	return false, types.NewError(types.ErrInvalidArgumentType,
		"effective boolean value is not defined for xs:QName")
}
