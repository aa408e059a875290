// Package value implements the XDM value model used by the evaluation core:
// items, atomic values, and sequences.
//
// Two kinds of sequences exist. Persistent node sets are provided by the dom
// package and carry stored node identities; everything else is a transient
// ValueSequence holding items in memory. Both implement Sequence.
package value

import "github.com/eXist-db/exist-sub013/pkg/types"

// Item is an atomic value or a node reference.
type Item interface {
	// Type returns the dynamic type of the item.
	Type() types.Type
	// StringValue returns the string value (the lexical form for atomics).
	StringValue() (string, error)
	// Atomize returns the typed value of the item.
	Atomize() (AtomicValue, error)
}

// AtomicValue is an item of an atomic type.
type AtomicValue interface {
	Item
	// EffectiveBooleanValue computes the EBV of a singleton sequence holding
	// this value.
	EffectiveBooleanValue() (bool, error)
	String() string
}

// NodeValue is implemented by node references. Node identity and document
// order are provided by the storage collaborator.
type NodeValue interface {
	Item
	// CompareDocumentOrder returns -1, 0 or +1.
	CompareDocumentOrder(other NodeValue) int
	// IsSameNode reports node identity.
	IsSameNode(other NodeValue) bool
	// NodeName returns the node's name; zero for unnamed kinds.
	NodeName() types.QName
}

// IsNode reports whether it is a node reference.
func IsNode(it Item) bool {
	_, ok := it.(NodeValue)
	return ok
}
