package value

import (
	"slices"
	"sync/atomic"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// Sequence is an ordered collection of items.
type Sequence interface {
	ItemCount() int
	ItemAt(i int) Item
	IsEmpty() bool
	HasOne() bool
	HasMany() bool
	// ItemType is the most specific common type of all items.
	ItemType() types.Type
	Cardinality() types.Cardinality
	// IsPersistentSet reports whether the sequence is a node set backed by
	// stored node identities.
	IsPersistentSet() bool
	// IsCacheable reports whether results computed from this sequence may be
	// memoized while State is unchanged.
	IsCacheable() bool
	// State returns a monotonic counter incremented on every mutation.
	State() int
	// HasChanged reports whether the sequence was mutated after previous was
	// obtained from State.
	HasChanged(previous int) bool
	EffectiveBooleanValue() (bool, error)
}

var stateCounter atomic.Int64

// NextState hands out a process-wide unique sequence state. Two distinct
// sequences never share one.
func NextState() int {
	return int(stateCounter.Add(1))
}

// Empty is the empty sequence.
var Empty Sequence = emptySequence{}

type emptySequence struct{}

func (emptySequence) ItemCount() int                       { return 0 }
func (emptySequence) ItemAt(int) Item                      { return nil }
func (emptySequence) IsEmpty() bool                        { return true }
func (emptySequence) HasOne() bool                         { return false }
func (emptySequence) HasMany() bool                        { return false }
func (emptySequence) ItemType() types.Type                 { return types.EmptyType }
func (emptySequence) Cardinality() types.Cardinality       { return types.EmptySequence }
func (emptySequence) IsPersistentSet() bool                { return false }
func (emptySequence) IsCacheable() bool                    { return true }
func (emptySequence) State() int                           { return 0 }
func (emptySequence) HasChanged(int) bool                  { return false }
func (emptySequence) EffectiveBooleanValue() (bool, error) { return false, nil }

// ValueSequence is a transient, in-memory sequence.
type ValueSequence struct {
	items    []Item
	itemType types.Type
	state    int
	// noDuplicates is set after SortInDocumentOrder removed duplicate nodes.
	noDuplicates bool
}

// NewValueSequence creates a sequence holding the given items.
func NewValueSequence(items ...Item) *ValueSequence {
	s := &ValueSequence{itemType: types.EmptyType, state: NextState()}
	s.items = make([]Item, 0, len(items))
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// One returns a sequence containing exactly it.
func One(it Item) Sequence {
	return &ValueSequence{items: []Item{it}, itemType: it.Type(), state: NextState()}
}

// Add appends an item.
func (s *ValueSequence) Add(it Item) {
	s.items = append(s.items, it)
	s.itemType = types.CommonSuperType(s.itemType, it.Type())
	s.noDuplicates = false
	s.state = NextState()
}

// AddAll appends all items of seq.
func (s *ValueSequence) AddAll(seq Sequence) {
	if seq == nil {
		return
	}
	for i := 0; i < seq.ItemCount(); i++ {
		s.Add(seq.ItemAt(i))
	}
}

func (s *ValueSequence) ItemCount() int { return len(s.items) }

func (s *ValueSequence) ItemAt(i int) Item {
	if i < 0 || i >= len(s.items) {
		return nil
	}
	return s.items[i]
}

func (s *ValueSequence) IsEmpty() bool                  { return len(s.items) == 0 }
func (s *ValueSequence) HasOne() bool                   { return len(s.items) == 1 }
func (s *ValueSequence) HasMany() bool                  { return len(s.items) > 1 }
func (s *ValueSequence) ItemType() types.Type           { return s.itemType }
func (s *ValueSequence) Cardinality() types.Cardinality { return types.CardinalityOf(len(s.items)) }
func (s *ValueSequence) IsPersistentSet() bool          { return false }
func (s *ValueSequence) IsCacheable() bool              { return false }
func (s *ValueSequence) State() int                     { return s.state }
func (s *ValueSequence) HasChanged(previous int) bool   { return s.state != previous }

// Items returns the backing slice. Callers must not modify it.
func (s *ValueSequence) Items() []Item {
	return s.items
}

func (s *ValueSequence) EffectiveBooleanValue() (bool, error) {
	return EffectiveBooleanValue(s)
}

// SortInDocumentOrder sorts a sequence of nodes into document order and
// removes duplicate nodes. It is a no-op if the sequence holds atomic values.
func (s *ValueSequence) SortInDocumentOrder() {
	if s.noDuplicates || len(s.items) == 0 || !s.itemType.IsNode() {
		return
	}
	slices.SortStableFunc(s.items, func(a, b Item) int {
		return a.(NodeValue).CompareDocumentOrder(b.(NodeValue))
	})
	s.items = slices.CompactFunc(s.items, func(a, b Item) bool {
		return a.(NodeValue).IsSameNode(b.(NodeValue))
	})
	s.noDuplicates = true
	s.state = NextState()
}

// Items copies the items of any sequence into a slice.
func Items(seq Sequence) []Item {
	if vs, ok := seq.(*ValueSequence); ok {
		return slices.Clone(vs.items)
	}
	out := make([]Item, seq.ItemCount())
	for i := range out {
		out[i] = seq.ItemAt(i)
	}
	return out
}

// Concat returns the concatenation of the given sequences.
func Concat(seqs ...Sequence) Sequence {
	out := NewValueSequence()
	for _, s := range seqs {
		out.AddAll(s)
	}
	return out
}

// EffectiveBooleanValue implements the fn:boolean rules.
func EffectiveBooleanValue(seq Sequence) (bool, error) {
	switch seq.ItemCount() {
	case 0:
		return false, nil
	case 1:
		it := seq.ItemAt(0)
		if IsNode(it) {
			return true, nil
		}
		if av, ok := it.(AtomicValue); ok {
			return av.EffectiveBooleanValue()
		}
		return false, types.Errorf(types.ErrInvalidArgumentType,
			"effective boolean value is not defined for %s", it.Type())
	default:
		if IsNode(seq.ItemAt(0)) {
			return true, nil
		}
		return false, types.Errorf(types.ErrInvalidArgumentType,
			"effective boolean value is not defined for a sequence of two or more items starting with a %s value",
			seq.ItemAt(0).Type())
	}
}

// Atomize maps every item of seq to its typed value.
func Atomize(seq Sequence) (Sequence, error) {
	if seq.ItemType().IsAtomic() {
		return seq, nil
	}
	out := NewValueSequence()
	for i := 0; i < seq.ItemCount(); i++ {
		av, err := seq.ItemAt(i).Atomize()
		if err != nil {
			return nil, err
		}
		out.Add(av)
	}
	return out, nil
}

// AllNodes reports whether every item of seq is a node.
func AllNodes(seq Sequence) bool {
	if seq.ItemType().IsNode() {
		return true
	}
	for i := 0; i < seq.ItemCount(); i++ {
		if !IsNode(seq.ItemAt(i)) {
			return false
		}
	}
	return true
}
