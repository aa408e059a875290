package types

// SequenceType combines an item type with an occurrence indicator, optionally
// restricted to a node name.
type SequenceType struct {
	Type        Type
	Cardinality Cardinality
	// NodeName restricts element() and attribute() tests; zero means any.
	NodeName QName
}

// NewSequenceType creates a SequenceType.
func NewSequenceType(t Type, c Cardinality) SequenceType {
	return SequenceType{Type: t, Cardinality: c}
}

// AnySequence is item()*.
var AnySequence = SequenceType{Type: Item, Cardinality: ZeroOrMore}

// String renders the sequence type as it would appear in a query.
func (s SequenceType) String() string {
	if s.Cardinality == EmptySequence {
		return "empty-sequence()"
	}
	name := s.Type.Name()
	if !s.NodeName.IsZero() {
		switch s.Type {
		case Element:
			name = "element(" + s.NodeName.String() + ")"
		case Attribute:
			name = "attribute(" + s.NodeName.String() + ")"
		}
	}
	return name + s.Cardinality.Occurrence()
}
