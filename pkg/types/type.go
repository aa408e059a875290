// Package types holds the static vocabulary shared by every layer: the
// item type lattice, cardinalities, dependency flags, qualified names,
// sequence types, source locations and the error taxonomy.
package types

import "strings"

// Type identifies an XDM item type in the static type lattice.
type Type int

// Item types. The ordering carries no meaning; the hierarchy is defined by
// the parent table below.
const (
	Item Type = iota
	Node
	Document
	Element
	Attribute
	Text
	Comment
	ProcessingInstruction
	AnyAtomic
	UntypedAtomic
	String
	AnyURI
	Boolean
	Numeric
	Decimal
	Integer
	Double
	Float
	QNameType
	Function
	// EmptyType is the type of the empty sequence. It is a subtype of every
	// other type.
	EmptyType
)

var typeParents = map[Type]Type{
	Node:                  Item,
	Document:              Node,
	Element:               Node,
	Attribute:             Node,
	Text:                  Node,
	Comment:               Node,
	ProcessingInstruction: Node,
	AnyAtomic:             Item,
	UntypedAtomic:         AnyAtomic,
	String:                AnyAtomic,
	AnyURI:                AnyAtomic,
	Boolean:               AnyAtomic,
	Numeric:               AnyAtomic,
	Decimal:               Numeric,
	Integer:               Decimal,
	Double:                Numeric,
	Float:                 Numeric,
	QNameType:             AnyAtomic,
	Function:              Item,
}

var typeNames = map[Type]string{
	Item:                  "item()",
	Node:                  "node()",
	Document:              "document-node()",
	Element:               "element()",
	Attribute:             "attribute()",
	Text:                  "text()",
	Comment:               "comment()",
	ProcessingInstruction: "processing-instruction()",
	AnyAtomic:             "xs:anyAtomicType",
	UntypedAtomic:         "xs:untypedAtomic",
	String:                "xs:string",
	AnyURI:                "xs:anyURI",
	Boolean:               "xs:boolean",
	Numeric:               "xs:numeric",
	Decimal:               "xs:decimal",
	Integer:               "xs:integer",
	Double:                "xs:double",
	Float:                 "xs:float",
	QNameType:             "xs:QName",
	Function:              "function(*)",
	EmptyType:             "empty-sequence()",
}

var namedTypes = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, n := range typeNames {
		m[n] = t
	}
	return m
}()

// Parent returns the direct supertype of t. Item is its own parent.
func (t Type) Parent() Type {
	if p, ok := typeParents[t]; ok {
		return p
	}
	return Item
}

// SubTypeOf reports whether t is super or a subtype of it.
func (t Type) SubTypeOf(super Type) bool {
	if t == super || super == Item || t == EmptyType {
		return true
	}
	for t != Item {
		t = t.Parent()
		if t == super {
			return true
		}
	}
	return false
}

// IsNode reports whether t is a node kind.
func (t Type) IsNode() bool {
	return t != Item && t.SubTypeOf(Node)
}

// IsAtomic reports whether t is an atomic type.
func (t Type) IsAtomic() bool {
	return t != Item && t.SubTypeOf(AnyAtomic)
}

// IsNumeric reports whether t is a numeric type.
func (t Type) IsNumeric() bool {
	return t != Item && t.SubTypeOf(Numeric)
}

// CommonSuperType returns the most specific type both a and b are subtypes of.
func CommonSuperType(a, b Type) Type {
	if a == EmptyType {
		return b
	}
	if b == EmptyType {
		return a
	}
	for s := a; ; s = s.Parent() {
		if b.SubTypeOf(s) {
			return s
		}
		if s == Item {
			return Item
		}
	}
}

// Name returns the lexical name of the type.
func (t Type) Name() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "item()"
}

func (t Type) String() string {
	return t.Name()
}

// TypeFromName resolves a type name such as "xs:integer" or "element()".
// Unprefixed atomic names are accepted for convenience.
func TypeFromName(name string) (Type, bool) {
	if t, ok := namedTypes[name]; ok {
		return t, true
	}
	if !strings.Contains(name, ":") && !strings.HasSuffix(name, ")") {
		t, ok := namedTypes["xs:"+name]
		return t, ok
	}
	return Item, false
}
