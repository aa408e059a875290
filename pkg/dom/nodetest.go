package dom

import (
	"github.com/eXist-db/exist-sub013/pkg/types"
)

// NodeTest filters nodes on an axis.
type NodeTest interface {
	Matches(doc *Document, i int32) bool
	String() string
}

// AnyNode matches every node, node().
type AnyNode struct{}

func (AnyNode) Matches(*Document, int32) bool { return true }
func (AnyNode) String() string                { return "node()" }

// KindTest matches nodes of one kind, e.g. text().
type KindTest struct {
	Kind Kind
}

func (t KindTest) Matches(doc *Document, i int32) bool { return doc.kind(i) == t.Kind }
func (t KindTest) String() string                      { return t.Kind.String() }

// NameTest matches elements or attributes by name. An empty Local matches
// any local name (ns:*) and AnySpace matches any namespace (*:local).
type NameTest struct {
	Kind     Kind
	Name     types.QName
	AnySpace bool
}

// Matches implements NodeTest.
func (t NameTest) Matches(doc *Document, i int32) bool {
	if doc.kind(i) != t.Kind {
		return false
	}
	n := doc.name(i)
	if t.Name.Local != "" && n.Local != t.Name.Local {
		return false
	}
	return t.AnySpace || n.Space == t.Name.Space
}

// IsWildcard reports whether the test matches more than one name.
func (t NameTest) IsWildcard() bool {
	return t.AnySpace || t.Name.Local == ""
}

func (t NameTest) String() string {
	prefix := ""
	if t.Kind == AttributeNode {
		prefix = "@"
	}
	switch {
	case t.AnySpace && t.Name.Local == "":
		return prefix + "*"
	case t.AnySpace:
		return prefix + "*:" + t.Name.Local
	case t.Name.Local == "":
		if t.Name.Prefix != "" {
			return prefix + t.Name.Prefix + ":*"
		}
		return prefix + "{" + t.Name.Space + "}*"
	}
	return prefix + t.Name.String()
}
