// Package dom is the in-memory storage collaborator of the evaluation core:
// documents, node identities, document locks and update notifications, and
// the node sets and axis selectors built on top of them.
package dom

import (
	"strings"
	"sync/atomic"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// Kind is the kind of a stored node.
type Kind uint8

const (
	DocumentNode Kind = iota
	ElementNode
	AttributeNode
	TextNode
	CommentNode
	ProcessingInstructionNode
)

var kindTypes = [...]types.Type{
	DocumentNode:              types.Document,
	ElementNode:               types.Element,
	AttributeNode:             types.Attribute,
	TextNode:                  types.Text,
	CommentNode:               types.Comment,
	ProcessingInstructionNode: types.ProcessingInstruction,
}

// Type maps the kind onto the item type lattice.
func (k Kind) Type() types.Type {
	return kindTypes[k]
}

func (k Kind) String() string {
	return k.Type().Name()
}

// node is one entry of a document arena. Nodes are stored in document
// order with attributes placed directly after their owner element, so the
// arena index doubles as the document order position and a subtree is the
// contiguous range (index, last].
type node struct {
	kind     Kind
	name     types.QName
	value    string
	id       NodeID
	parent   int32
	last     int32
	attrs    []int32
	children []int32
}

var docIDs atomic.Int64

func nextDocID() int {
	return int(docIDs.Add(1))
}

// Document is an immutable tree of nodes.
type Document struct {
	DocID int
	URI   string
	// Temporary marks fragments built by node constructors; they never
	// enter a Store.
	Temporary bool

	nodes []node
	names map[types.QName][]int32
}

// Len returns the number of nodes including the document node.
func (d *Document) Len() int {
	return len(d.nodes)
}

// Root returns a proxy for the document node.
func (d *Document) Root() NodeProxy {
	return NodeProxy{Doc: d, Index: 0, chain: noChain}
}

// DocumentElement returns the first element child of the document node.
func (d *Document) DocumentElement() (NodeProxy, bool) {
	for _, c := range d.nodes[0].children {
		if d.nodes[c].kind == ElementNode {
			return d.Node(c), true
		}
	}
	return NodeProxy{}, false
}

// Node returns a proxy for the node at index i.
func (d *Document) Node(i int32) NodeProxy {
	return NodeProxy{Doc: d, Index: i, chain: noChain}
}

// NodeByID resolves a node id.
func (d *Document) NodeByID(id NodeID) (NodeProxy, bool) {
	cur := int32(0)
	for _, pos := range id {
		n := &d.nodes[cur]
		idx := int(pos) - 1
		if idx < 0 || idx >= len(n.attrs)+len(n.children) {
			return NodeProxy{}, false
		}
		if idx < len(n.attrs) {
			cur = n.attrs[idx]
		} else {
			cur = n.children[idx-len(n.attrs)]
		}
	}
	return d.Node(cur), true
}

// ElementsByName returns the indexes of all elements named q in document
// order.
func (d *Document) ElementsByName(q types.QName) []int32 {
	return d.names[types.QName{Space: q.Space, Local: q.Local}]
}

func (d *Document) kind(i int32) Kind          { return d.nodes[i].kind }
func (d *Document) parent(i int32) int32       { return d.nodes[i].parent }
func (d *Document) name(i int32) types.QName   { return d.nodes[i].name }
func (d *Document) children(i int32) []int32   { return d.nodes[i].children }
func (d *Document) attributes(i int32) []int32 { return d.nodes[i].attrs }

// isDescendant reports whether j lies strictly within the subtree of i.
func (d *Document) isDescendant(j, i int32) bool {
	return j > i && j <= d.nodes[i].last
}

// stringValue concatenates descendant text for documents and elements and
// returns the node value otherwise.
func (d *Document) stringValue(i int32) string {
	n := &d.nodes[i]
	switch n.kind {
	case DocumentNode, ElementNode:
		var b strings.Builder
		for j := i + 1; j <= n.last; j++ {
			if d.nodes[j].kind == TextNode {
				b.WriteString(d.nodes[j].value)
			}
		}
		return b.String()
	}
	return n.value
}
