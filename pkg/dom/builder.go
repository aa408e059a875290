package dom

import (
	"errors"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// ErrUnbalanced is returned by Builder.Done when elements remain open.
var ErrUnbalanced = errors.New("dom: unbalanced element nesting")

// Builder creates a Document in document order.
type Builder struct {
	doc   *Document
	open  []int32
	count []uint32
	err   error
}

// NewBuilder starts a stored document with the given URI.
func NewBuilder(uri string) *Builder {
	b := &Builder{doc: &Document{
		DocID: nextDocID(),
		URI:   uri,
		names: make(map[types.QName][]int32),
	}}
	b.doc.nodes = append(b.doc.nodes, node{kind: DocumentNode, id: NodeID{}, parent: -1})
	b.open = []int32{0}
	b.count = []uint32{0}
	return b
}

// NewFragmentBuilder starts a temporary document for constructed nodes.
func NewFragmentBuilder() *Builder {
	b := NewBuilder("")
	b.doc.Temporary = true
	return b
}

func (b *Builder) top() int32 {
	return b.open[len(b.open)-1]
}

func (b *Builder) add(n node) int32 {
	parent := b.top()
	b.count[len(b.count)-1]++
	n.parent = parent
	n.id = b.doc.nodes[parent].id.Child(b.count[len(b.count)-1])
	i := int32(len(b.doc.nodes))
	n.last = i
	b.doc.nodes = append(b.doc.nodes, n)
	if n.kind == AttributeNode {
		b.doc.nodes[parent].attrs = append(b.doc.nodes[parent].attrs, i)
	} else {
		b.doc.nodes[parent].children = append(b.doc.nodes[parent].children, i)
	}
	return i
}

// StartElement opens an element.
func (b *Builder) StartElement(name types.QName) {
	i := b.add(node{kind: ElementNode, name: name})
	key := types.QName{Space: name.Space, Local: name.Local}
	b.doc.names[key] = append(b.doc.names[key], i)
	b.open = append(b.open, i)
	b.count = append(b.count, 0)
}

// Attribute adds an attribute to the element opened last. Attributes must
// precede content; a duplicate name fails with XQDY0025.
func (b *Builder) Attribute(name types.QName, val string) error {
	el := b.top()
	if b.doc.nodes[el].kind != ElementNode {
		return types.NewError(types.ErrType, "attribute node outside an element")
	}
	if len(b.doc.nodes[el].children) > 0 {
		return types.NewError(types.ErrAttributeAfterContent, "attribute node follows element content")
	}
	for _, a := range b.doc.nodes[el].attrs {
		if b.doc.nodes[a].name.Equals(name) {
			return types.Errorf(types.ErrDuplicateAttr, "duplicate attribute %s", name)
		}
	}
	b.add(node{kind: AttributeNode, name: name, value: val})
	return nil
}

// Text adds a text node, merging it with a directly preceding text node.
// Empty text is dropped.
func (b *Builder) Text(s string) {
	if s == "" {
		return
	}
	if kids := b.doc.nodes[b.top()].children; len(kids) > 0 {
		if last := kids[len(kids)-1]; b.doc.nodes[last].kind == TextNode && last == int32(len(b.doc.nodes)-1) {
			b.doc.nodes[last].value += s
			return
		}
	}
	b.add(node{kind: TextNode, value: s})
}

// Comment adds a comment node.
func (b *Builder) Comment(s string) {
	b.add(node{kind: CommentNode, value: s})
}

// ProcessingInstruction adds a processing instruction.
func (b *Builder) ProcessingInstruction(target, data string) {
	b.add(node{kind: ProcessingInstructionNode, name: types.LocalName(target), value: data})
}

// EndElement closes the element opened last.
func (b *Builder) EndElement() {
	if len(b.open) <= 1 {
		b.err = ErrUnbalanced
		return
	}
	el := b.top()
	b.doc.nodes[el].last = int32(len(b.doc.nodes) - 1)
	b.open = b.open[:len(b.open)-1]
	b.count = b.count[:len(b.count)-1]
}

// CopyNode deep-copies the node referenced by p into the current position.
// A document node contributes its children.
func (b *Builder) CopyNode(p NodeProxy) error {
	src := p.Doc
	n := &src.nodes[p.Index]
	switch n.kind {
	case DocumentNode:
		for _, c := range n.children {
			if err := b.CopyNode(src.Node(c)); err != nil {
				return err
			}
		}
	case ElementNode:
		b.StartElement(n.name)
		for _, a := range n.attrs {
			if err := b.Attribute(src.nodes[a].name, src.nodes[a].value); err != nil {
				return err
			}
		}
		for _, c := range n.children {
			if err := b.CopyNode(src.Node(c)); err != nil {
				return err
			}
		}
		b.EndElement()
	case AttributeNode:
		return b.Attribute(n.name, n.value)
	case TextNode:
		b.Text(n.value)
	case CommentNode:
		b.Comment(n.value)
	case ProcessingInstructionNode:
		b.ProcessingInstruction(n.name.Local, n.value)
	}
	return nil
}

// Depth returns the number of open elements.
func (b *Builder) Depth() int {
	return len(b.open) - 1
}

// LastNode returns the most recently added node, or the document node.
func (b *Builder) LastNode() NodeProxy {
	return b.doc.Node(int32(len(b.doc.nodes) - 1))
}

// Done finishes the document.
func (b *Builder) Done() (*Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.open) != 1 {
		return nil, ErrUnbalanced
	}
	b.doc.nodes[0].last = int32(len(b.doc.nodes) - 1)
	return b.doc, nil
}

// NewAttribute creates a parentless attribute node in a temporary document.
func NewAttribute(name types.QName, val string) NodeProxy {
	b := NewFragmentBuilder()
	i := b.add(node{kind: AttributeNode, name: name, value: val})
	b.doc.nodes[i].parent = -1
	b.doc.nodes[0].last = i
	return b.doc.Node(i)
}
