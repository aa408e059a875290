package dom

import (
	"cmp"

	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// NodeProxy references a node by document and arena index and optionally
// carries the context chain recording which context nodes produced it.
type NodeProxy struct {
	Doc   *Document
	Index int32
	chain Chain
}

var _ value.NodeValue = NodeProxy{}

// Kind returns the node kind.
func (p NodeProxy) Kind() Kind { return p.Doc.kind(p.Index) }

// ID returns the node's dynamic level number.
func (p NodeProxy) ID() NodeID { return p.Doc.nodes[p.Index].id }

func (p NodeProxy) Type() types.Type { return p.Kind().Type() }

func (p NodeProxy) NodeName() types.QName { return p.Doc.name(p.Index) }

// StringValue returns the XDM string value of the node.
func (p NodeProxy) StringValue() (string, error) {
	return p.Doc.stringValue(p.Index), nil
}

// Atomize returns the typed value; stored nodes are untyped.
func (p NodeProxy) Atomize() (value.AtomicValue, error) {
	return value.NewUntypedAtomic(p.Doc.stringValue(p.Index)), nil
}

// CompareDocumentOrder orders by document id, then by position within the
// document.
func (p NodeProxy) CompareDocumentOrder(other value.NodeValue) int {
	o, ok := other.(NodeProxy)
	if !ok {
		return cmp.Compare(p.Type(), other.Type())
	}
	return p.compare(o)
}

func (p NodeProxy) compare(o NodeProxy) int {
	if p.Doc != o.Doc {
		return cmp.Compare(p.Doc.DocID, o.Doc.DocID)
	}
	return cmp.Compare(p.Index, o.Index)
}

// IsSameNode reports node identity, ignoring context chains.
func (p NodeProxy) IsSameNode(other value.NodeValue) bool {
	o, ok := other.(NodeProxy)
	return ok && p.Doc == o.Doc && p.Index == o.Index
}

// Parent returns the parent node; the document node has none.
func (p NodeProxy) Parent() (NodeProxy, bool) {
	par := p.Doc.parent(p.Index)
	if par < 0 {
		return NodeProxy{}, false
	}
	return p.Doc.Node(par), true
}

// Chain returns the context chain of the proxy.
func (p NodeProxy) Chain() Chain { return p.chain }

// WithoutContext returns the proxy stripped of its context chain.
func (p NodeProxy) WithoutContext() NodeProxy {
	p.chain = noChain
	return p
}

// derive creates a proxy for node index i that inherits the chain of the
// context node ctx and, unless contextID is NoContextID, records ctx under
// contextID.
func (p NodeProxy) derive(arena *Arena, i int32, contextID int) NodeProxy {
	out := NodeProxy{Doc: p.Doc, Index: i, chain: p.chain}
	if contextID != NoContextID && arena != nil {
		if out.chain.IsEmpty() {
			out.chain = Chain{arena: arena, head: -1}
		}
		out.chain.head = out.chain.arena.push(out.chain.head, contextID, p)
	}
	return out
}

// AddContext records ctx under contextID in the chain of p.
func (p NodeProxy) AddContext(arena *Arena, contextID int, ctx NodeProxy) NodeProxy {
	if p.chain.IsEmpty() {
		p.chain = Chain{arena: arena, head: -1}
	}
	p.chain.head = p.chain.arena.push(p.chain.head, contextID, ctx)
	return p
}

// ContextNodes returns the context nodes recorded under contextID, most
// recent first.
func (p NodeProxy) ContextNodes(contextID int) []NodeProxy {
	var out []NodeProxy
	p.chain.each(func(e *chainEntry) bool {
		if e.contextID == contextID {
			out = append(out, NodeProxy{Doc: e.doc, Index: e.index})
		}
		return true
	})
	return out
}

// HasContext reports whether at least one context node is recorded under
// contextID.
func (p NodeProxy) HasContext(contextID int) bool {
	found := false
	p.chain.each(func(e *chainEntry) bool {
		found = e.contextID == contextID
		return !found
	})
	return found
}

// MergeContext returns p with the links of other's chain added.
func (p NodeProxy) MergeContext(other NodeProxy) NodeProxy {
	p.chain = p.chain.union(other.chain)
	return p
}

func (p NodeProxy) key() nodeKey {
	return nodeKey{doc: p.Doc, index: p.Index}
}

type nodeKey struct {
	doc   *Document
	index int32
}
