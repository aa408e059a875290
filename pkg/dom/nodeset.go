package dom

import (
	"slices"

	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// NodeSet is a persistent sequence of stored nodes kept in document order
// without duplicates. Duplicate proxies added to a set are merged and their
// context chains united.
type NodeSet struct {
	nodes  []NodeProxy
	sorted bool
	state  int
}

var _ value.Sequence = (*NodeSet)(nil)

// NewNodeSet creates a set from the given proxies.
func NewNodeSet(nodes ...NodeProxy) *NodeSet {
	s := &NodeSet{nodes: slices.Clone(nodes), state: value.NextState()}
	s.sorted = len(nodes) < 2
	return s
}

// EmptyNodeSet returns a fresh empty set.
func EmptyNodeSet() *NodeSet {
	return &NodeSet{sorted: true, state: value.NextState()}
}

// Add appends a proxy.
func (s *NodeSet) Add(p NodeProxy) {
	if s.sorted && len(s.nodes) > 0 && s.nodes[len(s.nodes)-1].compare(p) >= 0 {
		s.sorted = false
	}
	s.nodes = append(s.nodes, p)
	s.state = value.NextState()
}

// AddAll appends all proxies of other.
func (s *NodeSet) AddAll(other *NodeSet) {
	for _, p := range other.Nodes() {
		s.Add(p)
	}
}

func (s *NodeSet) normalize() {
	if s.sorted {
		return
	}
	slices.SortStableFunc(s.nodes, NodeProxy.compare)
	out := s.nodes[:0]
	for _, p := range s.nodes {
		if n := len(out); n > 0 && out[n-1].compare(p) == 0 {
			out[n-1] = out[n-1].MergeContext(p)
			continue
		}
		out = append(out, p)
	}
	clear(s.nodes[len(out):])
	s.nodes = out
	s.sorted = true
}

// Nodes returns the proxies in document order. Callers must not modify the
// returned slice.
func (s *NodeSet) Nodes() []NodeProxy {
	s.normalize()
	return s.nodes
}

func (s *NodeSet) ItemCount() int {
	s.normalize()
	return len(s.nodes)
}

func (s *NodeSet) ItemAt(i int) value.Item {
	s.normalize()
	if i < 0 || i >= len(s.nodes) {
		return nil
	}
	return s.nodes[i]
}

// Get returns the proxy at position i.
func (s *NodeSet) Get(i int) NodeProxy {
	s.normalize()
	return s.nodes[i]
}

func (s *NodeSet) IsEmpty() bool { return len(s.nodes) == 0 }
func (s *NodeSet) HasOne() bool  { return s.ItemCount() == 1 }
func (s *NodeSet) HasMany() bool { return s.ItemCount() > 1 }

func (s *NodeSet) ItemType() types.Type {
	s.normalize()
	t := types.EmptyType
	for _, p := range s.nodes {
		if t = types.CommonSuperType(t, p.Type()); t == types.Node {
			break
		}
	}
	return t
}

func (s *NodeSet) Cardinality() types.Cardinality { return types.CardinalityOf(s.ItemCount()) }
func (s *NodeSet) IsPersistentSet() bool          { return true }
func (s *NodeSet) IsCacheable() bool              { return true }
func (s *NodeSet) State() int                     { return s.state }
func (s *NodeSet) HasChanged(previous int) bool   { return s.state != previous }

func (s *NodeSet) EffectiveBooleanValue() (bool, error) {
	return !s.IsEmpty(), nil
}

// index returns the position of p, or -1.
func (s *NodeSet) index(p NodeProxy) int {
	s.normalize()
	i, found := slices.BinarySearchFunc(s.nodes, p, NodeProxy.compare)
	if !found {
		return -1
	}
	return i
}

// Contains reports whether the set holds the node referenced by p.
func (s *NodeSet) Contains(p NodeProxy) bool {
	return s.index(p) >= 0
}

// Lookup returns the stored proxy, with its context chain, for the node
// referenced by p.
func (s *NodeSet) Lookup(p NodeProxy) (NodeProxy, bool) {
	if i := s.index(p); i >= 0 {
		return s.nodes[i], true
	}
	return NodeProxy{}, false
}

// DocumentSet returns the documents referenced by the set.
func (s *NodeSet) DocumentSet() *DocumentSet {
	ds := NewDocumentSet()
	var last *Document
	for _, p := range s.Nodes() {
		if p.Doc != last {
			ds.Add(p.Doc)
			last = p.Doc
		}
	}
	return ds
}

// Union returns the nodes contained in s or other. Chains of nodes present
// in both are united.
func (s *NodeSet) Union(other *NodeSet) *NodeSet {
	a, b := s.Nodes(), other.Nodes()
	out := make([]NodeProxy, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := a[i].compare(b[j]); {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i].MergeContext(b[j]))
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return &NodeSet{nodes: out, sorted: true, state: value.NextState()}
}

// Intersection returns the nodes contained in both sets.
func (s *NodeSet) Intersection(other *NodeSet) *NodeSet {
	a, b := s.Nodes(), other.Nodes()
	var out []NodeProxy
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := a[i].compare(b[j]); {
		case c < 0:
			i++
		case c > 0:
			j++
		default:
			out = append(out, a[i].MergeContext(b[j]))
			i++
			j++
		}
	}
	return &NodeSet{nodes: out, sorted: true, state: value.NextState()}
}

// Except returns the nodes of s not contained in other.
func (s *NodeSet) Except(other *NodeSet) *NodeSet {
	a, b := s.Nodes(), other.Nodes()
	var out []NodeProxy
	i, j := 0, 0
	for i < len(a) {
		if j >= len(b) {
			out = append(out, a[i:]...)
			break
		}
		switch c := a[i].compare(b[j]); {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			j++
		default:
			i++
			j++
		}
	}
	return &NodeSet{nodes: out, sorted: true, state: value.NextState()}
}

// ParentWithChild returns the nearest member of s that is an ancestor of p,
// or p itself when includeSelf is set. With directParent only the parent of
// p is considered.
func (s *NodeSet) ParentWithChild(p NodeProxy, directParent, includeSelf bool) (NodeProxy, bool) {
	if includeSelf {
		if q, ok := s.Lookup(p); ok {
			return q, true
		}
	}
	for cur := p.Doc.parent(p.Index); cur >= 0; cur = p.Doc.parent(cur) {
		if q, ok := s.Lookup(p.Doc.Node(cur)); ok {
			return q, true
		}
		if directParent {
			break
		}
	}
	return NodeProxy{}, false
}

// ClearContext returns a copy of s whose proxies carry no context chains.
func (s *NodeSet) ClearContext() *NodeSet {
	nodes := slices.Clone(s.Nodes())
	for i := range nodes {
		nodes[i] = nodes[i].WithoutContext()
	}
	return &NodeSet{nodes: nodes, sorted: true, state: value.NextState()}
}

// FromSequence returns seq as a node set if all of its items are stored
// nodes.
func FromSequence(seq value.Sequence) (*NodeSet, bool) {
	if ns, ok := seq.(*NodeSet); ok {
		return ns, true
	}
	out := EmptyNodeSet()
	for i := 0; i < seq.ItemCount(); i++ {
		p, ok := seq.ItemAt(i).(NodeProxy)
		if !ok || p.Doc.Temporary {
			return nil, false
		}
		out.Add(p)
	}
	return out, true
}

// HasTemporary reports whether any node of s belongs to a temporary
// document.
func (s *NodeSet) HasTemporary() bool {
	for _, p := range s.nodes {
		if p.Doc.Temporary {
			return true
		}
	}
	return false
}
