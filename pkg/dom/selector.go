package dom

// NodeSelector tests a candidate node against a remembered context set and
// returns a context-linked proxy on match.
type NodeSelector interface {
	Match(doc *Document, i int32) (NodeProxy, bool)
}

// selectorBase holds what every selector remembers.
type selectorBase struct {
	context   *NodeSet
	arena     *Arena
	contextID int
}

func (b selectorBase) link(ctx NodeProxy, i int32) NodeProxy {
	return ctx.derive(b.arena, i, b.contextID)
}

// SelfSelector matches candidates that are members of the context set.
type SelfSelector struct{ selectorBase }

// NewSelfSelector creates a self axis selector.
func NewSelfSelector(context *NodeSet, arena *Arena, contextID int) *SelfSelector {
	return &SelfSelector{selectorBase{context, arena, contextID}}
}

func (s *SelfSelector) Match(doc *Document, i int32) (NodeProxy, bool) {
	ctx, ok := s.context.Lookup(doc.Node(i))
	if !ok {
		return NodeProxy{}, false
	}
	return s.link(ctx, i), true
}

// ChildSelector matches candidates whose parent is in the context set.
// It also serves the attribute axis, whose owner element acts as parent.
type ChildSelector struct{ selectorBase }

// NewChildSelector creates a child or attribute axis selector.
func NewChildSelector(context *NodeSet, arena *Arena, contextID int) *ChildSelector {
	return &ChildSelector{selectorBase{context, arena, contextID}}
}

func (s *ChildSelector) Match(doc *Document, i int32) (NodeProxy, bool) {
	p := doc.parent(i)
	if p < 0 {
		return NodeProxy{}, false
	}
	ctx, ok := s.context.Lookup(doc.Node(p))
	if !ok {
		return NodeProxy{}, false
	}
	return s.link(ctx, i), true
}

// DescendantSelector matches candidates below a member of the context set.
// Membership is resolved through a hash index built on first match. A
// candidate below several context nodes is linked to all of them.
type DescendantSelector struct {
	selectorBase
	includeSelf bool
	index       map[nodeKey]NodeProxy
}

// NewDescendantSelector creates a descendant or descendant-or-self selector.
func NewDescendantSelector(context *NodeSet, arena *Arena, contextID int, includeSelf bool) *DescendantSelector {
	return &DescendantSelector{selectorBase: selectorBase{context, arena, contextID}, includeSelf: includeSelf}
}

func (s *DescendantSelector) Match(doc *Document, i int32) (NodeProxy, bool) {
	if s.index == nil {
		s.index = make(map[nodeKey]NodeProxy, s.context.ItemCount())
		for _, p := range s.context.Nodes() {
			s.index[p.key()] = p
		}
	}
	start := doc.parent(i)
	if s.includeSelf {
		start = i
	}
	var ctxs []NodeProxy
	for cur := start; cur >= 0; cur = doc.parent(cur) {
		if ctx, ok := s.index[nodeKey{doc, cur}]; ok {
			ctxs = append(ctxs, ctx)
		}
	}
	return s.linkAll(ctxs, i)
}

// ParentSelector matches candidates that are the parent of a member of the
// context set.
type ParentSelector struct {
	selectorBase
	index map[nodeKey][]NodeProxy
}

// NewParentSelector creates a parent axis selector.
func NewParentSelector(context *NodeSet, arena *Arena, contextID int) *ParentSelector {
	return &ParentSelector{selectorBase: selectorBase{context, arena, contextID}}
}

func (s *ParentSelector) Match(doc *Document, i int32) (NodeProxy, bool) {
	if s.index == nil {
		s.index = make(map[nodeKey][]NodeProxy)
		for _, p := range s.context.Nodes() {
			if par := p.Doc.parent(p.Index); par >= 0 {
				k := nodeKey{p.Doc, par}
				s.index[k] = append(s.index[k], p)
			}
		}
	}
	return s.linkAll(s.index[nodeKey{doc, i}], i)
}

func (b selectorBase) linkAll(ctxs []NodeProxy, i int32) (NodeProxy, bool) {
	if len(ctxs) == 0 {
		return NodeProxy{}, false
	}
	out := b.link(ctxs[0], i)
	for _, ctx := range ctxs[1:] {
		out = out.MergeContext(b.link(ctx, i))
	}
	return out, true
}

// AncestorSelector matches candidates that are an ancestor of a member of
// the context set.
type AncestorSelector struct {
	selectorBase
	includeSelf bool
	index       map[nodeKey][]NodeProxy
}

// NewAncestorSelector creates an ancestor or ancestor-or-self selector.
func NewAncestorSelector(context *NodeSet, arena *Arena, contextID int, includeSelf bool) *AncestorSelector {
	return &AncestorSelector{selectorBase: selectorBase{context, arena, contextID}, includeSelf: includeSelf}
}

func (s *AncestorSelector) Match(doc *Document, i int32) (NodeProxy, bool) {
	if s.index == nil {
		s.index = make(map[nodeKey][]NodeProxy)
		for _, p := range s.context.Nodes() {
			start := p.Doc.parent(p.Index)
			if s.includeSelf {
				start = p.Index
			}
			for cur := start; cur >= 0; cur = p.Doc.parent(cur) {
				k := nodeKey{p.Doc, cur}
				s.index[k] = append(s.index[k], p)
			}
		}
	}
	return s.linkAll(s.index[nodeKey{doc, i}], i)
}

// SelectorFor returns the selector implementing axis, or nil when the axis
// has no selector and must be navigated structurally.
func SelectorFor(axis Axis, context *NodeSet, arena *Arena, contextID int) NodeSelector {
	switch axis {
	case AxisSelf:
		return NewSelfSelector(context, arena, contextID)
	case AxisChild, AxisAttribute:
		return NewChildSelector(context, arena, contextID)
	case AxisDescendant, AxisDescendantOrSelf:
		return NewDescendantSelector(context, arena, contextID, axis == AxisDescendantOrSelf)
	case AxisParent:
		return NewParentSelector(context, arena, contextID)
	case AxisAncestor, AxisAncestorOrSelf:
		return NewAncestorSelector(context, arena, contextID, axis == AxisAncestorOrSelf)
	}
	return nil
}

// Filter applies sel to the candidate nodes and returns the matches.
func Filter(candidates []NodeProxy, sel NodeSelector) *NodeSet {
	out := EmptyNodeSet()
	for _, c := range candidates {
		if p, ok := sel.Match(c.Doc, c.Index); ok {
			out.Add(p)
		}
	}
	return out
}
