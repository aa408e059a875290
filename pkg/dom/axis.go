package dom

// Axis identifies a navigation direction.
type Axis int

const (
	AxisChild Axis = iota
	AxisDescendant
	AxisDescendantOrSelf
	AxisParent
	AxisAncestor
	AxisAncestorOrSelf
	AxisSelf
	AxisAttribute
	AxisFollowingSibling
	AxisPrecedingSibling
)

var axisNames = [...]string{
	AxisChild:            "child",
	AxisDescendant:       "descendant",
	AxisDescendantOrSelf: "descendant-or-self",
	AxisParent:           "parent",
	AxisAncestor:         "ancestor",
	AxisAncestorOrSelf:   "ancestor-or-self",
	AxisSelf:             "self",
	AxisAttribute:        "attribute",
	AxisFollowingSibling: "following-sibling",
	AxisPrecedingSibling: "preceding-sibling",
}

func (a Axis) String() string { return axisNames[a] }

// AxisFromName resolves an axis keyword.
func AxisFromName(name string) (Axis, bool) {
	for a, n := range axisNames {
		if n == name {
			return Axis(a), true
		}
	}
	return AxisChild, false
}

// IsReverse reports whether the axis is a reverse axis.
func (a Axis) IsReverse() bool {
	switch a {
	case AxisParent, AxisAncestor, AxisAncestorOrSelf, AxisPrecedingSibling:
		return true
	}
	return false
}

// Select applies the axis to a single context node and calls fn for every
// matching node in axis order. fn returns false to stop.
func Select(arena *Arena, ctx NodeProxy, axis Axis, test NodeTest, contextID int, fn func(NodeProxy) bool) {
	doc := ctx.Doc
	emit := func(i int32) bool {
		if !test.Matches(doc, i) {
			return true
		}
		return fn(ctx.derive(arena, i, contextID))
	}
	switch axis {
	case AxisSelf:
		emit(ctx.Index)
	case AxisChild:
		for _, c := range doc.children(ctx.Index) {
			if !emit(c) {
				return
			}
		}
	case AxisAttribute:
		for _, a := range doc.attributes(ctx.Index) {
			if !emit(a) {
				return
			}
		}
	case AxisDescendant, AxisDescendantOrSelf:
		if axis == AxisDescendantOrSelf && !emit(ctx.Index) {
			return
		}
		last := doc.nodes[ctx.Index].last
		for i := ctx.Index + 1; i <= last; i++ {
			if doc.kind(i) == AttributeNode {
				continue
			}
			if !emit(i) {
				return
			}
		}
	case AxisParent:
		if p := doc.parent(ctx.Index); p >= 0 {
			emit(p)
		}
	case AxisAncestor, AxisAncestorOrSelf:
		if axis == AxisAncestorOrSelf && !emit(ctx.Index) {
			return
		}
		for p := doc.parent(ctx.Index); p >= 0; p = doc.parent(p) {
			if !emit(p) {
				return
			}
		}
	case AxisFollowingSibling, AxisPrecedingSibling:
		if doc.kind(ctx.Index) == AttributeNode {
			return
		}
		p := doc.parent(ctx.Index)
		if p < 0 {
			return
		}
		sibs := doc.children(p)
		pos := 0
		for pos < len(sibs) && sibs[pos] != ctx.Index {
			pos++
		}
		if axis == AxisFollowingSibling {
			for _, s := range sibs[pos+1:] {
				if !emit(s) {
					return
				}
			}
			return
		}
		for k := pos - 1; k >= 0; k-- {
			if !emit(sibs[k]) {
				return
			}
		}
	}
}

// Navigate applies the axis to every node of s and returns the matching
// nodes in document order. Every result inherits the context chain of the
// node it was reached from and, unless contextID is NoContextID, records
// that node under contextID.
func (s *NodeSet) Navigate(arena *Arena, axis Axis, test NodeTest, contextID int) *NodeSet {
	out := EmptyNodeSet()
	for _, ctx := range s.Nodes() {
		Select(arena, ctx, axis, test, contextID, func(p NodeProxy) bool {
			out.Add(p)
			return true
		})
	}
	return out
}

// Children is Navigate on the child axis.
func (s *NodeSet) Children(arena *Arena, test NodeTest, contextID int) *NodeSet {
	return s.Navigate(arena, AxisChild, test, contextID)
}

// Descendants is Navigate on the descendant or descendant-or-self axis.
func (s *NodeSet) Descendants(arena *Arena, test NodeTest, includeSelf bool, contextID int) *NodeSet {
	if includeSelf {
		return s.Navigate(arena, AxisDescendantOrSelf, test, contextID)
	}
	return s.Navigate(arena, AxisDescendant, test, contextID)
}

// Parents is Navigate on the parent axis.
func (s *NodeSet) Parents(arena *Arena, contextID int) *NodeSet {
	return s.Navigate(arena, AxisParent, AnyNode{}, contextID)
}

// Ancestors is Navigate on the ancestor or ancestor-or-self axis.
func (s *NodeSet) Ancestors(arena *Arena, test NodeTest, includeSelf bool, contextID int) *NodeSet {
	if includeSelf {
		return s.Navigate(arena, AxisAncestorOrSelf, test, contextID)
	}
	return s.Navigate(arena, AxisAncestor, test, contextID)
}
