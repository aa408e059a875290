package dom

// NoContextID disables context tracking for an axis operation.
const NoContextID = -1

// chainEntry is one link of a context chain: the context node that
// produced a proxy, tagged with the id of the expression that asked for
// the tracking.
type chainEntry struct {
	contextID int
	doc       *Document
	index     int32
	next      int32
}

// Arena stores context chains for one query evaluation. Chains are
// immutable singly linked lists addressed by index; extending a chain
// never affects the proxies that share its tail.
type Arena struct {
	entries []chainEntry
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Reset drops all chains. Proxies created before the reset must not be
// used afterwards.
func (a *Arena) Reset() {
	clear(a.entries)
	a.entries = a.entries[:0]
}

// Len returns the number of stored links.
func (a *Arena) Len() int {
	return len(a.entries)
}

func (a *Arena) push(head int32, contextID int, ctx NodeProxy) int32 {
	a.entries = append(a.entries, chainEntry{
		contextID: contextID,
		doc:       ctx.Doc,
		index:     ctx.Index,
		next:      head,
	})
	return int32(len(a.entries) - 1)
}

// Chain is a reference to the head of a context chain.
type Chain struct {
	arena *Arena
	head  int32
}

var noChain = Chain{head: -1}

// IsEmpty reports whether the chain has no links.
func (c Chain) IsEmpty() bool {
	return c.arena == nil || c.head < 0
}

// each calls fn for every link from the head on until fn returns false.
func (c Chain) each(fn func(e *chainEntry) bool) {
	if c.IsEmpty() {
		return
	}
	for i := c.head; i >= 0; i = c.arena.entries[i].next {
		if !fn(&c.arena.entries[i]) {
			return
		}
	}
}

// contains reports whether the chain already holds a link for the node
// under contextID.
func (c Chain) contains(contextID int, doc *Document, index int32) bool {
	found := false
	c.each(func(e *chainEntry) bool {
		found = e.contextID == contextID && e.doc == doc && e.index == index
		return !found
	})
	return found
}

// union returns a chain holding the links of c followed by those links of
// other that c lacks.
func (c Chain) union(other Chain) Chain {
	if other.IsEmpty() || c.head == other.head && c.arena == other.arena {
		return c
	}
	if c.IsEmpty() {
		return other
	}
	var missing []chainEntry
	other.each(func(e *chainEntry) bool {
		if !c.contains(e.contextID, e.doc, e.index) {
			missing = append(missing, *e)
		}
		return true
	})
	out := c
	for i := len(missing) - 1; i >= 0; i-- {
		e := missing[i]
		out.head = out.arena.push(out.head, e.contextID, NodeProxy{Doc: e.doc, Index: e.index})
	}
	return out
}
