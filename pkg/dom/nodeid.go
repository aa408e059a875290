package dom

import (
	"slices"
	"strconv"
	"strings"
)

// NodeID is a dynamic level number: the path of 1-based sibling positions
// from the document node. The document node has the empty id; the root
// element of a document is "1".
type NodeID []uint32

// ParseNodeID parses the dotted form produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return NodeID{}, nil
	}
	parts := strings.Split(s, ".")
	id := make(NodeID, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, err
		}
		id[i] = uint32(n)
	}
	return id, nil
}

// Child returns the id of the n-th child.
func (id NodeID) Child(n uint32) NodeID {
	c := make(NodeID, len(id)+1)
	copy(c, id)
	c[len(id)] = n
	return c
}

// Parent returns the parent id. The parent of the document node is nil.
func (id NodeID) Parent() NodeID {
	if len(id) == 0 {
		return nil
	}
	return id[:len(id)-1]
}

// Level returns the depth; the document node is level 0.
func (id NodeID) Level() int {
	return len(id)
}

// Compare orders ids in document order.
func (id NodeID) Compare(other NodeID) int {
	return slices.Compare(id, other)
}

// Equals reports whether both ids are identical.
func (id NodeID) Equals(other NodeID) bool {
	return slices.Equal(id, other)
}

// IsDescendantOf reports whether id lies strictly below ancestor.
func (id NodeID) IsDescendantOf(ancestor NodeID) bool {
	return len(id) > len(ancestor) && slices.Equal(id[:len(ancestor)], ancestor)
}

// IsChildOf reports whether id is a direct child of parent.
func (id NodeID) IsChildOf(parent NodeID) bool {
	return len(id) == len(parent)+1 && id.IsDescendantOf(parent)
}

func (id NodeID) String() string {
	var b strings.Builder
	for i, n := range id {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(uint64(n), 10))
	}
	return b.String()
}
