package dom

import (
	"cmp"
	"slices"
	"strings"
)

// DocumentSet is a set of documents ordered by DocID.
type DocumentSet struct {
	docs []*Document
}

// NewDocumentSet creates a set holding docs.
func NewDocumentSet(docs ...*Document) *DocumentSet {
	ds := &DocumentSet{}
	for _, d := range docs {
		ds.Add(d)
	}
	return ds
}

func compareDocs(a, b *Document) int {
	return cmp.Compare(a.DocID, b.DocID)
}

// Add inserts doc if not present.
func (ds *DocumentSet) Add(doc *Document) {
	i, found := slices.BinarySearchFunc(ds.docs, doc, compareDocs)
	if !found {
		ds.docs = slices.Insert(ds.docs, i, doc)
	}
}

// Contains reports whether a document with docID is in the set.
func (ds *DocumentSet) Contains(docID int) bool {
	_, found := slices.BinarySearchFunc(ds.docs, docID, func(d *Document, id int) int {
		return cmp.Compare(d.DocID, id)
	})
	return found
}

// Len returns the number of documents.
func (ds *DocumentSet) Len() int { return len(ds.docs) }

// Documents returns the documents ordered by DocID. Callers must not modify
// the returned slice.
func (ds *DocumentSet) Documents() []*Document { return ds.docs }

// Union returns the documents in ds or other.
func (ds *DocumentSet) Union(other *DocumentSet) *DocumentSet {
	out := &DocumentSet{docs: slices.Clone(ds.docs)}
	for _, d := range other.docs {
		out.Add(d)
	}
	return out
}

// Intersection returns the documents in both sets.
func (ds *DocumentSet) Intersection(other *DocumentSet) *DocumentSet {
	out := &DocumentSet{}
	for _, d := range ds.docs {
		if other.Contains(d.DocID) {
			out.docs = append(out.docs, d)
		}
	}
	return out
}

// Equals reports whether both sets hold the same documents.
func (ds *DocumentSet) Equals(other *DocumentSet) bool {
	return other != nil && slices.Equal(ds.docs, other.docs)
}

// Roots returns the document nodes as a node set.
func (ds *DocumentSet) Roots() *NodeSet {
	out := EmptyNodeSet()
	for _, d := range ds.docs {
		out.Add(d.Root())
	}
	return out
}

// ElementsByName collects the elements named by test from the name index.
// It returns false when test cannot be answered from the index.
func (ds *DocumentSet) ElementsByName(test NodeTest) ([]NodeProxy, bool) {
	nt, ok := test.(NameTest)
	if !ok || nt.Kind != ElementNode || nt.IsWildcard() {
		return nil, false
	}
	var out []NodeProxy
	for _, d := range ds.docs {
		for _, i := range d.ElementsByName(nt.Name) {
			out = append(out, d.Node(i))
		}
	}
	return out, true
}

func (ds *DocumentSet) String() string {
	uris := make([]string, len(ds.docs))
	for i, d := range ds.docs {
		uris[i] = d.URI
	}
	return "[" + strings.Join(uris, ", ") + "]"
}
