package dom_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/types"
)

const sample = `<root>
	<a id="1"><b>one</b><b>two</b></a>
	<a id="2"><c><b>three</b></c></a>
</root>`

func parse(t *testing.T) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString("sample.xml", sample)
	qt.Assert(t, qt.IsNil(err))
	return doc
}

func ids(ns *dom.NodeSet) []string {
	var out []string
	for _, p := range ns.Nodes() {
		out = append(out, p.ID().String())
	}
	return out
}

func elem(local string) dom.NameTest {
	return dom.NameTest{Kind: dom.ElementNode, Name: types.LocalName(local)}
}

// ── Node ids ───────────────────────────────────────────────────────────────

func TestNodeID(t *testing.T) {
	id, err := dom.ParseNodeID("1.3.2")
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(id.Level(), 3))
	qt.Check(t, qt.Equals(id.Parent().String(), "1.3"))
	qt.Check(t, qt.IsTrue(id.IsChildOf(dom.NodeID{1, 3})))
	qt.Check(t, qt.IsTrue(id.IsDescendantOf(dom.NodeID{1})))
	qt.Check(t, qt.IsFalse(id.IsDescendantOf(id)))
	qt.Check(t, qt.Equals(id.Compare(dom.NodeID{1, 4}), -1))
	qt.Check(t, qt.Equals(dom.NodeID{}.String(), ""))
}

func TestParseAssignsIDs(t *testing.T) {
	doc := parse(t)
	root, ok := doc.DocumentElement()
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Equals(root.ID().String(), "1"))

	p, ok := doc.NodeByID(dom.NodeID{1, 2, 2})
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Equals(p.NodeName().Local, "c"))
	s, _ := p.StringValue()
	qt.Check(t, qt.Equals(s, "three"))

	// attributes are numbered before children
	attr, ok := doc.NodeByID(dom.NodeID{1, 1, 1})
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Equals(attr.Kind(), dom.AttributeNode))
}

// ── Axes ───────────────────────────────────────────────────────────────────

func TestNavigate(t *testing.T) {
	doc := parse(t)
	arena := dom.NewArena()
	roots := dom.NewNodeSet(doc.Root())

	as := roots.Descendants(arena, elem("a"), false, dom.NoContextID)
	qt.Assert(t, qt.DeepEquals(ids(as), []string{"1.1", "1.2"}))

	bs := roots.Descendants(arena, elem("b"), false, dom.NoContextID)
	qt.Assert(t, qt.DeepEquals(ids(bs), []string{"1.1.2", "1.1.3", "1.2.2.1"}))

	parents := bs.Parents(arena, dom.NoContextID)
	qt.Assert(t, qt.DeepEquals(ids(parents), []string{"1.1", "1.2.2"}))

	anc := bs.Ancestors(arena, elem("a"), false, dom.NoContextID)
	qt.Assert(t, qt.DeepEquals(ids(anc), []string{"1.1", "1.2"}))

	attrs := as.Navigate(arena, dom.AxisAttribute, dom.AnyNode{}, dom.NoContextID)
	qt.Assert(t, qt.Equals(attrs.ItemCount(), 2))

	sibs := dom.NewNodeSet(bs.Get(0)).Navigate(arena, dom.AxisFollowingSibling, dom.AnyNode{}, dom.NoContextID)
	qt.Assert(t, qt.DeepEquals(ids(sibs), []string{"1.1.3"}))
}

func TestContextChains(t *testing.T) {
	doc := parse(t)
	arena := dom.NewArena()
	as := dom.NewNodeSet(doc.Root()).Descendants(arena, elem("a"), false, dom.NoContextID)

	const ctxID = 7
	bs := as.Descendants(arena, elem("b"), false, ctxID)
	qt.Assert(t, qt.Equals(bs.ItemCount(), 3))
	for _, b := range bs.Nodes() {
		ctxs := b.ContextNodes(ctxID)
		qt.Assert(t, qt.HasLen(ctxs, 1))
		anc, ok := as.ParentWithChild(b, false, false)
		qt.Assert(t, qt.IsTrue(ok))
		qt.Check(t, qt.IsTrue(ctxs[0].IsSameNode(anc)))
	}
	qt.Check(t, qt.IsFalse(bs.Get(0).HasContext(ctxID+1)))
}

func TestSelectorsMatchNavigation(t *testing.T) {
	doc := parse(t)
	arena := dom.NewArena()
	all := dom.NewNodeSet(doc.Root()).Descendants(arena, dom.AnyNode{}, false, dom.NoContextID)
	as := dom.NewNodeSet(doc.Root()).Descendants(arena, elem("a"), false, dom.NoContextID)

	axes := []dom.Axis{
		dom.AxisChild, dom.AxisDescendant, dom.AxisDescendantOrSelf,
		dom.AxisParent, dom.AxisAncestor, dom.AxisAncestorOrSelf, dom.AxisSelf,
	}
	for _, axis := range axes {
		t.Run(axis.String(), func(t *testing.T) {
			want := as.Navigate(arena, axis, dom.AnyNode{}, dom.NoContextID)
			cands := append([]dom.NodeProxy{doc.Root()}, all.Nodes()...)
			got := dom.Filter(cands, dom.SelectorFor(axis, as, arena, dom.NoContextID))
			qt.Assert(t, qt.DeepEquals(ids(got), ids(want)))
		})
	}
}

func TestNameIndex(t *testing.T) {
	doc := parse(t)
	cands, ok := dom.NewDocumentSet(doc).ElementsByName(elem("b"))
	qt.Assert(t, qt.IsTrue(ok))
	qt.Assert(t, qt.HasLen(cands, 3))

	_, ok = dom.NewDocumentSet(doc).ElementsByName(dom.NameTest{Kind: dom.ElementNode, AnySpace: true})
	qt.Assert(t, qt.IsFalse(ok))
}

func TestNameIndexLinksNestedContexts(t *testing.T) {
	doc := parse(t)
	arena := dom.NewArena()
	const ctxID = 3
	// root, both a and c: the third b lies below three of them
	ctx := dom.NewNodeSet(doc.Root()).Descendants(arena, dom.NameTest{Kind: dom.ElementNode, AnySpace: true}, false, dom.NoContextID)
	ctx = ctx.Except(ctx.Descendants(arena, elem("b"), false, dom.NoContextID))

	cands, ok := ctx.DocumentSet().ElementsByName(elem("b"))
	qt.Assert(t, qt.IsTrue(ok))
	for _, axis := range []dom.Axis{dom.AxisDescendant, dom.AxisDescendantOrSelf} {
		want := ctx.Navigate(arena, axis, elem("b"), ctxID)
		got := dom.Filter(cands, dom.SelectorFor(axis, ctx, arena, ctxID))
		qt.Assert(t, qt.DeepEquals(ids(got), ids(want)))
		for i, p := range got.Nodes() {
			qt.Check(t, qt.HasLen(p.ContextNodes(ctxID), len(want.Get(i).ContextNodes(ctxID))))
		}
		qt.Check(t, qt.HasLen(got.Get(2).ContextNodes(ctxID), 3))
	}
}

// ── Set operations ─────────────────────────────────────────────────────────

func TestSetOperations(t *testing.T) {
	doc := parse(t)
	arena := dom.NewArena()
	all := dom.NewNodeSet(doc.Root()).Descendants(arena, dom.AnyNode{}, false, dom.NoContextID)
	bs := dom.NewNodeSet(doc.Root()).Descendants(arena, elem("b"), false, dom.NoContextID)
	as := dom.NewNodeSet(doc.Root()).Descendants(arena, elem("a"), false, dom.NoContextID)

	u1, u2 := as.Union(bs), bs.Union(as)
	if diff := cmp.Diff(ids(u1), ids(u2)); diff != "" {
		t.Fatalf("union not commutative (-a +b):\n%s", diff)
	}
	qt.Check(t, qt.Equals(u1.ItemCount(), 5))
	qt.Check(t, qt.Equals(bs.Except(bs).ItemCount(), 0))

	inter := all.Intersection(bs)
	qt.Check(t, qt.DeepEquals(ids(inter), ids(bs)))
	for _, p := range inter.Nodes() {
		qt.Check(t, qt.IsTrue(all.Contains(p)))
		qt.Check(t, qt.IsTrue(bs.Contains(p)))
	}
}

func TestNodeSetDeduplicates(t *testing.T) {
	doc := parse(t)
	root, _ := doc.DocumentElement()
	ns := dom.NewNodeSet(root, doc.Root(), root)
	qt.Assert(t, qt.DeepEquals(ids(ns), []string{"", "1"}))
	qt.Assert(t, qt.IsTrue(ns.IsPersistentSet()))
}

// ── Builder ────────────────────────────────────────────────────────────────

func TestBuilder(t *testing.T) {
	b := dom.NewFragmentBuilder()
	b.StartElement(types.LocalName("x"))
	qt.Assert(t, qt.IsNil(b.Attribute(types.LocalName("k"), "v")))
	b.Text("a")
	b.Text("b")
	err := b.Attribute(types.LocalName("late"), "v")
	qt.Assert(t, qt.IsTrue(types.HasCode(err, types.ErrAttributeAfterContent)))
	b.EndElement()
	doc, err := b.Done()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.IsTrue(doc.Temporary))
	qt.Assert(t, qt.Equals(doc.Len(), 4))
	x, _ := doc.DocumentElement()
	s, _ := x.StringValue()
	qt.Assert(t, qt.Equals(s, "ab"))
}

func TestBuilderDuplicateAttribute(t *testing.T) {
	b := dom.NewFragmentBuilder()
	b.StartElement(types.LocalName("x"))
	qt.Assert(t, qt.IsNil(b.Attribute(types.LocalName("k"), "1")))
	err := b.Attribute(types.LocalName("k"), "2")
	qt.Assert(t, qt.IsTrue(types.HasCode(err, types.ErrDuplicateAttr)))
}

// ── Store ──────────────────────────────────────────────────────────────────

func TestStoreNotifications(t *testing.T) {
	ctx := context.Background()
	s := dom.NewStore()
	var events []dom.Event
	remove := s.AddListener(func(_ *dom.Document, ev dom.Event) {
		events = append(events, ev)
	})

	doc := parse(t)
	qt.Assert(t, qt.IsNil(s.Put(ctx, doc)))
	qt.Assert(t, qt.IsNil(s.Put(ctx, parse(t))))

	s.BeginBatch()
	qt.Assert(t, qt.IsNil(s.Remove(ctx, "sample.xml")))
	qt.Assert(t, qt.HasLen(events, 2))
	s.EndBatch()
	qt.Assert(t, qt.DeepEquals(events, []dom.Event{dom.DocumentAdded, dom.DocumentReplaced, dom.DocumentRemoved}))

	remove()
	qt.Assert(t, qt.IsNil(s.Put(ctx, doc)))
	qt.Assert(t, qt.HasLen(events, 3))
}

func TestLockDocuments(t *testing.T) {
	ctx := context.Background()
	s := dom.NewStore()
	doc := parse(t)
	qt.Assert(t, qt.IsNil(s.Put(ctx, doc)))

	unlock, err := s.LockDocuments(ctx, s.Documents(), time.Second)
	qt.Assert(t, qt.IsNil(err))

	// a writer cannot proceed while the read lock is held
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = s.Remove(cctx, "sample.xml")
	qt.Assert(t, qt.IsTrue(types.HasCode(err, types.ErrLock)))

	unlock()
	qt.Assert(t, qt.IsNil(s.Remove(ctx, "sample.xml")))
}

// ── Serialization ──────────────────────────────────────────────────────────

func TestSerialize(t *testing.T) {
	const src = `<p:r xmlns:p="urn:p"><a x="1">t&amp;</a><!--c--><b/></p:r>`
	doc, err := dom.ParseString("ser.xml", src)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(dom.SerializeString(doc.Root()), src))

	a, ok := doc.NodeByID(dom.NodeID{1, 1})
	qt.Assert(t, qt.IsTrue(ok))
	qt.Check(t, qt.Equals(dom.SerializeString(a), `<a x="1">t&amp;</a>`))

	const defaultNS = `<r xmlns="urn:d"><e/></r>`
	doc, err = dom.ParseString("ns.xml", defaultNS)
	qt.Assert(t, qt.IsNil(err))
	qt.Check(t, qt.Equals(dom.SerializeString(doc.Root()), defaultNS))
}
