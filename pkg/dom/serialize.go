package dom

import (
	"bufio"
	"encoding/xml"
	"io"
	"strings"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// Serialize writes the subtree rooted at p as XML. Namespace declarations
// are emitted on the first element that needs them.
func Serialize(w io.Writer, p NodeProxy) error {
	bw := bufio.NewWriter(w)
	s := serializer{w: bw, doc: p.Doc}
	s.node(p.Index, map[string]string{"xml": "http://www.w3.org/XML/1998/namespace"})
	return bw.Flush()
}

// SerializeString is Serialize into a string.
func SerializeString(p NodeProxy) string {
	var b strings.Builder
	_ = Serialize(&b, p)
	return b.String()
}

type serializer struct {
	w   *bufio.Writer
	doc *Document
}

func (s *serializer) escape(v string) {
	_ = xml.EscapeText(s.w, []byte(v))
}

func (s *serializer) node(i int32, scope map[string]string) {
	n := &s.doc.nodes[i]
	switch n.kind {
	case DocumentNode:
		for _, c := range n.children {
			s.node(c, scope)
		}
	case ElementNode:
		s.element(i, scope)
	case AttributeNode:
		s.w.WriteString(lexical(n.name))
		s.w.WriteString(`="`)
		s.escape(n.value)
		s.w.WriteByte('"')
	case TextNode:
		s.escape(n.value)
	case CommentNode:
		s.w.WriteString("<!--")
		s.w.WriteString(n.value)
		s.w.WriteString("-->")
	case ProcessingInstructionNode:
		s.w.WriteString("<?")
		s.w.WriteString(n.name.Local)
		if n.value != "" {
			s.w.WriteByte(' ')
			s.w.WriteString(n.value)
		}
		s.w.WriteString("?>")
	}
}

func (s *serializer) element(i int32, outer map[string]string) {
	n := &s.doc.nodes[i]
	scope := outer
	var decls []types.QName
	declare := func(q types.QName) {
		if q.Space == "" && q.Prefix == "" && scope[""] == "" {
			return
		}
		if uri, ok := scope[q.Prefix]; ok && uri == q.Space {
			return
		}
		if q.Space == "" && q.Prefix != "" {
			return
		}
		if len(decls) == 0 {
			scope = make(map[string]string, len(outer)+1)
			for k, v := range outer {
				scope[k] = v
			}
		}
		scope[q.Prefix] = q.Space
		decls = append(decls, q)
	}

	declare(n.name)
	for _, a := range n.attrs {
		if name := s.doc.nodes[a].name; name.Prefix != "" {
			declare(name)
		}
	}

	s.w.WriteByte('<')
	s.w.WriteString(lexical(n.name))
	for _, q := range decls {
		s.w.WriteString(" xmlns")
		if q.Prefix != "" {
			s.w.WriteByte(':')
			s.w.WriteString(q.Prefix)
		}
		s.w.WriteString(`="`)
		s.escape(q.Space)
		s.w.WriteByte('"')
	}
	for _, a := range n.attrs {
		s.w.WriteByte(' ')
		s.node(a, scope)
	}
	if len(n.children) == 0 {
		s.w.WriteString("/>")
		return
	}
	s.w.WriteByte('>')
	for _, c := range n.children {
		s.node(c, scope)
	}
	s.w.WriteString("</")
	s.w.WriteString(lexical(n.name))
	s.w.WriteByte('>')
}

func lexical(q types.QName) string {
	if q.Prefix == "" {
		return q.Local
	}
	return q.Prefix + ":" + q.Local
}
