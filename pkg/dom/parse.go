package dom

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// ParseOptions controls Parse.
type ParseOptions struct {
	// StripWhitespace drops text nodes consisting only of whitespace.
	StripWhitespace bool
}

// Parse reads an XML document from r.
func Parse(uri string, r io.Reader, opts ParseOptions) (*Document, error) {
	dec := xml.NewDecoder(r)
	b := NewBuilder(uri)
	// namespace URI to the prefix declared for it, innermost scope last
	var scopes []map[string]string
	prefixOf := func(space string) string {
		for i := len(scopes) - 1; i >= 0; i-- {
			if p, ok := scopes[i][space]; ok {
				return p
			}
		}
		return ""
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", uri, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			scope := map[string]string{}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" {
					scope[a.Value] = a.Name.Local
				}
			}
			scopes = append(scopes, scope)
			b.StartElement(types.NewQName(t.Name.Space, t.Name.Local, prefixOf(t.Name.Space)))
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				if err := b.Attribute(types.NewQName(a.Name.Space, a.Name.Local, prefixOf(a.Name.Space)), a.Value); err != nil {
					return nil, fmt.Errorf("parse %s: %w", uri, err)
				}
			}
		case xml.EndElement:
			b.EndElement()
			scopes = scopes[:len(scopes)-1]
		case xml.CharData:
			s := string(t)
			if opts.StripWhitespace && strings.TrimSpace(s) == "" {
				continue
			}
			if b.Depth() > 0 {
				b.Text(s)
			}
		case xml.Comment:
			b.Comment(string(t))
		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
			b.ProcessingInstruction(t.Target, string(t.Inst))
		}
	}
	return b.Done()
}

// ParseString parses s with whitespace-only text stripped.
func ParseString(uri, s string) (*Document, error) {
	return Parse(uri, strings.NewReader(s), ParseOptions{StripWhitespace: true})
}
