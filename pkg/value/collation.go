package value

import (
	"net/url"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

// Collation URIs understood by NewCollator.
const (
	CodepointCollationURI  = "http://www.w3.org/2005/xpath-functions/collation/codepoint"
	UCACollationURI        = "http://www.w3.org/2013/collation/UCA"
	HTMLCaseInsensitiveURI = "http://www.w3.org/2005/xpath-functions/collation/html-ascii-case-insensitive"
	ExistCollationURI      = "http://exist-db.org/collation"
)

// Collator orders strings.
type Collator interface {
	Compare(a, b string) int
	URI() string
}

type codepointCollator struct{}

func (codepointCollator) Compare(a, b string) int { return strings.Compare(a, b) }
func (codepointCollator) URI() string             { return CodepointCollationURI }

// Codepoint is the default collation.
var Codepoint Collator = codepointCollator{}

type asciiCaseInsensitive struct{}

func (asciiCaseInsensitive) URI() string { return HTMLCaseInsensitiveURI }

func (asciiCaseInsensitive) Compare(a, b string) int {
	return strings.Compare(asciiLower(a), asciiLower(b))
}

func asciiLower(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + 'a' - 'A'
		}
		return r
	}, s)
}

// ucaCollator guards a collate.Collator, which keeps internal buffers and
// must not be used concurrently.
type ucaCollator struct {
	mu  sync.Mutex
	c   *collate.Collator
	uri string
}

func (u *ucaCollator) URI() string { return u.uri }

func (u *ucaCollator) Compare(a, b string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.c.CompareString(a, b)
}

var collators sync.Map // uri -> Collator

// NewCollator resolves a collation URI. The empty URI and "codepoint" select
// codepoint order. Unknown URIs fail with FOCH0002.
func NewCollator(uri string) (Collator, error) {
	switch uri {
	case "", "codepoint", CodepointCollationURI:
		return Codepoint, nil
	case HTMLCaseInsensitiveURI:
		return asciiCaseInsensitive{}, nil
	}
	if c, ok := collators.Load(uri); ok {
		return c.(Collator), nil
	}
	if !strings.HasPrefix(uri, ExistCollationURI) && !strings.HasPrefix(uri, UCACollationURI) && !strings.HasPrefix(uri, "?") {
		return nil, types.Errorf(types.ErrUnsupportedCollation, "unsupported collation %s", uri)
	}
	c, err := newUCACollator(uri)
	if err != nil {
		return nil, err
	}
	actual, _ := collators.LoadOrStore(uri, c)
	return actual.(Collator), nil
}

func newUCACollator(uri string) (Collator, error) {
	_, query, _ := strings.Cut(uri, "?")
	params, err := url.ParseQuery(strings.ReplaceAll(query, ";", "&"))
	if err != nil {
		return nil, types.Errorf(types.ErrUnsupportedCollation, "malformed collation URI %s", uri).WithCause(err)
	}
	tag := language.Und
	if lang := params.Get("lang"); lang != "" {
		if tag, err = language.Parse(lang); err != nil {
			return nil, types.Errorf(types.ErrUnsupportedCollation, "unrecognized lang=%s", lang).WithCause(err)
		}
	}
	var opts []collate.Option
	switch strength := params.Get("strength"); strength {
	case "", "identical", "tertiary", "3", "quaternary", "4":
	case "primary", "1":
		opts = append(opts, collate.IgnoreCase, collate.IgnoreDiacritics)
	case "secondary", "2":
		opts = append(opts, collate.IgnoreCase)
	default:
		return nil, types.Errorf(types.ErrUnsupportedCollation,
			"only collation strengths of 'identical', 'primary', 'secondary', 'tertiary' or 'quaternary' are supported, requested: %s", strength)
	}
	if params.Get("numeric") == "yes" {
		opts = append(opts, collate.Numeric)
	}
	return &ucaCollator{c: collate.New(tag, opts...), uri: uri}, nil
}
