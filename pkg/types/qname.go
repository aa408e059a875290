package types

import "strings"

// Well-known namespace URIs.
const (
	XMLSchemaNS  = "http://www.w3.org/2001/XMLSchema"
	FunctionsNS  = "http://www.w3.org/2005/xpath-functions"
	ErrorNS      = "http://www.w3.org/2005/xqt-errors"
	ExistErrorNS = "http://www.exist-db.org/xqt-errors/"
	ExistNS      = "http://exist.sourceforge.net/NS/exist"
	LocalNS      = "http://www.w3.org/2005/xquery-local-functions"
)

// QName is an expanded qualified name. Prefix is kept for rendering only and
// does not participate in equality or ordering.
type QName struct {
	Space  string
	Local  string
	Prefix string
}

// NewQName creates a QName in the given namespace.
func NewQName(space, local, prefix string) QName {
	return QName{Space: space, Local: local, Prefix: prefix}
}

// LocalName creates a QName in no namespace.
func LocalName(local string) QName {
	return QName{Local: local}
}

// ParseQName splits a lexical "prefix:local" name and resolves the prefix
// against ns. The empty prefix maps to defaultNS.
func ParseQName(lexical string, ns map[string]string, defaultNS string) (QName, error) {
	prefix, local, found := strings.Cut(lexical, ":")
	if !found {
		return QName{Space: defaultNS, Local: lexical}, nil
	}
	uri, ok := ns[prefix]
	if !ok {
		return QName{}, NewStaticError(ErrUnboundPrefix, "no namespace defined for prefix "+prefix)
	}
	return QName{Space: uri, Local: local, Prefix: prefix}, nil
}

// Equals compares the expanded names.
func (q QName) Equals(other QName) bool {
	return q.Space == other.Space && q.Local == other.Local
}

// Compare orders QNames by namespace URI, then local name.
func (q QName) Compare(other QName) int {
	if c := strings.Compare(q.Space, other.Space); c != 0 {
		return c
	}
	return strings.Compare(q.Local, other.Local)
}

// IsZero reports whether the QName is unset.
func (q QName) IsZero() bool {
	return q.Local == ""
}

// String renders the lexical form, using the prefix when known and Clark
// notation otherwise.
func (q QName) String() string {
	if q.Prefix != "" {
		return q.Prefix + ":" + q.Local
	}
	if q.Space != "" {
		return "{" + q.Space + "}" + q.Local
	}
	return q.Local
}
