package value

import (
	"strconv"
	"strings"

	"github.com/eXist-db/exist-sub013/pkg/types"
)

const renderLimit = 10

// Render formats a sequence for diagnostics. Long sequences are truncated.
func Render(seq Sequence) string {
	if seq == nil || seq.IsEmpty() {
		return "()"
	}
	if seq.HasOne() {
		return RenderItem(seq.ItemAt(0))
	}
	var b strings.Builder
	b.WriteByte('(')
	n := seq.ItemCount()
	for i := 0; i < n && i < renderLimit; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(RenderItem(seq.ItemAt(i)))
	}
	if n > renderLimit {
		b.WriteString(", ... ")
		b.WriteString(strconv.Itoa(n - renderLimit))
		b.WriteString(" more")
	}
	b.WriteByte(')')
	return b.String()
}

// RenderItem formats one item for diagnostics.
func RenderItem(it Item) string {
	switch v := it.(type) {
	case StringValue:
		if v.t == types.String {
			return strconv.Quote(v.s)
		}
		return v.t.Name() + "(" + strconv.Quote(v.s) + ")"
	case BooleanValue:
		return v.String() + "()"
	case DoubleValue:
		return "xs:double(" + strconv.Quote(v.String()) + ")"
	case FloatValue:
		return "xs:float(" + strconv.Quote(v.String()) + ")"
	case AtomicValue:
		return v.String()
	case NodeValue:
		if name := v.NodeName(); !name.IsZero() {
			return v.Type().Name() + "<" + name.String() + ">"
		}
		return v.Type().Name()
	}
	return it.Type().Name()
}
