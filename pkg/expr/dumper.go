package expr

import (
	"fmt"
	"strings"
)

// Dumper renders an expression tree in a query-like syntax for profiler
// output and error messages.
type Dumper struct {
	b      strings.Builder
	indent int
	bol    bool
}

// Dump renders e.
func Dump(e Dumpable) string {
	if e == nil {
		return ""
	}
	var d Dumper
	e.Dump(&d)
	return d.String()
}

// Display writes s.
func (d *Dumper) Display(s string) *Dumper {
	if d.bol {
		d.b.WriteString(strings.Repeat("    ", d.indent))
		d.bol = false
	}
	d.b.WriteString(s)
	return d
}

// Displayf writes a formatted string.
func (d *Dumper) Displayf(format string, args ...any) *Dumper {
	return d.Display(fmt.Sprintf(format, args...))
}

// Expr dumps a child expression.
func (d *Dumper) Expr(e Dumpable) *Dumper {
	if e != nil {
		e.Dump(d)
	}
	return d
}

// List dumps exprs separated by sep.
func (d *Dumper) List(sep string, exprs ...Expression) *Dumper {
	for i, e := range exprs {
		if i > 0 {
			d.Display(sep)
		}
		d.Expr(e)
	}
	return d
}

// Nl starts a new line.
func (d *Dumper) Nl() *Dumper {
	d.b.WriteByte('\n')
	d.bol = true
	return d
}

// StartIndent increases the indentation and starts a new line.
func (d *Dumper) StartIndent() *Dumper {
	d.indent++
	return d.Nl()
}

// EndIndent decreases the indentation and starts a new line.
func (d *Dumper) EndIndent() *Dumper {
	if d.indent > 0 {
		d.indent--
	}
	return d.Nl()
}

func (d *Dumper) String() string { return d.b.String() }
