package expr

import (
	"strings"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// constructed accounts the nodes of a new fragment with the watchdog.
func constructed(xc *Context, doc *dom.Document, loc types.Location) error {
	if xc.watchdog != nil {
		xc.watchdog.AddNodes(doc.Len())
	}
	return xc.Proceed(loc)
}

// contentString atomizes the results of exprs. Atomic values of one
// expression are joined with a space.
func contentString(xc *Context, exprs []Expression, seq value.Sequence, item value.Item) (string, bool, error) {
	var b strings.Builder
	found := false
	for _, e := range exprs {
		r, err := Eval(xc, e, seq, item)
		if err != nil {
			return "", false, err
		}
		a, err := value.Atomize(r)
		if err != nil {
			return "", false, types.Locate(err, e.Location())
		}
		for i := 0; i < a.ItemCount(); i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(a.ItemAt(i).(value.AtomicValue).String())
			found = true
		}
	}
	return b.String(), found, nil
}

// constructorName evaluates a computed node name.
func constructorName(xc *Context, e Expression, seq value.Sequence, item value.Item) (types.QName, error) {
	it, err := evalOptional(xc, e, seq, item)
	if err != nil {
		return types.QName{}, err
	}
	if it == nil {
		return types.QName{}, types.NewError(types.ErrType, "a computed node name must not be empty").At(e.Location())
	}
	av, err := it.Atomize()
	if err != nil {
		return types.QName{}, types.Locate(err, e.Location())
	}
	switch v := av.(type) {
	case value.QNameValue:
		return v.Name, nil
	case value.StringValue:
		q, err := types.ParseQName(strings.TrimSpace(v.String()), xc.namespaces, "")
		if err != nil || q.Local == "" || strings.ContainsAny(q.Local, " \t\n<>&\"'") {
			return types.QName{}, types.NewError(types.ErrInvalidNodeName, "invalid node name "+v.String()).At(e.Location())
		}
		return q, nil
	}
	return types.QName{}, types.Errorf(types.ErrType, "a computed node name must be a string or QName, got %s", av.Type()).
		At(e.Location())
}

// addContent adds the items of seq to the element being built. Adjacent
// atomic values become one text node, separated by spaces.
func addContent(b *dom.Builder, seq value.Sequence) error {
	var text strings.Builder
	pending := false
	flush := func() {
		if pending {
			b.Text(text.String())
			text.Reset()
			pending = false
		}
	}
	for i := 0; i < seq.ItemCount(); i++ {
		switch v := seq.ItemAt(i).(type) {
		case dom.NodeProxy:
			flush()
			if err := b.CopyNode(v); err != nil {
				return err
			}
		case value.AtomicValue:
			if pending {
				text.WriteByte(' ')
			}
			text.WriteString(v.String())
			pending = true
		default:
			return types.Errorf(types.ErrFunctionInContent, "%s cannot be used as element content", v.Type())
		}
	}
	flush()
	return nil
}

// ElementConstructor creates an element in a new fragment. The name is
// Name, or computed by NameExpr when set.
type ElementConstructor struct {
	Base
	Name       types.QName
	NameExpr   Expression
	Attributes []*AttributeConstructor
	Content    []Expression
}

// NewElementConstructor creates a direct element constructor.
func NewElementConstructor(name types.QName, content ...Expression) *ElementConstructor {
	return &ElementConstructor{Name: name, Content: content}
}

// AddAttribute adds a direct attribute.
func (e *ElementConstructor) AddAttribute(a *AttributeConstructor) {
	e.Attributes = append(e.Attributes, a)
}

func (e *ElementConstructor) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	ci := info.child(e)
	ci.Flags |= InNodeConstructor
	for _, c := range e.Children() {
		if err := c.Analyze(ci); err != nil {
			return err
		}
	}
	return nil
}

func (e *ElementConstructor) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	name := e.Name
	if e.NameExpr != nil {
		var err error
		if name, err = constructorName(xc, e.NameExpr, seq, item); err != nil {
			return nil, err
		}
	}
	b := dom.NewFragmentBuilder()
	b.StartElement(name)
	for _, a := range e.Attributes {
		an, val, err := a.parts(xc, seq, item)
		if err != nil {
			return nil, err
		}
		if err := b.Attribute(an, val); err != nil {
			return nil, types.Locate(err, a.loc)
		}
	}
	for _, c := range e.Content {
		r, err := Eval(xc, c, seq, item)
		if err != nil {
			return nil, err
		}
		if err := addContent(b, r); err != nil {
			return nil, types.Locate(err, c.Location())
		}
	}
	b.EndElement()
	doc, err := b.Done()
	if err != nil {
		return nil, types.Locate(err, e.loc)
	}
	if err := constructed(xc, doc, e.loc); err != nil {
		return nil, err
	}
	el, _ := doc.DocumentElement()
	return value.One(el), nil
}

func (e *ElementConstructor) ReturnsType() types.Type        { return types.Element }
func (e *ElementConstructor) Cardinality() types.Cardinality { return types.ExactlyOne }

func (e *ElementConstructor) Dependencies() types.Dependency {
	return depsOf(e.Children()...)
}

func (e *ElementConstructor) ResetState(full bool) { resetAll(full, e.Children()...) }

func (e *ElementConstructor) Children() []Expression {
	out := make([]Expression, 0, len(e.Attributes)+len(e.Content)+1)
	if e.NameExpr != nil {
		out = append(out, e.NameExpr)
	}
	for _, a := range e.Attributes {
		out = append(out, a)
	}
	return append(out, e.Content...)
}

func (e *ElementConstructor) Dump(d *Dumper) {
	d.Display("element ")
	if e.NameExpr != nil {
		d.Display("{").Expr(e.NameExpr).Display("}")
	} else {
		d.Display(e.Name.String())
	}
	d.Display(" {")
	if len(e.Attributes)+len(e.Content) > 0 {
		d.StartIndent()
		for i, a := range e.Attributes {
			if i > 0 {
				d.Display(", ")
			}
			d.Expr(a)
		}
		if len(e.Attributes) > 0 && len(e.Content) > 0 {
			d.Display(", ")
		}
		d.List(", ", e.Content...).EndIndent()
	}
	d.Display("}")
}

// AttributeConstructor creates an attribute. Inside an element
// constructor it adds to that element; on its own it yields a parentless
// attribute node.
type AttributeConstructor struct {
	Base
	Name     types.QName
	NameExpr Expression
	Value    []Expression
}

// NewAttributeConstructor creates an attribute constructor.
func NewAttributeConstructor(name types.QName, val ...Expression) *AttributeConstructor {
	return &AttributeConstructor{Name: name, Value: val}
}

func (e *AttributeConstructor) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	ci := info.child(e)
	ci.Flags |= InNodeConstructor
	for _, c := range e.Children() {
		if err := c.Analyze(ci); err != nil {
			return err
		}
	}
	return nil
}

func (e *AttributeConstructor) parts(xc *Context, seq value.Sequence, item value.Item) (types.QName, string, error) {
	name := e.Name
	if e.NameExpr != nil {
		var err error
		if name, err = constructorName(xc, e.NameExpr, seq, item); err != nil {
			return types.QName{}, "", err
		}
	}
	val, _, err := contentString(xc, e.Value, seq, item)
	return name, val, err
}

func (e *AttributeConstructor) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	name, val, err := e.parts(xc, seq, item)
	if err != nil {
		return nil, err
	}
	a := dom.NewAttribute(name, val)
	if err := constructed(xc, a.Doc, e.loc); err != nil {
		return nil, err
	}
	return value.One(a), nil
}

func (e *AttributeConstructor) ReturnsType() types.Type        { return types.Attribute }
func (e *AttributeConstructor) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *AttributeConstructor) Dependencies() types.Dependency { return depsOf(e.Children()...) }
func (e *AttributeConstructor) ResetState(full bool)           { resetAll(full, e.Children()...) }

func (e *AttributeConstructor) Children() []Expression {
	if e.NameExpr != nil {
		return append([]Expression{e.NameExpr}, e.Value...)
	}
	return e.Value
}

func (e *AttributeConstructor) Dump(d *Dumper) {
	d.Display("attribute ")
	if e.NameExpr != nil {
		d.Display("{").Expr(e.NameExpr).Display("}")
	} else {
		d.Display(e.Name.String())
	}
	d.Display(" {").List(", ", e.Value...).Display("}")
}

// TextConstructor is "text { expr }". An empty content yields no node.
type TextConstructor struct {
	Base
	Content Expression
}

// NewTextConstructor creates a text node constructor.
func NewTextConstructor(content Expression) *TextConstructor {
	return &TextConstructor{Content: content}
}

func (e *TextConstructor) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return e.Content.Analyze(info.child(e))
}

func (e *TextConstructor) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	s, ok, err := contentString(xc, []Expression{e.Content}, seq, item)
	if err != nil || !ok || s == "" {
		return value.Empty, err
	}
	b := dom.NewFragmentBuilder()
	b.Text(s)
	doc, err := b.Done()
	if err != nil {
		return nil, types.Locate(err, e.loc)
	}
	if err := constructed(xc, doc, e.loc); err != nil {
		return nil, err
	}
	return value.One(doc.Node(1)), nil
}

func (e *TextConstructor) ReturnsType() types.Type        { return types.Text }
func (e *TextConstructor) Cardinality() types.Cardinality { return types.ZeroOrOne }
func (e *TextConstructor) Dependencies() types.Dependency { return e.Content.Dependencies() }
func (e *TextConstructor) ResetState(full bool)           { e.Content.ResetState(full) }
func (e *TextConstructor) Children() []Expression         { return []Expression{e.Content} }
func (e *TextConstructor) Dump(d *Dumper)                 { d.Display("text {").Expr(e.Content).Display("}") }

// CommentConstructor is "comment { expr }".
type CommentConstructor struct {
	Base
	Content Expression
}

// NewCommentConstructor creates a comment constructor.
func NewCommentConstructor(content Expression) *CommentConstructor {
	return &CommentConstructor{Content: content}
}

func (e *CommentConstructor) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	return e.Content.Analyze(info.child(e))
}

func (e *CommentConstructor) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	s, _, err := contentString(xc, []Expression{e.Content}, seq, item)
	if err != nil {
		return nil, err
	}
	if strings.Contains(s, "--") || strings.HasSuffix(s, "-") {
		return nil, types.NewError(types.ErrInvalidComment, "a comment must not contain '--' or end with '-'").
			WithValue(s).At(e.loc)
	}
	b := dom.NewFragmentBuilder()
	b.Comment(s)
	doc, err := b.Done()
	if err != nil {
		return nil, types.Locate(err, e.loc)
	}
	if err := constructed(xc, doc, e.loc); err != nil {
		return nil, err
	}
	return value.One(doc.Node(1)), nil
}

func (e *CommentConstructor) ReturnsType() types.Type        { return types.Comment }
func (e *CommentConstructor) Cardinality() types.Cardinality { return types.ExactlyOne }
func (e *CommentConstructor) Dependencies() types.Dependency { return e.Content.Dependencies() }
func (e *CommentConstructor) ResetState(full bool)           { e.Content.ResetState(full) }
func (e *CommentConstructor) Children() []Expression         { return []Expression{e.Content} }
func (e *CommentConstructor) Dump(d *Dumper)                 { d.Display("comment {").Expr(e.Content).Display("}") }
