package plan

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eXist-db/exist-sub013/pkg/expr"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

const (
	nullTag  = "!!null"
	boolTag  = "!!bool"
	strTag   = "!!str"
	intTag   = "!!int"
	floatTag = "!!float"
)

type decoder struct {
	ns map[string]string
}

func newDecoder(declared map[string]string) *decoder {
	ns := map[string]string{
		"xs":    types.XMLSchemaNS,
		"fn":    types.FunctionsNS,
		"err":   types.ErrorNS,
		"exist": types.ExistNS,
		"local": types.LocalNS,
	}
	maps.Copy(ns, declared)
	return &decoder{ns: ns}
}

func (d *decoder) pos(yn *yaml.Node) types.Location {
	return types.Loc(yn.Line, yn.Column)
}

func (d *decoder) posErrorf(yn *yaml.Node, format string, args ...any) error {
	return types.NewStaticError(types.ErrGrammar, fmt.Sprintf(format, args...)).At(d.pos(yn))
}

func (d *decoder) extract(yn *yaml.Node) (expr.Expression, error) {
	var (
		e   expr.Expression
		err error
	)
	switch yn.Kind {
	case yaml.DocumentNode:
		return d.extract(yn.Content[0])
	case yaml.AliasNode:
		return d.extract(yn.Alias)
	case yaml.ScalarNode:
		e, err = d.scalar(yn)
	case yaml.SequenceNode:
		e, err = d.sequence(yn)
	case yaml.MappingNode:
		e, err = d.mapping(yn)
	default:
		return nil, d.posErrorf(yn, "unexpected YAML node")
	}
	if err != nil {
		return nil, err
	}
	e.SetLocation(d.pos(yn))
	return e, nil
}

func (d *decoder) scalar(yn *yaml.Node) (expr.Expression, error) {
	switch tag := yn.ShortTag(); tag {
	case nullTag:
		return expr.NewSequence(), nil
	case boolTag:
		b, err := strconv.ParseBool(strings.ToLower(yn.Value))
		if err != nil {
			return nil, d.posErrorf(yn, "cannot decode %q as %s", yn.Value, tag)
		}
		return expr.NewLiteral(value.BooleanValue(b)), nil
	case intTag:
		n, err := strconv.ParseInt(yn.Value, 0, 64)
		if err != nil {
			return nil, d.posErrorf(yn, "cannot decode %q as %s: %v", yn.Value, tag, err)
		}
		return expr.NewLiteral(value.IntegerValue(n)), nil
	case floatTag:
		return d.float(yn)
	case strTag:
		return expr.NewLiteral(value.NewString(yn.Value)), nil
	default:
		return nil, d.posErrorf(yn, "unsupported scalar tag %s", tag)
	}
}

func (d *decoder) float(yn *yaml.Node) (expr.Expression, error) {
	v := yn.Value
	switch strings.ToLower(strings.TrimPrefix(v, "+")) {
	case ".inf":
		v = "+Inf"
	case "-.inf":
		v = "-Inf"
	case ".nan":
		v = "NaN"
	default:
		if !strings.ContainsAny(v, "eE") {
			dv, err := value.ParseDecimal(v)
			if err != nil {
				return nil, d.posErrorf(yn, "cannot decode %q as xs:decimal", v)
			}
			return expr.NewLiteral(dv), nil
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, d.posErrorf(yn, "cannot decode %q as xs:double", yn.Value)
	}
	return expr.NewLiteral(value.DoubleValue(f)), nil
}

func (d *decoder) sequence(yn *yaml.Node) (expr.Expression, error) {
	items, err := d.list(yn)
	if err != nil {
		return nil, err
	}
	return expr.NewSequence(items...), nil
}

func (d *decoder) list(yn *yaml.Node) ([]expr.Expression, error) {
	if yn.Kind != yaml.SequenceNode {
		e, err := d.extract(yn)
		if err != nil {
			return nil, err
		}
		return []expr.Expression{e}, nil
	}
	out := make([]expr.Expression, 0, len(yn.Content))
	for _, c := range yn.Content {
		e, err := d.extract(c)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// fields holds the entries of a mapping node by key.
type fields struct {
	node *yaml.Node
	m    map[string]*yaml.Node
}

func (d *decoder) fields(yn *yaml.Node) (*fields, string, error) {
	if len(yn.Content) == 0 {
		return nil, "", d.posErrorf(yn, "empty expression")
	}
	f := &fields{node: yn, m: make(map[string]*yaml.Node, len(yn.Content)/2)}
	for i := 0; i+1 < len(yn.Content); i += 2 {
		k := yn.Content[i]
		if k.Kind != yaml.ScalarNode {
			return nil, "", d.posErrorf(k, "invalid key")
		}
		if _, dup := f.m[k.Value]; dup {
			return nil, "", d.posErrorf(k, "duplicate key %q", k.Value)
		}
		f.m[k.Value] = yn.Content[i+1]
	}
	return f, yn.Content[0].Value, nil
}

func (d *decoder) required(f *fields, key string) (*yaml.Node, error) {
	n, ok := f.m[key]
	if !ok {
		return nil, d.posErrorf(f.node, "missing %q", key)
	}
	return n, nil
}

func (d *decoder) expr(f *fields, key string) (expr.Expression, error) {
	n, err := d.required(f, key)
	if err != nil {
		return nil, err
	}
	return d.extract(n)
}

func (d *decoder) optionalExpr(f *fields, key string) (expr.Expression, error) {
	n, ok := f.m[key]
	if !ok {
		return expr.NewSequence(), nil
	}
	return d.extract(n)
}

// pair decodes a two operand list.
func (d *decoder) pair(yn *yaml.Node) (expr.Expression, expr.Expression, error) {
	if yn.Kind != yaml.SequenceNode || len(yn.Content) != 2 {
		return nil, nil, d.posErrorf(yn, "expected two operands")
	}
	l, err := d.extract(yn.Content[0])
	if err != nil {
		return nil, nil, err
	}
	r, err := d.extract(yn.Content[1])
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}

// fold decodes a list of at least two operands joined left to right.
func (d *decoder) fold(yn *yaml.Node, join func(l, r expr.Expression) expr.Expression) (expr.Expression, error) {
	if yn.Kind != yaml.SequenceNode || len(yn.Content) < 2 {
		return nil, d.posErrorf(yn, "expected at least two operands")
	}
	ops, err := d.list(yn)
	if err != nil {
		return nil, err
	}
	e := ops[0]
	for _, r := range ops[1:] {
		e = join(e, r)
		e.SetLocation(d.pos(yn))
	}
	return e, nil
}

func (d *decoder) str(yn *yaml.Node) (string, error) {
	if yn.Kind != yaml.ScalarNode {
		return "", d.posErrorf(yn, "expected a scalar")
	}
	return yn.Value, nil
}

// defaultPrefixes name the default namespaces in dumps.
var defaultPrefixes = map[string]string{
	types.FunctionsNS: "fn",
	types.LocalNS:     "local",
	types.ErrorNS:     "err",
}

func (d *decoder) qname(lexical, defaultNS string) (types.QName, error) {
	qn, err := types.ParseQName(lexical, d.ns, defaultNS)
	if err == nil && qn.Prefix == "" {
		qn.Prefix = defaultPrefixes[qn.Space]
	}
	return qn, err
}

func (d *decoder) qnameOf(yn *yaml.Node, defaultNS string) (types.QName, error) {
	s, err := d.str(yn)
	if err != nil {
		return types.QName{}, err
	}
	qn, err := d.qname(s, defaultNS)
	if err != nil {
		return types.QName{}, types.Locate(err, d.pos(yn))
	}
	return qn, nil
}

func (d *decoder) varName(yn *yaml.Node) (types.QName, error) {
	s, err := d.str(yn)
	if err != nil {
		return types.QName{}, err
	}
	qn, err := d.qname(strings.TrimPrefix(s, "$"), "")
	if err != nil {
		return types.QName{}, types.Locate(err, d.pos(yn))
	}
	return qn, nil
}

var arithOps = map[string]value.ArithOp{
	"+": value.OpPlus, "-": value.OpMinus, "*": value.OpMult,
	"div": value.OpDiv, "idiv": value.OpIDiv, "mod": value.OpMod,
}

var valueComps = map[string]value.CompOp{
	"eq": value.CmpEq, "ne": value.CmpNe, "lt": value.CmpLt,
	"le": value.CmpLe, "gt": value.CmpGt, "ge": value.CmpGe,
}

var generalComps = map[string]value.CompOp{
	"=": value.CmpEq, "!=": value.CmpNe, "<": value.CmpLt,
	"<=": value.CmpLe, ">": value.CmpGt, ">=": value.CmpGe,
}

var nodeComps = map[string]expr.NodeOp{
	"is": expr.NodeIs, "<<": expr.NodeBefore, ">>": expr.NodeAfter,
}

func (d *decoder) mapping(yn *yaml.Node) (expr.Expression, error) {
	f, kind, err := d.fields(yn)
	if err != nil {
		return nil, err
	}
	v := f.m[kind]

	if op, ok := arithOps[kind]; ok {
		if kind == "-" && v.Kind != yaml.SequenceNode {
			return d.unary(v)
		}
		l, r, err := d.pair(v)
		if err != nil {
			return nil, err
		}
		return expr.NewArith(op, l, r), nil
	}
	if op, ok := valueComps[kind]; ok {
		l, r, err := d.pair(v)
		if err != nil {
			return nil, err
		}
		return expr.NewValueComparison(op, l, r), nil
	}
	if op, ok := generalComps[kind]; ok {
		l, r, err := d.pair(v)
		if err != nil {
			return nil, err
		}
		return expr.NewGeneralComparison(op, l, r), nil
	}
	if op, ok := nodeComps[kind]; ok {
		l, r, err := d.pair(v)
		if err != nil {
			return nil, err
		}
		return expr.NewNodeComparison(op, l, r), nil
	}

	switch kind {
	case "string":
		s, err := d.str(v)
		if err != nil {
			return nil, err
		}
		return expr.NewLiteral(value.NewString(s)), nil
	case "var":
		name, err := d.varName(v)
		if err != nil {
			return nil, err
		}
		return expr.NewVariableReference(name), nil
	case "context":
		return expr.NewContextItem(), nil
	case "root":
		return expr.NewRootNode(), nil
	case "neg":
		return d.unary(v)
	case "to":
		l, r, err := d.pair(v)
		if err != nil {
			return nil, err
		}
		return expr.NewRange(l, r), nil
	case "and":
		return d.fold(v, func(l, r expr.Expression) expr.Expression { return expr.NewAnd(l, r) })
	case "or":
		return d.fold(v, func(l, r expr.Expression) expr.Expression { return expr.NewOr(l, r) })
	case "union", "|":
		return d.fold(v, func(l, r expr.Expression) expr.Expression { return expr.NewUnion(l, r) })
	case "intersect":
		return d.fold(v, func(l, r expr.Expression) expr.Expression { return expr.NewIntersect(l, r) })
	case "except":
		return d.fold(v, func(l, r expr.Expression) expr.Expression { return expr.NewExcept(l, r) })
	case "if":
		return d.ifExpr(f)
	case "path":
		return d.path(v)
	case "filter":
		return d.filter(f)
	case "for":
		return d.forExpr(f)
	case "let":
		return d.letExpr(f)
	case "where":
		return d.whereExpr(f)
	case "order-by":
		return d.orderBy(f)
	case "group-by":
		return d.groupBy(f)
	case "some":
		return d.quantified(f, expr.Some)
	case "every":
		return d.quantified(f, expr.Every)
	case "call":
		return d.call(f)
	case "function-ref":
		return d.functionRef(v)
	case "function":
		return d.inlineFunction(f)
	case "dynamic-call":
		return d.dynamicCall(f)
	case "try":
		return d.tryCatch(f)
	case "cast", "castable", "instance-of", "treat":
		return d.typeExpr(f, kind)
	case "element":
		return d.element(f)
	case "attribute":
		return d.attribute(f)
	case "text":
		c, err := d.extract(v)
		if err != nil {
			return nil, err
		}
		return expr.NewTextConstructor(c), nil
	case "comment":
		c, err := d.extract(v)
		if err != nil {
			return nil, err
		}
		return expr.NewCommentConstructor(c), nil
	case "pragma":
		return d.pragma(f)
	}
	return nil, d.posErrorf(yn.Content[0], "unknown expression kind %q", kind)
}

func (d *decoder) unary(v *yaml.Node) (expr.Expression, error) {
	e, err := d.extract(v)
	if err != nil {
		return nil, err
	}
	return expr.NewUnaryMinus(e), nil
}

func (d *decoder) ifExpr(f *fields) (expr.Expression, error) {
	test, err := d.expr(f, "if")
	if err != nil {
		return nil, err
	}
	then, err := d.expr(f, "then")
	if err != nil {
		return nil, err
	}
	els, err := d.optionalExpr(f, "else")
	if err != nil {
		return nil, err
	}
	return expr.NewIf(test, then, els), nil
}

func (d *decoder) predicates(yn *yaml.Node) ([]*expr.Predicate, error) {
	if yn == nil {
		return nil, nil
	}
	ps, err := d.list(yn)
	if err != nil {
		return nil, err
	}
	out := make([]*expr.Predicate, len(ps))
	for i, p := range ps {
		out[i] = expr.NewPredicate(p)
		out[i].SetLocation(p.Location())
	}
	return out, nil
}

func (d *decoder) filter(f *fields) (expr.Expression, error) {
	primary, err := d.expr(f, "filter")
	if err != nil {
		return nil, err
	}
	preds, err := d.predicates(f.m["predicates"])
	if err != nil {
		return nil, err
	}
	return expr.NewFilter(primary, preds...), nil
}

func (d *decoder) sequenceType(yn *yaml.Node, s string) (types.SequenceType, error) {
	s = strings.TrimSpace(s)
	if s == "empty-sequence()" {
		return types.NewSequenceType(types.EmptyType, types.EmptySequence), nil
	}
	card := types.ExactlyOne
	switch {
	case strings.HasSuffix(s, "?"):
		card = types.ZeroOrOne
	case strings.HasSuffix(s, "*"):
		card = types.ZeroOrMore
	case strings.HasSuffix(s, "+"):
		card = types.OneOrMore
	}
	if card != types.ExactlyOne {
		s = s[:len(s)-1]
	}
	st := types.NewSequenceType(types.Item, card)
	if name, ok := strings.CutPrefix(s, "element("); ok && name != ")" {
		st.Type = types.Element
		qn, err := d.qname(strings.TrimSuffix(name, ")"), "")
		if err != nil {
			return st, types.Locate(err, d.pos(yn))
		}
		st.NodeName = qn
		return st, nil
	}
	if name, ok := strings.CutPrefix(s, "attribute("); ok && name != ")" {
		st.Type = types.Attribute
		qn, err := d.qname(strings.TrimSuffix(name, ")"), "")
		if err != nil {
			return st, types.Locate(err, d.pos(yn))
		}
		st.NodeName = qn
		return st, nil
	}
	t, ok := types.TypeFromName(s)
	if !ok {
		return st, d.posErrorf(yn, "unknown type %q", s)
	}
	st.Type = t
	return st, nil
}

func (d *decoder) typeOf(f *fields) (types.SequenceType, error) {
	n, err := d.required(f, "as")
	if err != nil {
		return types.SequenceType{}, err
	}
	s, err := d.str(n)
	if err != nil {
		return types.SequenceType{}, err
	}
	return d.sequenceType(n, s)
}

func (d *decoder) optionalType(f *fields) (*types.SequenceType, error) {
	if _, ok := f.m["as"]; !ok {
		return nil, nil
	}
	st, err := d.typeOf(f)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (d *decoder) typeExpr(f *fields, kind string) (expr.Expression, error) {
	operand, err := d.expr(f, kind)
	if err != nil {
		return nil, err
	}
	st, err := d.typeOf(f)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "cast":
		return expr.NewCast(operand, st.Type, st.Cardinality == types.ZeroOrOne), nil
	case "castable":
		return expr.NewCastable(operand, st.Type, st.Cardinality == types.ZeroOrOne), nil
	case "instance-of":
		return expr.NewInstanceOf(operand, st), nil
	default:
		return expr.NewTreatAs(operand, st), nil
	}
}

func (d *decoder) element(f *fields) (expr.Expression, error) {
	name, err := d.qnameOf(f.m["element"], "")
	if err != nil {
		return nil, err
	}
	var content []expr.Expression
	if n, ok := f.m["content"]; ok {
		if content, err = d.list(n); err != nil {
			return nil, err
		}
	}
	return expr.NewElementConstructor(name, content...), nil
}

func (d *decoder) attribute(f *fields) (expr.Expression, error) {
	name, err := d.qnameOf(f.m["attribute"], "")
	if err != nil {
		return nil, err
	}
	var val []expr.Expression
	if n, ok := f.m["value"]; ok {
		if val, err = d.list(n); err != nil {
			return nil, err
		}
	}
	return expr.NewAttributeConstructor(name, val...), nil
}

func (d *decoder) pragma(f *fields) (expr.Expression, error) {
	decls, err := d.pragmaDecls(f.m["pragma"])
	if err != nil {
		return nil, err
	}
	inner, err := d.expr(f, "in")
	if err != nil {
		return nil, err
	}
	return expr.NewExtension(inner, decls...), nil
}

func (d *decoder) pragmaDecls(yn *yaml.Node) ([]expr.PragmaDecl, error) {
	nodes := []*yaml.Node{yn}
	if yn.Kind == yaml.SequenceNode {
		nodes = yn.Content
	}
	out := make([]expr.PragmaDecl, 0, len(nodes))
	for _, n := range nodes {
		var name, contents *yaml.Node
		switch n.Kind {
		case yaml.ScalarNode:
			name = n
		case yaml.MappingNode:
			f, _, err := d.fields(n)
			if err != nil {
				return nil, err
			}
			if name, err = d.required(f, "name"); err != nil {
				return nil, err
			}
			contents = f.m["contents"]
		default:
			return nil, d.posErrorf(n, "invalid pragma")
		}
		qn, err := d.qnameOf(name, "")
		if err != nil {
			return nil, err
		}
		decl := expr.PragmaDecl{Name: qn}
		if contents != nil {
			if decl.Contents, err = d.str(contents); err != nil {
				return nil, err
			}
		}
		out = append(out, decl)
	}
	return out, nil
}
