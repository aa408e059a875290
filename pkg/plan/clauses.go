package plan

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/expr"
	"github.com/eXist-db/exist-sub013/pkg/types"
)

// ── Paths ──────────────────────────────────────────────────────────────────

func (d *decoder) path(yn *yaml.Node) (expr.Expression, error) {
	if yn.Kind != yaml.SequenceNode || len(yn.Content) == 0 {
		return nil, d.posErrorf(yn, "a path needs at least one step")
	}
	var steps []expr.Expression
	for i, c := range yn.Content {
		if c.Kind == yaml.ScalarNode && c.ShortTag() == strTag {
			switch {
			case c.Value == "/" && i == 0:
				root := expr.NewRootNode()
				root.SetLocation(d.pos(c))
				steps = append(steps, root)
				continue
			case c.Value == "//":
				if i == 0 {
					root := expr.NewRootNode()
					root.SetLocation(d.pos(c))
					steps = append(steps, root)
				}
				s := expr.NewStep(dom.AxisDescendantOrSelf, dom.AnyNode{})
				s.SetLocation(d.pos(c))
				steps = append(steps, s)
				continue
			}
			s, err := d.step(c, c.Value, nil)
			if err != nil {
				return nil, err
			}
			steps = append(steps, s)
			continue
		}
		if c.Kind == yaml.MappingNode && len(c.Content) > 0 && c.Content[0].Value == "step" {
			f, _, err := d.fields(c)
			if err != nil {
				return nil, err
			}
			s, err := d.str(f.m["step"])
			if err != nil {
				return nil, err
			}
			st, err := d.step(c, s, f.m["predicates"])
			if err != nil {
				return nil, err
			}
			steps = append(steps, st)
			continue
		}
		e, err := d.extract(c)
		if err != nil {
			return nil, err
		}
		steps = append(steps, e)
	}
	return expr.NewPath(steps...), nil
}

func (d *decoder) step(yn *yaml.Node, s string, preds *yaml.Node) (expr.Expression, error) {
	axis, test, err := d.nodeTest(yn, s)
	if err != nil {
		return nil, err
	}
	ps, err := d.predicates(preds)
	if err != nil {
		return nil, err
	}
	st := expr.NewStep(axis, test, ps...)
	st.SetLocation(d.pos(yn))
	return st, nil
}

var kindTests = map[string]dom.NodeTest{
	"node()":                   dom.AnyNode{},
	"text()":                   dom.KindTest{Kind: dom.TextNode},
	"comment()":                dom.KindTest{Kind: dom.CommentNode},
	"element()":                dom.KindTest{Kind: dom.ElementNode},
	"attribute()":              dom.KindTest{Kind: dom.AttributeNode},
	"processing-instruction()": dom.KindTest{Kind: dom.ProcessingInstructionNode},
	"document-node()":          dom.KindTest{Kind: dom.DocumentNode},
}

// nodeTest parses an abbreviated or full step such as "a", "@id",
// "child::lib:*" or "..".
func (d *decoder) nodeTest(yn *yaml.Node, s string) (dom.Axis, dom.NodeTest, error) {
	switch s {
	case ".":
		return dom.AxisSelf, dom.AnyNode{}, nil
	case "..":
		return dom.AxisParent, dom.AnyNode{}, nil
	}
	axis := dom.AxisChild
	if rest, ok := strings.CutPrefix(s, "@"); ok {
		axis, s = dom.AxisAttribute, rest
	} else if name, rest, ok := strings.Cut(s, "::"); ok {
		a, found := dom.AxisFromName(name)
		if !found {
			return 0, nil, d.posErrorf(yn, "unknown axis %q", name)
		}
		axis, s = a, rest
	}
	if t, ok := kindTests[s]; ok {
		return axis, t, nil
	}
	kind := dom.ElementNode
	if axis == dom.AxisAttribute {
		kind = dom.AttributeNode
	}
	test := dom.NameTest{Kind: kind}
	prefix, local, qualified := strings.Cut(s, ":")
	switch {
	case s == "*":
		test.AnySpace = true
	case qualified && prefix == "*":
		test.AnySpace = true
		test.Name = types.LocalName(local)
	case qualified && local == "*":
		uri, ok := d.ns[prefix]
		if !ok {
			return 0, nil, d.posErrorf(yn, "no namespace defined for prefix %s", prefix)
		}
		test.Name = types.QName{Space: uri, Prefix: prefix}
	default:
		qn, err := d.qname(s, "")
		if err != nil {
			return 0, nil, types.Locate(err, d.pos(yn))
		}
		test.Name = qn
	}
	return axis, test, nil
}

// ── FLWOR ──────────────────────────────────────────────────────────────────

func (d *decoder) forExpr(f *fields) (expr.Expression, error) {
	v, err := d.varName(f.m["for"])
	if err != nil {
		return nil, err
	}
	in, err := d.expr(f, "in")
	if err != nil {
		return nil, err
	}
	ret, err := d.expr(f, "return")
	if err != nil {
		return nil, err
	}
	e := expr.NewFor(v, in, ret)
	if at, ok := f.m["at"]; ok {
		if e.PosVar, err = d.varName(at); err != nil {
			return nil, err
		}
	}
	if e.Type, err = d.optionalType(f); err != nil {
		return nil, err
	}
	return e, nil
}

func (d *decoder) letExpr(f *fields) (expr.Expression, error) {
	v, err := d.varName(f.m["let"])
	if err != nil {
		return nil, err
	}
	val, err := d.expr(f, "be")
	if err != nil {
		return nil, err
	}
	ret, err := d.expr(f, "return")
	if err != nil {
		return nil, err
	}
	e := expr.NewLet(v, val, ret)
	if e.Type, err = d.optionalType(f); err != nil {
		return nil, err
	}
	return e, nil
}

func (d *decoder) whereExpr(f *fields) (expr.Expression, error) {
	cond, err := d.expr(f, "where")
	if err != nil {
		return nil, err
	}
	ret, err := d.expr(f, "return")
	if err != nil {
		return nil, err
	}
	return expr.NewWhere(cond, ret), nil
}

// specs returns the entries of a clause list; a single mapping counts as a
// list of one.
func specs(yn *yaml.Node) []*yaml.Node {
	if yn.Kind == yaml.SequenceNode {
		return yn.Content
	}
	return []*yaml.Node{yn}
}

func (d *decoder) orderBy(f *fields) (expr.Expression, error) {
	var order []expr.OrderSpec
	for _, n := range specs(f.m["order-by"]) {
		if n.Kind != yaml.MappingNode || len(n.Content) == 0 || n.Content[0].Value != "by" {
			e, err := d.extract(n)
			if err != nil {
				return nil, err
			}
			order = append(order, expr.OrderSpec{Expr: e})
			continue
		}
		sf, _, err := d.fields(n)
		if err != nil {
			return nil, err
		}
		spec := expr.OrderSpec{}
		if spec.Expr, err = d.expr(sf, "by"); err != nil {
			return nil, err
		}
		if dn, ok := sf.m["descending"]; ok {
			if err := dn.Decode(&spec.Descending); err != nil {
				return nil, d.posErrorf(dn, "descending must be a boolean")
			}
		}
		if en, ok := sf.m["empty"]; ok {
			switch en.Value {
			case "greatest":
				spec.EmptyGreatest = true
			case "least":
			default:
				return nil, d.posErrorf(en, "empty must be greatest or least")
			}
		}
		if cn, ok := sf.m["collation"]; ok {
			if spec.Collation, err = d.str(cn); err != nil {
				return nil, err
			}
		}
		order = append(order, spec)
	}
	ret, err := d.expr(f, "return")
	if err != nil {
		return nil, err
	}
	return expr.NewOrderBy(ret, order...), nil
}

func (d *decoder) groupBy(f *fields) (expr.Expression, error) {
	var groups []expr.GroupSpec
	for _, n := range specs(f.m["group-by"]) {
		if n.Kind != yaml.MappingNode {
			return nil, d.posErrorf(n, "a grouping key needs var and by")
		}
		gf, _, err := d.fields(n)
		if err != nil {
			return nil, err
		}
		vn, err := d.required(gf, "var")
		if err != nil {
			return nil, err
		}
		spec := expr.GroupSpec{}
		if spec.Var, err = d.varName(vn); err != nil {
			return nil, err
		}
		if _, ok := gf.m["by"]; ok {
			if spec.Expr, err = d.expr(gf, "by"); err != nil {
				return nil, err
			}
		} else {
			spec.Expr = expr.NewVariableReference(spec.Var)
			spec.Expr.SetLocation(d.pos(vn))
		}
		if cn, ok := gf.m["collation"]; ok {
			if spec.Collation, err = d.str(cn); err != nil {
				return nil, err
			}
		}
		groups = append(groups, spec)
	}
	ret, err := d.expr(f, "return")
	if err != nil {
		return nil, err
	}
	return expr.NewGroupBy(ret, groups...), nil
}

func (d *decoder) quantified(f *fields, q expr.Quantifier) (expr.Expression, error) {
	key := "some"
	if q == expr.Every {
		key = "every"
	}
	v, err := d.varName(f.m[key])
	if err != nil {
		return nil, err
	}
	in, err := d.expr(f, "in")
	if err != nil {
		return nil, err
	}
	sat, err := d.expr(f, "satisfies")
	if err != nil {
		return nil, err
	}
	return expr.NewQuantified(q, v, in, sat), nil
}

// ── Functions ──────────────────────────────────────────────────────────────

func (d *decoder) args(f *fields) ([]expr.Expression, error) {
	n, ok := f.m["args"]
	if !ok {
		return nil, nil
	}
	return d.list(n)
}

func (d *decoder) call(f *fields) (expr.Expression, error) {
	name, err := d.qnameOf(f.m["call"], types.FunctionsNS)
	if err != nil {
		return nil, err
	}
	args, err := d.args(f)
	if err != nil {
		return nil, err
	}
	return expr.NewFunctionCall(name, args...), nil
}

func (d *decoder) functionRef(yn *yaml.Node) (expr.Expression, error) {
	s, err := d.str(yn)
	if err != nil {
		return nil, err
	}
	lexical, ar, ok := strings.Cut(s, "#")
	if !ok {
		return nil, d.posErrorf(yn, "function reference %q has no arity", s)
	}
	arity, err := strconv.Atoi(ar)
	if err != nil || arity < 0 {
		return nil, d.posErrorf(yn, "invalid arity in %q", s)
	}
	name, err := d.qname(lexical, types.FunctionsNS)
	if err != nil {
		return nil, types.Locate(err, d.pos(yn))
	}
	return expr.NewNamedFunctionRef(name, arity), nil
}

func (d *decoder) params(yn *yaml.Node) ([]expr.Param, error) {
	if yn == nil || yn.Kind == 0 || yn.ShortTag() == nullTag {
		return nil, nil
	}
	var out []expr.Param
	for _, n := range specs(yn) {
		var (
			p   expr.Param
			err error
		)
		switch n.Kind {
		case yaml.ScalarNode:
			p.Name, err = d.varName(n)
		case yaml.MappingNode:
			p, err = d.param(n)
		default:
			err = d.posErrorf(n, "invalid parameter")
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *decoder) param(yn *yaml.Node) (expr.Param, error) {
	var p expr.Param
	f, _, err := d.fields(yn)
	if err != nil {
		return p, err
	}
	nn, err := d.required(f, "name")
	if err != nil {
		return p, err
	}
	if p.Name, err = d.varName(nn); err != nil {
		return p, err
	}
	p.Type, err = d.optionalType(f)
	return p, err
}

func (d *decoder) inlineFunction(f *fields) (expr.Expression, error) {
	params, err := d.params(f.m["function"])
	if err != nil {
		return nil, err
	}
	ret, err := d.optionalType(f)
	if err != nil {
		return nil, err
	}
	body, err := d.expr(f, "body")
	if err != nil {
		return nil, err
	}
	return expr.NewInlineFunction(params, ret, body), nil
}

func (d *decoder) dynamicCall(f *fields) (expr.Expression, error) {
	fn, err := d.expr(f, "dynamic-call")
	if err != nil {
		return nil, err
	}
	args, err := d.args(f)
	if err != nil {
		return nil, err
	}
	return expr.NewDynamicFunctionCall(fn, args...), nil
}

// ── Try/catch ──────────────────────────────────────────────────────────────

func (d *decoder) tryCatch(f *fields) (expr.Expression, error) {
	try, err := d.expr(f, "try")
	if err != nil {
		return nil, err
	}
	cn, err := d.required(f, "catch")
	if err != nil {
		return nil, err
	}
	var catches []expr.CatchClause
	for _, n := range specs(cn) {
		if n.Kind != yaml.MappingNode {
			return nil, d.posErrorf(n, "a catch clause needs codes and return")
		}
		cf, _, err := d.fields(n)
		if err != nil {
			return nil, err
		}
		var clause expr.CatchClause
		if codes, ok := cf.m["codes"]; ok {
			for _, c := range specs(codes) {
				code, err := d.errorCode(c)
				if err != nil {
					return nil, err
				}
				clause.Codes = append(clause.Codes, code)
			}
		} else {
			clause.Codes = []types.QName{expr.AnyError}
		}
		if clause.Expr, err = d.expr(cf, "return"); err != nil {
			return nil, err
		}
		catches = append(catches, clause)
	}
	return expr.NewTryCatch(try, catches...), nil
}

// errorCode parses a name test over error codes: "*", "*:local",
// "prefix:*" or a QName in the err namespace by default.
func (d *decoder) errorCode(yn *yaml.Node) (types.QName, error) {
	s, err := d.str(yn)
	if err != nil {
		return types.QName{}, err
	}
	if s == "*" {
		return expr.AnyError, nil
	}
	prefix, local, qualified := strings.Cut(s, ":")
	switch {
	case qualified && prefix == "*":
		return types.QName{Space: "*", Local: local}, nil
	case qualified && local == "*":
		uri, ok := d.ns[prefix]
		if !ok {
			return types.QName{}, d.posErrorf(yn, "no namespace defined for prefix %s", prefix)
		}
		return types.QName{Space: uri, Local: "*", Prefix: prefix}, nil
	}
	qn, err := d.qname(s, types.ErrorNS)
	if err != nil {
		return types.QName{}, types.Locate(err, d.pos(yn))
	}
	return qn, nil
}
