package expr

import (
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// VariableDeclaration is a global "declare variable" in the prolog. An
// external declaration takes its value from Context.SetExternalVariable
// and falls back to Value, which may be nil.
type VariableDeclaration struct {
	Name     types.QName
	Type     *types.SequenceType
	Value    Expression
	External bool
	Location types.Location
}

// Option is a "declare option name 'value'" in the prolog.
type Option struct {
	Name  types.QName
	Value string
}

// Module is a main module: the prolog declarations and the query body.
type Module struct {
	Base
	Options   []Option
	Variables []*VariableDeclaration
	Functions []*UserDefinedFunction
	Body      Expression
}

// NewModule creates a main module around body.
func NewModule(body Expression) *Module {
	return &Module{Body: body}
}

// DeclareOption adds a prolog option.
func (m *Module) DeclareOption(name types.QName, val string) {
	m.Options = append(m.Options, Option{Name: name, Value: val})
}

// DeclareVariable adds a global variable declaration.
func (m *Module) DeclareVariable(v *VariableDeclaration) { m.Variables = append(m.Variables, v) }

// DeclareFunction adds a function declaration.
func (m *Module) DeclareFunction(f *UserDefinedFunction) { m.Functions = append(m.Functions, f) }

func (m *Module) Analyze(info *AnalyzeInfo) error {
	m.init(info)
	xc := info.xc
	for _, o := range m.Options {
		xc.SetOption(o.Name, o.Value)
	}
	for _, f := range m.Functions {
		if g, ok := xc.ResolveFunction(f.Name, f.Arity()); ok && g == f {
			continue
		}
		if err := xc.DeclareFunction(f); err != nil {
			return err
		}
	}
	for _, v := range m.Variables {
		if v.Value != nil {
			if err := v.Value.Analyze(info.child(m)); err != nil {
				return err
			}
		}
		gv := xc.DeclareGlobalVariable(v.Name, v.Type, nil)
		if v.Type == nil && v.Value != nil {
			gv.staticType, gv.staticCard = v.Value.ReturnsType(), v.Value.Cardinality()
		}
	}
	for _, f := range m.Functions {
		if err := f.analyze(info); err != nil {
			return err
		}
	}
	return m.Body.Analyze(info.child(m))
}

// Eval binds the global variables in declaration order, then evaluates
// the body.
func (m *Module) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	for _, v := range m.Variables {
		val, err := m.bind(xc, v, seq, item)
		if err != nil {
			return nil, err
		}
		xc.DeclareGlobalVariable(v.Name, v.Type, val)
	}
	return Eval(xc, m.Body, seq, item)
}

func (m *Module) bind(xc *Context, v *VariableDeclaration, seq value.Sequence, item value.Item) (value.Sequence, error) {
	var (
		val value.Sequence
		ok  bool
	)
	if v.External {
		val, ok = xc.external[expanded(v.Name)]
	}
	if !ok {
		if v.Value == nil {
			return nil, types.NewError(types.ErrContextAbsent, "no value supplied for external variable $"+v.Name.String()).
				At(v.Location)
		}
		var err error
		if val, err = Eval(xc, v.Value, seq, item); err != nil {
			return nil, err
		}
	}
	if v.Type == nil {
		return val, nil
	}
	return coerce(val, *v.Type, "variable $"+v.Name.String(), v.Location)
}

func (m *Module) ReturnsType() types.Type        { return m.Body.ReturnsType() }
func (m *Module) Cardinality() types.Cardinality { return m.Body.Cardinality() }
func (m *Module) Dependencies() types.Dependency { return m.Body.Dependencies() }

func (m *Module) ResetState(full bool) {
	for _, v := range m.Variables {
		if v.Value != nil {
			v.Value.ResetState(full)
		}
	}
	for _, f := range m.Functions {
		if !f.analyzing {
			f.analyzing = true
			f.resetState(full)
			f.analyzing = false
		}
	}
	m.Body.ResetState(full)
}

func (m *Module) Children() []Expression {
	out := make([]Expression, 0, len(m.Variables)+len(m.Functions)+1)
	for _, v := range m.Variables {
		if v.Value != nil {
			out = append(out, v.Value)
		}
	}
	for _, f := range m.Functions {
		out = append(out, f.Body)
	}
	return append(out, m.Body)
}

func (m *Module) Dump(d *Dumper) {
	for _, o := range m.Options {
		d.Displayf("declare option %s %q;", o.Name, o.Value).Nl()
	}
	for _, v := range m.Variables {
		d.Display("declare variable $" + v.Name.String())
		if v.Type != nil {
			d.Display(" as " + v.Type.String())
		}
		switch {
		case v.External && v.Value != nil:
			d.Display(" external := ").Expr(v.Value)
		case v.External:
			d.Display(" external")
		default:
			d.Display(" := ").Expr(v.Value)
		}
		d.Display(";").Nl()
	}
	for _, f := range m.Functions {
		f.dump(d)
		d.Display(";").Nl()
	}
	d.Expr(m.Body)
}
