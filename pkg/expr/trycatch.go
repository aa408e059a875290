package expr

import (
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// AnyError matches every error code in a catch clause.
var AnyError = types.QName{Space: "*", Local: "*"}

// Variables bound while a catch clause is evaluated.
var (
	ErrCodeVar        = types.NewQName(types.ErrorNS, "code", "err")
	ErrDescriptionVar = types.NewQName(types.ErrorNS, "description", "err")
	ErrValueVar       = types.NewQName(types.ErrorNS, "value", "err")
	ErrModuleVar      = types.NewQName(types.ErrorNS, "module", "err")
	ErrLineVar        = types.NewQName(types.ErrorNS, "line-number", "err")
	ErrColumnVar      = types.NewQName(types.ErrorNS, "column-number", "err")
	ErrAdditionalVar  = types.NewQName(types.ErrorNS, "additional", "err")
)

// CatchClause handles the errors whose code matches one of Codes. A code
// with "*" as namespace or local name is a wildcard for that part.
type CatchClause struct {
	Codes []types.QName
	Expr  Expression
}

func (c CatchClause) matches(code types.QName) bool {
	for _, p := range c.Codes {
		if (p.Space == "*" || p.Space == code.Space) && (p.Local == "*" || p.Local == code.Local) {
			return true
		}
	}
	return false
}

// TryCatchExpression evaluates Try and, if it fails with a recoverable
// error, the first matching catch clause. Termination by the watchdog is
// never caught.
type TryCatchExpression struct {
	Base
	Try     Expression
	Catches []CatchClause
}

// NewTryCatch creates a try/catch expression.
func NewTryCatch(try Expression, catches ...CatchClause) *TryCatchExpression {
	return &TryCatchExpression{Try: try, Catches: catches}
}

func (e *TryCatchExpression) Analyze(info *AnalyzeInfo) error {
	e.init(info)
	if err := e.Try.Analyze(info.child(e)); err != nil {
		return err
	}
	for _, c := range e.Catches {
		err := scoped(info.xc, func() error {
			declareErrorVariables(info.xc, nil)
			return c.Expr.Analyze(info.child(e))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *TryCatchExpression) Eval(xc *Context, seq value.Sequence, item value.Item) (value.Sequence, error) {
	res, err := Eval(xc, e.Try, seq, item)
	if err == nil {
		return res, nil
	}
	xe, ok := types.AsError(err)
	if !ok {
		xe = types.NewError(types.ErrUnidentified, err.Error()).WithCause(err)
	}
	if !xe.IsRecoverable() {
		return nil, err
	}
	code := xe.QName()
	for _, c := range e.Catches {
		if !c.matches(code) {
			continue
		}
		xc.logger.Debug("caught error", "code", code.String(), "location", xe.Location)
		err = scoped(xc, func() error {
			declareErrorVariables(xc, xe)
			res, err = Eval(xc, c.Expr, seq, item)
			return err
		})
		return res, err
	}
	return nil, err
}

// declareErrorVariables binds the err:* variables for xe. With a nil error
// only the static declarations are made.
func declareErrorVariables(xc *Context, xe *types.Error) {
	decl := func(name types.QName, t types.Type, c types.Cardinality, seq value.Sequence) {
		v := xc.DeclareVariable(name, nil, seq)
		v.staticType, v.staticCard = t, c
	}
	if xe == nil {
		decl(ErrCodeVar, types.QNameType, types.ExactlyOne, nil)
		decl(ErrDescriptionVar, types.String, types.ZeroOrOne, nil)
		decl(ErrValueVar, types.Item, types.ZeroOrMore, nil)
		decl(ErrModuleVar, types.String, types.ZeroOrOne, nil)
		decl(ErrLineVar, types.Integer, types.ZeroOrOne, nil)
		decl(ErrColumnVar, types.Integer, types.ZeroOrOne, nil)
		decl(ErrAdditionalVar, types.Item, types.ZeroOrMore, nil)
		return
	}
	optInt := func(n int) value.Sequence {
		if n <= 0 {
			return value.Empty
		}
		return value.One(value.IntegerValue(n))
	}
	errValue := value.Empty
	switch v := xe.Object.(type) {
	case value.Sequence:
		errValue = v
	case nil:
		if xe.Value != "" {
			errValue = value.One(value.NewString(xe.Value))
		}
	}
	decl(ErrCodeVar, types.QNameType, types.ExactlyOne, value.One(value.NewQNameValue(xe.QName())))
	decl(ErrDescriptionVar, types.String, types.ZeroOrOne, value.One(value.NewString(xe.Message)))
	decl(ErrValueVar, types.Item, types.ZeroOrMore, errValue)
	decl(ErrModuleVar, types.String, types.ZeroOrOne, value.Empty)
	decl(ErrLineVar, types.Integer, types.ZeroOrOne, optInt(xe.Location.Line))
	decl(ErrColumnVar, types.Integer, types.ZeroOrOne, optInt(xe.Location.Column))
	decl(ErrAdditionalVar, types.Item, types.ZeroOrMore, value.Empty)
}

func (e *TryCatchExpression) ReturnsType() types.Type {
	t := e.Try.ReturnsType()
	for _, c := range e.Catches {
		t = types.CommonSuperType(t, c.Expr.ReturnsType())
	}
	return t
}

func (e *TryCatchExpression) Cardinality() types.Cardinality {
	c := e.Try.Cardinality()
	for _, cc := range e.Catches {
		c = c.Union(cc.Expr.Cardinality())
	}
	return c
}

func (e *TryCatchExpression) Dependencies() types.Dependency { return depsOf(e.Children()...) }
func (e *TryCatchExpression) ResetState(full bool)           { resetAll(full, e.Children()...) }

func (e *TryCatchExpression) Children() []Expression {
	out := []Expression{e.Try}
	for _, c := range e.Catches {
		out = append(out, c.Expr)
	}
	return out
}

func (e *TryCatchExpression) Dump(d *Dumper) {
	d.Display("try {").StartIndent().Expr(e.Try).EndIndent().Display("}")
	for _, c := range e.Catches {
		d.Display(" catch ")
		for i, code := range c.Codes {
			if i > 0 {
				d.Display(" | ")
			}
			if code == AnyError {
				d.Display("*")
			} else {
				d.Display(code.String())
			}
		}
		d.Display(" {").StartIndent().Expr(c.Expr).EndIndent().Display("}")
	}
}
