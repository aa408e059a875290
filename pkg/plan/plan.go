// Package plan decodes query plans: YAML documents describing an already
// parsed main module.
//
// A plan has a prolog and a query body:
//
//	namespaces:
//	  lib: urn:lib
//	options:
//	  exist:timeout: "2000"
//	documents: [/db/library.xml]
//	variables:
//	  - {name: limit, as: xs:integer, external: true}
//	functions:
//	  - name: local:square
//	    params: [{name: n, as: xs:integer}]
//	    as: xs:integer
//	    body: {"*": [{var: n}, {var: n}]}
//	query:
//	  for: i
//	  in: {to: [1, {var: limit}]}
//	  return: {call: local:square, args: [{var: i}]}
//
// Scalars are literals: integers are xs:integer, floats are xs:decimal
// unless they carry an exponent, booleans are xs:boolean, strings are
// xs:string and null is the empty sequence. A YAML sequence is a sequence
// constructor. A mapping is an expression whose first key names its kind;
// see [Decode] for the full list.
package plan

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/expr"
	"github.com/eXist-db/exist-sub013/pkg/types"
)

// Plan is a decoded query plan.
type Plan struct {
	// Module is the main module, ready to be compiled.
	Module *expr.Module
	// Namespaces are the prefixes declared by the plan.
	Namespaces map[string]string
	// Documents lists the URIs of the statically known documents. Empty
	// means every stored document.
	Documents []string
}

// ContextOptions returns the options that make the plan's namespaces
// known to the static context.
func (p *Plan) ContextOptions() []expr.ContextOption {
	opts := make([]expr.ContextOption, 0, len(p.Namespaces))
	for prefix, uri := range p.Namespaces {
		opts = append(opts, expr.WithNamespace(prefix, uri))
	}
	return opts
}

// Resolve returns the context options of the plan with its documents
// looked up in s. A plan without documents leaves the static documents to
// the context default.
func (p *Plan) Resolve(s *dom.Store) ([]expr.ContextOption, error) {
	opts := p.ContextOptions()
	if len(p.Documents) == 0 {
		return opts, nil
	}
	if s == nil {
		return nil, types.NewError(types.ErrRetrieveResource, "plan lists documents but no store is configured")
	}
	docs := make([]*dom.Document, 0, len(p.Documents))
	for _, uri := range p.Documents {
		doc, ok := s.Document(uri)
		if !ok {
			return nil, types.NewError(types.ErrRetrieveResource, "document "+uri+" is not loaded")
		}
		docs = append(docs, doc)
	}
	return append(opts, expr.WithStaticDocuments(dom.NewDocumentSet(docs...))), nil
}

type rawPlan struct {
	Namespaces map[string]string `yaml:"namespaces"`
	Options    map[string]string `yaml:"options"`
	Documents  []string          `yaml:"documents"`
	Variables  []rawVariable     `yaml:"variables"`
	Functions  []rawFunction     `yaml:"functions"`
	Query      yaml.Node         `yaml:"query"`
}

type rawVariable struct {
	Name     string    `yaml:"name"`
	As       string    `yaml:"as"`
	External bool      `yaml:"external"`
	Value    yaml.Node `yaml:"value"`
}

type rawFunction struct {
	Name   string    `yaml:"name"`
	Params yaml.Node `yaml:"params"`
	As     string    `yaml:"as"`
	Body   yaml.Node `yaml:"body"`
}

// DecodeFile reads a plan from a file.
func DecodeFile(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("can't open plan: %w", err)
	}
	defer f.Close()
	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a plan held in memory.
func Parse(data []byte) (*Plan, error) {
	var raw rawPlan
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, types.NewStaticError(types.ErrGrammar, "invalid plan: "+err.Error()).WithCause(err)
	}
	return build(&raw)
}

// Decode reads one plan from r.
//
// Expression kinds, by first mapping key:
//
//	var, context, root, to, path, filter
//	+ - * div idiv mod, neg
//	eq ne lt le gt ge, = != < <= > >=, is << >>
//	and or, union | intersect except
//	if/then/else
//	for/at/as/in/return, let/as/be/return, where/return,
//	order-by/return, group-by/return, some|every/in/satisfies
//	call/args, function-ref, function/as/body, dynamic-call/args
//	try/catch
//	cast, castable, instance-of, treat (all with "as")
//	element/content, attribute/value, text, comment
//	pragma/in
//	string
func Decode(r io.Reader) (*Plan, error) {
	var raw rawPlan
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, types.NewStaticError(types.ErrGrammar, "invalid plan: "+err.Error()).WithCause(err)
	}
	return build(&raw)
}

func build(raw *rawPlan) (*Plan, error) {
	d := newDecoder(raw.Namespaces)
	if raw.Query.Kind == 0 {
		return nil, types.NewStaticError(types.ErrGrammar, "plan has no query")
	}
	body, err := d.extract(&raw.Query)
	if err != nil {
		return nil, err
	}
	m := expr.NewModule(body)
	m.SetLocation(body.Location())

	for name, v := range raw.Options {
		qn, err := d.qname(name, "")
		if err != nil {
			return nil, err
		}
		m.DeclareOption(qn, v)
	}
	for _, rv := range raw.Variables {
		v, err := d.variable(rv)
		if err != nil {
			return nil, err
		}
		m.DeclareVariable(v)
	}
	for _, rf := range raw.Functions {
		f, err := d.function(rf)
		if err != nil {
			return nil, err
		}
		m.DeclareFunction(f)
	}
	return &Plan{Module: m, Namespaces: raw.Namespaces, Documents: raw.Documents}, nil
}

func (d *decoder) variable(rv rawVariable) (*expr.VariableDeclaration, error) {
	name, err := d.qname(rv.Name, "")
	if err != nil {
		return nil, err
	}
	v := &expr.VariableDeclaration{Name: name, External: rv.External}
	if rv.As != "" {
		st, err := d.sequenceType(&rv.Value, rv.As)
		if err != nil {
			return nil, err
		}
		v.Type = &st
	}
	if rv.Value.Kind != 0 {
		if v.Value, err = d.extract(&rv.Value); err != nil {
			return nil, err
		}
		v.Location = v.Value.Location()
	}
	if v.Value == nil && !v.External {
		return nil, types.NewStaticError(types.ErrGrammar, "variable $"+rv.Name+" needs a value or external: true")
	}
	return v, nil
}

func (d *decoder) function(rf rawFunction) (*expr.UserDefinedFunction, error) {
	name, err := d.qname(rf.Name, types.LocalNS)
	if err != nil {
		return nil, err
	}
	params, err := d.params(&rf.Params)
	if err != nil {
		return nil, err
	}
	var ret *types.SequenceType
	if rf.As != "" {
		st, err := d.sequenceType(&rf.Body, rf.As)
		if err != nil {
			return nil, err
		}
		ret = &st
	}
	if rf.Body.Kind == 0 {
		return nil, types.NewStaticError(types.ErrGrammar, "function "+rf.Name+" has no body")
	}
	body, err := d.extract(&rf.Body)
	if err != nil {
		return nil, err
	}
	f := expr.NewUserDefinedFunction(name, params, ret, body)
	f.SetLocation(body.Location())
	return f, nil
}
