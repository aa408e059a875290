// Package fn implements a core subset of the XPath and XQuery function
// library in the fn namespace.
package fn

import (
	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// Common argument and return types.
var (
	anyItem     = types.NewSequenceType(types.Item, types.ExactlyOne)
	optItem     = types.NewSequenceType(types.Item, types.ZeroOrOne)
	optNode     = types.NewSequenceType(types.Node, types.ZeroOrOne)
	node        = types.NewSequenceType(types.Node, types.ExactlyOne)
	oneOrMore   = types.NewSequenceType(types.Item, types.OneOrMore)
	atomics     = types.NewSequenceType(types.AnyAtomic, types.ZeroOrMore)
	optAtomic   = types.NewSequenceType(types.AnyAtomic, types.ZeroOrOne)
	str         = types.NewSequenceType(types.String, types.ExactlyOne)
	optString   = types.NewSequenceType(types.String, types.ZeroOrOne)
	boolean     = types.NewSequenceType(types.Boolean, types.ExactlyOne)
	integer     = types.NewSequenceType(types.Integer, types.ExactlyOne)
	optQName    = types.NewSequenceType(types.QNameType, types.ZeroOrOne)
	document    = types.NewSequenceType(types.Document, types.ZeroOrOne)
	optNumeric  = types.NewSequenceType(types.Numeric, types.ZeroOrOne)
	none        = types.NewSequenceType(types.EmptyType, types.EmptySequence)
	anySequence = types.AnySequence
)

// Name returns the name of a function in the fn namespace.
func Name(local string) types.QName {
	return types.NewQName(types.FunctionsNS, local, "fn")
}

type builder struct {
	defs []*functions.Definition
}

func (b *builder) add(local string, ret types.SequenceType, deps types.Dependency, f functions.Func, args ...types.SequenceType) *functions.Definition {
	d := &functions.Definition{
		Signature: functions.Signature{
			Name:   Name(local),
			Args:   args,
			Return: ret,
			Deps:   deps,
		},
		Fn: f,
	}
	b.defs = append(b.defs, d)
	return d
}

// Library returns fresh definitions of the catalog.
func Library() []*functions.Definition {
	var b builder

	b.add("true", boolean, types.NoDependency, constant(true))
	b.add("false", boolean, types.NoDependency, constant(false))
	b.add("not", boolean, types.NoDependency, fnNot, anySequence)
	b.add("boolean", boolean, types.NoDependency, fnBoolean, anySequence)

	b.add("count", integer, types.NoDependency, fnCount, anySequence)
	b.add("empty", boolean, types.NoDependency, fnEmpty, anySequence)
	b.add("exists", boolean, types.NoDependency, fnExists, anySequence)
	b.add("data", atomics, types.NoDependency, fnData, anySequence)
	b.add("sum", optNumeric, types.NoDependency, fnSum, atomics)
	b.add("sum", optAtomic, types.NoDependency, fnSum, atomics, optAtomic)
	b.add("zero-or-one", optItem, types.NoDependency, fnZeroOrOne, anySequence)
	b.add("one-or-more", oneOrMore, types.NoDependency, fnOneOrMore, anySequence)
	b.add("exactly-one", anyItem, types.NoDependency, fnExactlyOne, anySequence)

	b.add("position", integer, types.ContextPosition, fnPosition)
	b.add("last", integer, types.ContextPosition, fnLast)

	b.add("string", str, types.ContextItem, fnString)
	b.add("string", str, types.NoDependency, fnString, optItem)
	b.add("string-length", integer, types.ContextItem, fnStringLength)
	b.add("string-length", integer, types.NoDependency, fnStringLength, optString)
	b.add("upper-case", str, types.NoDependency, fnUpperCase, optString)
	b.add("lower-case", str, types.NoDependency, fnLowerCase, optString)
	concat := b.add("concat", str, types.NoDependency, fnConcat, optAtomic, optAtomic)
	concat.Variadic = true

	b.add("name", str, types.ContextItem, fnName)
	b.add("name", str, types.NoDependency, fnName, optNode)
	b.add("local-name", str, types.ContextItem, fnLocalName)
	b.add("local-name", str, types.NoDependency, fnLocalName, optNode)
	b.add("root", node, types.ContextItem, fnRoot)
	b.add("root", optNode, types.NoDependency, fnRoot, optNode)
	b.add("doc", document, types.NoDependency, fnDoc, optString)

	b.add("error", none, types.NoDependency, fnError)
	b.add("error", none, types.NoDependency, fnError, optQName)
	b.add("error", none, types.NoDependency, fnError, optQName, str)
	b.add("error", none, types.NoDependency, fnError, optQName, str, anySequence)

	for _, d := range b.defs {
		d.Description = "fn:" + d.Name.Local
	}
	return b.defs
}

// NewRegistry returns a registry holding the catalog.
func NewRegistry() *functions.Registry {
	return functions.NewRegistry(Library()...)
}

func bool1(b bool) value.Sequence { return value.One(value.BooleanValue(b)) }

func str1(s string) value.Sequence { return value.One(value.NewString(s)) }
