// Package functions defines the contract between the evaluation core and a
// function library: signatures, definitions, a registry ordered by function
// identity, and the permission hook consulted before privileged calls.
//
// Function bodies live in sub-packages such as [fn] and [wasmfn]; the core
// only dispatches.
//
// # Example
//
//	reg := functions.NewRegistry()
//	err := reg.Register(&functions.Definition{
//	    Signature: functions.Signature{
//	        Name:   types.NewQName("urn:demo", "greet", "demo"),
//	        Args:   []types.SequenceType{types.NewSequenceType(types.String, types.ExactlyOne)},
//	        Return: types.NewSequenceType(types.String, types.ExactlyOne),
//	    },
//	    Fn: func(ctx context.Context, fc functions.Context, args []value.Sequence) (value.Sequence, error) {
//	        return value.One(value.NewString("Hello, " + value.Render(args[0]))), nil
//	    },
//	})
package functions

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// Variadic is the arity of a function accepting any number of arguments.
const Variadic = -1

// Context is the part of the dynamic context a function body may use.
type Context interface {
	// ContextItem returns the focus item, or nil if it is absent.
	ContextItem() value.Item
	// Position and Size describe the focus; both are 0 when it is absent.
	Position() int
	Size() int
	Store() *dom.Store
	// StaticDocuments returns the statically known documents.
	StaticDocuments() *dom.DocumentSet
	Logger() *slog.Logger
	DefaultCollator() value.Collator
	Collator(uri string) (value.Collator, error)
	// Call invokes a function item with the given arguments.
	Call(ctx context.Context, fn value.Item, args []value.Sequence) (value.Sequence, error)
}

// Func is the body of a function.
type Func func(ctx context.Context, fc Context, args []value.Sequence) (value.Sequence, error)

// Signature describes a function's identity and static types.
type Signature struct {
	Name types.QName
	Args []types.SequenceType
	// Variadic repeats the last argument type for any further arguments.
	Variadic    bool
	Return      types.SequenceType
	Description string
	// Privileged functions are checked with the PermissionChecker before
	// every call.
	Privileged bool
	// Deps are the context dependencies of the function body, e.g.
	// ContextPosition for fn:position.
	Deps types.Dependency
}

// Arity returns the number of arguments, or Variadic.
func (s Signature) Arity() int {
	if s.Variadic {
		return Variadic
	}
	return len(s.Args)
}

// ArgType returns the declared type of the i-th argument.
func (s Signature) ArgType(i int) types.SequenceType {
	if i < len(s.Args) {
		return s.Args[i]
	}
	if s.Variadic && len(s.Args) > 0 {
		return s.Args[len(s.Args)-1]
	}
	return types.AnySequence
}

// Accepts reports whether the function can be called with n arguments.
func (s Signature) Accepts(n int) bool {
	if s.Variadic {
		return n >= len(s.Args)
	}
	return n == len(s.Args)
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Name.String())
	b.WriteByte('(')
	for i, a := range s.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$arg")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(" as ")
		b.WriteString(a.String())
	}
	if s.Variadic {
		b.WriteString(", ...")
	}
	b.WriteString(") as ")
	b.WriteString(s.Return.String())
	return b.String()
}

// CompareIdentity orders functions by name, then arity. Variadic matches
// any arity.
func CompareIdentity(name types.QName, arity int, otherName types.QName, otherArity int) int {
	if c := name.Compare(otherName); c != 0 {
		return c
	}
	if arity == Variadic || otherArity == Variadic {
		return 0
	}
	return cmp.Compare(arity, otherArity)
}

// Definition binds a signature to its body.
type Definition struct {
	Signature
	Fn Func
}

// PermissionChecker is consulted before a privileged function is called.
// A non-nil error is reported to the query as a recoverable permission
// error.
type PermissionChecker func(ctx context.Context, def *Definition) error

// Registry holds function definitions ordered by identity. It is built
// once at startup and shared read-only by evaluations.
type Registry struct {
	mu   sync.RWMutex
	defs []*Definition
}

// NewRegistry creates a registry holding defs. It panics on duplicate
// definitions; use Register to handle them.
func NewRegistry(defs ...*Definition) *Registry {
	r := &Registry{}
	if err := r.Register(defs...); err != nil {
		panic(err)
	}
	return r
}

func compareDefs(a, b *Definition) int {
	if c := a.Name.Compare(b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Arity(), b.Arity())
}

// Register adds definitions. A definition with the same name and arity as
// an existing one is rejected.
func (r *Registry) Register(defs ...*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range defs {
		i, found := slices.BinarySearchFunc(r.defs, d, compareDefs)
		if found {
			return types.Errorf(types.ErrInternal, "function %s#%d is already registered", d.Name, d.Arity())
		}
		r.defs = slices.Insert(r.defs, i, d)
	}
	return nil
}

// Lookup returns the definition for name called with arity arguments. An
// exact arity match wins over a variadic definition.
func (r *Registry) Lookup(name types.QName, arity int) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start, _ := slices.BinarySearchFunc(r.defs, name, func(d *Definition, n types.QName) int {
		return d.Name.Compare(n)
	})
	var variadic *Definition
	for i := start; i < len(r.defs) && r.defs[i].Name.Equals(name); i++ {
		d := r.defs[i]
		if !d.Variadic && len(d.Args) == arity {
			return d, true
		}
		if d.Accepts(arity) && variadic == nil {
			variadic = d
		}
	}
	return variadic, variadic != nil
}

// IsDeclared reports whether any function called name exists.
func (r *Registry) IsDeclared(name types.QName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := slices.BinarySearchFunc(r.defs, name, func(d *Definition, n types.QName) int {
		return d.Name.Compare(n)
	})
	return found
}

// Definitions returns all definitions in identity order.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.defs)
}
