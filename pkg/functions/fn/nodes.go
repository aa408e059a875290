package fn

import (
	"context"

	"github.com/eXist-db/exist-sub013/pkg/dom"
	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// nodeArg returns the node given as argument or as context item. ok is
// false for the empty sequence.
func nodeArg(fc functions.Context, name string, args []value.Sequence) (p dom.NodeProxy, ok bool, err error) {
	seq, err := contextOrArg(fc, name, args)
	if err != nil || seq.IsEmpty() {
		return p, false, err
	}
	it := seq.ItemAt(0)
	p, ok = it.(dom.NodeProxy)
	if !ok {
		return p, false, types.Errorf(types.ErrType, "fn:%s expects a node, got %s", name, it.Type()).
			WithValue(value.RenderItem(it))
	}
	return p, true, nil
}

func fnName(_ context.Context, fc functions.Context, args []value.Sequence) (value.Sequence, error) {
	p, ok, err := nodeArg(fc, "name", args)
	if err != nil || !ok {
		return str1(""), err
	}
	n := p.NodeName()
	if n.IsZero() {
		return str1(""), nil
	}
	return str1(n.String()), nil
}

func fnLocalName(_ context.Context, fc functions.Context, args []value.Sequence) (value.Sequence, error) {
	p, ok, err := nodeArg(fc, "local-name", args)
	if err != nil || !ok {
		return str1(""), err
	}
	return str1(p.NodeName().Local), nil
}

func fnRoot(_ context.Context, fc functions.Context, args []value.Sequence) (value.Sequence, error) {
	p, ok, err := nodeArg(fc, "root", args)
	if err != nil || !ok {
		return value.Empty, err
	}
	if p.Doc.Temporary {
		return value.One(p.Doc.Root()), nil
	}
	return dom.NewNodeSet(p.Doc.Root()), nil
}

// fnDoc looks the URI up in the store, then among the statically known
// documents.
func fnDoc(_ context.Context, fc functions.Context, args []value.Sequence) (value.Sequence, error) {
	uri, err := stringArg(args[0])
	if err != nil || args[0].IsEmpty() {
		return value.Empty, err
	}
	if s := fc.Store(); s != nil {
		if doc, ok := s.Document(uri); ok {
			return dom.NewNodeSet(doc.Root()), nil
		}
	}
	for _, doc := range fc.StaticDocuments().Documents() {
		if doc.URI == uri {
			return dom.NewNodeSet(doc.Root()), nil
		}
	}
	return nil, types.NewError(types.ErrRetrieveResource, "document "+uri+" is not available")
}
