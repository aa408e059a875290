package fn

import (
	"context"

	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

func constant(b bool) functions.Func {
	return func(context.Context, functions.Context, []value.Sequence) (value.Sequence, error) {
		return bool1(b), nil
	}
}

func fnNot(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	b, err := value.EffectiveBooleanValue(args[0])
	if err != nil {
		return nil, err
	}
	return bool1(!b), nil
}

func fnBoolean(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	b, err := value.EffectiveBooleanValue(args[0])
	if err != nil {
		return nil, err
	}
	return bool1(b), nil
}

func fnCount(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	return value.One(value.IntegerValue(args[0].ItemCount())), nil
}

func fnEmpty(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	return bool1(args[0].IsEmpty()), nil
}

func fnExists(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	return bool1(!args[0].IsEmpty()), nil
}

func fnData(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	return value.Atomize(args[0])
}

// fnSum adds the values in order. Untyped values are cast to xs:double.
// The empty sequence sums to the zero argument, 0 by default.
func fnSum(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	seq := args[0]
	if seq.IsEmpty() {
		if len(args) > 1 {
			return args[1], nil
		}
		return value.One(value.IntegerValue(0)), nil
	}
	var total value.NumericValue
	for i := 0; i < seq.ItemCount(); i++ {
		av, err := seq.ItemAt(i).Atomize()
		if err != nil {
			return nil, err
		}
		if av.Type() == types.UntypedAtomic {
			if av, err = value.Cast(av, types.Double); err != nil {
				return nil, err
			}
		}
		n, ok := av.(value.NumericValue)
		if !ok {
			return nil, types.Errorf(types.ErrInvalidArgumentType, "fn:sum cannot add a value of type %s", av.Type()).
				WithValue(value.RenderItem(av))
		}
		if total == nil {
			total = n
			continue
		}
		if total, err = value.Arithmetic(value.DecimalContext, value.OpPlus, total, n); err != nil {
			return nil, err
		}
	}
	return value.One(total), nil
}

func fnZeroOrOne(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	if args[0].HasMany() {
		return nil, types.Errorf(types.ErrZeroOrOne, "fn:zero-or-one called with a sequence of %d items", args[0].ItemCount())
	}
	return args[0], nil
}

func fnOneOrMore(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	if args[0].IsEmpty() {
		return nil, types.NewError(types.ErrOneOrMore, "fn:one-or-more called with an empty sequence")
	}
	return args[0], nil
}

func fnExactlyOne(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	if !args[0].HasOne() {
		return nil, types.Errorf(types.ErrExactlyOne, "fn:exactly-one called with a sequence of %d items", args[0].ItemCount())
	}
	return args[0], nil
}

func fnPosition(_ context.Context, fc functions.Context, _ []value.Sequence) (value.Sequence, error) {
	if fc.ContextItem() == nil {
		return nil, types.NewError(types.ErrContextAbsent, "fn:position: the context item is absent")
	}
	return value.One(value.IntegerValue(fc.Position())), nil
}

func fnLast(_ context.Context, fc functions.Context, _ []value.Sequence) (value.Sequence, error) {
	if fc.ContextItem() == nil {
		return nil, types.NewError(types.ErrContextAbsent, "fn:last: the context item is absent")
	}
	return value.One(value.IntegerValue(fc.Size())), nil
}
