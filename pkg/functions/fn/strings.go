package fn

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// stringArg returns the string value of the optional single item in seq,
// or "" for the empty sequence.
func stringArg(seq value.Sequence) (string, error) {
	if seq.IsEmpty() {
		return "", nil
	}
	return seq.ItemAt(0).StringValue()
}

// contextOrArg returns the first argument, or the context item if the
// function was called without arguments.
func contextOrArg(fc functions.Context, name string, args []value.Sequence) (value.Sequence, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	it := fc.ContextItem()
	if it == nil {
		return nil, types.NewError(types.ErrContextAbsent, "fn:"+name+": the context item is absent")
	}
	return value.One(it), nil
}

func fnString(_ context.Context, fc functions.Context, args []value.Sequence) (value.Sequence, error) {
	seq, err := contextOrArg(fc, "string", args)
	if err != nil {
		return nil, err
	}
	s, err := stringArg(seq)
	if err != nil {
		return nil, err
	}
	return str1(s), nil
}

func fnStringLength(_ context.Context, fc functions.Context, args []value.Sequence) (value.Sequence, error) {
	seq, err := contextOrArg(fc, "string-length", args)
	if err != nil {
		return nil, err
	}
	s, err := stringArg(seq)
	if err != nil {
		return nil, err
	}
	return value.One(value.IntegerValue(utf8.RuneCountInString(s))), nil
}

func fnUpperCase(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	s, err := stringArg(args[0])
	if err != nil {
		return nil, err
	}
	return str1(cases.Upper(language.Und).String(s)), nil
}

func fnLowerCase(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	s, err := stringArg(args[0])
	if err != nil {
		return nil, err
	}
	return str1(cases.Lower(language.Und).String(s)), nil
}

func fnConcat(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	var b strings.Builder
	for _, a := range args {
		s, err := stringArg(a)
		if err != nil {
			return nil, err
		}
		b.WriteString(s)
	}
	return str1(b.String()), nil
}
