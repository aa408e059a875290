package fn

import (
	"context"

	"github.com/eXist-db/exist-sub013/pkg/functions"
	"github.com/eXist-db/exist-sub013/pkg/types"
	"github.com/eXist-db/exist-sub013/pkg/value"
)

// fnError raises a user error. Without a code it raises err:FOER0000.
func fnError(_ context.Context, _ functions.Context, args []value.Sequence) (value.Sequence, error) {
	xe := types.NewError(types.ErrUnidentified, "error raised by fn:error")
	if len(args) > 0 && !args[0].IsEmpty() {
		q, ok := args[0].ItemAt(0).(value.QNameValue)
		if !ok {
			return nil, types.Errorf(types.ErrType, "fn:error expects an xs:QName code, got %s", args[0].ItemAt(0).Type())
		}
		xe.Code = types.ErrorCode(q.Name.Local)
		xe.Name = q.Name
	}
	if len(args) > 1 {
		s, err := stringArg(args[1])
		if err != nil {
			return nil, err
		}
		xe.Message = s
	}
	if len(args) > 2 {
		xe.Object = args[2]
		xe.Value = value.Render(args[2])
	}
	return nil, xe
}
