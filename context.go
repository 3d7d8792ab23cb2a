package lia

import (
	"context"
	"os"
)

type callContextKey struct{}

func withContextCall(ctx context.Context, call *Call) context.Context {
	return context.WithValue(ctx, callContextKey{}, call)
}

// ContextCall returns the call being handled, from the context
// passed to a [Handler].
func ContextCall(ctx context.Context) (*Call, bool) {
	v := ctx.Value(callContextKey{})
	if v == nil {
		return nil, false
	}
	if ret, ok := v.(*Call); ok {
		return ret, true
	}
	return nil, false
}

// ContextFile returns the file attached to the call being handled
// that is referenced by the unix fd value fd. It returns nil if
// there is no such file.
func ContextFile(ctx context.Context, fd Value) *os.File {
	call, ok := ContextCall(ctx)
	if !ok {
		return nil
	}
	idx, ok := fd.AsUnixFD()
	if !ok || int(idx) >= len(call.Files) {
		return nil
	}
	return call.Files[int(idx)]
}
