package lia

import (
	"context"
	"os"
)

// Call is an inbound method call envelope.
type Call struct {
	// Token is an opaque correlation token chosen by the Link. It is
	// copied into the Reply to the call.
	Token uint64
	// Sender is the bus name of the caller, if the Link knows it.
	Sender string
	// Destination is the bus name the call was addressed to.
	Destination string
	// Path is the target object.
	Path ObjectPath
	// Interface is the target interface. It may be empty, in which
	// case the method is looked up across all interfaces at Path.
	Interface string
	// Member is the method name.
	Member string
	// Args are the call's input values.
	Args []Value
	// Files are file descriptors attached to the call, referenced
	// by index from unix fd values in Args. The handler owns them.
	Files []*os.File
	// NoReply is set when the caller does not expect a reply.
	NoReply bool
}

// Reply is an outbound method reply envelope. Exactly one of Body or
// Err is meaningful: a nil Err is a success reply.
type Reply struct {
	// Token is the Call.Token being replied to.
	Token uint64
	// Destination is the Call.Sender being replied to.
	Destination string
	// Body are the reply's output values.
	Body []Value
	// Err, if non-nil, makes this a failure reply.
	Err *CallError
}

// Link is the transport boundary of a Conn: a source of inbound
// calls and a sink for replies.
//
// ReadCall is only called from one goroutine at a time, but
// WriteReply must be safe for concurrent use. After Close, ReadCall
// returns an error that wraps net.ErrClosed.
type Link interface {
	ReadCall() (*Call, error)
	WriteReply(*Reply) error
	Close() error
}

// NameRequestFlags are the options of a bus name request.
type NameRequestFlags byte

const (
	NameRequestAllowReplacement NameRequestFlags = 1 << iota
	NameRequestReplace
	NameRequestNoQueue
)

// NameOwner is implemented by Links that can own well-known bus
// names.
type NameOwner interface {
	RequestName(ctx context.Context, name string, flags NameRequestFlags) (isPrimaryOwner bool, err error)
	ReleaseName(ctx context.Context, name string) error
}

// Caller is implemented by Links that can place outbound method
// calls.
type Caller interface {
	Call(ctx context.Context, destination string, path ObjectPath, iface, method string, args ...Value) ([]Value, error)
}
