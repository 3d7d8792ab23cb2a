package lia

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrPathInterfaceAlreadyRegistered is returned when registering
	// an interface at a path that already serves it.
	ErrPathInterfaceAlreadyRegistered = errors.New("interface already registered at path")
	// ErrAlreadyCompleted is returned when completing an
	// [Invocation] that was already completed.
	ErrAlreadyCompleted = errors.New("invocation already completed")
	// ErrConnectionClosed is returned by operations attempted after
	// the connection was torn down, including completing an
	// invocation that was orphaned by the teardown.
	ErrConnectionClosed = fmt.Errorf("bus connection closed: %w", net.ErrClosed)
)

// Standard error names carried by failure replies.
const (
	ErrNameFailed           = "org.freedesktop.DBus.Error.Failed"
	ErrNameUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	ErrNameUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrNameUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrNameServiceUnknown   = "org.freedesktop.DBus.Error.ServiceUnknown"
	// ErrNameNoReply is reported by Call when its context expires
	// before the reply arrives. The returned error also matches
	// context.DeadlineExceeded.
	ErrNameNoReply = "org.freedesktop.DBus.Error.NoReply"
)

// ParseError is the error returned when an introspection document
// is malformed.
type ParseError struct {
	// Interface is the name of the interface being parsed, if known.
	Interface string
	// Reason explains what is wrong with the document.
	Reason error
}

func (e *ParseError) Error() string {
	if e.Interface == "" {
		return fmt.Sprintf("invalid introspection document: %s", e.Reason)
	}
	return fmt.Sprintf("invalid introspection for interface %s: %s", e.Interface, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Reason
}

// ArgumentError is the error returned when the values of a call or
// reply do not match the method's declared argument types.
type ArgumentError struct {
	// Index is the position of the first mismatching value.
	Index int
	// Want is the declared type at Index, or the zero Type if more
	// values were supplied than declared.
	Want Type
	// Got is the type of the supplied value at Index, or the zero
	// Type if fewer values were supplied than declared.
	Got Type
}

func (e *ArgumentError) Error() string {
	switch {
	case e.Want.IsZero():
		return fmt.Sprintf("argument %d: unexpected value of type %q", e.Index, e.Got)
	case e.Got.IsZero():
		return fmt.Sprintf("argument %d: missing value of type %q", e.Index, e.Want)
	default:
		return fmt.Sprintf("argument %d: got type %q, want %q", e.Index, e.Got, e.Want)
	}
}

// checkArgs reports the first mismatch between vals and the types
// declared by sig.
func checkArgs(sig Signature, vals []Value) error {
	for i := range max(sig.Len(), len(vals)) {
		var want, got Type
		if i < sig.Len() {
			want = sig.At(i)
		}
		if i < len(vals) {
			got = vals[i].Type()
		}
		if want.IsZero() || got.IsZero() || !want.Equal(got) {
			return &ArgumentError{i, want, got}
		}
	}
	return nil
}

// CallError is the error returned from failed method calls.
type CallError struct {
	// Name is the error name provided by the remote peer.
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}

// callErrorFor converts err into the failure carried by a reply.
func callErrorFor(err error) *CallError {
	var ce CallError
	if errors.As(err, &ce) {
		return &ce
	}
	var pce *CallError
	if errors.As(err, &pce) {
		return pce
	}
	var ae *ArgumentError
	if errors.As(err, &ae) {
		return &CallError{ErrNameInvalidArgs, err.Error()}
	}
	return &CallError{ErrNameFailed, err.Error()}
}
