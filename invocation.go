package lia

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/freesocial/lia/fragments"
)

type invocationState uint8

const (
	invocationPending invocationState = iota
	invocationCompleted
	invocationOrphaned
)

// An Invocation is the handle through which a [Handler] completes
// one method call.
//
// Exactly one of ReturnValue, ReturnError or Fail must succeed per
// Invocation. Completing it a second time fails with
// [ErrAlreadyCompleted]. Completing it after the connection was torn
// down fails with [ErrConnectionClosed].
//
// The handler may complete the invocation after it returns, from any
// goroutine. Further calls to the same object wait until the
// invocation is completed.
type Invocation struct {
	conn   *Conn
	call   *Call
	reg    *registration
	method *boundMethod
	// ctx is the context passed to the handler. cancel releases it
	// once the handler is done with the invocation.
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state invocationState
	// done is closed once the invocation leaves the pending state
	// and any reply has been handed to the link.
	done chan struct{}
}

func newInvocation(c *Conn, call *Call, reg *registration, m *boundMethod) *Invocation {
	return &Invocation{
		conn:   c,
		call:   call,
		reg:    reg,
		method: m,
		done:   make(chan struct{}),
	}
}

// Sender returns the bus name of the caller.
func (inv *Invocation) Sender() string { return inv.call.Sender }

// Path returns the object path the call was addressed to.
func (inv *Invocation) Path() ObjectPath { return inv.call.Path }

// Interface returns the name of the interface being called.
func (inv *Invocation) Interface() string { return inv.reg.key.Interface }

// Method returns the name of the method being called.
func (inv *Invocation) Method() string { return inv.call.Member }

// ReturnValue completes the invocation with a success reply carrying
// vals, which must match the method's output arguments.
//
// If vals do not match, or contain values that cannot be encoded,
// the invocation is still completed: the caller receives an
// InvalidArgs failure, and ReturnValue returns an [*ArgumentError]
// or [*EncodeError] describing the problem.
func (inv *Invocation) ReturnValue(vals ...Value) error {
	if err := inv.begin(); err != nil {
		return err
	}
	defer close(inv.done)

	err := checkArgs(inv.method.out, vals)
	if err == nil {
		_, err = Marshal(fragments.LittleEndian, inv.method.out, vals)
	}
	if err != nil {
		inv.conn.log.Error().
			Str("path", string(inv.call.Path)).
			Str("interface", inv.Interface()).
			Str("member", inv.call.Member).
			Err(err).
			Msg("handler returned values that do not match the method signature")
		inv.send(&Reply{Err: &CallError{ErrNameInvalidArgs, fmt.Sprintf("invalid return value: %v", err)}})
		return err
	}
	return inv.send(&Reply{Body: append([]Value(nil), vals...)})
}

// ReturnError completes the invocation with a failure reply. name
// must be a valid error name, such as
// "org.example.Error.NotFound". If it is not, the invocation stays
// pending and ReturnError returns an error.
func (inv *Invocation) ReturnError(name, message string) error {
	if err := validInterfaceName(name); err != nil {
		return fmt.Errorf("invalid error name: %w", err)
	}
	if err := inv.begin(); err != nil {
		return err
	}
	defer close(inv.done)
	return inv.send(&Reply{Err: &CallError{name, message}})
}

// Fail completes the invocation with a failure reply describing err.
// A [CallError] in err's chain provides the error name, otherwise
// the failure is reported as org.freedesktop.DBus.Error.Failed.
func (inv *Invocation) Fail(err error) error {
	if err == nil {
		return errors.New("nil error passed to Fail")
	}
	if err := inv.begin(); err != nil {
		return err
	}
	defer close(inv.done)
	return inv.send(&Reply{Err: callErrorFor(err)})
}

// begin transitions the invocation from pending to completed, or
// reports why it cannot.
func (inv *Invocation) begin() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	switch inv.state {
	case invocationCompleted:
		return ErrAlreadyCompleted
	case invocationOrphaned:
		return ErrConnectionClosed
	}
	inv.state = invocationCompleted
	return nil
}

// orphan transitions a pending invocation to orphaned. It reports
// whether the transition happened.
func (inv *Invocation) orphan() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.state != invocationPending {
		return false
	}
	inv.state = invocationOrphaned
	close(inv.done)
	return true
}

func (inv *Invocation) send(r *Reply) error {
	defer inv.conn.forget(inv)
	if inv.call.NoReply {
		return nil
	}
	r.Token = inv.call.Token
	r.Destination = inv.call.Sender
	err := inv.conn.writeReply(r)
	if err == nil || errors.Is(err, ErrConnectionClosed) || r.Err != nil {
		return err
	}
	// The link refused the success reply, tell the caller instead of
	// leaving it waiting.
	inv.conn.log.Error().
		Str("path", string(inv.call.Path)).
		Str("interface", inv.Interface()).
		Str("member", inv.call.Member).
		Err(err).
		Msg("sending reply")
	fail := &Reply{
		Token:       inv.call.Token,
		Destination: inv.call.Sender,
		Err:         &CallError{ErrNameFailed, fmt.Sprintf("reply could not be sent: %v", err)},
	}
	if ferr := inv.conn.writeReply(fail); ferr != nil {
		return errors.Join(err, ferr)
	}
	return err
}
