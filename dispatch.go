package lia

import (
	"context"
	"fmt"
	"runtime/debug"
)

// A Handler serves method calls to a registered object.
//
// HandleCall is invoked once per call, with the userCtx given at
// registration and the call's input values, already checked against
// the method's signature. The handler completes the call through
// inv, either before returning or later from another goroutine.
type Handler interface {
	HandleCall(ctx context.Context, userCtx any, args []Value, inv *Invocation)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, userCtx any, args []Value, inv *Invocation)

func (f HandlerFunc) HandleCall(ctx context.Context, userCtx any, args []Value, inv *Invocation) {
	f(ctx, userCtx, args, inv)
}

// dispatchError is a call that failed before reaching a handler.
type dispatchError struct {
	name   string
	detail string
}

func (e *dispatchError) Error() string {
	return e.name + ": " + e.detail
}

// Dispatch routes one inbound call to its registered object.
//
// Calls that cannot be routed, or whose arguments do not match the
// method, are answered immediately with a failure reply. Otherwise
// the call is queued on its object, and Dispatch returns without
// waiting for the handler. The handler's context carries ctx's
// values, and is canceled when the connection is torn down.
//
// Dispatch only fails if the connection is closed, or if a failure
// reply could not be sent.
func (c *Conn) Dispatch(ctx context.Context, call *Call) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}

	reg, m, derr := c.resolve(call)
	if derr != nil {
		return c.replyError(call, derr)
	}
	if reg == nil {
		return c.dispatchBuiltin(call, m)
	}
	if err := checkArgs(m.in, call.Args); err != nil {
		return c.replyError(call, &dispatchError{ErrNameInvalidArgs, err.Error()})
	}

	inv := newInvocation(c, call, reg, m)
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.ctx, cancel)
	inv.ctx = withContextCall(hctx, call)
	inv.cancel = func() {
		stop()
		cancel()
	}
	if !c.track(inv) {
		inv.cancel()
		return ErrConnectionClosed
	}
	c.enqueue(reg, inv)
	return nil
}

// resolve finds the registration and method targeted by call. It
// returns a nil registration and a non-nil method for built-in
// methods.
func (c *Conn) resolve(call *Call) (*registration, *boundMethod, *dispatchError) {
	if call.Interface == "" {
		regs := c.reg.lookupMethod(call.Path, call.Member)
		switch len(regs) {
		case 1:
			return regs[0], regs[0].methods[call.Member], nil
		case 0:
			if b := builtinByMember(call.Member); b != nil && c.servesBuiltins(call.Path, b.iface) {
				return nil, b.bound, nil
			}
			if !c.reg.hasPath(call.Path) {
				return nil, nil, &dispatchError{ErrNameUnknownObject, fmt.Sprintf("no object at path %s", call.Path)}
			}
			return nil, nil, &dispatchError{ErrNameUnknownMethod, fmt.Sprintf("no method %s at path %s", call.Member, call.Path)}
		default:
			return nil, nil, &dispatchError{ErrNameUnknownMethod, fmt.Sprintf("method %s is ambiguous at path %s, an interface is required", call.Member, call.Path)}
		}
	}

	reg := c.reg.lookup(call.Path, call.Interface)
	if reg == nil {
		if methods, ok := builtins[call.Interface]; ok && c.servesBuiltins(call.Path, call.Interface) {
			b, ok := methods[call.Member]
			if !ok {
				return nil, nil, &dispatchError{ErrNameUnknownMethod, fmt.Sprintf("no method %s on interface %s", call.Member, call.Interface)}
			}
			return nil, b.bound, nil
		}
		if !c.reg.hasPath(call.Path) {
			return nil, nil, &dispatchError{ErrNameUnknownObject, fmt.Sprintf("no object at path %s", call.Path)}
		}
		return nil, nil, &dispatchError{ErrNameUnknownInterface, fmt.Sprintf("object %s does not implement interface %s", call.Path, call.Interface)}
	}
	m, ok := reg.methods[call.Member]
	if !ok {
		return nil, nil, &dispatchError{ErrNameUnknownMethod, fmt.Sprintf("no method %s on interface %s", call.Member, call.Interface)}
	}
	return reg, m, nil
}

func (c *Conn) replyError(call *Call, derr *dispatchError) error {
	c.log.Debug().
		Str("path", string(call.Path)).
		Str("interface", call.Interface).
		Str("member", call.Member).
		Str("error", derr.name).
		Msg(derr.detail)
	if call.NoReply {
		return nil
	}
	return c.writeReply(&Reply{
		Token:       call.Token,
		Destination: call.Sender,
		Err:         &CallError{derr.name, derr.detail},
	})
}

// enqueue appends inv to its object's FIFO, starting a worker for
// the object if none is running.
//
// Workers are only started while the connection is open, under c.mu,
// so that Close never waits for workers before the last one was
// added.
func (c *Conn) enqueue(reg *registration, inv *Invocation) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.work.Add(inv)
	if reg.running {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// teardown orphaned inv already, nothing is left to run.
		reg.work.Clear()
		inv.cancel()
		return
	}
	reg.running = true
	c.workers.Go(func() error {
		c.runObject(reg)
		return nil
	})
}

// runObject invokes the handler for each queued invocation of reg in
// turn, until the queue is empty.
func (c *Conn) runObject(reg *registration) {
	for {
		reg.mu.Lock()
		inv, ok := reg.work.Pop()
		if !ok {
			reg.running = false
			reg.mu.Unlock()
			return
		}
		reg.mu.Unlock()
		c.invoke(reg, inv)
	}
}

// invoke runs the handler for inv, and waits for inv to be completed
// or orphaned.
func (c *Conn) invoke(reg *registration, inv *Invocation) {
	defer inv.cancel()
	select {
	case <-inv.done:
		// Orphaned while queued.
		return
	default:
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().
					Str("path", string(reg.key.Path)).
					Str("interface", reg.key.Interface).
					Str("member", inv.call.Member).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				inv.Fail(CallError{ErrNameFailed, fmt.Sprintf("handler panicked: %v", r)})
			}
		}()
		reg.handler.HandleCall(inv.ctx, reg.userCtx, inv.call.Args, inv)
	}()
	<-inv.done
}
