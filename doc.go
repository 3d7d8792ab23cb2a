// Package lia serves objects on a message bus.
//
// A program registers objects with a [Conn]: each registration binds
// an interface, described by an introspection document, to an object
// path and a [Handler]. The Conn reads method calls from its [Link],
// routes each one to the matching registration, checks the call's
// arguments against the method's signature, and hands it to the
// handler along with an [Invocation]. The handler completes the
// Invocation exactly once, with output values or an error, either
// before returning or later from any goroutine.
//
// Calls to one registered object are delivered to its handler in
// arrival order, one at a time. Calls to different objects run
// concurrently, and replies are sent as calls complete, so a slow
// object does not hold up the others.
//
// The usual Link is a D-Bus message bus connection, created by
// [Dial], [SystemBus] or [SessionBus]. Connections answer the
// standard org.freedesktop.DBus.Peer and
// org.freedesktop.DBus.Introspectable interfaces on every registered
// path without help from handlers.
//
// Values on the wire are represented by [Value], a tagged union of
// the D-Bus types, and are encoded with [Marshal] and decoded with
// [Unmarshal]. Every Value carries its [Type], and every method
// carries the [Signature] its inputs and outputs must match.
//
// When a Conn is closed, or its Link fails, calls that have not been
// answered are orphaned: their handlers' contexts are canceled, and
// completing them returns [ErrConnectionClosed].
package lia
