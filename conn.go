package lia

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures a Conn. A nil *Options is valid and provides
// defaults.
type Options struct {
	// Logger receives the connection's log output. If nil, the
	// global zerolog logger is used.
	Logger *zerolog.Logger
	// MachineID is returned by org.freedesktop.DBus.Peer.GetMachineId.
	// If empty, it is read from the system's machine-id file.
	MachineID string
}

func (o *Options) logger() zerolog.Logger {
	if o == nil || o.Logger == nil {
		return log.Logger
	}
	return *o.Logger
}

// SystemBus connects to the system bus.
func SystemBus(ctx context.Context, opts *Options) (*Conn, error) {
	addr := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS")
	if addr == "" {
		addr = "unix:path=/run/dbus/system_bus_socket"
	}
	return Dial(ctx, addr, opts)
}

// SessionBus connects to the current user's session bus.
func SessionBus(ctx context.Context, opts *Options) (*Conn, error) {
	addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if addr == "" {
		return nil, errors.New("session bus not available")
	}
	return Dial(ctx, addr, opts)
}

// Dial connects to the bus at the given address, such as
// "unix:path=/run/dbus/system_bus_socket".
func Dial(ctx context.Context, address string, opts *Options) (*Conn, error) {
	link, err := DialLink(ctx, address)
	if err != nil {
		return nil, err
	}
	return NewConn(link, opts), nil
}

// Conn is a bus connection that serves registered objects.
//
// A Conn reads calls from its Link and dispatches them to the
// registered objects' handlers. Calls to the same object are handled
// one at a time, in arrival order. Calls to different objects are
// handled concurrently.
type Conn struct {
	link      Link
	log       zerolog.Logger
	reg       *registry
	machineID func() (string, error)

	// ctx is the parent of all handler contexts, and is canceled
	// when the Conn is torn down.
	ctx     context.Context
	cancel  context.CancelFunc
	workers *taskgroup.Group

	mu      sync.Mutex
	closed  bool
	err     error
	pending mapset.Set[*Invocation]
	done    chan struct{}
}

// NewConn returns a Conn serving objects over link. The Conn takes
// ownership of link, and immediately starts reading calls from it.
func NewConn(link Link, opts *Options) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	ret := &Conn{
		link:    link,
		log:     opts.logger(),
		reg:     newRegistry(),
		ctx:     ctx,
		cancel:  cancel,
		workers: taskgroup.New(nil),
		pending: mapset.New[*Invocation](),
		done:    make(chan struct{}),
	}
	if opts != nil && opts.MachineID != "" {
		id := opts.MachineID
		ret.machineID = func() (string, error) { return id, nil }
	} else {
		ret.machineID = systemMachineID
	}
	go ret.readLoop()
	return ret
}

var systemMachineID = sync.OnceValues(func() (string, error) {
	bs, err := os.ReadFile("/etc/machine-id")
	if errors.Is(err, fs.ErrNotExist) {
		bs, err = os.ReadFile("/var/lib/dbus/machine-id")
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bs)), nil
})

// Close tears down the connection. Pending invocations are
// orphaned, and handler contexts are canceled. Close waits for
// running handlers to return, so it must not be called from a
// handler.
func (c *Conn) Close() error {
	err := c.teardown(nil)
	c.workers.Wait()
	return err
}

// Done returns a channel that is closed when the connection is torn
// down, either by Close or because the link failed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the link error that tore down the connection. It
// returns nil while the connection is open, or if it was closed with
// Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// LocalName returns the connection's unique bus name, if the link
// has one.
func (c *Conn) LocalName() string {
	if n, ok := c.link.(interface{ LocalName() string }); ok {
		return n.LocalName()
	}
	return ""
}

// RegisterObject registers iface at path, served by handler. userCtx
// is passed to every invocation of handler.
//
// Registering the same interface twice at one path fails with
// [ErrPathInterfaceAlreadyRegistered]. Different interfaces can
// share a path.
func (c *Conn) RegisterObject(path ObjectPath, iface *InterfaceDescription, handler Handler, userCtx any) (RegistrationID, error) {
	if err := path.Valid(); err != nil {
		return 0, err
	}
	if iface == nil {
		return 0, errors.New("nil interface description")
	}
	if err := iface.Validate(); err != nil {
		return 0, err
	}
	if handler == nil {
		return 0, errors.New("nil handler")
	}
	if c.isClosed() {
		return 0, ErrConnectionClosed
	}
	id, err := c.reg.add(newRegistration(path, iface, handler, userCtx))
	if err != nil {
		return 0, err
	}
	c.log.Debug().Str("path", string(path)).Str("interface", iface.Name).Uint64("id", uint64(id)).Msg("registered object")
	return id, nil
}

// RegisterObjectXML is like RegisterObject, but takes the interface
// as an introspection document.
func (c *Conn) RegisterObjectXML(path ObjectPath, interfaceXML string, handler Handler, userCtx any) (RegistrationID, error) {
	iface, err := ParseInterface([]byte(interfaceXML))
	if err != nil {
		return 0, err
	}
	return c.RegisterObject(path, iface, handler, userCtx)
}

// UnregisterObject removes a registration. Calls that were already
// dispatched to the object still run to completion, later calls fail
// with UnknownObject or UnknownInterface. It reports whether the
// registration existed.
func (c *Conn) UnregisterObject(id RegistrationID) bool {
	if c.isClosed() {
		return false
	}
	return c.reg.remove(id)
}

// RequestName asks the bus to assign the given well-known name to
// the connection.
func (c *Conn) RequestName(ctx context.Context, name string, flags NameRequestFlags) (isPrimaryOwner bool, err error) {
	if c.isClosed() {
		return false, ErrConnectionClosed
	}
	owner, ok := c.link.(NameOwner)
	if !ok {
		return false, fmt.Errorf("link %T cannot own bus names", c.link)
	}
	return owner.RequestName(ctx, name, flags)
}

// ReleaseName releases a name previously acquired with RequestName.
func (c *Conn) ReleaseName(ctx context.Context, name string) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	owner, ok := c.link.(NameOwner)
	if !ok {
		return fmt.Errorf("link %T cannot own bus names", c.link)
	}
	return owner.ReleaseName(ctx, name)
}

// Call calls a remote method and returns its output values.
func (c *Conn) Call(ctx context.Context, destination string, path ObjectPath, iface, method string, args ...Value) ([]Value, error) {
	if c.isClosed() {
		return nil, ErrConnectionClosed
	}
	caller, ok := c.link.(Caller)
	if !ok {
		return nil, fmt.Errorf("link %T cannot place calls", c.link)
	}
	return caller.Call(ctx, destination, path, iface, method, args...)
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) readLoop() {
	for {
		call, err := c.link.ReadCall()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.log.Error().Err(err).Msg("bus link failed, closing connection")
			c.teardown(err)
			return
		}
		if err := c.Dispatch(context.Background(), call); err != nil {
			c.log.Warn().
				Str("path", string(call.Path)).
				Str("interface", call.Interface).
				Str("member", call.Member).
				Err(err).
				Msg("dispatching call")
		}
	}
}

// teardown closes the connection, recording cause as the reason. It
// is a no-op if the connection is already closed.
func (c *Conn) teardown(cause error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.err = cause
	pend := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.cancel()
	for _, reg := range c.reg.all() {
		c.reg.remove(reg.id)
	}
	orphaned := 0
	for inv := range pend {
		if inv.orphan() {
			orphaned++
		}
	}
	err := c.link.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	c.log.Debug().Int("orphaned", orphaned).AnErr("cause", cause).Msg("bus connection closed")
	close(c.done)
	return err
}

// track records inv as pending, so that teardown can orphan it.
func (c *Conn) track(inv *Invocation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.pending.Add(inv)
	return true
}

// forget removes a completed invocation from the pending set.
func (c *Conn) forget(inv *Invocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Remove(inv)
}

func (c *Conn) writeReply(r *Reply) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	if err := c.link.WriteReply(r); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrConnectionClosed
		}
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}
