package lia

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/freesocial/lia/fragments"
	"github.com/freesocial/lia/transport"
)

const (
	busName      = "org.freedesktop.DBus"
	busPath      = ObjectPath("/org/freedesktop/DBus")
	busInterface = "org.freedesktop.DBus"
)

// DialLink connects to the bus at address, such as
// "unix:path=/run/dbus/system_bus_socket", and returns a Link that
// speaks the D-Bus wire protocol.
func DialLink(ctx context.Context, address string) (*BusLink, error) {
	t, err := transport.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	ret := newBusLink(t)
	resp, err := ret.Call(ctx, busName, busPath, busInterface, "Hello")
	if err != nil {
		ret.Close()
		return nil, fmt.Errorf("getting bus client ID: %w", err)
	}
	if len(resp) != 1 {
		ret.Close()
		return nil, fmt.Errorf("unexpected Hello response %v", resp)
	}
	name, ok := resp[0].AsString()
	if !ok {
		ret.Close()
		return nil, fmt.Errorf("unexpected Hello response %v", resp)
	}
	ret.localName = name
	return ret, nil
}

// BusLink is a Link to a D-Bus message bus.
//
// Besides carrying inbound calls and their replies, it implements
// [NameOwner] and [Caller].
type BusLink struct {
	t         transport.Transport
	localName string

	writeMu sync.Mutex

	// inbound carries decoded calls from the read loop to ReadCall.
	inbound chan *Call
	// dead is closed when the link shuts down.
	dead chan struct{}

	mu         sync.Mutex
	closed     bool
	err        error
	calls      map[uint32]*pendingCall
	lastSerial uint32
}

type pendingCall struct {
	notify chan struct{}
	resp   []Value
	err    error
}

func newBusLink(t transport.Transport) *BusLink {
	ret := &BusLink{
		t:       t,
		inbound: make(chan *Call, 64),
		dead:    make(chan struct{}),
		calls:   map[uint32]*pendingCall{},
	}
	go ret.readLoop()
	return ret
}

// LocalName returns the link's unique bus name.
func (l *BusLink) LocalName() string {
	return l.localName
}

// ReadCall returns the next inbound method call.
func (l *BusLink) ReadCall() (*Call, error) {
	select {
	case call := <-l.inbound:
		return call, nil
	case <-l.dead:
		l.mu.Lock()
		defer l.mu.Unlock()
		return nil, l.err
	}
}

// WriteReply sends a method return or error message.
func (l *BusLink) WriteReply(r *Reply) error {
	hdr := &header{
		Type:        msgTypeReturn,
		ReplySerial: uint32(r.Token),
		Destination: r.Destination,
	}
	body := r.Body
	if r.Err != nil {
		hdr.Type = msgTypeError
		hdr.ErrName = r.Err.Name
		body = nil
		if r.Err.Detail != "" {
			detail := strings.ToValidUTF8(r.Err.Detail, "�")
			detail = strings.ReplaceAll(detail, "\x00", "")
			body = []Value{String(detail)}
		}
	}
	return l.writeMsg(hdr, body)
}

// Close closes the link.
func (l *BusLink) Close() error {
	l.shutdown(net.ErrClosed)
	return nil
}

// shutdown closes the transport, fails outstanding calls and wakes
// up ReadCall, recording cause as the reason.
func (l *BusLink) shutdown(cause error) {
	var pend map[uint32]*pendingCall
	{
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		l.closed = true
		l.err = cause
		pend, l.calls = l.calls, nil
		l.mu.Unlock()
	}
	for _, c := range pend {
		c.err = cause
		close(c.notify)
	}
	close(l.dead)
	l.t.Close()
}

func (l *BusLink) nextSerial() (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, net.ErrClosed
	}
	l.lastSerial++
	if l.lastSerial == 0 {
		l.lastSerial++
	}
	return l.lastSerial, nil
}

func (l *BusLink) writeMsg(hdr *header, body []Value) error {
	if hdr.Serial == 0 {
		serial, err := l.nextSerial()
		if err != nil {
			return err
		}
		hdr.Serial = serial
	}
	hdr.Order = fragments.NativeEndian
	hdr.Version = 1
	bs, err := encodeMessage(hdr, body)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.t.Write(bs); err != nil {
		return err
	}
	return nil
}

func (l *BusLink) readLoop() {
	for {
		if err := l.readOne(); err != nil {
			// Errors that bubble out here are transport failures, or
			// a peer that does not speak the protocol. Both are fatal
			// to the link.
			if !errors.Is(err, net.ErrClosed) {
				err = fmt.Errorf("reading from bus: %w", err)
			}
			l.shutdown(err)
			return
		}
	}
}

func (l *BusLink) readOne() error {
	hdr, body, err := readMessage(l.t)
	if err != nil {
		return err
	}
	if err := hdr.Valid(); err != nil {
		return fmt.Errorf("received invalid header: %w", err)
	}
	files, err := l.t.GetFiles(int(hdr.NumFDs))
	if err != nil {
		return err
	}

	switch hdr.Type {
	case msgTypeCall:
		return l.readCall(hdr, body, files)
	case msgTypeReturn, msgTypeError:
		closeFiles(files)
		l.readReply(hdr, body)
	default:
		// Signals and unknown message types are not consumed.
		closeFiles(files)
	}
	return nil
}

func (l *BusLink) readCall(hdr *header, body []byte, files []*os.File) error {
	args, err := Unmarshal(hdr.Order, hdr.Signature, body)
	if err != nil {
		closeFiles(files)
		if !hdr.WantReply() {
			return nil
		}
		werr := l.WriteReply(&Reply{
			Token:       uint64(hdr.Serial),
			Destination: hdr.Sender,
			Err:         &CallError{ErrNameInvalidArgs, err.Error()},
		})
		if werr != nil && errors.Is(werr, net.ErrClosed) {
			return werr
		}
		return nil
	}

	call := &Call{
		Token:       uint64(hdr.Serial),
		Sender:      hdr.Sender,
		Destination: hdr.Destination,
		Path:        hdr.Path,
		Interface:   hdr.Interface,
		Member:      hdr.Member,
		Args:        args,
		Files:       files,
		NoReply:     !hdr.WantReply(),
	}
	select {
	case l.inbound <- call:
		return nil
	case <-l.dead:
		closeFiles(files)
		return net.ErrClosed
	}
}

func (l *BusLink) readReply(hdr *header, body []byte) {
	pending := func() *pendingCall {
		l.mu.Lock()
		defer l.mu.Unlock()
		ret := l.calls[hdr.ReplySerial]
		delete(l.calls, hdr.ReplySerial)
		return ret
	}()
	if pending == nil {
		// Response to a canceled call.
		return
	}
	defer close(pending.notify)

	vals, err := Unmarshal(hdr.Order, hdr.Signature, body)
	if hdr.Type == msgTypeError {
		ce := CallError{Name: hdr.ErrName}
		if err == nil && len(vals) > 0 {
			ce.Detail, _ = vals[0].AsString()
		}
		pending.err = ce
		return
	}
	if err != nil {
		pending.err = fmt.Errorf("decoding reply: %w", err)
		return
	}
	pending.resp = vals
}

// Call calls a remote method over the bus, and returns its output
// values.
func (l *BusLink) Call(ctx context.Context, destination string, path ObjectPath, iface, method string, args ...Value) ([]Value, error) {
	return l.call(ctx, destination, path, iface, method, args, false)
}

// CallNoReply calls a remote method without waiting for, or
// requesting, a reply.
func (l *BusLink) CallNoReply(ctx context.Context, destination string, path ObjectPath, iface, method string, args ...Value) error {
	_, err := l.call(ctx, destination, path, iface, method, args, true)
	return err
}

func (l *BusLink) call(ctx context.Context, destination string, path ObjectPath, iface, method string, args []Value, noReply bool) ([]Value, error) {
	serial, err := l.nextSerial()
	if err != nil {
		return nil, err
	}
	hdr := &header{
		Type:        msgTypeCall,
		Serial:      serial,
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      method,
	}
	if noReply {
		hdr.Flags |= flagNoReplyExpected
		return nil, l.writeMsg(hdr, args)
	}

	pending := &pendingCall{notify: make(chan struct{})}
	{
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, net.ErrClosed
		}
		l.calls[serial] = pending
		l.mu.Unlock()
	}
	defer func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.calls[serial] == pending {
			delete(l.calls, serial)
		}
	}()

	if err := l.writeMsg(hdr, args); err != nil {
		return nil, err
	}

	select {
	case <-pending.notify:
		return pending.resp, pending.err
	case <-ctx.Done():
		if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", CallError{ErrNameNoReply, fmt.Sprintf("no reply from %s to %s.%s", destination, iface, method)}, err)
		}
		return nil, ctx.Err()
	}
}

// RequestName asks the bus to assign name to the link.
func (l *BusLink) RequestName(ctx context.Context, name string, flags NameRequestFlags) (isPrimaryOwner bool, err error) {
	resp, err := l.Call(ctx, busName, busPath, busInterface, "RequestName", String(name), Uint32(uint32(flags)))
	if err != nil {
		return false, err
	}
	code, ok := firstUint32(resp)
	if !ok {
		return false, fmt.Errorf("unexpected RequestName response %v", resp)
	}
	switch code {
	case 1:
		// Became primary owner.
		return true, nil
	case 2:
		// Placed in queue, but not primary.
		return false, nil
	case 3:
		// Couldn't become primary owner, and request flags asked to
		// not queue.
		return false, fmt.Errorf("requested name %q not available", name)
	case 4:
		// Already the primary owner.
		return true, nil
	default:
		return false, fmt.Errorf("unknown response code %d to RequestName", code)
	}
}

// ReleaseName releases a name acquired with RequestName.
func (l *BusLink) ReleaseName(ctx context.Context, name string) error {
	resp, err := l.Call(ctx, busName, busPath, busInterface, "ReleaseName", String(name))
	if err != nil {
		return err
	}
	if code, ok := firstUint32(resp); !ok || code == 0 || code > 3 {
		return fmt.Errorf("unexpected ReleaseName response %v", resp)
	}
	return nil
}

func firstUint32(vals []Value) (uint32, bool) {
	if len(vals) != 1 {
		return 0, false
	}
	return vals[0].AsUint32()
}

func closeFiles(fs []*os.File) {
	for _, f := range fs {
		f.Close()
	}
}
