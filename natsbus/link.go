// Package natsbus carries lia method calls over NATS request/reply.
//
// A call is a NATS request on a service's subject. The target object
// and method travel in message headers, and the arguments in the
// body, encoded little-endian with [lia.Marshal]. Replies go to the
// request's reply subject.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/freesocial/lia"
	"github.com/freesocial/lia/fragments"
)

// Message headers.
const (
	HeaderPath      = "Lia-Path"
	HeaderInterface = "Lia-Interface"
	HeaderMember    = "Lia-Member"
	HeaderSignature = "Lia-Signature"
	HeaderSender    = "Lia-Sender"
	// HeaderError is set on failure replies to the error name. The
	// body is the error detail, as plain text.
	HeaderError = "Lia-Error"
)

var bodyOrder = fragments.LittleEndian

// Subject returns the subject on which service receives calls.
func Subject(prefix, service string) string {
	return prefix + "." + service
}

// Link is a [lia.Link] that receives calls from a NATS subject.
type Link struct {
	nc   *nats.Conn
	sub  *nats.Subscription
	msgs chan *nats.Msg
	dead chan struct{}

	mu        sync.Mutex
	closed    bool
	lastToken uint64
	// replyTo maps call tokens to the NATS subject awaiting the
	// reply.
	replyTo map[uint64]string
}

// Listen subscribes to subject on nc, and returns a Link that
// delivers the calls sent there. Closing the Link unsubscribes, but
// does not close nc.
func Listen(nc *nats.Conn, subject string) (*Link, error) {
	ret := &Link{
		nc:      nc,
		msgs:    make(chan *nats.Msg, 64),
		dead:    make(chan struct{}),
		replyTo: map[uint64]string{},
	}
	sub, err := nc.ChanSubscribe(subject, ret.msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	ret.sub = sub
	return ret, nil
}

// ReadCall implements [lia.Link].
func (l *Link) ReadCall() (*lia.Call, error) {
	for {
		var msg *nats.Msg
		select {
		case msg = <-l.msgs:
		case <-l.dead:
			return nil, net.ErrClosed
		}

		call, err := decodeCall(msg)
		if err != nil {
			if msg.Reply != "" {
				l.respond(msg.Reply, &lia.Reply{Err: &lia.CallError{Name: lia.ErrNameInvalidArgs, Detail: err.Error()}})
			}
			continue
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, net.ErrClosed
		}
		l.lastToken++
		call.Token = l.lastToken
		if msg.Reply == "" {
			call.NoReply = true
		} else {
			l.replyTo[call.Token] = msg.Reply
		}
		l.mu.Unlock()
		return call, nil
	}
}

// WriteReply implements [lia.Link].
func (l *Link) WriteReply(r *lia.Reply) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return net.ErrClosed
	}
	subject, ok := l.replyTo[r.Token]
	delete(l.replyTo, r.Token)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("no call awaiting reply with token %d", r.Token)
	}
	return l.respond(subject, r)
}

// Close implements [lia.Link].
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.dead)
	if err := l.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

func (l *Link) respond(subject string, r *lia.Reply) error {
	msg, err := encodeReply(subject, r)
	if err != nil {
		return err
	}
	if err := l.nc.PublishMsg(msg); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return fmt.Errorf("%w: %w", net.ErrClosed, err)
		}
		return err
	}
	return nil
}

func decodeCall(msg *nats.Msg) (*lia.Call, error) {
	path := lia.ObjectPath(msg.Header.Get(HeaderPath))
	if err := path.Valid(); err != nil {
		return nil, err
	}
	member := msg.Header.Get(HeaderMember)
	if member == "" {
		return nil, errors.New("missing " + HeaderMember + " header")
	}
	sig, err := lia.ParseSignature(msg.Header.Get(HeaderSignature))
	if err != nil {
		return nil, err
	}
	args, err := lia.Unmarshal(bodyOrder, sig, msg.Data)
	if err != nil {
		return nil, err
	}
	return &lia.Call{
		Sender:    msg.Header.Get(HeaderSender),
		Path:      path,
		Interface: msg.Header.Get(HeaderInterface),
		Member:    member,
		Args:      args,
	}, nil
}

func encodeReply(subject string, r *lia.Reply) (*nats.Msg, error) {
	msg := nats.NewMsg(subject)
	if r.Err != nil {
		msg.Header.Set(HeaderError, r.Err.Name)
		msg.Data = []byte(r.Err.Detail)
		return msg, nil
	}
	sig := signatureOf(r.Body)
	body, err := lia.Marshal(bodyOrder, sig, r.Body)
	if err != nil {
		return nil, fmt.Errorf("encoding reply: %w", err)
	}
	msg.Header.Set(HeaderSignature, sig.String())
	msg.Data = body
	return msg, nil
}

func signatureOf(vals []lia.Value) lia.Signature {
	types := make([]lia.Type, 0, len(vals))
	for _, v := range vals {
		types = append(types, v.Type())
	}
	return lia.SignatureOf(types...)
}

// Call calls method on the object at path, served on subject, and
// returns its output values. A failure reply is returned as a
// [lia.CallError].
func Call(ctx context.Context, nc *nats.Conn, subject string, path lia.ObjectPath, iface, method string, args ...lia.Value) ([]lia.Value, error) {
	sig := signatureOf(args)
	body, err := lia.Marshal(bodyOrder, sig, args)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set(HeaderPath, string(path))
	if iface != "" {
		msg.Header.Set(HeaderInterface, iface)
	}
	msg.Header.Set(HeaderMember, method)
	msg.Header.Set(HeaderSignature, sig.String())
	if name := nc.Opts.Name; name != "" {
		msg.Header.Set(HeaderSender, name)
	}
	msg.Data = body

	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		switch {
		case errors.Is(err, nats.ErrNoResponders):
			return nil, lia.CallError{
				Name:   lia.ErrNameServiceUnknown,
				Detail: fmt.Sprintf("nothing is serving %s", subject),
			}
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			ce := lia.CallError{
				Name:   lia.ErrNameNoReply,
				Detail: fmt.Sprintf("no reply from %s to %s.%s", subject, iface, method),
			}
			return nil, fmt.Errorf("%w: %w", ce, context.DeadlineExceeded)
		}
		return nil, err
	}
	if name := resp.Header.Get(HeaderError); name != "" {
		return nil, lia.CallError{Name: name, Detail: strings.TrimSpace(string(resp.Data))}
	}
	rsig, err := lia.ParseSignature(resp.Header.Get(HeaderSignature))
	if err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	return lia.Unmarshal(bodyOrder, rsig, resp.Data)
}
