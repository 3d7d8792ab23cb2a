package bustest

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/freesocial/lia"
)

// Pipe is an in-memory [lia.Link]. Tests play the part of the bus:
// calls given to Send are read by the Conn that owns the Pipe, and
// replies the Conn writes are returned by NextReply.
type Pipe struct {
	calls   chan *lia.Call
	replies chan *lia.Reply
	// dead is closed by Close or Fail.
	dead chan struct{}

	mu        sync.Mutex
	lastToken uint64
	closed    bool
	err       error
}

// NewPipe returns a new, open Pipe.
func NewPipe() *Pipe {
	return &Pipe{
		calls:   make(chan *lia.Call),
		replies: make(chan *lia.Reply, 1024),
		dead:    make(chan struct{}),
	}
}

// Send delivers call to the Conn reading from the pipe, and returns
// the call's token. If call.Token is zero, a fresh token is
// assigned.
//
// Send blocks until the Conn has read the call. It returns false if
// the pipe was closed first.
func (p *Pipe) Send(call *lia.Call) (token uint64, ok bool) {
	p.mu.Lock()
	if call.Token == 0 {
		p.lastToken++
		call.Token = p.lastToken
	}
	p.mu.Unlock()
	select {
	case p.calls <- call:
		return call.Token, true
	case <-p.dead:
		return call.Token, false
	}
}

// NextReply returns the next reply written by the Conn, in the order
// they were written.
func (p *Pipe) NextReply(ctx context.Context) (*lia.Reply, error) {
	select {
	case r := <-p.replies:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Roundtrip sends call and waits for the next reply. It is only
// meaningful when no other reply can be outstanding.
func (p *Pipe) Roundtrip(ctx context.Context, call *lia.Call) (*lia.Reply, error) {
	if _, ok := p.Send(call); !ok {
		return nil, net.ErrClosed
	}
	return p.NextReply(ctx)
}

// Fail breaks the pipe as if the underlying transport failed with
// err. The Conn's next ReadCall returns err.
func (p *Pipe) Fail(err error) {
	p.shutdown(err)
}

// Closed reports whether the pipe was closed or failed.
func (p *Pipe) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ReadCall implements [lia.Link].
func (p *Pipe) ReadCall() (*lia.Call, error) {
	select {
	case call := <-p.calls:
		return call, nil
	case <-p.dead:
		p.mu.Lock()
		defer p.mu.Unlock()
		return nil, p.err
	}
}

// WriteReply implements [lia.Link].
func (p *Pipe) WriteReply(r *lia.Reply) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return net.ErrClosed
	}
	select {
	case p.replies <- r:
		return nil
	default:
		return errors.New("pipe reply buffer full")
	}
}

// Close implements [lia.Link].
func (p *Pipe) Close() error {
	p.shutdown(net.ErrClosed)
	return nil
}

func (p *Pipe) shutdown(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	close(p.dead)
}

// Logger returns a logger that writes to t's log.
func Logger(t testing.TB) *zerolog.Logger {
	ret := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	return &ret
}
