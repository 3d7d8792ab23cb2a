// Package transport provides raw byte connections to a message bus.
package transport

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/mds/queue"
	"golang.org/x/sys/unix"
)

// Transport is a raw, authenticated bus connection.
type Transport interface {
	io.ReadWriteCloser

	// GetFiles returns n received files that were attached to
	// previously read bytes as ancillary data.
	GetFiles(n int) ([]*os.File, error)
	// WriteWithFiles is like Transport.Write, but additionally sends
	// the given files as ancillary data.
	WriteWithFiles(bs []byte, fds []*os.File) (int, error)
	// ServerGUID returns the GUID the bus reported during
	// authentication.
	ServerGUID() string
	// CanPassFiles reports whether the bus agreed to pass file
	// descriptors.
	CanPassFiles() bool
}

// DialUnix connects to the bus at the given socket path. A path
// starting with "@" names an abstract socket.
func DialUnix(ctx context.Context, path string) (Transport, error) {
	addr := &net.UnixAddr{
		Net:  "unix",
		Name: path,
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", addr.String())
	if err != nil {
		return nil, err
	}

	ret := &unixTransport{
		conn: conn.(*net.UnixConn),
		fds:  queue.New[*os.File](),
	}
	ret.buf = bufio.NewReader(funcReader(ret.readToBuf))

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}

	if err := ret.conn.SetDeadline(deadline); err != nil {
		ret.Close()
		return nil, err
	}
	if err := ret.auth(); err != nil {
		ret.Close()
		return nil, err
	}
	if err := ret.conn.SetDeadline(time.Time{}); err != nil {
		ret.Close()
		return nil, err
	}

	return ret, nil
}

// unixTransport is a Transport that runs over a Unix domain socket.
//
// buf and oob belong to the reading goroutine. Close may run
// concurrently with a read, so it only closes the socket, which
// unblocks the reader, and drains fds under mu.
type unixTransport struct {
	conn    *net.UnixConn
	oob     [512]byte
	buf     *bufio.Reader
	guid    string
	passFDs bool

	mu     sync.Mutex
	fds    *queue.Queue[*os.File]
	closed bool
}

func (u *unixTransport) Read(bs []byte) (int, error) {
	return u.buf.Read(bs)
}

func (u *unixTransport) Write(bs []byte) (int, error) {
	return u.conn.Write(bs)
}

func (u *unixTransport) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return net.ErrClosed
	}
	u.closed = true
	u.fds.Each(func(f *os.File) bool {
		f.Close()
		return true
	})
	u.fds.Clear()
	return u.conn.Close()
}

func (u *unixTransport) ServerGUID() string { return u.guid }

func (u *unixTransport) CanPassFiles() bool { return u.passFDs }

func (u *unixTransport) WriteWithFiles(bs []byte, fs []*os.File) (int, error) {
	if len(fs) == 0 {
		return u.Write(bs)
	}
	if !u.passFDs {
		return 0, errors.New("bus does not support passing file descriptors")
	}

	fds := make([]int, 0, len(fs))
	for _, f := range fs {
		fds = append(fds, int(f.Fd()))
	}
	scm := unix.UnixRights(fds...)
	n, oobn, err := u.conn.WriteMsgUnix(bs, scm, nil)
	if err != nil {
		u.Close()
		return n, err
	}
	if oobn != len(scm) {
		u.Close()
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (u *unixTransport) GetFiles(n int) ([]*os.File, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil, net.ErrClosed
	}
	ret := make([]*os.File, 0, n)
	for range n {
		f, ok := u.fds.Pop()
		if !ok {
			for _, f := range ret {
				f.Close()
			}
			return nil, errors.New("requested file not available")
		}
		ret = append(ret, f)
	}
	return ret, nil
}

// auth runs the client side of the SASL EXTERNAL handshake. The bus
// authenticates us with the socket's peer credentials, so the only
// thing we send is our uid.
func (u *unixTransport) auth() error {
	uid := hex.EncodeToString([]byte(strconv.Itoa(os.Getuid())))
	if _, err := io.WriteString(u.conn, "\x00AUTH EXTERNAL "+uid+"\r\n"); err != nil {
		return err
	}
	resp, err := u.readLine()
	if err != nil {
		return err
	}
	guid, ok := strings.CutPrefix(resp, "OK ")
	if !ok {
		return fmt.Errorf("AUTH EXTERNAL failed, server said %q", resp)
	}
	u.guid = guid

	if _, err := io.WriteString(u.conn, "NEGOTIATE_UNIX_FD\r\n"); err != nil {
		return err
	}
	resp, err = u.readLine()
	if err != nil {
		return err
	}
	switch {
	case resp == "AGREE_UNIX_FD":
		u.passFDs = true
	case strings.HasPrefix(resp, "ERROR"):
		// The bus can't pass fds. Carry on without them.
	default:
		return fmt.Errorf("NEGOTIATE_UNIX_FD failed, server said %q", resp)
	}

	_, err = io.WriteString(u.conn, "BEGIN\r\n")
	return err
}

func (u *unixTransport) readLine() (string, error) {
	resp, err := u.buf.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

func (u *unixTransport) readToBuf(bs []byte) (int, error) {
	n, oobn, flags, _, err := u.conn.ReadMsgUnix(bs, u.oob[:])
	if flags&unix.MSG_CTRUNC != 0 {
		u.Close()
		return 0, errors.New("control message truncated")
	}
	if oobn > 0 {
		if oobErr := u.parseFDs(u.oob[:oobn]); oobErr != nil {
			u.Close()
			return 0, oobErr
		}
	}
	if err != nil {
		u.Close()
		return 0, err
	}

	return n, nil
}

func (u *unixTransport) parseFDs(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return err
	}
	// Keep parsing on errors, so that every received descriptor ends
	// up in u.fds and gets closed with the transport.
	var errs []error
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing unix rights: %w", err))
			continue
		}
		for _, fd := range fds {
			f := os.NewFile(uintptr(fd), "")
			if f == nil {
				errs = append(errs, fmt.Errorf("invalid file descriptor %d received on bus socket", fd))
			} else {
				u.addFile(f)
			}
		}
	}
	return errors.Join(errs...)
}

// addFile queues a received file, or closes it if the transport is
// already closed.
func (u *unixTransport) addFile(f *os.File) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		f.Close()
		return
	}
	u.fds.Add(f)
}

type funcReader func([]byte) (int, error)

func (f funcReader) Read(bs []byte) (int, error) {
	return f(bs)
}
