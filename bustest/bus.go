// Package bustest provides helpers for testing code built on
// package lia: an in-memory [Pipe] link, and an isolated dbus-daemon
// for tests that need a real bus.
package bustest

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/freesocial/lia"
)

//go:embed dbus.config
var daemonConfig string

// Available reports whether dbus-daemon is installed, so that tests
// can run against a real bus.
func Available() bool {
	_, err := exec.LookPath("dbus-daemon")
	return err == nil
}

// Daemon is an isolated dbus-daemon instance for tests.
type Daemon struct {
	t    testing.TB
	bus  *exec.Cmd
	mon  *exec.Cmd
	lw   *monitorWriter
	sock string

	stop       chan struct{}
	busStopped chan struct{}
	monStopped chan struct{}
	// busErr and monErr are set before busStopped and monStopped
	// close, if the process exited before the test ended.
	busErr error
	monErr error
}

// New launches a bus dedicated to the calling test, and stops it
// when the test ends.
//
// If [Available] is false, New skips the calling test.
//
// If logMonitor is true and dbus-monitor is installed, every message
// that crosses the bus is logged with t.Log.
func New(t testing.TB, logMonitor bool) *Daemon {
	if !Available() {
		t.Skip("dbus-daemon not available, cannot run test bus")
	}
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "bus.config")
	if err := os.WriteFile(cfgPath, []byte(daemonConfig), 0600); err != nil {
		t.Fatalf("writing bus config: %v", err)
	}

	ret := &Daemon{
		t:          t,
		sock:       filepath.Join(tmp, "bus.sock"),
		stop:       make(chan struct{}),
		busStopped: make(chan struct{}),
		monStopped: make(chan struct{}),
	}

	ret.bus = exec.Command("dbus-daemon", "--config-file="+cfgPath, "--nofork", "--nopidfile", "--nosyslog", "--address="+ret.Address())
	ret.bus.Stdout = os.Stdout
	ret.bus.Stderr = os.Stderr
	if err := ret.bus.Start(); err != nil {
		t.Fatalf("starting bus: %v", err)
	}
	t.Cleanup(ret.close)

	go func() {
		defer close(ret.busStopped)
		err := ret.bus.Wait()
		select {
		case <-ret.stop:
		default:
			ret.busErr = fmt.Errorf("bus stopped prematurely: %w", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ret.waitForSocket(ctx); err != nil {
		t.Fatalf("bus failed to start: %v", err)
	}

	_, err := exec.LookPath("dbus-monitor")
	if !logMonitor || err != nil {
		close(ret.monStopped)
		return ret
	}
	ret.lw = newMonitorWriter(t)
	ret.mon = exec.Command("dbus-monitor", "--address", ret.Address())
	ret.mon.Stdout = ret.lw
	ret.mon.Stderr = ret.lw
	if err := ret.mon.Start(); err != nil {
		t.Fatalf("starting monitor: %v", err)
	}
	go func() {
		defer close(ret.monStopped)
		err := ret.mon.Wait()
		select {
		case <-ret.stop:
		default:
			ret.monErr = fmt.Errorf("dbus-monitor stopped prematurely: %w", err)
		}
		ret.lw.Flush()
	}()
	if err := ret.lw.WaitForFirstMessage(ctx); err != nil {
		t.Fatalf("waiting for monitor: %v", err)
	}
	return ret
}

// waitForSocket waits for the bus to create its listening socket,
// or to exit trying.
func (d *Daemon) waitForSocket(ctx context.Context) error {
	for {
		_, err := os.Stat(d.sock)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, fs.ErrNotExist):
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.busStopped:
			return d.busErr
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (d *Daemon) close() {
	close(d.stop)
	d.bus.Process.Kill()
	if d.mon != nil {
		d.mon.Process.Kill()
	}
	timeout := time.After(10 * time.Second)
	select {
	case <-d.busStopped:
		if d.busErr != nil {
			d.t.Error(d.busErr)
		}
	case <-timeout:
		d.t.Log("timed out waiting for bus to stop")
	}
	select {
	case <-d.monStopped:
		if d.monErr != nil {
			d.t.Error(d.monErr)
		}
	case <-timeout:
		d.t.Log("timed out waiting for dbus-monitor to stop")
	}
}

// Address returns the bus address of the daemon.
func (d *Daemon) Address() string {
	return "unix:path=" + d.sock
}

// MustConn returns a connection to the bus that logs to the test's
// log, and closes it when the test ends. It fails the test
// immediately if it cannot connect.
func (d *Daemon) MustConn(t testing.TB) *lia.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ret, err := lia.Dial(ctx, d.Address(), &lia.Options{
		Logger:    Logger(t),
		MachineID: "0123456789abcdef0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("connecting to test bus: %v", err)
	}
	t.Cleanup(func() { ret.Close() })
	return ret
}

// monitorWriter logs dbus-monitor output one message at a time.
type monitorWriter struct {
	output chan struct{}
	t      testing.TB
	buf    bytes.Buffer
}

func newMonitorWriter(t testing.TB) *monitorWriter {
	return &monitorWriter{
		output: make(chan struct{}, 1),
		t:      t,
	}
}

func (l *monitorWriter) Flush() {
	l.flushComplete()
	if l.buf.Len() > 0 {
		l.t.Log(l.buf.String())
	}
	l.buf.Reset()
}

func (l *monitorWriter) Write(bs []byte) (int, error) {
	l.buf.Write(bs)
	l.flushComplete()
	return len(bs), nil
}

// flushComplete logs every buffered message that is followed by the
// start of another message.
func (l *monitorWriter) flushComplete() {
	bs := l.buf.Bytes()
	total := 0
	for {
		i := bytes.IndexByte(bs, '\n')
		if i == -1 {
			return
		}
		total += i
		bs = bs[i+1:]
		if !startsMessage(bs) {
			total++
			continue
		}

		out := l.buf.Next(total)
		l.t.Log(string(out))
		l.buf.Next(1)
		select {
		case l.output <- struct{}{}:
		default:
		}
		total = 0
		bs = l.buf.Bytes()
	}
}

func startsMessage(bs []byte) bool {
	for _, p := range []string{"method ", "signal ", "error "} {
		if bytes.HasPrefix(bs, []byte(p)) {
			return true
		}
	}
	return false
}

func (l *monitorWriter) WaitForFirstMessage(ctx context.Context) error {
	select {
	case <-l.output:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
