package bustest_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/freesocial/lia"
	"github.com/freesocial/lia/bustest"
)

func TestDaemon(t *testing.T) {
	d := bustest.New(t, true)
	conn := d.MustConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := conn.Call(ctx, "org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus.Peer", "Ping"); err != nil {
		t.Fatalf("failed to ping test bus: %v", err)
	}
	if conn.LocalName() == "" {
		t.Error("connection has no unique name")
	}
}

func TestPipe(t *testing.T) {
	p := bustest.NewPipe()

	go func() {
		call, err := p.ReadCall()
		if err != nil {
			return
		}
		p.WriteReply(&lia.Reply{Token: call.Token, Body: []lia.Value{lia.String("pong")}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := p.Roundtrip(ctx, &lia.Call{Path: "/", Member: "Ping"})
	if err != nil {
		t.Fatalf("Roundtrip got err: %v", err)
	}
	if r.Token != 1 {
		t.Errorf("reply token = %d, want 1", r.Token)
	}

	wantErr := errors.New("cable cut")
	p.Fail(wantErr)
	if _, err := p.ReadCall(); !errors.Is(err, wantErr) {
		t.Errorf("ReadCall after Fail got err %v, want %v", err, wantErr)
	}
	if err := p.WriteReply(&lia.Reply{}); !errors.Is(err, net.ErrClosed) {
		t.Errorf("WriteReply after Fail got err %v, want net.ErrClosed", err)
	}
	if _, ok := p.Send(&lia.Call{Path: "/", Member: "Ping"}); ok {
		t.Error("Send on failed pipe succeeded")
	}
	if !p.Closed() {
		t.Error("failed pipe is not closed")
	}
}
