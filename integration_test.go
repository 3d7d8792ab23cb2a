package lia_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/freesocial/lia"
	"github.com/freesocial/lia/bustest"
)

// Set to false when debugging tests and the dbus-monitor output
// gets in the way.
const logBusTraffic = true

const askName = "org.example.myapp"

func TestBusAsk(t *testing.T) {
	bus := bustest.New(t, logBusTraffic)
	server := bus.MustConn(t)
	client := bus.MustConn(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	senders := make(chan string, 10)
	_, err := server.RegisterObjectXML(askPath, askXML, lia.HandlerFunc(func(ctx context.Context, userCtx any, args []lia.Value, inv *lia.Invocation) {
		senders <- inv.Sender()
		q, _ := args[0].AsString()
		inv.ReturnValue(lia.Bool(q == userCtx.(string)))
	}), "is this real?")
	if err != nil {
		t.Fatalf("RegisterObjectXML got err: %v", err)
	}

	if primary, err := server.RequestName(ctx, askName, lia.NameRequestNoQueue); err != nil || !primary {
		t.Fatalf("RequestName(%q) = %v, %v, want true, nil", askName, primary, err)
	}

	for _, dest := range []string{askName, server.LocalName()} {
		got, err := client.Call(ctx, dest, askPath, askIface, "Ask", lia.String("is this real?"))
		if err != nil {
			t.Fatalf("calling Ask via %s: %v", dest, err)
		}
		if diff := cmp.Diff(got, []lia.Value{lia.Bool(true)}, cmp.Comparer(lia.Value.Equal)); diff != "" {
			t.Errorf("wrong Ask result via %s (-got+want):\n%s", dest, diff)
		}
		if got, want := <-senders, client.LocalName(); got != want {
			t.Errorf("handler saw sender %q, want %q", got, want)
		}
	}

	_, err = client.Call(ctx, askName, askPath, askIface, "Tell", lia.String("hi"))
	var ce lia.CallError
	if !errors.As(err, &ce) || ce.Name != lia.ErrNameUnknownMethod {
		t.Errorf("calling unknown method got err %v, want %s", err, lia.ErrNameUnknownMethod)
	}

	_, err = client.Call(ctx, askName, askPath, askIface, "Ask", lia.Int32(1))
	if !errors.As(err, &ce) || ce.Name != lia.ErrNameInvalidArgs {
		t.Errorf("calling Ask with bad args got err %v, want %s", err, lia.ErrNameInvalidArgs)
	}

	if _, err := client.Call(ctx, askName, "/elsewhere", "org.freedesktop.DBus.Peer", "Ping"); err != nil {
		t.Errorf("Ping got err: %v", err)
	}

	_, err = server.RegisterObjectXML("/org/example/silent", askXML, lia.HandlerFunc(func(ctx context.Context, userCtx any, args []lia.Value, inv *lia.Invocation) {}), nil)
	if err != nil {
		t.Fatalf("RegisterObjectXML got err: %v", err)
	}
	shortCtx, shortCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	_, err = client.Call(shortCtx, askName, "/org/example/silent", askIface, "Ask", lia.String("hello?"))
	shortCancel()
	if !errors.As(err, &ce) || ce.Name != lia.ErrNameNoReply || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("calling a silent object got err %v, want %s", err, lia.ErrNameNoReply)
	}

	resp, err := client.Call(ctx, askName, "/org/example", "org.freedesktop.DBus.Introspectable", "Introspect")
	if err != nil {
		t.Fatalf("Introspect got err: %v", err)
	}
	doc, _ := resp[0].AsString()
	node, err := lia.ParseNode([]byte(doc))
	if err != nil {
		t.Fatalf("parsing introspection: %v", err)
	}
	if diff := cmp.Diff(node.Children, []string{"myapp1", "silent"}); diff != "" {
		t.Errorf("wrong children (-got+want):\n%s", diff)
	}
}

func TestBusNames(t *testing.T) {
	bus := bustest.New(t, logBusTraffic)
	a := bus.MustConn(t)
	b := bus.MustConn(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if primary, err := a.RequestName(ctx, askName, lia.NameRequestNoQueue); err != nil || !primary {
		t.Fatalf("first RequestName = %v, %v, want true, nil", primary, err)
	}
	if primary, err := b.RequestName(ctx, askName, lia.NameRequestNoQueue); err == nil || primary {
		t.Errorf("RequestName of owned name = %v, %v, want false, error", primary, err)
	}
	if err := a.ReleaseName(ctx, askName); err != nil {
		t.Fatalf("ReleaseName got err: %v", err)
	}
	if primary, err := b.RequestName(ctx, askName, lia.NameRequestNoQueue); err != nil || !primary {
		t.Errorf("RequestName after release = %v, %v, want true, nil", primary, err)
	}
}
