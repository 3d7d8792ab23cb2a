package lia

import (
	"context"
	"os"
	"testing"
)

func TestContextCall(t *testing.T) {
	want := &Call{Path: "/bar", Interface: "org.example.Qux", Member: "Frob"}
	ctx := withContextCall(context.Background(), want)

	got, ok := ContextCall(ctx)
	if !ok {
		t.Fatal("call not found in context")
	}
	if got != want {
		t.Fatalf("wrong call, got %#v want %#v", got, want)
	}

	got, ok = ContextCall(context.Background())
	if ok {
		t.Fatalf("got call %#v from context with no call", got)
	}
}

func TestContextFile(t *testing.T) {
	var fs []*os.File
	for range 2 {
		f, err := os.CreateTemp(t.TempDir(), "contextfile")
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		fs = append(fs, f)
	}
	ctx := withContextCall(context.Background(), &Call{Files: fs})

	for i := range 2 {
		got := ContextFile(ctx, UnixFD(uint32(i)))
		if got == nil {
			t.Fatal("file not found in context")
		}
		if got != fs[i] {
			t.Fatalf("wrong file received, got %p, want file %d from %v", got, i, fs)
		}
	}

	if got := ContextFile(ctx, UnixFD(2)); got != nil {
		t.Fatalf("got unexpected file %p for out of range index", got)
	}
	if got := ContextFile(ctx, Uint32(0)); got != nil {
		t.Fatalf("got file %p for a non-fd value", got)
	}
	if got := ContextFile(context.Background(), UnixFD(0)); got != nil {
		t.Fatalf("got file %p from context with no call", got)
	}
}
