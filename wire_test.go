package lia

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/freesocial/lia/fragments"
)

func TestMessageRoundTrip(t *testing.T) {
	orders := []struct {
		name  string
		order fragments.ByteOrder
	}{
		{"big", fragments.BigEndian},
		{"little", fragments.LittleEndian},
	}
	for _, o := range orders {
		t.Run(o.name, func(t *testing.T) {
			in := &header{
				Order:       o.order,
				Type:        msgTypeCall,
				Flags:       flagNoReplyExpected,
				Version:     1,
				Serial:      42,
				Path:        "/org/example/myapp1/MyObj1",
				Interface:   "org.example.myapp.MyObj1Iface",
				Member:      "Ask",
				Destination: "org.example.myapp",
				Sender:      ":1.7",
			}
			body := []Value{String("are you there?"), Uint32(7)}
			bs, err := encodeMessage(in, body)
			if err != nil {
				t.Fatalf("encodeMessage got err: %v", err)
			}

			got, gotBody, err := readMessage(bytes.NewReader(bs))
			if err != nil {
				t.Fatalf("readMessage got err: %v", err)
			}
			if err := got.Valid(); err != nil {
				t.Errorf("decoded header is invalid: %v", err)
			}
			if got.Type != in.Type || got.Flags != in.Flags || got.Serial != in.Serial {
				t.Errorf("fixed header = (%d, %d, %d), want (%d, %d, %d)", got.Type, got.Flags, got.Serial, in.Type, in.Flags, in.Serial)
			}
			if got.Path != in.Path || got.Interface != in.Interface || got.Member != in.Member {
				t.Errorf("target = %s %s.%s, want %s %s.%s", got.Path, got.Interface, got.Member, in.Path, in.Interface, in.Member)
			}
			if got.Destination != in.Destination || got.Sender != in.Sender {
				t.Errorf("addressing = %q -> %q, want %q -> %q", got.Sender, got.Destination, in.Sender, in.Destination)
			}
			if got.Signature.String() != "su" {
				t.Errorf("signature = %q, want %q", got.Signature, "su")
			}
			if int(got.Length) != len(gotBody) {
				t.Errorf("header length %d does not match body length %d", got.Length, len(gotBody))
			}
			if got.WantReply() {
				t.Error("WantReply() = true for no-reply call")
			}

			vals, err := Unmarshal(got.Order, got.Signature, gotBody)
			if err != nil {
				t.Fatalf("Unmarshal body got err: %v", err)
			}
			if len(vals) != len(body) {
				t.Fatalf("decoded %d body values, want %d", len(vals), len(body))
			}
			for i := range vals {
				if !vals[i].Equal(body[i]) {
					t.Errorf("body value %d = %s, want %s", i, vals[i], body[i])
				}
			}
		})
	}
}

func TestErrorMessageRoundTrip(t *testing.T) {
	in := &header{
		Order:       fragments.LittleEndian,
		Type:        msgTypeError,
		Version:     1,
		Serial:      3,
		ReplySerial: 42,
		ErrName:     ErrNameUnknownMethod,
		Destination: ":1.7",
	}
	bs, err := encodeMessage(in, []Value{String("no such method")})
	if err != nil {
		t.Fatalf("encodeMessage got err: %v", err)
	}
	got, body, err := readMessage(bytes.NewReader(bs))
	if err != nil {
		t.Fatalf("readMessage got err: %v", err)
	}
	if got.ReplySerial != 42 || got.ErrName != ErrNameUnknownMethod {
		t.Errorf("got reply to %d with %q, want reply to 42 with %q", got.ReplySerial, got.ErrName, ErrNameUnknownMethod)
	}
	vals, err := Unmarshal(got.Order, got.Signature, body)
	if err != nil {
		t.Fatalf("Unmarshal body got err: %v", err)
	}
	if len(vals) != 1 || !vals[0].Equal(String("no such method")) {
		t.Errorf("error body = %v, want [\"no such method\"]", vals)
	}
}

func TestReadMessageErrors(t *testing.T) {
	valid := func() []byte {
		bs, err := encodeMessage(&header{
			Order:   fragments.BigEndian,
			Type:    msgTypeCall,
			Version: 1,
			Serial:  1,
			Path:    "/",
			Member:  "Ping",
		}, nil)
		if err != nil {
			t.Fatalf("encodeMessage got err: %v", err)
		}
		return bs
	}

	tests := []struct {
		name   string
		mangle func([]byte) []byte
	}{
		{"bad byte order", func(bs []byte) []byte {
			bs[0] = 'X'
			return bs
		}},
		{"bad version", func(bs []byte) []byte {
			bs[3] = 2
			return bs
		}},
		{"truncated", func(bs []byte) []byte {
			return bs[:len(bs)-3]
		}},
		{"oversized", func(bs []byte) []byte {
			binary.BigEndian.PutUint32(bs[4:8], maxMessageLen)
			return bs
		}},
		{"empty", func([]byte) []byte {
			return nil
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bs := tc.mangle(valid())
			if h, _, err := readMessage(bytes.NewReader(bs)); err == nil {
				t.Fatalf("readMessage of mangled message = %+v, want error", h)
			}
		})
	}

	// Two messages back to back decode independently.
	stream := append(valid(), valid()...)
	r := bytes.NewReader(stream)
	for i := range 2 {
		if _, _, err := readMessage(r); err != nil {
			t.Fatalf("readMessage %d got err: %v", i, err)
		}
	}
	if _, _, err := readMessage(r); err != io.EOF {
		t.Fatalf("readMessage at end of stream got err %v, want io.EOF", err)
	}
}

func TestHeaderValid(t *testing.T) {
	tests := []struct {
		name    string
		h       header
		wantErr bool
	}{
		{"call", header{Type: msgTypeCall, Serial: 1, Path: "/", Member: "Ping"}, false},
		{"call without interface", header{Type: msgTypeCall, Serial: 1, Path: "/a", Member: "M"}, false},
		{"call without path", header{Type: msgTypeCall, Serial: 1, Member: "Ping"}, true},
		{"call without member", header{Type: msgTypeCall, Serial: 1, Path: "/"}, true},
		{"zero serial", header{Type: msgTypeCall, Path: "/", Member: "Ping"}, true},
		{"zero type", header{Serial: 1}, true},
		{"return", header{Type: msgTypeReturn, Serial: 1, ReplySerial: 1}, false},
		{"return without reply serial", header{Type: msgTypeReturn, Serial: 1}, true},
		{"error", header{Type: msgTypeError, Serial: 1, ReplySerial: 1, ErrName: ErrNameFailed}, false},
		{"error without name", header{Type: msgTypeError, Serial: 1, ReplySerial: 1}, true},
		{"signal", header{Type: msgTypeSignal, Serial: 1, Path: "/", Interface: "a.b", Member: "C"}, false},
		{"signal without interface", header{Type: msgTypeSignal, Serial: 1, Path: "/", Member: "C"}, true},
		{"unknown type", header{Type: 42, Serial: 1}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.h.Valid()
			if gotErr := err != nil; gotErr != tc.wantErr {
				t.Errorf("Valid() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
