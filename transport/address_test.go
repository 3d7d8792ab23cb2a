package transport

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    []Address
		wantErr bool
	}{
		{
			in: "unix:path=/run/dbus/system_bus_socket",
			want: []Address{
				{"unix", map[string]string{"path": "/run/dbus/system_bus_socket"}},
			},
		},
		{
			in: "unix:abstract=/tmp/dbus-XYZ,guid=abc123;unix:path=/tmp/bus%20sock",
			want: []Address{
				{"unix", map[string]string{"abstract": "/tmp/dbus-XYZ", "guid": "abc123"}},
				{"unix", map[string]string{"path": "/tmp/bus sock"}},
			},
		},
		{
			in: "unix:path=/a;",
			want: []Address{
				{"unix", map[string]string{"path": "/a"}},
			},
		},
		{in: "", wantErr: true},
		{in: ";", wantErr: true},
		{in: "unix", wantErr: true},
		{in: ":path=/a", wantErr: true},
		{in: "unix:path", wantErr: true},
		{in: "unix:path=/a,path=/b", wantErr: true},
		{in: "unix:path=%zz", wantErr: true},
	}

	for _, tc := range tests {
		got, err := ParseAddress(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseAddress(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAddress(%q) got err: %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(got, tc.want); diff != "" {
			t.Errorf("ParseAddress(%q) wrong result (-got+want):\n%s", tc.in, diff)
		}
	}
}

func TestAddressString(t *testing.T) {
	a := Address{"unix", map[string]string{"path": "/tmp/bus sock", "guid": "abc"}}
	if got, want := a.String(), "unix:guid=abc,path=/tmp/bus%20sock"; got != want {
		t.Errorf("Address.String() = %q, want %q", got, want)
	}
	back, err := ParseAddress(a.String())
	if err != nil {
		t.Fatalf("ParseAddress(%q) got err: %v", a.String(), err)
	}
	if diff := cmp.Diff(back, []Address{a}); diff != "" {
		t.Errorf("address did not survive a round trip (-got+want):\n%s", diff)
	}
}

func TestDialUnsupported(t *testing.T) {
	if _, err := Dial(context.Background(), "tcp:host=localhost,port=1234"); err == nil {
		t.Error("Dial of tcp address succeeded, want error")
	}
	if _, err := Dial(context.Background(), "unix:guid=abc"); err == nil {
		t.Error("Dial of unix address without path succeeded, want error")
	}
}
