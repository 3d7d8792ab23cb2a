package lia

import (
	"strings"
	"testing"
)

func TestObjectPathValid(t *testing.T) {
	tests := []struct {
		in    ObjectPath
		valid bool
	}{
		{"/", true},
		{"/org", true},
		{"/org/example/myapp1/MyObj1", true},
		{"/a_b/C9", true},
		{"", false},
		{"org/example", false},
		{"/org/", false},
		{"/org//example", false},
		{"/org/ex-ample", false},
		{"/org/ex.ample", false},
		{"/ünï", false},
	}
	for _, tc := range tests {
		err := tc.in.Valid()
		if gotValid := err == nil; gotValid != tc.valid {
			t.Errorf("ObjectPath(%q).Valid() = %v, want valid=%v", tc.in, err, tc.valid)
		}
	}
}

func TestObjectPathChildren(t *testing.T) {
	tests := []struct {
		p, parent ObjectPath
		isChild   bool
		childName string
	}{
		{"/org", "/", true, "org"},
		{"/org/example/myapp1", "/", true, "org"},
		{"/org/example/myapp1", "/org", true, "example"},
		{"/org/example/myapp1", "/org/example", true, "myapp1"},
		{"/org", "/org", false, ""},
		{"/", "/", false, ""},
		{"/orgx", "/org", false, ""},
		{"/org", "/org/example", false, ""},
	}
	for _, tc := range tests {
		if got := tc.p.IsChildOf(tc.parent); got != tc.isChild {
			t.Errorf("%q.IsChildOf(%q) = %v, want %v", tc.p, tc.parent, got, tc.isChild)
		}
		if got := tc.p.childName(tc.parent); got != tc.childName {
			t.Errorf("%q.childName(%q) = %q, want %q", tc.p, tc.parent, got, tc.childName)
		}
	}
}

func TestValidInterfaceName(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"org.example.myapp.MyObj1Iface", true},
		{"a.b", true},
		{"org.freedesktop.DBus.Error.UnknownMethod", true},
		{"_a.b_", true},
		{"", false},
		{"org", false},
		{"org..example", false},
		{"org.example.", false},
		{"org.9example", false},
		{"org.ex-ample", false},
		{"not an error name", false},
		{"a." + strings.Repeat("b", 254), false},
	}
	for _, tc := range tests {
		err := validInterfaceName(tc.in)
		if gotValid := err == nil; gotValid != tc.valid {
			t.Errorf("validInterfaceName(%q) = %v, want valid=%v", tc.in, err, tc.valid)
		}
	}
}

func TestValidMemberName(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"Ask", true},
		{"Get_Machine_Id2", true},
		{"", false},
		{"2Ask", false},
		{"Ask.Me", false},
		{"Ask-Me", false},
		{strings.Repeat("a", 256), false},
	}
	for _, tc := range tests {
		err := validMemberName(tc.in)
		if gotValid := err == nil; gotValid != tc.valid {
			t.Errorf("validMemberName(%q) = %v, want valid=%v", tc.in, err, tc.valid)
		}
	}
}

func TestValidBusName(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"org.example.myapp", true},
		{"org.example.my-app", true},
		{"org.freedesktop.DBus", true},
		{":1.42", true},
		{":1.42.7", true},
		{"", false},
		{"myapp", false},
		{":1", false},
		{"org..example", false},
		{"org.9example", false},
		{"org.example!", false},
		{"org.example." + strings.Repeat("a", 250), false},
	}
	for _, tc := range tests {
		err := ValidBusName(tc.in)
		if gotValid := err == nil; gotValid != tc.valid {
			t.Errorf("ValidBusName(%q) = %v, want valid=%v", tc.in, err, tc.valid)
		}
	}
}
