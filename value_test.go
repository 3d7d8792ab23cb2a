package lia

import (
	"math"
	"testing"
)

func TestValueString(t *testing.T) {
	tests := []struct {
		in   Value
		want string
	}{
		{Bool(true), "true"},
		{Int32(-3), "-3"},
		{String("hello"), `"hello"`},
		{UnixFD(2), "fd#2"},
		{Uint32(2), "2"},
		{must(ObjectPathValue("/a/b")), `objectpath "/a/b"`},
		{SignatureValue(MustParseSignature("a{sv}")), `signature "a{sv}"`},
		{
			MustStruct(String("hello"), MustArray(TypeInt32, Int32(1), Int32(2)), MakeVariant(Bool(true))),
			`("hello", [1, 2], <true>)`,
		},
		{
			MustDict(TypeString, TypeByte, []DictEntry{{String("a"), Byte(1)}, {String("b"), Byte(2)}}),
			`{"a": 1, "b": 2}`,
		},
		{Value{}, "<invalid>"},
	}
	for _, tc := range tests {
		if got := tc.in.String(); got != tc.want {
			t.Errorf("String() = %s, want %s", got, tc.want)
		}
	}
}

func TestValueConstructors(t *testing.T) {
	if _, err := MakeArray(TypeString, String("a"), Int32(1)); err == nil {
		t.Error("MakeArray with mismatched element succeeded")
	}
	if _, err := MakeArray(Type{}); err == nil {
		t.Error("MakeArray of invalid type succeeded")
	}
	if _, err := MakeStruct(); err == nil {
		t.Error("MakeStruct with no fields succeeded")
	}
	if _, err := MakeStruct(String("a"), Value{}); err == nil {
		t.Error("MakeStruct with invalid field succeeded")
	}
	if _, err := MakeDict(TypeVariant, TypeString, nil); err == nil {
		t.Error("MakeDict with variant key succeeded")
	}
	if _, err := MakeDict(TypeString, TypeByte, []DictEntry{{String("a"), String("b")}}); err == nil {
		t.Error("MakeDict with mismatched value succeeded")
	}
	if _, err := ObjectPathValue("relative"); err == nil {
		t.Error("ObjectPathValue of relative path succeeded")
	}

	arr := MustArray(TypeString, String("a"), String("b"))
	if got, want := arr.Type().String(), "as"; got != want {
		t.Errorf("array type = %q, want %q", got, want)
	}
	if arr.Len() != 2 {
		t.Errorf("array Len() = %d, want 2", arr.Len())
	}
	// Elems returns a copy.
	elems := arr.Elems()
	elems[0] = String("z")
	if s, _ := arr.Elems()[0].AsString(); s != "a" {
		t.Errorf("modifying Elems() result changed the array to %s", arr)
	}

	d := MustDict(TypeString, TypeVariant, []DictEntry{{String("k"), MakeVariant(Int64(1))}})
	if got, want := d.Type().String(), "a{sv}"; got != want {
		t.Errorf("dict type = %q, want %q", got, want)
	}
	inner, ok := d.Entries()[0].Value.AsVariant()
	if !ok {
		t.Fatal("dict value is not a variant")
	}
	if i, ok := inner.AsInt64(); !ok || i != 1 {
		t.Errorf("variant contents = %s, want 1", inner)
	}
}

func TestValueAccessors(t *testing.T) {
	if _, ok := Int32(1).AsString(); ok {
		t.Error("AsString on int32 succeeded")
	}
	if _, ok := UnixFD(1).AsUint32(); ok {
		t.Error("AsUint32 on unix fd succeeded")
	}
	if _, ok := Uint32(1).AsUnixFD(); ok {
		t.Error("AsUnixFD on uint32 succeeded")
	}
	if fd, ok := UnixFD(4).AsUnixFD(); !ok || fd != 4 {
		t.Errorf("AsUnixFD = %d, %v, want 4, true", fd, ok)
	}
	if p, ok := must(ObjectPathValue("/x")).AsObjectPath(); !ok || p != "/x" {
		t.Errorf("AsObjectPath = %q, %v, want /x, true", p, ok)
	}
	if (Value{}).IsValid() {
		t.Error("zero Value is valid")
	}
	if !Byte(0).IsValid() {
		t.Error("Byte(0) is not valid")
	}
}

func TestValueEqual(t *testing.T) {
	nan := Double(math.NaN())
	tests := []struct {
		a, b Value
		want bool
	}{
		{Int32(1), Int32(1), true},
		{Int32(1), Uint32(1), false},
		{Uint32(1), UnixFD(1), false},
		{String("a"), String("b"), false},
		{nan, nan, true},
		{MakeVariant(Byte(1)), MakeVariant(Byte(1)), true},
		{MakeVariant(Byte(1)), MakeVariant(Int16(1)), false},
		{MustArray(TypeByte, Byte(1)), MustArray(TypeByte, Byte(1), Byte(2)), false},
		{MustArray(TypeByte), MustArray(TypeByte), true},
		{
			MustDict(TypeString, TypeByte, []DictEntry{{String("a"), Byte(1)}}),
			MustDict(TypeString, TypeByte, []DictEntry{{String("a"), Byte(2)}}),
			false,
		},
		{SignatureValue(MustParseSignature("as")), SignatureValue(MustParseSignature("as")), true},
	}
	for _, tc := range tests {
		if got := tc.a.Equal(tc.b); got != tc.want {
			t.Errorf("%s.Equal(%s) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
