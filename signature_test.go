package lia

import (
	"strings"
	"testing"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in       string
		wantKind Kind
		wantErr  bool
	}{
		{"y", KindByte, false},
		{"b", KindBool, false},
		{"n", KindInt16, false},
		{"q", KindUint16, false},
		{"i", KindInt32, false},
		{"u", KindUint32, false},
		{"x", KindInt64, false},
		{"t", KindUint64, false},
		{"d", KindDouble, false},
		{"s", KindString, false},
		{"g", KindSignature, false},
		{"o", KindObjectPath, false},
		{"h", KindUnixFD, false},
		{"v", KindVariant, false},
		{"as", KindArray, false},
		{"ay", KindArray, false},
		{"aas", KindArray, false},
		{"a{sx}", KindDict, false},
		{"a{sv}", KindDict, false},
		{"aa{sv}", KindArray, false},
		{"(nb)", KindStruct, false},
		{"a(nb)", KindArray, false},
		{"(y(nb))", KindStruct, false},
		{"(asa(nb)aa(y(nb)))", KindStruct, false},
		{"a{s(ia{sv})}", KindDict, false},

		{"", KindInvalid, true},
		{"ss", KindInvalid, true},
		{"a", KindInvalid, true},
		{"()", KindInvalid, true},
		{"(s", KindInvalid, true},
		{"{sv}", KindInvalid, true},
		{"a{vs}", KindInvalid, true},
		{"a{(s)s}", KindInvalid, true},
		{"a{s}", KindInvalid, true},
		{"a{svs}", KindInvalid, true},
		{"z", KindInvalid, true},
		{strings.Repeat("a", 33) + "s", KindInvalid, true},
		{strings.Repeat("(", 33) + "s" + strings.Repeat(")", 33), KindInvalid, true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseType(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseType(%q) = %s, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseType(%q) got err %v", tc.in, err)
			}
			if got.Kind() != tc.wantKind {
				t.Errorf("ParseType(%q).Kind() = %s, want %s", tc.in, got.Kind(), tc.wantKind)
			}
			if got.String() != tc.in {
				t.Errorf("ParseType(%q).String() = %q, want %q", tc.in, got.String(), tc.in)
			}
		})
	}
}

func TestTypeStructure(t *testing.T) {
	dict := MustParseType("a{s(ib)}")
	if got, want := dict.Key(), TypeString; !got.Equal(want) {
		t.Errorf("Key() = %s, want %s", got, want)
	}
	val := dict.Elem()
	if val.Kind() != KindStruct {
		t.Fatalf("Elem().Kind() = %s, want struct", val.Kind())
	}
	fields := val.Fields()
	if len(fields) != 2 || !fields[0].Equal(TypeInt32) || !fields[1].Equal(TypeBool) {
		t.Errorf("Elem().Fields() = %v, want [i b]", fields)
	}

	arr := MustParseType("aay")
	if got := arr.Elem().Elem(); !got.Equal(TypeByte) {
		t.Errorf("Elem().Elem() = %s, want y", got)
	}

	built, err := DictOf(TypeString, ArrayOf(TypeVariant))
	if err != nil {
		t.Fatalf("DictOf failed: %v", err)
	}
	if got, want := built.String(), "a{sav}"; got != want {
		t.Errorf("DictOf(s, av) = %q, want %q", got, want)
	}
	if _, err := DictOf(TypeVariant, TypeString); err == nil {
		t.Error("DictOf with variant key succeeded, want error")
	}
	if _, err := StructOf(); err == nil {
		t.Error("StructOf() with no fields succeeded, want error")
	}
}

func TestParseSignature(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"", nil, false},
		{"s", []string{"s"}, false},
		{"sb", []string{"s", "b"}, false},
		{"a{sv}as(ii)", []string{"a{sv}", "as", "(ii)"}, false},
		{"sa", nil, true},
		{strings.Repeat("s", 256), nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSignature(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseSignature(%q) succeeded, want error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSignature(%q) got err %v", tc.in, err)
			}
			if got.Len() != len(tc.want) {
				t.Fatalf("ParseSignature(%q).Len() = %d, want %d", tc.in, got.Len(), len(tc.want))
			}
			for i, w := range tc.want {
				if got.At(i).String() != w {
					t.Errorf("ParseSignature(%q).At(%d) = %q, want %q", tc.in, i, got.At(i), w)
				}
			}
			if got.String() != tc.in {
				t.Errorf("ParseSignature(%q).String() = %q", tc.in, got.String())
			}
			// Second parse is served from cache and must agree.
			again, err := ParseSignature(tc.in)
			if err != nil || !again.Equal(got) {
				t.Errorf("cached ParseSignature(%q) = %s, %v", tc.in, again, err)
			}
		})
	}
}
