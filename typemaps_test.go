package lia

import (
	"errors"
	"testing"
)

func TestTypeMaps(t *testing.T) {
	for k, name := range kindNames {
		if _, ok := kindAlign[k]; !ok {
			t.Errorf("kind %s has no alignment", name)
		}
		if got := k.String(); got != name {
			t.Errorf("Kind(%q).String() = %q, want %q", byte(k), got, name)
		}
	}
	if len(kindAlign) != len(kindNames) {
		t.Errorf("kindAlign has %d entries, kindNames has %d", len(kindAlign), len(kindNames))
	}

	for k := range basicKinds {
		typ, err := ParseType(string(k))
		if err != nil {
			t.Errorf("ParseType(%q) got err: %v", string(k), err)
			continue
		}
		if typ.Kind() != k {
			t.Errorf("ParseType(%q).Kind() = %v, want %v", string(k), typ.Kind(), k)
		}
		if !k.IsBasic() {
			t.Errorf("%v.IsBasic() = false", k)
		}
	}
	for _, k := range []Kind{KindVariant, KindArray, KindStruct, KindDict, KindInvalid} {
		if k.IsBasic() {
			t.Errorf("%v.IsBasic() = true", k)
		}
	}
	if got := Kind('z').String(); got != "invalid" {
		t.Errorf("Kind('z').String() = %q, want invalid", got)
	}
}

func TestCache(t *testing.T) {
	var c cache[string, int]
	if _, err := c.Get("a"); !errors.Is(err, errNotFound) {
		t.Errorf("Get of empty cache got err %v, want errNotFound", err)
	}
	c.Set("a", 1)
	if v, err := c.Get("a"); err != nil || v != 1 {
		t.Errorf("Get(a) = %d, %v, want 1, nil", v, err)
	}
	boom := errors.New("boom")
	c.SetErr("b", boom)
	if _, err := c.Get("b"); !errors.Is(err, boom) {
		t.Errorf("Get(b) got err %v, want %v", err, boom)
	}
}
