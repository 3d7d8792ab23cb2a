package lia

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// A Value is a typed value that can be carried in a message body.
//
// Values are immutable. Constructors check that the value matches
// its type, so a Value that was built without error is always
// well-formed. The zero Value is invalid.
type Value struct {
	typ Type
	// v holds the payload: a Go basic type for basic kinds, Value
	// for variants, []Value for arrays and structs and []DictEntry
	// for dicts.
	v any
}

// DictEntry is one key/value pair of a dict Value.
type DictEntry struct {
	Key   Value
	Value Value
}

// Constructors for basic values.

func Bool(b bool) Value { return Value{TypeBool, b} }
func Byte(b uint8) Value { return Value{TypeByte, b} }
func Int16(i int16) Value { return Value{TypeInt16, i} }
func Uint16(u uint16) Value { return Value{TypeUint16, u} }
func Int32(i int32) Value { return Value{TypeInt32, i} }
func Uint32(u uint32) Value { return Value{TypeUint32, u} }
func Int64(i int64) Value { return Value{TypeInt64, i} }
func Uint64(u uint64) Value { return Value{TypeUint64, u} }
func Double(f float64) Value { return Value{TypeDouble, f} }
func String(s string) Value { return Value{TypeString, s} }
func SignatureValue(s Signature) Value { return Value{TypeSignature, s} }

// UnixFD returns a file descriptor value. idx is an index into the
// file descriptors attached to the message, not a descriptor number.
func UnixFD(idx uint32) Value { return Value{TypeUnixFD, idx} }

// ObjectPathValue returns an object path value. It returns an error
// if p is not a valid object path.
func ObjectPathValue(p ObjectPath) (Value, error) {
	if err := p.Valid(); err != nil {
		return Value{}, err
	}
	return Value{TypeObjectPath, p}, nil
}

// MakeVariant wraps v in a variant.
func MakeVariant(v Value) Value {
	return Value{TypeVariant, v}
}

// MakeArray returns an array of elem values. Every value must have
// type elem.
func MakeArray(elem Type, vals ...Value) (Value, error) {
	if elem.IsZero() {
		return Value{}, errors.New("array of invalid element type")
	}
	for i, v := range vals {
		if !v.typ.Equal(elem) {
			return Value{}, fmt.Errorf("array element %d has type %q, want %q", i, v.typ, elem)
		}
	}
	return Value{ArrayOf(elem), append([]Value(nil), vals...)}, nil
}

// MakeStruct returns a struct with the given fields. At least one
// field is required.
func MakeStruct(fields ...Value) (Value, error) {
	types := make([]Type, 0, len(fields))
	for i, f := range fields {
		if !f.IsValid() {
			return Value{}, fmt.Errorf("struct field %d is invalid", i)
		}
		types = append(types, f.typ)
	}
	t, err := StructOf(types...)
	if err != nil {
		return Value{}, err
	}
	return Value{t, append([]Value(nil), fields...)}, nil
}

// MakeDict returns a dict mapping key to val types. Every entry must
// match the declared types.
func MakeDict(key, val Type, entries []DictEntry) (Value, error) {
	t, err := DictOf(key, val)
	if err != nil {
		return Value{}, err
	}
	if val.IsZero() {
		return Value{}, errors.New("dict of invalid value type")
	}
	for i, e := range entries {
		if !e.Key.typ.Equal(key) {
			return Value{}, fmt.Errorf("dict entry %d key has type %q, want %q", i, e.Key.typ, key)
		}
		if !e.Value.typ.Equal(val) {
			return Value{}, fmt.Errorf("dict entry %d value has type %q, want %q", i, e.Value.typ, val)
		}
	}
	return Value{t, append([]DictEntry(nil), entries...)}, nil
}

// MustArray is like [MakeArray], but panics on error.
func MustArray(elem Type, vals ...Value) Value {
	return must(MakeArray(elem, vals...))
}

// MustStruct is like [MakeStruct], but panics on error.
func MustStruct(fields ...Value) Value {
	return must(MakeStruct(fields...))
}

// MustDict is like [MakeDict], but panics on error.
func MustDict(key, val Type, entries []DictEntry) Value {
	return must(MakeDict(key, val, entries))
}

func must(v Value, err error) Value {
	if err != nil {
		panic(err)
	}
	return v
}

// Type returns the value's type.
func (v Value) Type() Type { return v.typ }

// IsValid reports whether v is a constructed value, as opposed to
// the zero Value.
func (v Value) IsValid() bool { return !v.typ.IsZero() }

func (v Value) AsBool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

func (v Value) AsByte() (uint8, bool) {
	b, ok := v.v.(uint8)
	return b, ok
}

func (v Value) AsInt16() (int16, bool) {
	i, ok := v.v.(int16)
	return i, ok
}

func (v Value) AsUint16() (uint16, bool) {
	u, ok := v.v.(uint16)
	return u, ok
}

func (v Value) AsInt32() (int32, bool) {
	i, ok := v.v.(int32)
	return i, ok
}

func (v Value) AsInt64() (int64, bool) {
	i, ok := v.v.(int64)
	return i, ok
}

func (v Value) AsUint64() (uint64, bool) {
	u, ok := v.v.(uint64)
	return u, ok
}

func (v Value) AsDouble() (float64, bool) {
	f, ok := v.v.(float64)
	return f, ok
}

// AsUint32 returns the value of a uint32. Unix fd indices are
// reported by [Value.AsUnixFD] instead.
func (v Value) AsUint32() (uint32, bool) {
	if v.typ.kind != KindUint32 {
		return 0, false
	}
	return v.v.(uint32), true
}

// AsString returns the value of a string.
func (v Value) AsString() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

func (v Value) AsObjectPath() (ObjectPath, bool) {
	p, ok := v.v.(ObjectPath)
	return p, ok
}

func (v Value) AsSignature() (Signature, bool) {
	s, ok := v.v.(Signature)
	return s, ok
}

// AsUnixFD returns the message file descriptor index of a unix fd
// value.
func (v Value) AsUnixFD() (uint32, bool) {
	if v.typ.kind != KindUnixFD {
		return 0, false
	}
	return v.v.(uint32), true
}

// AsVariant returns the value contained in a variant.
func (v Value) AsVariant() (Value, bool) {
	inner, ok := v.v.(Value)
	return inner, ok
}

// Elems returns the elements of an array or the fields of a struct.
func (v Value) Elems() []Value {
	vs, _ := v.v.([]Value)
	return append([]Value(nil), vs...)
}

// Entries returns the entries of a dict.
func (v Value) Entries() []DictEntry {
	es, _ := v.v.([]DictEntry)
	return append([]DictEntry(nil), es...)
}

// Len returns the number of elements in an array, struct or dict,
// and 0 for other kinds.
func (v Value) Len() int {
	switch x := v.v.(type) {
	case []Value:
		return len(x)
	case []DictEntry:
		return len(x)
	}
	return 0
}

// Equal reports whether v and o have the same type and contents.
// Doubles compare by bit pattern, so a NaN equals itself.
func (v Value) Equal(o Value) bool {
	if !v.typ.Equal(o.typ) {
		return false
	}
	switch x := v.v.(type) {
	case float64:
		return math.Float64bits(x) == math.Float64bits(o.v.(float64))
	case Signature:
		return x.Equal(o.v.(Signature))
	case Value:
		return x.Equal(o.v.(Value))
	case []Value:
		y := o.v.([]Value)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !x[i].Equal(y[i]) {
				return false
			}
		}
		return true
	case []DictEntry:
		y := o.v.([]DictEntry)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !x[i].Key.Equal(y[i].Key) || !x[i].Value.Equal(y[i].Value) {
				return false
			}
		}
		return true
	default:
		return v.v == o.v
	}
}

// String returns a human readable rendering of v, such as
// `("hello", [1, 2], <true>)`.
func (v Value) String() string {
	var b strings.Builder
	v.format(&b)
	return b.String()
}

func (v Value) format(b *strings.Builder) {
	switch x := v.v.(type) {
	case nil:
		b.WriteString("<invalid>")
	case string:
		b.WriteString(strconv.Quote(x))
	case ObjectPath:
		fmt.Fprintf(b, "objectpath %q", string(x))
	case Signature:
		fmt.Fprintf(b, "signature %q", x.String())
	case Value:
		b.WriteByte('<')
		x.format(b)
		b.WriteByte('>')
	case []Value:
		open, close := "[", "]"
		if v.typ.kind == KindStruct {
			open, close = "(", ")"
		}
		b.WriteString(open)
		for i, e := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			e.format(b)
		}
		b.WriteString(close)
	case []DictEntry:
		b.WriteByte('{')
		for i, e := range x {
			if i > 0 {
				b.WriteString(", ")
			}
			e.Key.format(b)
			b.WriteString(": ")
			e.Value.format(b)
		}
		b.WriteByte('}')
	case uint32:
		if v.typ.kind == KindUnixFD {
			fmt.Fprintf(b, "fd#%d", x)
			return
		}
		fmt.Fprint(b, x)
	default:
		fmt.Fprint(b, x)
	}
}

// signatureOfValues returns the signature describing vals.
func signatureOfValues(vals []Value) Signature {
	types := make([]Type, len(vals))
	for i, v := range vals {
		types[i] = v.typ
	}
	return SignatureOf(types...)
}
