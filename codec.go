package lia

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/freesocial/lia/fragments"
)

// maxVariantDepth is the deepest nesting of variants within variants
// that the decoder accepts.
const maxVariantDepth = 64

// EncodeError is the error returned when values cannot be encoded
// against a signature.
type EncodeError struct {
	// Index is the position of the offending top-level value.
	Index int
	// Want is the type the signature declares at Index.
	Want Type
	// Reason explains what is wrong with the value.
	Reason error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encoding value %d as %q: %s", e.Index, e.Want, e.Reason)
}

func (e *EncodeError) Unwrap() error { return e.Reason }

// DecodeError is the error returned when bytes cannot be decoded
// against a signature.
type DecodeError struct {
	// Offset is the byte offset at which decoding failed.
	Offset int
	// Reason explains what is wrong with the input.
	Reason error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding at offset %d: %s", e.Offset, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Reason }

// Marshal encodes vals in the given byte order. vals must match sig
// one for one.
func Marshal(order fragments.ByteOrder, sig Signature, vals []Value) ([]byte, error) {
	e := fragments.Encoder{Order: order}
	if err := marshalInto(&e, sig, vals); err != nil {
		return nil, err
	}
	return e.Out, nil
}

func marshalInto(e *fragments.Encoder, sig Signature, vals []Value) error {
	if len(vals) != sig.Len() {
		return &EncodeError{
			Index:  min(len(vals), sig.Len()),
			Reason: fmt.Errorf("got %d values for signature %q", len(vals), sig),
		}
	}
	for i, v := range vals {
		want := sig.At(i)
		if !v.typ.Equal(want) {
			return &EncodeError{i, want, fmt.Errorf("value has type %q", v.typ)}
		}
		if err := encodeValue(e, v); err != nil {
			return &EncodeError{i, want, err}
		}
	}
	return nil
}

// MarshalValue encodes a single value.
func MarshalValue(order fragments.ByteOrder, v Value) ([]byte, error) {
	return Marshal(order, SignatureOf(v.typ), []Value{v})
}

func encodeValue(e *fragments.Encoder, v Value) error {
	switch v.typ.kind {
	case KindBool:
		e.Bool(v.v.(bool))
	case KindByte:
		e.Uint8(v.v.(uint8))
	case KindInt16:
		e.Int16(v.v.(int16))
	case KindUint16:
		e.Uint16(v.v.(uint16))
	case KindInt32:
		e.Int32(v.v.(int32))
	case KindUint32, KindUnixFD:
		e.Uint32(v.v.(uint32))
	case KindInt64:
		e.Int64(v.v.(int64))
	case KindUint64:
		e.Uint64(v.v.(uint64))
	case KindDouble:
		e.Float64(v.v.(float64))
	case KindString:
		s := v.v.(string)
		if err := validString(s); err != nil {
			return err
		}
		e.String(s)
	case KindObjectPath:
		e.String(string(v.v.(ObjectPath)))
	case KindSignature:
		e.Signature(v.v.(Signature).String())
	case KindVariant:
		inner := v.v.(Value)
		if !inner.IsValid() {
			return errors.New("variant contains an invalid value")
		}
		e.Signature(inner.typ.String())
		return encodeValue(e, inner)
	case KindArray:
		elems := v.v.([]Value)
		return e.Array(v.typ.elemAlign() == 8, func() error {
			for _, elem := range elems {
				if err := encodeValue(e, elem); err != nil {
					return err
				}
			}
			return nil
		})
	case KindDict:
		entries := v.v.([]DictEntry)
		return e.Array(true, func() error {
			for _, ent := range entries {
				err := e.Struct(func() error {
					if err := encodeValue(e, ent.Key); err != nil {
						return err
					}
					return encodeValue(e, ent.Value)
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	case KindStruct:
		fields := v.v.([]Value)
		return e.Struct(func() error {
			for _, f := range fields {
				if err := encodeValue(e, f); err != nil {
					return err
				}
			}
			return nil
		})
	default:
		return errors.New("cannot encode invalid value")
	}
	return nil
}

// Unmarshal decodes values of the types in sig from bs, which must
// contain exactly those values.
func Unmarshal(order fragments.ByteOrder, sig Signature, bs []byte) ([]Value, error) {
	d := fragments.Decoder{Order: order, In: bs}
	vals, err := unmarshalFrom(&d, sig)
	if err != nil {
		return nil, err
	}
	if d.Remaining() != 0 {
		return nil, &DecodeError{d.Offset(), fmt.Errorf("%d trailing bytes after values", d.Remaining())}
	}
	return vals, nil
}

func unmarshalFrom(d *fragments.Decoder, sig Signature) ([]Value, error) {
	ret := make([]Value, 0, sig.Len())
	for _, t := range sig.types {
		v, err := decodeValue(d, t, 0)
		if err != nil {
			return nil, &DecodeError{d.Offset(), err}
		}
		ret = append(ret, v)
	}
	return ret, nil
}

// UnmarshalValue decodes a single value of type t.
func UnmarshalValue(order fragments.ByteOrder, t Type, bs []byte) (Value, error) {
	vals, err := Unmarshal(order, SignatureOf(t), bs)
	if err != nil {
		return Value{}, err
	}
	return vals[0], nil
}

func decodeValue(d *fragments.Decoder, t Type, variants int) (Value, error) {
	switch t.kind {
	case KindBool:
		b, err := d.Bool()
		return Value{t, b}, err
	case KindByte:
		u, err := d.Uint8()
		return Value{t, u}, err
	case KindInt16:
		i, err := d.Int16()
		return Value{t, i}, err
	case KindUint16:
		u, err := d.Uint16()
		return Value{t, u}, err
	case KindInt32:
		i, err := d.Int32()
		return Value{t, i}, err
	case KindUint32, KindUnixFD:
		u, err := d.Uint32()
		return Value{t, u}, err
	case KindInt64:
		i, err := d.Int64()
		return Value{t, i}, err
	case KindUint64:
		u, err := d.Uint64()
		return Value{t, u}, err
	case KindDouble:
		f, err := d.Float64()
		return Value{t, f}, err
	case KindString:
		s, err := d.String()
		if err != nil {
			return Value{}, err
		}
		if err := validString(s); err != nil {
			return Value{}, err
		}
		return Value{t, s}, nil
	case KindObjectPath:
		s, err := d.String()
		if err != nil {
			return Value{}, err
		}
		return ObjectPathValue(ObjectPath(s))
	case KindSignature:
		s, err := d.Signature()
		if err != nil {
			return Value{}, err
		}
		sig, err := ParseSignature(s)
		if err != nil {
			return Value{}, err
		}
		return Value{t, sig}, nil
	case KindVariant:
		if variants >= maxVariantDepth {
			return Value{}, fmt.Errorf("variants nested deeper than %d", maxVariantDepth)
		}
		s, err := d.Signature()
		if err != nil {
			return Value{}, err
		}
		inner, err := ParseType(s)
		if err != nil {
			return Value{}, err
		}
		v, err := decodeValue(d, inner, variants+1)
		if err != nil {
			return Value{}, err
		}
		return MakeVariant(v), nil
	case KindArray:
		elem := t.elems[0]
		var elems []Value
		_, err := d.Array(t.elemAlign() == 8, func(int) error {
			v, err := decodeValue(d, elem, variants)
			if err != nil {
				return err
			}
			elems = append(elems, v)
			return nil
		})
		if err != nil {
			return Value{}, err
		}
		return Value{t, elems}, nil
	case KindDict:
		key, val := t.elems[0], t.elems[1]
		var entries []DictEntry
		_, err := d.Array(true, func(int) error {
			return d.Struct(func() error {
				k, err := decodeValue(d, key, variants)
				if err != nil {
					return err
				}
				v, err := decodeValue(d, val, variants)
				if err != nil {
					return err
				}
				entries = append(entries, DictEntry{k, v})
				return nil
			})
		})
		if err != nil {
			return Value{}, err
		}
		return Value{t, entries}, nil
	case KindStruct:
		fields := make([]Value, 0, len(t.elems))
		err := d.Struct(func() error {
			for _, ft := range t.elems {
				v, err := decodeValue(d, ft, variants)
				if err != nil {
					return err
				}
				fields = append(fields, v)
			}
			return nil
		})
		if err != nil {
			return Value{}, err
		}
		return Value{t, fields}, nil
	default:
		return Value{}, fmt.Errorf("cannot decode type %q", t)
	}
}

func validString(s string) error {
	if !utf8.ValidString(s) {
		return errors.New("string is not valid UTF-8")
	}
	if strings.IndexByte(s, 0) >= 0 {
		return errors.New("string contains a NUL byte")
	}
	return nil
}
