package lia

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxSignatureLen = 255
	maxArrayDepth   = 32
	maxStructDepth  = 32
)

// A Type describes the type of a single value, such as "s", "a{sv}"
// or "(ib)".
//
// The zero Type is invalid, and describes no value.
type Type struct {
	kind Kind
	// elems are the inner types of containers: the element of an
	// array, the key and value of a dict, the fields of a struct.
	elems []Type
	str   string
}

// Kind returns the type's kind.
func (t Type) Kind() Kind { return t.kind }

// String returns the type's signature string.
func (t Type) String() string { return t.str }

// IsZero reports whether t is the zero Type.
func (t Type) IsZero() bool { return t.kind == KindInvalid }

// Equal reports whether t and o describe the same type.
func (t Type) Equal(o Type) bool { return t.str == o.str }

// Elem returns the element type of an array, or the value type of a
// dict. It returns the zero Type for other kinds.
func (t Type) Elem() Type {
	switch t.kind {
	case KindArray:
		return t.elems[0]
	case KindDict:
		return t.elems[1]
	}
	return Type{}
}

// Key returns the key type of a dict, or the zero Type for other
// kinds.
func (t Type) Key() Type {
	if t.kind != KindDict {
		return Type{}
	}
	return t.elems[0]
}

// Fields returns the field types of a struct.
func (t Type) Fields() []Type {
	if t.kind != KindStruct {
		return nil
	}
	return append([]Type(nil), t.elems...)
}

// align returns the wire alignment of values of type t.
func (t Type) align() int {
	return kindAlign[t.kind]
}

// elemAlign returns the alignment of an array or dict's elements.
func (t Type) elemAlign() int {
	if t.kind == KindDict {
		return 8
	}
	return t.elems[0].align()
}

func basicType(k Kind) Type {
	return Type{kind: k, str: string(rune(k))}
}

// Basic types.
var (
	TypeBool       = basicType(KindBool)
	TypeByte       = basicType(KindByte)
	TypeInt16      = basicType(KindInt16)
	TypeUint16     = basicType(KindUint16)
	TypeInt32      = basicType(KindInt32)
	TypeUint32     = basicType(KindUint32)
	TypeInt64      = basicType(KindInt64)
	TypeUint64     = basicType(KindUint64)
	TypeDouble     = basicType(KindDouble)
	TypeString     = basicType(KindString)
	TypeObjectPath = basicType(KindObjectPath)
	TypeSignature  = basicType(KindSignature)
	TypeUnixFD     = basicType(KindUnixFD)
	TypeVariant    = basicType(KindVariant)
)

// ArrayOf returns the type of arrays of elem.
func ArrayOf(elem Type) Type {
	return Type{kind: KindArray, elems: []Type{elem}, str: "a" + elem.str}
}

// DictOf returns the type of dicts mapping key to val. key must be a
// basic type.
func DictOf(key, val Type) (Type, error) {
	if !key.kind.IsBasic() {
		return Type{}, fmt.Errorf("invalid dict key type %q, must be a basic type", key)
	}
	return Type{kind: KindDict, elems: []Type{key, val}, str: "a{" + key.str + val.str + "}"}, nil
}

// StructOf returns the type of structs with the given fields. At
// least one field is required.
func StructOf(fields ...Type) (Type, error) {
	if len(fields) == 0 {
		return Type{}, errors.New("structs must have at least one field")
	}
	var s strings.Builder
	s.WriteByte('(')
	for _, f := range fields {
		s.WriteString(f.str)
	}
	s.WriteByte(')')
	return Type{kind: KindStruct, elems: append([]Type(nil), fields...), str: s.String()}, nil
}

// A Signature is an ordered sequence of types, describing for
// example the arguments of a method call.
type Signature struct {
	types []Type
	str   string
}

// SignatureOf returns the Signature made of the given types.
func SignatureOf(types ...Type) Signature {
	var s strings.Builder
	for _, t := range types {
		s.WriteString(t.str)
	}
	return Signature{append([]Type(nil), types...), s.String()}
}

// String returns the signature string.
func (s Signature) String() string { return s.str }

// IsZero reports whether the signature is empty. An empty Signature
// describes a void value.
func (s Signature) IsZero() bool { return len(s.types) == 0 }

// Len returns the number of types in the signature.
func (s Signature) Len() int { return len(s.types) }

// At returns the i-th type of the signature.
func (s Signature) At(i int) Type { return s.types[i] }

// Types returns the signature's types.
func (s Signature) Types() []Type { return append([]Type(nil), s.types...) }

// Equal reports whether s and o describe the same types.
func (s Signature) Equal(o Signature) bool { return s.str == o.str }

var (
	strToSignature cache[string, Signature]
	strToType      cache[string, Type]
)

// ParseSignature parses a type signature string.
func ParseSignature(sig string) (Signature, error) {
	if ret, err := strToSignature.Get(sig); !errors.Is(err, errNotFound) {
		return ret, err
	}

	ret, err := parseSignature(sig)
	if err != nil {
		err = fmt.Errorf("invalid type signature %q: %w", sig, err)
		strToSignature.SetErr(sig, err)
		return Signature{}, err
	}
	strToSignature.Set(sig, ret)
	return ret, nil
}

func parseSignature(sig string) (Signature, error) {
	if len(sig) > maxSignatureLen {
		return Signature{}, fmt.Errorf("signature longer than %d bytes", maxSignatureLen)
	}
	var (
		rest  = sig
		parts []Type
		part  Type
		err   error
	)
	for rest != "" {
		part, rest, err = parseOne(rest, false, depth{})
		if err != nil {
			return Signature{}, err
		}
		parts = append(parts, part)
	}
	return Signature{parts, sig}, nil
}

// MustParseSignature is like [ParseSignature], but panics if sig is
// invalid.
func MustParseSignature(sig string) Signature {
	ret, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return ret
}

// ParseType parses a signature string that contains exactly one
// complete type.
func ParseType(sig string) (Type, error) {
	if ret, err := strToType.Get(sig); !errors.Is(err, errNotFound) {
		return ret, err
	}

	s, err := ParseSignature(sig)
	if err == nil && s.Len() != 1 {
		err = fmt.Errorf("type signature %q must contain exactly one complete type, found %d", sig, s.Len())
	}
	if err != nil {
		strToType.SetErr(sig, err)
		return Type{}, err
	}
	strToType.Set(sig, s.types[0])
	return s.types[0], nil
}

// MustParseType is like [ParseType], but panics if sig is invalid.
func MustParseType(sig string) Type {
	ret, err := ParseType(sig)
	if err != nil {
		panic(err)
	}
	return ret
}

// depth tracks container nesting during parsing.
type depth struct {
	arrays, structs int
}

// parseOne consumes the first complete type from the front of sig,
// and returns the corresponding Type as well as the remainder of the
// type string.
func parseOne(sig string, inArray bool, d depth) (t Type, rest string, err error) {
	if sig == "" {
		return Type{}, "", errors.New("unexpected end of signature")
	}
	if k := Kind(sig[0]); k.IsBasic() || k == KindVariant {
		return basicType(k), sig[1:], nil
	}

	switch sig[0] {
	case 'a':
		d.arrays++
		if d.arrays > maxArrayDepth {
			return Type{}, "", fmt.Errorf("arrays nested deeper than %d", maxArrayDepth)
		}
		isDict := len(sig) > 1 && sig[1] == '{'
		elem, rest, err := parseOne(sig[1:], true, d)
		if err != nil {
			return Type{}, "", err
		}
		if isDict {
			return elem, rest, nil // sub-parser already produced a dict
		}
		return ArrayOf(elem), rest, nil
	case '(':
		d.structs++
		if d.structs > maxStructDepth {
			return Type{}, "", fmt.Errorf("structs nested deeper than %d", maxStructDepth)
		}
		var (
			fields []Type
			field  Type
			rest   = sig[1:]
			err    error
		)
		for rest != "" && rest[0] != ')' {
			field, rest, err = parseOne(rest, false, d)
			if err != nil {
				return Type{}, "", err
			}
			fields = append(fields, field)
		}
		if rest == "" {
			return Type{}, "", errors.New("missing closing ) in struct definition")
		}
		ret, err := StructOf(fields...)
		if err != nil {
			return Type{}, "", err
		}
		return ret, rest[1:], nil
	case '{':
		if !inArray {
			return Type{}, "", errors.New("dict entry type found outside array")
		}
		d.structs++
		if d.structs > maxStructDepth {
			return Type{}, "", fmt.Errorf("structs nested deeper than %d", maxStructDepth)
		}
		key, rest, err := parseOne(sig[1:], false, d)
		if err != nil {
			return Type{}, "", err
		}
		if !key.kind.IsBasic() {
			return Type{}, "", fmt.Errorf("invalid dict entry key type %q, must be a basic type", key)
		}
		val, rest, err := parseOne(rest, false, d)
		if err != nil {
			return Type{}, "", err
		}
		if rest == "" || rest[0] != '}' {
			return Type{}, "", errors.New("missing closing } in dict entry definition")
		}
		ret, err := DictOf(key, val)
		if err != nil {
			return Type{}, "", err
		}
		return ret, rest[1:], nil
	default:
		return Type{}, "", fmt.Errorf("unknown type specifier %q", sig[0])
	}
}
