package lia

import (
	"github.com/creachadair/mds/mapset"
)

// Kind is the type code of a [Type], as it appears in a type
// signature string.
type Kind byte

const (
	KindInvalid    Kind = 0
	KindBool       Kind = 'b'
	KindByte       Kind = 'y'
	KindInt16      Kind = 'n'
	KindUint16     Kind = 'q'
	KindInt32      Kind = 'i'
	KindUint32     Kind = 'u'
	KindInt64      Kind = 'x'
	KindUint64     Kind = 't'
	KindDouble     Kind = 'd'
	KindString     Kind = 's'
	KindObjectPath Kind = 'o'
	KindSignature  Kind = 'g'
	KindUnixFD     Kind = 'h'
	KindVariant    Kind = 'v'
	KindArray      Kind = 'a'
	KindStruct     Kind = '('
	KindDict       Kind = '{'
)

var (
	// basicKinds is the set of kinds that can be dictionary keys.
	basicKinds = mapset.New(
		KindBool,
		KindByte,
		KindInt16,
		KindUint16,
		KindInt32,
		KindUint32,
		KindInt64,
		KindUint64,
		KindDouble,
		KindString,
		KindObjectPath,
		KindSignature,
		KindUnixFD,
	)

	// kindNames are human readable names for kinds, for error
	// messages.
	kindNames = map[Kind]string{
		KindBool:       "bool",
		KindByte:       "byte",
		KindInt16:      "int16",
		KindUint16:     "uint16",
		KindInt32:      "int32",
		KindUint32:     "uint32",
		KindInt64:      "int64",
		KindUint64:     "uint64",
		KindDouble:     "double",
		KindString:     "string",
		KindObjectPath: "objectpath",
		KindSignature:  "signature",
		KindUnixFD:     "unixfd",
		KindVariant:    "variant",
		KindArray:      "array",
		KindStruct:     "struct",
		KindDict:       "dict",
	}

	// kindAlign is the wire alignment of each kind.
	kindAlign = map[Kind]int{
		KindBool:       4,
		KindByte:       1,
		KindInt16:      2,
		KindUint16:     2,
		KindInt32:      4,
		KindUint32:     4,
		KindInt64:      8,
		KindUint64:     8,
		KindDouble:     8,
		KindString:     4,
		KindObjectPath: 4,
		KindSignature:  1,
		KindUnixFD:     4,
		KindVariant:    1,
		KindArray:      4,
		KindStruct:     8,
		KindDict:       4,
	}
)

// IsBasic reports whether k is a basic (non-container) kind.
func (k Kind) IsBasic() bool {
	return basicKinds.Has(k)
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "invalid"
}
