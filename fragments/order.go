package fragments

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/cpu"
)

// ByteOrder is a binary.ByteOrder that also knows its wire flag
// byte.
type ByteOrder interface {
	byteOrder
	flag() byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type wrapStd struct {
	byteOrder
	wire byte
}

func (w wrapStd) flag() byte { return w.wire }

func nativeFlag() byte {
	if cpu.IsBigEndian {
		return 'B'
	}
	return 'l'
}

var (
	BigEndian    ByteOrder = wrapStd{binary.BigEndian, 'B'}
	LittleEndian ByteOrder = wrapStd{binary.LittleEndian, 'l'}
	NativeEndian ByteOrder = wrapStd{binary.NativeEndian, nativeFlag()}
)

// OrderForFlag returns the ByteOrder denoted by the given wire flag
// byte.
func OrderForFlag(flag byte) (ByteOrder, error) {
	switch flag {
	case 'B':
		return BigEndian, nil
	case 'l':
		return LittleEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order flag %q", flag)
	}
}
