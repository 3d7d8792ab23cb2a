package lia

import (
	"errors"
	"fmt"
	"io"

	"github.com/freesocial/lia/fragments"
)

const (
	// maxMessageLen is the largest message the D-Bus specification
	// allows.
	maxMessageLen = 128 << 20
	// fixedHeaderLen is the length of the fixed part of a message
	// header, plus the length prefix of the header field array.
	fixedHeaderLen = 16
)

// msgType is the type of a D-Bus message.
type msgType byte

const (
	msgTypeCall msgType = iota + 1
	msgTypeReturn
	msgTypeError
	msgTypeSignal
)

const (
	flagNoReplyExpected = 0x1
	flagNoAutoStart     = 0x2
)

// Header field codes.
const (
	fieldPath        = 1
	fieldInterface   = 2
	fieldMember      = 3
	fieldErrName     = 4
	fieldReplySerial = 5
	fieldDestination = 6
	fieldSender      = 7
	fieldSignature   = 8
	fieldNumFDs      = 9
)

// header is a D-Bus message header.
type header struct {
	// Order is the message's byte order.
	Order fragments.ByteOrder
	// Type is the message's type.
	Type msgType
	// Flags is the message's flag byte.
	Flags byte
	// Version is the protocol version.
	Version uint8
	// Length is the length of the message body, not including the
	// header or padding between header and body.
	Length uint32
	// Serial is the serial for this message. It must be non-zero.
	Serial uint32

	// Path is the target object for a call, or the source object
	// for a signal.
	Path ObjectPath
	// Interface is the interface to target for a call, or the
	// source interface for a signal.
	Interface string
	// Member is the method name for a call, or signal name for a
	// signal.
	Member string
	// ErrName is the name of the error that occurred.
	ErrName string
	// ReplySerial is the message serial to which this message is
	// replying.
	ReplySerial uint32
	// Destination is the target for a message.
	Destination string
	// Sender is the unique name of the message sender, filled in by
	// the bus.
	Sender string
	// Signature is the type signature of the message body.
	Signature Signature
	// NumFDs is the number of file descriptors attached to the
	// message.
	NumFDs uint32
}

// Valid checks that the message header is valid for its message type.
func (h *header) Valid() error {
	if h.Serial == 0 {
		return errors.New("invalid message with zero Serial")
	}
	switch h.Type {
	case 0:
		return errors.New("invalid message with Type 0")
	case msgTypeCall:
		if h.Path == "" {
			return errors.New("missing required header field Path")
		}
		if h.Member == "" {
			return errors.New("missing required header field Member")
		}
	case msgTypeReturn:
		if h.ReplySerial == 0 {
			return errors.New("missing required header field ReplySerial")
		}
	case msgTypeError:
		if h.ReplySerial == 0 {
			return errors.New("missing required header field ReplySerial")
		}
		if h.ErrName == "" {
			return errors.New("missing required header field ErrName")
		}
	case msgTypeSignal:
		if h.Path == "" {
			return errors.New("missing required header field Path")
		}
		if h.Interface == "" {
			return errors.New("missing required header field Interface")
		}
		if h.Member == "" {
			return errors.New("missing required header field Member")
		}
	default:
		// Unknown message types must be ignored, not rejected.
	}
	return nil
}

// WantReply reports whether this message requires a response.
func (h *header) WantReply() bool {
	return h.Type == msgTypeCall && h.Flags&flagNoReplyExpected == 0
}

// encodeMessage returns the wire encoding of a message with the
// given header and body. The header's Length and Signature are
// computed from body.
func encodeMessage(h *header, body []Value) ([]byte, error) {
	sig := signatureOfValues(body)
	bodyBytes, err := Marshal(h.Order, sig, body)
	if err != nil {
		return nil, err
	}
	if len(bodyBytes) > maxMessageLen {
		return nil, fmt.Errorf("message body of %d bytes exceeds maximum message size", len(bodyBytes))
	}
	h.Signature = sig
	h.Length = uint32(len(bodyBytes))

	e := fragments.Encoder{Order: h.Order}
	e.ByteOrderFlag()
	e.Uint8(uint8(h.Type))
	e.Uint8(h.Flags)
	e.Uint8(h.Version)
	e.Uint32(h.Length)
	e.Uint32(h.Serial)
	err = e.Array(true, func() error {
		field := func(code uint8, v Value) error {
			return e.Struct(func() error {
				e.Uint8(code)
				return encodeValue(&e, MakeVariant(v))
			})
		}
		if h.Path != "" {
			p, err := ObjectPathValue(h.Path)
			if err != nil {
				return err
			}
			if err := field(fieldPath, p); err != nil {
				return err
			}
		}
		strs := []struct {
			code uint8
			val  string
		}{
			{fieldInterface, h.Interface},
			{fieldMember, h.Member},
			{fieldErrName, h.ErrName},
			{fieldDestination, h.Destination},
			{fieldSender, h.Sender},
		}
		for _, s := range strs {
			if s.val == "" {
				continue
			}
			if err := field(s.code, String(s.val)); err != nil {
				return err
			}
		}
		if h.ReplySerial != 0 {
			if err := field(fieldReplySerial, Uint32(h.ReplySerial)); err != nil {
				return err
			}
		}
		if !h.Signature.IsZero() {
			if err := field(fieldSignature, SignatureValue(h.Signature)); err != nil {
				return err
			}
		}
		if h.NumFDs != 0 {
			if err := field(fieldNumFDs, Uint32(h.NumFDs)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("encoding message header: %w", err)
	}
	e.Pad(8)
	return append(e.Out, bodyBytes...), nil
}

// readMessage reads one message from r, and returns its header and
// undecoded body.
func readMessage(r io.Reader) (*header, []byte, error) {
	var fixed [fixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, nil, err
	}
	order, err := fragments.OrderForFlag(fixed[0])
	if err != nil {
		return nil, nil, err
	}
	bodyLen := order.Uint32(fixed[4:8])
	fieldsLen := order.Uint32(fixed[12:16])
	hdrLen := fixedHeaderLen + int(fieldsLen)
	if pad := hdrLen % 8; pad != 0 {
		hdrLen += 8 - pad
	}
	if uint64(hdrLen)+uint64(bodyLen) > maxMessageLen {
		return nil, nil, fmt.Errorf("message of %d bytes exceeds maximum message size", uint64(hdrLen)+uint64(bodyLen))
	}

	buf := make([]byte, hdrLen+int(bodyLen))
	copy(buf, fixed[:])
	if _, err := io.ReadFull(r, buf[fixedHeaderLen:]); err != nil {
		return nil, nil, err
	}
	h, err := decodeHeader(buf[:hdrLen])
	if err != nil {
		return nil, nil, err
	}
	return h, buf[hdrLen:], nil
}

// decodeHeader decodes a complete message header, including its
// trailing padding.
func decodeHeader(bs []byte) (*header, error) {
	d := fragments.Decoder{In: bs}
	if err := d.ByteOrderFlag(); err != nil {
		return nil, err
	}
	h := &header{Order: d.Order}
	var (
		typ uint8
		err error
	)
	if typ, err = d.Uint8(); err != nil {
		return nil, err
	}
	h.Type = msgType(typ)
	if h.Flags, err = d.Uint8(); err != nil {
		return nil, err
	}
	if h.Version, err = d.Uint8(); err != nil {
		return nil, err
	}
	if h.Version != 1 {
		return nil, fmt.Errorf("unsupported protocol version %d", h.Version)
	}
	if h.Length, err = d.Uint32(); err != nil {
		return nil, err
	}
	if h.Serial, err = d.Uint32(); err != nil {
		return nil, err
	}
	_, err = d.Array(true, func(int) error {
		return d.Struct(func() error {
			code, err := d.Uint8()
			if err != nil {
				return err
			}
			v, err := decodeValue(&d, TypeVariant, 0)
			if err != nil {
				return err
			}
			inner, _ := v.AsVariant()
			return h.setField(code, inner)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("decoding message header: %w", err)
	}
	if err := d.Pad(8); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *header) setField(code uint8, v Value) error {
	var ok bool
	switch code {
	case fieldPath:
		h.Path, ok = v.AsObjectPath()
	case fieldInterface:
		h.Interface, ok = v.AsString()
	case fieldMember:
		h.Member, ok = v.AsString()
	case fieldErrName:
		h.ErrName, ok = v.AsString()
	case fieldReplySerial:
		h.ReplySerial, ok = v.AsUint32()
	case fieldDestination:
		h.Destination, ok = v.AsString()
	case fieldSender:
		h.Sender, ok = v.AsString()
	case fieldSignature:
		h.Signature, ok = v.AsSignature()
	case fieldNumFDs:
		h.NumFDs, ok = v.AsUint32()
	default:
		// Unknown header fields must be ignored.
		return nil
	}
	if !ok {
		return fmt.Errorf("header field %d has unexpected type %q", code, v.Type())
	}
	return nil
}
