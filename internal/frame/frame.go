package frame

import (
	"encoding/binary"
	"errors"
	"math"
)

const (
	OpcodeContinuation = 0x0 // Continuation frame
	OpcodeText         = 0x1 // Text frame (UTF-8)
	OpcodeBinary       = 0x2 // Binary frame
	OpcodeClose        = 0x8 // Connection close
	OpcodePing         = 0x9 // Ping
	OpcodePong         = 0xA // Pong
)

// DefaultFragmentSize is the payload budget of a single outbound fragment.
// It is one less than a 64 byte frame budget so the length always fits in
// the base length field.
const DefaultFragmentSize = 63

// MaxBaseLength is the largest length that fits the 7-bit length field.
const MaxBaseLength = 125

var (
	// ErrIncomplete is returned by Parse when the buffer does not yet hold a whole frame.
	ErrIncomplete = errors.New("incomplete frame")
	// ErrUnmaskedFrame is a protocol violation: every client frame must be masked.
	ErrUnmaskedFrame = errors.New("received unmasked frame, all frames from the client must be masked")
	// ErrLengthNotImplemented is returned for the 64-bit extended length form.
	ErrLengthNotImplemented = errors.New("64-bit payload length not implemented")
	// ErrReservedBits is returned when RSV1-3 are set without a negotiated extension.
	ErrReservedBits = errors.New("non-zero reserved bits set without negotiated extension")
)

// Frame is one decoded or to-be-encoded WebSocket frame.
// Payload is always held unmasked.
type Frame struct {
	FIN        bool
	OPCODE     uint8
	IsMasked   bool
	MaskingKey [4]byte
	Payload    []byte
}

// New builds an unmasked frame, the way the server sends it.
func New(FIN bool, OPCODE uint8, payload []byte) Frame {
	return Frame{FIN: FIN, OPCODE: OPCODE, Payload: payload}
}

// NewMasked builds a frame the way a client would send it.
func NewMasked(FIN bool, OPCODE uint8, key [4]byte, payload []byte) Frame {
	return Frame{FIN: FIN, OPCODE: OPCODE, IsMasked: true, MaskingKey: key, Payload: payload}
}

// IsText reports whether f starts a text message.
func (f *Frame) IsText() bool {
	return f.OPCODE == OpcodeText
}

// IsControl reports whether f is a close, ping or pong frame.
func (f *Frame) IsControl() bool {
	return f.OPCODE == OpcodeClose || f.OPCODE == OpcodePing || f.OPCODE == OpcodePong
}

// IsData reports whether f carries message data, continuation included.
func (f *Frame) IsData() bool {
	return f.OPCODE == OpcodeContinuation || f.OPCODE == OpcodeText || f.OPCODE == OpcodeBinary
}

// headerLength returns the payload length and the offset of the masking key.
func headerLength(raw []byte) (length int, offset int, err error) {
	length = int(raw[1] & 0b01111111)
	offset = 2

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return 0, offset, ErrIncomplete
		}
		length = int(binary.BigEndian.Uint16(raw[offset : offset+2]))
		offset += 2
	case 127:
		return 0, offset, ErrLengthNotImplemented
	}

	return length, offset, nil
}

// Parse decodes the first frame held in raw and returns how many bytes it used.
// It returns ErrIncomplete when raw is a valid prefix of a frame; the caller
// is expected to read more bytes and retry with the grown buffer.
// The returned payload never aliases raw.
func Parse(raw []byte) (Frame, int, error) {
	var f Frame

	if len(raw) < 2 {
		return f, 0, ErrIncomplete
	}

	f.FIN = raw[0]&0b10000000 != 0
	f.OPCODE = raw[0] & 0b00001111
	f.IsMasked = raw[1]&0b10000000 != 0

	if raw[0]&0b01110000 != 0 {
		return f, 0, ErrReservedBits
	}
	if !f.IsMasked {
		return f, 0, ErrUnmaskedFrame
	}

	length, offset, err := headerLength(raw)
	if err != nil {
		return f, 0, err
	}

	if len(raw) < offset+4 {
		return f, 0, ErrIncomplete
	}
	copy(f.MaskingKey[:], raw[offset:offset+4])
	offset += 4

	if len(raw) < offset+length {
		return f, 0, ErrIncomplete
	}

	f.Payload = make([]byte, length)
	copy(f.Payload, raw[offset:offset+length])
	Mask(f.Payload, f.MaskingKey)

	return f, offset + length, nil
}

// Decode decodes raw as exactly one frame. Unlike Parse, a short buffer is an error.
func Decode(raw []byte) (Frame, error) {
	f, _, err := Parse(raw)
	return f, err
}

// CalcLength returns the encoded size of f.
func (f *Frame) CalcLength() int {
	length := 2 + len(f.Payload)

	if f.IsMasked {
		length += 4
	}

	switch {
	case len(f.Payload) <= MaxBaseLength:
	case len(f.Payload) <= math.MaxUint16:
		length += 2
	default:
		length += 8
	}

	return length
}

// Bytes encodes f using the shortest length form, masking the payload when IsMasked is set.
func (f *Frame) Bytes() []byte {
	b := make([]byte, 2, f.CalcLength())
	n := len(f.Payload)

	b[0] = f.OPCODE
	if f.FIN {
		b[0] |= 0x80
	}
	if f.IsMasked {
		b[1] |= 0x80
	}

	if n <= MaxBaseLength {
		b[1] |= byte(n)
	} else if n <= math.MaxUint16 {
		b[1] |= 126
		b = binary.BigEndian.AppendUint16(b, uint16(n))
	} else {
		b[1] |= 127
		b = binary.BigEndian.AppendUint64(b, uint64(n))
	}

	if f.IsMasked {
		b = append(b, f.MaskingKey[:]...)
		start := len(b)
		b = append(b, f.Payload...)
		Mask(b[start:], f.MaskingKey)
	} else {
		b = append(b, f.Payload...)
	}

	return b
}

// AppendFragments appends the server encoding of payload to dst.
// The payload is split into fragments of at most size bytes. The first
// fragment carries the text opcode, the last one carries FIN, and the ones
// in between are bare continuation frames. Server frames are never masked.
// An empty payload is sent as a single empty final text frame.
func AppendFragments(dst []byte, payload []byte, size int) []byte {
	if size <= 0 || size > MaxBaseLength {
		size = DefaultFragmentSize
	}

	if len(payload) == 0 {
		return append(dst, 0x80|OpcodeText, 0)
	}

	for start := 0; start < len(payload); start += size {
		end := min(start+size, len(payload))

		var header byte
		if start == 0 {
			header |= OpcodeText
		}
		if end == len(payload) {
			header |= 0x80
		}

		dst = append(dst, header, byte(end-start))
		dst = append(dst, payload[start:end]...)
	}

	return dst
}

// FragmentCount returns how many frames AppendFragments produces for n payload bytes.
func FragmentCount(n, size int) int {
	if size <= 0 || size > MaxBaseLength {
		size = DefaultFragmentSize
	}
	if n == 0 {
		return 1
	}
	return (n + size - 1) / size
}
