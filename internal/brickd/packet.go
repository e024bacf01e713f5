package brickd

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants.
const (
	headerSize    = 8
	maxPacketSize = 80

	// DefaultPort is the brickd TCP port.
	DefaultPort = 4223

	functionEnumerate         = 254
	callbackEnumerate         = 253
	enumeratePayloadSize      = 26
	broadcastUID       uint32 = 0
)

// Header is the fixed 8 byte packet header.
type Header struct {
	UID              uint32
	Length           uint8
	FunctionID       uint8
	Sequence         uint8
	ResponseExpected bool
	ErrorCode        uint8
}

// EncodePacket builds a request packet. Length is derived from the payload.
func EncodePacket(h Header, payload []byte) ([]byte, error) {
	total := headerSize + len(payload)
	if total > maxPacketSize {
		return nil, fmt.Errorf("%w: packet of %d bytes exceeds %d", ErrProtocol, total, maxPacketSize)
	}
	if h.Sequence > 15 {
		return nil, fmt.Errorf("%w: sequence %d out of range", ErrProtocol, h.Sequence)
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], h.UID)
	buf[4] = uint8(total)
	buf[5] = h.FunctionID
	buf[6] = h.Sequence << 4
	if h.ResponseExpected {
		buf[6] |= 1 << 3
	}
	buf[7] = h.ErrorCode << 6
	copy(buf[headerSize:], payload)
	return buf, nil
}

// DecodeHeader parses the first 8 bytes of a packet.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", ErrProtocol, len(b))
	}

	h := Header{
		UID:              binary.LittleEndian.Uint32(b[0:4]),
		Length:           b[4],
		FunctionID:       b[5],
		Sequence:         b[6] >> 4,
		ResponseExpected: b[6]&(1<<3) != 0,
		ErrorCode:        b[7] >> 6,
	}
	if h.Length < headerSize || h.Length > maxPacketSize {
		return Header{}, fmt.Errorf("%w: invalid length %d", ErrProtocol, h.Length)
	}
	return h, nil
}

// fixedString reads a NUL-padded char[n] field.
func fixedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// putFixedString writes s into a char[len(dst)] field. Runes above U+00FF
// have no single-byte form and are sent as '?'.
func putFixedString(dst []byte, s string) {
	i := 0
	for _, r := range s {
		if i == len(dst) {
			break
		}
		if r > 0xFF {
			r = '?'
		}
		dst[i] = byte(r)
		i++
	}
	for ; i < len(dst); i++ {
		dst[i] = 0
	}
}
