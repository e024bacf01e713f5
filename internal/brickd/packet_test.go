package brickd

import (
	"errors"
	"testing"
)

func TestEncodePacket_HeaderBits(t *testing.T) {
	packet, err := EncodePacket(Header{
		UID:              0x01020304,
		FunctionID:       functionEnumerate,
		Sequence:         5,
		ResponseExpected: true,
	}, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("EncodePacket() error = %v", err)
	}

	want := []byte{0x04, 0x03, 0x02, 0x01, 10, 254, 5<<4 | 1<<3, 0, 0xAA, 0xBB}
	if string(packet) != string(want) {
		t.Errorf("EncodePacket() = % x, want % x", packet, want)
	}
}

func TestDecodeHeader_RoundTrip(t *testing.T) {
	in := Header{UID: 135491, FunctionID: 3, Sequence: 15, ErrorCode: 2}
	packet, err := EncodePacket(in, make([]byte, 4))
	if err != nil {
		t.Fatalf("EncodePacket() error = %v", err)
	}

	got, err := DecodeHeader(packet)
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}
	in.Length = 12
	if got != in {
		t.Errorf("DecodeHeader() = %+v, want %+v", got, in)
	}
}

func TestDecodeHeader_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"short", []byte{1, 2, 3}},
		{"length below header", []byte{0, 0, 0, 0, 4, 1, 0, 0}},
		{"length above max", []byte{0, 0, 0, 0, 200, 1, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeHeader(tt.in); !errors.Is(err, ErrProtocol) {
				t.Errorf("DecodeHeader() error = %v, want ErrProtocol", err)
			}
		})
	}
}

func TestEncodePacket_Limits(t *testing.T) {
	if _, err := EncodePacket(Header{}, make([]byte, maxPacketSize)); !errors.Is(err, ErrProtocol) {
		t.Errorf("oversized: error = %v, want ErrProtocol", err)
	}
	if _, err := EncodePacket(Header{Sequence: 16}, nil); !errors.Is(err, ErrProtocol) {
		t.Errorf("sequence 16: error = %v, want ErrProtocol", err)
	}
}

func TestFixedString(t *testing.T) {
	b := make([]byte, 8)
	putFixedString(b, "Gh4")
	if got := fixedString(b); got != "Gh4" {
		t.Errorf("fixedString() = %q, want Gh4", got)
	}

	putFixedString(b, "0123456789")
	if got := fixedString(b); got != "01234567" {
		t.Errorf("fixedString() = %q, want truncation to 8", got)
	}

	putFixedString(b, "ä→")
	if b[0] != 0xE4 || b[1] != '?' {
		t.Errorf("latin-1 encoding = % x, want e4 3f", b[:2])
	}
}

func TestParseEnumeration(t *testing.T) {
	in := Enumeration{
		UID:              "Gh4",
		ConnectedUID:     "6qXZ2k",
		Position:         'a',
		HardwareVersion:  [3]uint8{1, 0, 0},
		FirmwareVersion:  [3]uint8{2, 0, 7},
		DeviceIdentifier: DeviceIdentifierDMX,
		Type:             EnumerationConnected,
	}

	got, err := parseEnumeration(encodeEnumeration(in))
	if err != nil {
		t.Fatalf("parseEnumeration() error = %v", err)
	}
	if got != in {
		t.Errorf("parseEnumeration() = %+v, want %+v", got, in)
	}

	if _, err := parseEnumeration(make([]byte, 10)); !errors.Is(err, ErrProtocol) {
		t.Errorf("short payload: error = %v, want ErrProtocol", err)
	}
}

func TestEnumerationType_String(t *testing.T) {
	if EnumerationDisconnected.String() != "disconnected" {
		t.Errorf("String() = %q", EnumerationDisconnected.String())
	}
	if EnumerationType(9).String() != "unknown(9)" {
		t.Errorf("String() = %q", EnumerationType(9).String())
	}
}

func TestVersionString(t *testing.T) {
	if got := VersionString([3]uint8{2, 0, 7}); got != "2.0.7" {
		t.Errorf("VersionString() = %q", got)
	}
}
