package brickd

import (
	"encoding/binary"
	"fmt"
)

// EnumerationType tells why an enumerate callback was sent.
type EnumerationType uint8

// Enumeration types as sent by brickd.
const (
	// EnumerationAvailable answers an explicit Enumerate request.
	EnumerationAvailable EnumerationType = 0
	// EnumerationConnected is sent when a device was (re)powered or plugged in.
	EnumerationConnected EnumerationType = 1
	// EnumerationDisconnected is sent when a device went away.
	EnumerationDisconnected EnumerationType = 2
)

func (t EnumerationType) String() string {
	switch t {
	case EnumerationAvailable:
		return "available"
	case EnumerationConnected:
		return "connected"
	case EnumerationDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Device identifiers of the devices the bridge knows.
const (
	DeviceIdentifierESP32     uint16 = 113
	DeviceIdentifierDMX       uint16 = 285
	DeviceIdentifierLCD128x64 uint16 = 298
)

// Enumeration is the payload of one enumerate callback.
type Enumeration struct {
	UID              string
	ConnectedUID     string
	Position         byte
	HardwareVersion  [3]uint8
	FirmwareVersion  [3]uint8
	DeviceIdentifier uint16
	Type             EnumerationType
}

// parseEnumeration decodes the 26 byte enumerate callback payload:
//
//	char[8] uid, char[8] connected_uid, char position,
//	uint8[3] hardware_version, uint8[3] firmware_version,
//	uint16 device_identifier, uint8 enumeration_type
func parseEnumeration(payload []byte) (Enumeration, error) {
	if len(payload) < enumeratePayloadSize {
		return Enumeration{}, fmt.Errorf("%w: enumerate payload of %d bytes", ErrProtocol, len(payload))
	}

	e := Enumeration{
		UID:              fixedString(payload[0:8]),
		ConnectedUID:     fixedString(payload[8:16]),
		Position:         payload[16],
		DeviceIdentifier: binary.LittleEndian.Uint16(payload[23:25]),
		Type:             EnumerationType(payload[25]),
	}
	copy(e.HardwareVersion[:], payload[17:20])
	copy(e.FirmwareVersion[:], payload[20:23])
	return e, nil
}

// VersionString formats a 3-part version as "major.minor.patch".
func VersionString(v [3]uint8) string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}
