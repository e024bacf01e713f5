package devices

import "fmt"

// EnumerationType tells why a device was reported.
type EnumerationType uint8

const (
	// Available answers an explicit enumeration request.
	Available EnumerationType = iota
	// Connected reports a device that was just plugged in or powered up.
	Connected
	// Disconnected reports a device that went away.
	Disconnected
)

func (t EnumerationType) String() string {
	switch t {
	case Available:
		return "available"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Device identifiers with a handler.
const (
	IdentifierESP32     uint16 = 113
	IdentifierDMX       uint16 = 285
	IdentifierLCD128x64 uint16 = 298
)

// Descriptor identifies one device reported by enumeration.
type Descriptor struct {
	UID              string
	ConnectedUID     string
	Position         byte
	DeviceIdentifier uint16
	HardwareVersion  [3]uint8
	FirmwareVersion  [3]uint8
}

var modelNames = map[uint16]string{
	IdentifierESP32:     "ESP32 Brick",
	IdentifierDMX:       "DMX Bricklet",
	IdentifierLCD128x64: "LCD 128x64 Bricklet",
}

// ModelName returns a display name for a device identifier.
func ModelName(id uint16) string {
	if name, ok := modelNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Device %d", id)
}

// FormatVersion renders a version triple as "major.minor.patch".
func FormatVersion(v [3]uint8) string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}
