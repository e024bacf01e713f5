// Package brickd implements the client side of the Tinkerforge TCP/IP
// protocol spoken by brickd and by Bricks with a network interface.
//
// Only what the bridge uses is implemented:
//   - connect / disconnect
//   - enumerate and the enumerate callback
//   - DMX Bricklet: set_dmx_mode, write_frame
//   - LCD 128x64 Bricklet: clear_display, write_line
//
// # Packet layout
//
// Every packet starts with an 8 byte little-endian header:
//
//	offset 0  uint32  UID of the addressed device (0 = broadcast)
//	offset 4  uint8   total packet length including the header
//	offset 5  uint8   function ID
//	offset 6  uint8   sequence number (bits 4-7), response expected (bit 3)
//	offset 7  uint8   error code (bits 6-7)
//
// Sequence number 0 is reserved for callbacks; requests cycle through 1..15.
// A response is matched to its request by UID, function ID and sequence.
//
// # Thread Safety
//
// Client methods are safe for concurrent use. Enumerate callbacks are
// delivered in arrival order on a single goroutine so a "connected" event is
// never overtaken by the "disconnected" event that follows it.
package brickd
