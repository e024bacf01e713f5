package brickd

import (
	"errors"
	"fmt"

	"github.com/nerrad567/tinkerforge2mqtt/internal/resilience"
)

// Transport errors. All of them are transient: the link may come back.
var (
	// ErrNotConnected is returned when the client has no live connection.
	ErrNotConnected = fmt.Errorf("brickd: not connected: %w", resilience.ErrTransient)

	// ErrConnectionFailed is returned when dialing brickd fails.
	ErrConnectionFailed = fmt.Errorf("brickd: connection failed: %w", resilience.ErrTransient)

	// ErrTimeout is returned when a device does not answer in time.
	ErrTimeout = fmt.Errorf("brickd: response timeout: %w", resilience.ErrTransient)
)

// Protocol and device errors.
var (
	// ErrProtocol indicates a malformed packet.
	ErrProtocol = errors.New("brickd: protocol error")

	// ErrInvalidUID is returned for UID strings that are not valid base58.
	ErrInvalidUID = errors.New("brickd: invalid uid")

	// ErrInvalidParameter is the device's answer to an out-of-range argument.
	ErrInvalidParameter = errors.New("brickd: invalid parameter")

	// ErrFunctionNotSupported is the device's answer to an unknown function ID.
	ErrFunctionNotSupported = errors.New("brickd: function not supported")

	// ErrDevice covers any other non-zero error code in a response.
	ErrDevice = errors.New("brickd: device error")
)

// errorFromCode maps the 2-bit header error code to a sentinel.
func errorFromCode(code uint8) error {
	switch code {
	case 0:
		return nil
	case 1:
		return ErrInvalidParameter
	case 2:
		return ErrFunctionNotSupported
	default:
		return fmt.Errorf("%w: code %d", ErrDevice, code)
	}
}
