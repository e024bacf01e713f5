package devices

import "errors"

// Domain errors for the devices package.
var (
	// ErrDuplicateFactory is returned when a device identifier is registered twice.
	ErrDuplicateFactory = errors.New("devices: factory already registered")

	// ErrUnsupportedDevice is returned when no factory exists for a device identifier.
	ErrUnsupportedDevice = errors.New("devices: unsupported device")

	// ErrInvalidChannel is returned when a DMX channel or fixture lies outside the universe.
	ErrInvalidChannel = errors.New("devices: invalid DMX channel")

	// ErrNotAttached is returned when no hardware link is attached to the registry.
	ErrNotAttached = errors.New("devices: no hardware link")

	// ErrHandlerClosed is returned by commands reaching a handler the registry removed.
	ErrHandlerClosed = errors.New("devices: handler closed")
)
