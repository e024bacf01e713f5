package bridge

import (
	"errors"
	"fmt"

	"github.com/nerrad567/tinkerforge2mqtt/internal/resilience"
)

var (
	// ErrMQTTUnavailable is returned by Run when every MQTT connection attempt failed.
	ErrMQTTUnavailable = errors.New("bridge: MQTT broker unavailable")

	// ErrLinkLost is reported when the hardware link closes underneath the loop.
	ErrLinkLost = fmt.Errorf("bridge: hardware link lost: %w", resilience.ErrTransient)

	// ErrInventoryClosed is returned by inventory queries after Close.
	ErrInventoryClosed = errors.New("bridge: inventory closed")
)
