package devices

import (
	"sync"

	"github.com/nerrad567/tinkerforge2mqtt/internal/homeassistant"
)

// ESP32Handler recognises an ESP32 master brick. It has no controls; a
// diagnostic sensor shows its firmware version.
type ESP32Handler struct {
	env  Env
	desc Descriptor

	mu       sync.Mutex
	firmware *homeassistant.Sensor
	closed   bool
}

var _ Handler = (*ESP32Handler)(nil)

// NewESP32Handler creates the handler for one ESP32 brick.
func NewESP32Handler(env Env, desc Descriptor) (Handler, error) {
	return &ESP32Handler{env: env.withDefaults(), desc: desc}, nil
}

func (h *ESP32Handler) UID() string { return h.desc.UID }

func (h *ESP32Handler) SetupSensors() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.firmware != nil {
		return nil
	}
	h.firmware = homeassistant.NewSensor(h.env.node(h.desc), homeassistant.SensorOptions{
		Name:           "Firmware",
		Object:         "firmware",
		Icon:           "mdi:chip",
		EntityCategory: "diagnostic",
		Initial:        FormatVersion(h.desc.FirmwareVersion),
	})
	return nil
}

func (h *ESP32Handler) SetupCallbacks() error { return nil }

func (h *ESP32Handler) Poll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.firmware == nil {
		return nil
	}
	return h.firmware.Publish()
}

func (h *ESP32Handler) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}
