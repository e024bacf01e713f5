package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/tinkerforge2mqtt/internal/homeassistant"
	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/mqtt"
)

// DefaultCallTimeout bounds one hardware call made by a handler.
const DefaultCallTimeout = 2500 * time.Millisecond

// Logger defines the logging interface used by the registry and handlers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handler adapts one physical device to its MQTT entities.
//
// SetupSensors creates the entities and attaches command callbacks and is
// safe to call more than once. SetupCallbacks (re)applies hardware
// configuration. Poll publishes the current state. Close detaches MQTT
// command subscriptions and never touches the hardware.
type Handler interface {
	UID() string
	SetupSensors() error
	SetupCallbacks() error
	Poll() error
	Close() error
}

// DMXDevice is the hardware surface of a DMX bricklet.
type DMXDevice interface {
	SetDMXMode(ctx context.Context, mode uint8) error
	WriteFrame(ctx context.Context, frame []byte) error
}

// LCDDevice is the hardware surface of an LCD 128x64 bricklet.
type LCDDevice interface {
	ClearDisplay(ctx context.Context) error
	WriteLine(ctx context.Context, line, position uint8, text string) error
}

// HardwareConn hands out device handles on the current hardware link.
type HardwareConn interface {
	DMX(uid string) (DMXDevice, error)
	LCD(uid string) (LCDDevice, error)
}

// StateRecorder receives entity state changes for history storage.
// *influxdb.Client satisfies it.
type StateRecorder interface {
	WriteEntityState(uid, object string, fields map[string]any)
}

type noopRecorder struct{}

func (noopRecorder) WriteEntityState(string, string, map[string]any) {}

// Env is what a Factory gets to build a handler.
type Env struct {
	Context     context.Context
	Hardware    HardwareConn
	Publisher   homeassistant.Publisher
	Topics      mqtt.Topics
	QoS         byte
	Logger      Logger
	States      StateRecorder
	CallTimeout time.Duration
}

// Factory builds the handler for one device.
type Factory func(env Env, desc Descriptor) (Handler, error)

// withDefaults fills in a no-op logger and recorder.
func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = noopLogger{}
	}
	if e.States == nil {
		e.States = noopRecorder{}
	}
	if e.Hardware == nil {
		e.Hardware = detachedHardware{}
	}
	return e
}

// detachedHardware stands in when no link is attached.
type detachedHardware struct{}

func (detachedHardware) DMX(string) (DMXDevice, error) { return nil, ErrNotAttached }
func (detachedHardware) LCD(string) (LCDDevice, error) { return nil, ErrNotAttached }

// node builds the Home Assistant node for desc.
func (e Env) node(desc Descriptor) *homeassistant.Node {
	model := ModelName(desc.DeviceIdentifier)
	dev := homeassistant.Device{
		Name:      fmt.Sprintf("%s %s", model, desc.UID),
		Model:     model,
		SWVersion: FormatVersion(desc.FirmwareVersion),
		HWVersion: FormatVersion(desc.HardwareVersion),
	}
	if desc.ConnectedUID != "" && desc.ConnectedUID != "0" {
		dev.ViaDevice = "tinkerforge-" + desc.ConnectedUID
	}
	return homeassistant.NewNode(e.Publisher, e.Topics, e.QoS, desc.UID, dev)
}

// callContext returns a context bounded by the per-call timeout.
func (e Env) callContext() (context.Context, context.CancelFunc) {
	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := e.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// safeCall runs fn, turning a panic into an error, and logs any failure
// with the device and operation it belongs to.
func safeCall(logger Logger, uid, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", op, r)
		}
		if err != nil {
			logger.Error("device operation failed", "uid", uid, "op", op, "error", err)
		}
	}()
	return fn()
}
