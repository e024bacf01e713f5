package bridge

import (
	"context"

	"github.com/nerrad567/tinkerforge2mqtt/internal/brickd"
	"github.com/nerrad567/tinkerforge2mqtt/internal/devices"
)

// HardwareLink is one live connection to the hardware.
type HardwareLink interface {
	devices.HardwareConn

	// Enumerate asks every device to announce itself.
	Enumerate(ctx context.Context) error

	// SetOnEnumerate installs the enumeration callback.
	SetOnEnumerate(callback func(devices.Descriptor, devices.EnumerationType))

	// Done is closed when the link is gone.
	Done() <-chan struct{}

	// Close tears the link down.
	Close() error
}

// HardwareDialer opens a fresh hardware link.
type HardwareDialer func(ctx context.Context) (HardwareLink, error)

// BrickdDialer returns a HardwareDialer connecting to brickd.
func BrickdDialer(cfg brickd.Config, logger brickd.Logger) HardwareDialer {
	return func(ctx context.Context) (HardwareLink, error) {
		c, err := brickd.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			c.SetLogger(logger)
		}
		return &brickdLink{client: c}, nil
	}
}

// brickdLink adapts *brickd.Client to HardwareLink.
type brickdLink struct {
	client *brickd.Client
}

func (l *brickdLink) DMX(uid string) (devices.DMXDevice, error) {
	d, err := brickd.NewDMX(l.client, uid)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (l *brickdLink) LCD(uid string) (devices.LCDDevice, error) {
	d, err := brickd.NewLCD128x64(l.client, uid)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (l *brickdLink) Enumerate(ctx context.Context) error {
	return l.client.Enumerate(ctx)
}

func (l *brickdLink) SetOnEnumerate(callback func(devices.Descriptor, devices.EnumerationType)) {
	l.client.SetOnEnumerate(func(e brickd.Enumeration) {
		desc, kind := descriptorFromEnumeration(e)
		callback(desc, kind)
	})
}

func (l *brickdLink) Done() <-chan struct{} {
	return l.client.Done()
}

func (l *brickdLink) Close() error {
	return l.client.Close()
}

// Stats exposes the brickd counters to the status reporter.
func (l *brickdLink) Stats() brickd.Stats {
	return l.client.Stats()
}

func descriptorFromEnumeration(e brickd.Enumeration) (devices.Descriptor, devices.EnumerationType) {
	desc := devices.Descriptor{
		UID:              e.UID,
		ConnectedUID:     e.ConnectedUID,
		Position:         e.Position,
		DeviceIdentifier: e.DeviceIdentifier,
		HardwareVersion:  e.HardwareVersion,
		FirmwareVersion:  e.FirmwareVersion,
	}
	var kind devices.EnumerationType
	switch e.Type {
	case brickd.EnumerationConnected:
		kind = devices.Connected
	case brickd.EnumerationDisconnected:
		kind = devices.Disconnected
	default:
		kind = devices.Available
	}
	return desc, kind
}
