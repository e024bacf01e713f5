package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/tinkerforge2mqtt/internal/brickd"
	"github.com/nerrad567/tinkerforge2mqtt/internal/devices"
	"github.com/nerrad567/tinkerforge2mqtt/internal/resilience"
)

var errRefused = fmt.Errorf("connection refused: %w", resilience.ErrTransient)

type fakeMQTT struct {
	mu          sync.Mutex
	published   map[string]string
	count       int
	handlers    map[string]func(string, []byte) error
	onReconnect func()
	closed      bool
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{
		published: make(map[string]string),
		handlers:  make(map[string]func(string, []byte) error),
	}
}

func (m *fakeMQTT) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[topic] = string(payload)
	m.count++
	return nil
}

func (m *fakeMQTT) Subscribe(topic string, _ byte, handler func(string, []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *fakeMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *fakeMQTT) IsConnected() bool { return true }

func (m *fakeMQTT) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeMQTT) SetOnReconnect(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = callback
}

func (m *fakeMQTT) get(topic string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[topic]
}

func (m *fakeMQTT) publishCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *fakeMQTT) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMQTT) reconnectHook() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onReconnect
}

type nopDMX struct{ writes atomic.Int32 }

func (d *nopDMX) SetDMXMode(context.Context, uint8) error { return nil }
func (d *nopDMX) WriteFrame(context.Context, []byte) error {
	d.writes.Add(1)
	return nil
}

type nopLCD struct{}

func (nopLCD) ClearDisplay(context.Context) error                   { return nil }
func (nopLCD) WriteLine(context.Context, uint8, uint8, string) error { return nil }

type fakeLink struct {
	devices []devices.Descriptor
	dmx     *nopDMX

	mu           sync.Mutex
	onEnumerate  func(devices.Descriptor, devices.EnumerationType)
	enumerations int
	done         chan struct{}
	closeOnce    sync.Once
	closed       atomic.Bool
}

func newFakeLink(descs ...devices.Descriptor) *fakeLink {
	return &fakeLink{devices: descs, dmx: &nopDMX{}, done: make(chan struct{})}
}

func (l *fakeLink) DMX(string) (devices.DMXDevice, error) { return l.dmx, nil }
func (l *fakeLink) LCD(string) (devices.LCDDevice, error) { return nopLCD{}, nil }

func (l *fakeLink) Enumerate(context.Context) error {
	select {
	case <-l.done:
		return errors.New("link down")
	default:
	}
	l.mu.Lock()
	cb := l.onEnumerate
	l.enumerations++
	l.mu.Unlock()
	for _, d := range l.devices {
		if cb != nil {
			cb(d, devices.Available)
		}
	}
	return nil
}

func (l *fakeLink) SetOnEnumerate(callback func(devices.Descriptor, devices.EnumerationType)) {
	l.mu.Lock()
	l.onEnumerate = callback
	l.mu.Unlock()
}

func (l *fakeLink) Done() <-chan struct{} { return l.done }

// drop simulates the link failing underneath the loop.
func (l *fakeLink) drop() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *fakeLink) Close() error {
	l.closed.Store(true)
	l.drop()
	return nil
}

func (l *fakeLink) enumerationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enumerations
}

// linkDialer hands out the given links in order, failing `failFirst` times first.
type linkDialer struct {
	mu        sync.Mutex
	links     []*fakeLink
	failFirst int
	dials     int
}

func (d *linkDialer) dial(context.Context) (HardwareLink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failFirst > 0 {
		d.failFirst--
		return nil, errRefused
	}
	if len(d.links) == 0 {
		return nil, errRefused
	}
	l := d.links[0]
	d.links = d.links[1:]
	return l, nil
}

func (d *linkDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type recordingMetrics struct {
	mu         sync.Mutex
	states     []string
	failures   map[string]int
	reconnects map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failures: map[string]int{}, reconnects: map[string]int{}}
}

func (m *recordingMetrics) SetLoopState(s string) {
	m.mu.Lock()
	m.states = append(m.states, s)
	m.mu.Unlock()
}
func (m *recordingMetrics) SetTargetStatus(string, string) {}
func (m *recordingMetrics) IncConnectFailures(kind string) {
	m.mu.Lock()
	m.failures[kind]++
	m.mu.Unlock()
}
func (m *recordingMetrics) IncReconnects(kind string) {
	m.mu.Lock()
	m.reconnects[kind]++
	m.mu.Unlock()
}
func (m *recordingMetrics) IncEnumerations() {}

func (m *recordingMetrics) failuresFor(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[kind]
}

func (m *recordingMetrics) reconnectsFor(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects[kind]
}

type brickdType = brickd.EnumerationType

func enumeration(uid string, kind brickd.EnumerationType) brickd.Enumeration {
	return brickd.Enumeration{
		UID:              uid,
		ConnectedUID:     "6Dct25",
		Position:         'a',
		DeviceIdentifier: brickd.DeviceIdentifierDMX,
		Type:             kind,
	}
}
