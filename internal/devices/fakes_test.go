package devices

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/mqtt"
)

var errHardware = errors.New("hardware said no")

type fakeDMX struct {
	mu     sync.Mutex
	modes  []uint8
	frames [][]byte
	err    error
}

func (d *fakeDMX) SetDMXMode(_ context.Context, mode uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.modes = append(d.modes, mode)
	return nil
}

func (d *fakeDMX) WriteFrame(_ context.Context, frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.frames = append(d.frames, append([]byte(nil), frame...))
	return nil
}

func (d *fakeDMX) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDMX) lastFrame() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil
	}
	return d.frames[len(d.frames)-1]
}

func (d *fakeDMX) frameCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func (d *fakeDMX) modeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.modes)
}

type lcdWrite struct {
	line     uint8
	position uint8
	text     string
}

type fakeLCD struct {
	mu       sync.Mutex
	clears   int
	writes   []lcdWrite
	clearErr error
	writeErr error
}

func (l *fakeLCD) ClearDisplay(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.clearErr != nil {
		return l.clearErr
	}
	l.clears++
	l.writes = nil
	return nil
}

func (l *fakeLCD) WriteLine(_ context.Context, line, position uint8, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil && text != LCDFailMessage {
		return l.writeErr
	}
	l.writes = append(l.writes, lcdWrite{line: line, position: position, text: text})
	return nil
}

type fakeHardware struct {
	dmx *fakeDMX
	lcd *fakeLCD
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{dmx: &fakeDMX{}, lcd: &fakeLCD{}}
}

func (h *fakeHardware) DMX(string) (DMXDevice, error) { return h.dmx, nil }
func (h *fakeHardware) LCD(string) (LCDDevice, error) { return h.lcd, nil }

type fakePublisher struct {
	mu       sync.Mutex
	retained map[string]string
	handlers map[string]func(string, []byte) error
	count    int
	subErr   error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		retained: make(map[string]string),
		handlers: make(map[string]func(string, []byte) error),
	}
}

func (p *fakePublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retained[topic] = string(payload)
	p.count++
	return nil
}

func (p *fakePublisher) Subscribe(topic string, _ byte, handler func(string, []byte) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subErr != nil {
		return p.subErr
	}
	p.handlers[topic] = handler
	return nil
}

// rejectSubscribes makes Subscribe fail with err until called with nil.
func (p *fakePublisher) rejectSubscribes(err error) {
	p.mu.Lock()
	p.subErr = err
	p.mu.Unlock()
}

// handler returns the command handler subscribed on topic.
func (p *fakePublisher) handler(t *testing.T, topic string) func(string, []byte) error {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handlers[topic]
	require.True(t, ok, "no subscription for %s", topic)
	return h
}

func (p *fakePublisher) Unsubscribe(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, topic)
	return nil
}

func (p *fakePublisher) get(topic string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retained[topic]
}

func (p *fakePublisher) subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

func (p *fakePublisher) deliver(t *testing.T, topic, payload string) error {
	t.Helper()
	p.mu.Lock()
	h, ok := p.handlers[topic]
	p.mu.Unlock()
	require.True(t, ok, "no subscription for %s", topic)
	return h(topic, []byte(payload))
}

type recordedState struct {
	uid    string
	object string
	fields map[string]any
}

type fakeRecorder struct {
	mu     sync.Mutex
	states []recordedState
}

func (r *fakeRecorder) WriteEntityState(uid, object string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, recordedState{uid: uid, object: object, fields: fields})
}

var testTopics = mqtt.Topics{DiscoveryPrefix: "homeassistant", Prefix: "tinkerforge"}

func testEnv(hw HardwareConn, pub *fakePublisher) Env {
	return Env{
		Context:   context.Background(),
		Hardware:  hw,
		Publisher: pub,
		Topics:    testTopics,
		QoS:       1,
	}
}

func dmxDescriptor(uid string) Descriptor {
	return Descriptor{
		UID:              uid,
		ConnectedUID:     "6Dct25",
		Position:         'a',
		DeviceIdentifier: IdentifierDMX,
		HardwareVersion:  [3]uint8{1, 0, 0},
		FirmwareVersion:  [3]uint8{2, 0, 1},
	}
}
