package homeassistant

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/mqtt"
)

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	handlers map[string]func(string, []byte) error
	failNext error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{handlers: make(map[string]func(string, []byte) error)}
}

func (f *fakePublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.messages = append(f.messages, published{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (f *fakePublisher) Subscribe(topic string, _ byte, handler func(string, []byte) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakePublisher) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakePublisher) deliver(t *testing.T, topic, payload string) error {
	t.Helper()
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	require.True(t, ok, "no subscription for %s", topic)
	return h(topic, []byte(payload))
}

func (f *fakePublisher) last(topic string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].topic == topic {
			return f.messages[i].payload, true
		}
	}
	return "", false
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

var testTopics = mqtt.Topics{DiscoveryPrefix: "homeassistant", Prefix: "tinkerforge"}

func newTestNode(pub Publisher) *Node {
	return NewNode(pub, testTopics, 1, "Gh4", Device{Name: "DMX Bricklet", Model: "DMX Bricklet", SWVersion: "2.0.1"})
}

func TestNewNode_Defaults(t *testing.T) {
	n := newTestNode(newFakePublisher())
	assert.Equal(t, []string{"tinkerforge-Gh4"}, n.Device.Identifiers)
	assert.Equal(t, Manufacturer, n.Device.Manufacturer)
}

func TestLight_PublishDiscoveryAndState(t *testing.T) {
	pub := newFakePublisher()
	light := NewLight(newTestNode(pub), LightOptions{
		Name:    "DMX Light",
		Object:  "dmx_light",
		Initial: LightState{On: true, Brightness: 150, RGB: [3]uint8{200, 100, 50}},
	})

	require.NoError(t, light.Publish())

	raw, ok := pub.last("homeassistant/light/Gh4/dmx_light/config")
	require.True(t, ok)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	assert.Equal(t, "DMX Light", cfg["name"])
	assert.Equal(t, "tinkerforge-Gh4-dmx_light", cfg["unique_id"])
	assert.Equal(t, "tinkerforge/bridge/status", cfg["availability_topic"])
	assert.Equal(t, "tinkerforge/Gh4/dmx_light/set", cfg["command_topic"])
	assert.Equal(t, "tinkerforge/Gh4/dmx_light/rgb/set", cfg["rgb_command_topic"])
	device, ok := cfg["device"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Tinkerforge", device["manufacturer"])
	assert.Equal(t, "2.0.1", device["sw_version"])

	state, _ := pub.last("tinkerforge/Gh4/dmx_light/state")
	assert.Equal(t, "ON", state)
	brightness, _ := pub.last("tinkerforge/Gh4/dmx_light/brightness/state")
	assert.Equal(t, "150", brightness)
	rgb, _ := pub.last("tinkerforge/Gh4/dmx_light/rgb/state")
	assert.Equal(t, "200,100,50", rgb)
}

func TestLight_CommandsPassOldAndRequested(t *testing.T) {
	pub := newFakePublisher()
	var gotSwitch [2]bool
	var gotBrightness [2]uint8
	var gotRGB [2][3]uint8

	light := NewLight(newTestNode(pub), LightOptions{
		Object:  "dmx_light",
		Initial: LightState{Brightness: 255, RGB: [3]uint8{255, 255, 255}},
		OnSwitch: func(old, req bool) error {
			gotSwitch = [2]bool{old, req}
			return nil
		},
		OnBrightness: func(old, req uint8) error {
			gotBrightness = [2]uint8{old, req}
			return nil
		},
		OnRGB: func(old, req [3]uint8) error {
			gotRGB = [2][3]uint8{old, req}
			return nil
		},
	})
	require.NoError(t, light.Subscribe())

	require.NoError(t, pub.deliver(t, "tinkerforge/Gh4/dmx_light/set", "ON"))
	assert.Equal(t, [2]bool{false, true}, gotSwitch)

	require.NoError(t, pub.deliver(t, "tinkerforge/Gh4/dmx_light/brightness/set", "150"))
	assert.Equal(t, [2]uint8{255, 150}, gotBrightness)

	require.NoError(t, pub.deliver(t, "tinkerforge/Gh4/dmx_light/rgb/set", "200,100,50"))
	assert.Equal(t, [3]uint8{255, 255, 255}, gotRGB[0])
	assert.Equal(t, [3]uint8{200, 100, 50}, gotRGB[1])

	err := pub.deliver(t, "tinkerforge/Gh4/dmx_light/set", "MAYBE")
	assert.ErrorIs(t, err, ErrInvalidPayload)

	require.NoError(t, light.Unsubscribe())
	assert.Empty(t, pub.handlers)
}

func TestParseRGB(t *testing.T) {
	tests := []struct {
		in      string
		want    [3]uint8
		wantErr bool
	}{
		{in: "1,2,3", want: [3]uint8{1, 2, 3}},
		{in: " 300, -4, 12.6 ", want: [3]uint8{255, 0, 13}},
		{in: "1,2", wantErr: true},
		{in: "a,b,c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRGB(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestText_CommandAndPublish(t *testing.T) {
	pub := newFakePublisher()
	var old, requested string
	text := NewText(newTestNode(pub), TextOptions{
		Name:    "LCD Text",
		Object:  "lcd_text",
		Initial: "boot",
		OnChange: func(o, r string) error {
			old, requested = o, r
			return nil
		},
	})
	require.NoError(t, text.Subscribe())
	require.NoError(t, pub.deliver(t, "tinkerforge/Gh4/lcd_text/set", "hello"))
	assert.Equal(t, "boot", old)
	assert.Equal(t, "hello", requested)

	text.SetValue("hello")
	require.NoError(t, text.Publish())
	got, _ := pub.last("tinkerforge/Gh4/lcd_text/state")
	assert.Equal(t, "hello", got)

	raw, ok := pub.last("homeassistant/text/Gh4/lcd_text/config")
	require.True(t, ok)
	assert.Contains(t, raw, `"max":255`)

	require.NoError(t, text.Unsubscribe())
	require.NoError(t, text.Unsubscribe())
}

func TestSensor_Publish(t *testing.T) {
	pub := newFakePublisher()
	s := NewSensor(newTestNode(pub), SensorOptions{
		Name:           "Firmware",
		Object:         "firmware",
		EntityCategory: "diagnostic",
		Initial:        "2.0.5",
	})
	require.NoError(t, s.Publish())

	got, _ := pub.last("tinkerforge/Gh4/firmware/state")
	assert.Equal(t, "2.0.5", got)
	raw, _ := pub.last("homeassistant/sensor/Gh4/firmware/config")
	assert.Contains(t, raw, `"entity_category":"diagnostic"`)
}

func TestDedup_SuppressesRepeats(t *testing.T) {
	pub := newFakePublisher()
	d := NewDedup(pub)

	require.NoError(t, d.Publish("a", []byte("1"), 1, true))
	require.NoError(t, d.Publish("a", []byte("1"), 1, true))
	assert.Equal(t, 1, pub.count())

	require.NoError(t, d.Publish("a", []byte("2"), 1, true))
	require.NoError(t, d.Publish("b", []byte("2"), 1, true))
	assert.Equal(t, 3, pub.count())

	d.Forget()
	require.NoError(t, d.Publish("a", []byte("2"), 1, true))
	assert.Equal(t, 4, pub.count())
}

func TestDedup_FailedPublishIsRetried(t *testing.T) {
	pub := newFakePublisher()
	d := NewDedup(pub)

	pub.failNext = errors.New("broker gone")
	require.Error(t, d.Publish("a", []byte("1"), 1, true))
	require.NoError(t, d.Publish("a", []byte("1"), 1, true))
	assert.Equal(t, 1, pub.count())
}

func TestLight_RepublishThroughDedupIsQuiet(t *testing.T) {
	pub := newFakePublisher()
	light := NewLight(newTestNode(NewDedup(pub)), LightOptions{Name: "DMX Light", Object: "dmx_light"})

	require.NoError(t, light.Publish())
	first := pub.count()
	require.NoError(t, light.Publish())
	assert.Equal(t, first, pub.count())

	light.SetState(LightState{On: true})
	require.NoError(t, light.Publish())
	assert.Equal(t, first+1, pub.count())
}
