package homeassistant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Light payloads for the default schema.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// ErrInvalidPayload is returned when a command payload cannot be parsed.
var ErrInvalidPayload = errors.New("invalid command payload")

// LightState is what a light entity shows in Home Assistant.
type LightState struct {
	On         bool
	Brightness uint8
	RGB        [3]uint8
}

// LightOptions configures a Light. Nil callbacks leave that command unhandled.
type LightOptions struct {
	Name    string
	Object  string
	Initial LightState

	OnSwitch     func(old, requested bool) error
	OnBrightness func(old, requested uint8) error
	OnRGB        func(old, requested [3]uint8) error
}

// Light is a Home Assistant light using the default schema with
// brightness and rgb field topics.
type Light struct {
	node   *Node
	name   string
	object string

	onSwitch     func(old, requested bool) error
	onBrightness func(old, requested uint8) error
	onRGB        func(old, requested [3]uint8) error

	mu         sync.Mutex
	state      LightState
	subscribed []string
}

type lightConfig struct {
	baseConfig
	CommandTopic           string `json:"command_topic"`
	StateTopic             string `json:"state_topic"`
	BrightnessCommandTopic string `json:"brightness_command_topic"`
	BrightnessStateTopic   string `json:"brightness_state_topic"`
	BrightnessScale        int    `json:"brightness_scale"`
	RGBCommandTopic        string `json:"rgb_command_topic"`
	RGBStateTopic          string `json:"rgb_state_topic"`
	PayloadOn              string `json:"payload_on"`
	PayloadOff             string `json:"payload_off"`
	Optimistic             bool   `json:"optimistic"`
}

// NewLight creates a light on node.
func NewLight(node *Node, opts LightOptions) *Light {
	return &Light{
		node:         node,
		name:         opts.Name,
		object:       opts.Object,
		onSwitch:     opts.OnSwitch,
		onBrightness: opts.OnBrightness,
		onRGB:        opts.OnRGB,
		state:        opts.Initial,
	}
}

// Object returns the entity's object id.
func (l *Light) Object() string {
	return l.object
}

// State returns a copy of the current entity state.
func (l *Light) State() LightState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetState replaces the entity state. Call Publish afterwards.
func (l *Light) SetState(s LightState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Subscribe attaches the command topics.
func (l *Light) Subscribe() error {
	t := l.node.topics
	subs := []struct {
		topic   string
		handler func(string, []byte) error
	}{
		{t.Command(l.node.UID, l.object), l.handleSwitch},
		{t.FieldCommand(l.node.UID, l.object, "brightness"), l.handleBrightness},
		{t.FieldCommand(l.node.UID, l.object, "rgb"), l.handleRGB},
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range subs {
		if err := l.node.pub.Subscribe(s.topic, l.node.qos, s.handler); err != nil {
			return fmt.Errorf("subscribing %s: %w", s.topic, err)
		}
		l.subscribed = append(l.subscribed, s.topic)
	}
	return nil
}

// Unsubscribe detaches every command topic attached by Subscribe.
func (l *Light) Unsubscribe() error {
	l.mu.Lock()
	topics := l.subscribed
	l.subscribed = nil
	l.mu.Unlock()

	var errs []error
	for _, topic := range topics {
		if err := l.node.pub.Unsubscribe(topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publish sends the discovery config and the current state.
func (l *Light) Publish() error {
	t := l.node.topics
	uid := l.node.UID
	cfg := lightConfig{
		baseConfig:             l.node.baseConfig(l.name, l.object),
		CommandTopic:           t.Command(uid, l.object),
		StateTopic:             t.State(uid, l.object),
		BrightnessCommandTopic: t.FieldCommand(uid, l.object, "brightness"),
		BrightnessStateTopic:   t.FieldState(uid, l.object, "brightness"),
		BrightnessScale:        255,
		RGBCommandTopic:        t.FieldCommand(uid, l.object, "rgb"),
		RGBStateTopic:          t.FieldState(uid, l.object, "rgb"),
		PayloadOn:              PayloadOn,
		PayloadOff:             PayloadOff,
	}
	if err := l.node.publishJSON(t.Discovery("light", uid, l.object), cfg); err != nil {
		return err
	}

	s := l.State()
	onOff := PayloadOff
	if s.On {
		onOff = PayloadOn
	}
	if err := l.node.publishState(cfg.StateTopic, onOff); err != nil {
		return err
	}
	if err := l.node.publishState(cfg.BrightnessStateTopic, strconv.Itoa(int(s.Brightness))); err != nil {
		return err
	}
	return l.node.publishState(cfg.RGBStateTopic, FormatRGB(s.RGB))
}

func (l *Light) handleSwitch(_ string, payload []byte) error {
	if l.onSwitch == nil {
		return nil
	}
	var on bool
	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case PayloadOn:
		on = true
	case PayloadOff:
	default:
		return fmt.Errorf("%w: switch %q", ErrInvalidPayload, payload)
	}
	return l.onSwitch(l.State().On, on)
}

func (l *Light) handleBrightness(_ string, payload []byte) error {
	if l.onBrightness == nil {
		return nil
	}
	v, err := parseLevel(string(payload))
	if err != nil {
		return fmt.Errorf("%w: brightness %q", ErrInvalidPayload, payload)
	}
	return l.onBrightness(l.State().Brightness, v)
}

func (l *Light) handleRGB(_ string, payload []byte) error {
	if l.onRGB == nil {
		return nil
	}
	rgb, err := ParseRGB(string(payload))
	if err != nil {
		return err
	}
	return l.onRGB(l.State().RGB, rgb)
}

// FormatRGB renders a colour the way Home Assistant sends it: "r,g,b".
func FormatRGB(c [3]uint8) string {
	return fmt.Sprintf("%d,%d,%d", c[0], c[1], c[2])
}

// ParseRGB parses "r,g,b". Components are clamped to 0..255.
func ParseRGB(s string) ([3]uint8, error) {
	var rgb [3]uint8
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return rgb, fmt.Errorf("%w: rgb %q", ErrInvalidPayload, s)
	}
	for i, p := range parts {
		v, err := parseLevel(p)
		if err != nil {
			return rgb, fmt.Errorf("%w: rgb %q", ErrInvalidPayload, s)
		}
		rgb[i] = v
	}
	return rgb, nil
}

// parseLevel accepts integers and decimals and clamps them to 0..255.
func parseLevel(s string) (uint8, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	switch {
	case f <= 0:
		return 0, nil
	case f >= 255:
		return 255, nil
	default:
		return uint8(f + 0.5), nil
	}
}
