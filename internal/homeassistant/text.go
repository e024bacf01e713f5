package homeassistant

import (
	"fmt"
	"sync"
)

// MaxTextLength is the longest value Home Assistant accepts for a text entity.
const MaxTextLength = 255

// TextOptions configures a Text entity.
type TextOptions struct {
	Name     string
	Object   string
	Initial  string
	OnChange func(old, requested string) error
}

// Text is a free-form text entity.
type Text struct {
	node     *Node
	name     string
	object   string
	onChange func(old, requested string) error

	mu         sync.Mutex
	value      string
	subscribed bool
}

type textConfig struct {
	baseConfig
	CommandTopic string `json:"command_topic"`
	StateTopic   string `json:"state_topic"`
	Max          int    `json:"max"`
	Mode         string `json:"mode"`
}

// NewText creates a text entity on node.
func NewText(node *Node, opts TextOptions) *Text {
	return &Text{
		node:     node,
		name:     opts.Name,
		object:   opts.Object,
		onChange: opts.OnChange,
		value:    opts.Initial,
	}
}

// Value returns the current text.
func (t *Text) Value() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// SetValue replaces the text. Call Publish afterwards.
func (t *Text) SetValue(v string) {
	t.mu.Lock()
	t.value = v
	t.mu.Unlock()
}

// Subscribe attaches the command topic.
func (t *Text) Subscribe() error {
	topic := t.node.topics.Command(t.node.UID, t.object)
	if err := t.node.pub.Subscribe(topic, t.node.qos, t.handleCommand); err != nil {
		return fmt.Errorf("subscribing %s: %w", topic, err)
	}
	t.mu.Lock()
	t.subscribed = true
	t.mu.Unlock()
	return nil
}

// Unsubscribe detaches the command topic.
func (t *Text) Unsubscribe() error {
	t.mu.Lock()
	was := t.subscribed
	t.subscribed = false
	t.mu.Unlock()
	if !was {
		return nil
	}
	return t.node.pub.Unsubscribe(t.node.topics.Command(t.node.UID, t.object))
}

// Publish sends the discovery config and the current value.
func (t *Text) Publish() error {
	topics := t.node.topics
	cfg := textConfig{
		baseConfig:   t.node.baseConfig(t.name, t.object),
		CommandTopic: topics.Command(t.node.UID, t.object),
		StateTopic:   topics.State(t.node.UID, t.object),
		Max:          MaxTextLength,
		Mode:         "text",
	}
	if err := t.node.publishJSON(topics.Discovery("text", t.node.UID, t.object), cfg); err != nil {
		return err
	}
	return t.node.publishState(cfg.StateTopic, t.Value())
}

func (t *Text) handleCommand(_ string, payload []byte) error {
	if t.onChange == nil {
		return nil
	}
	return t.onChange(t.Value(), string(payload))
}
