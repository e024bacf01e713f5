package homeassistant

import "sync"

// SensorOptions configures a read-only Sensor.
type SensorOptions struct {
	Name           string
	Object         string
	Icon           string
	EntityCategory string
	Initial        string
}

// Sensor is a read-only value.
type Sensor struct {
	node           *Node
	name           string
	object         string
	icon           string
	entityCategory string

	mu    sync.Mutex
	value string
}

type sensorConfig struct {
	baseConfig
	StateTopic     string `json:"state_topic"`
	Icon           string `json:"icon,omitempty"`
	EntityCategory string `json:"entity_category,omitempty"`
}

// NewSensor creates a sensor on node.
func NewSensor(node *Node, opts SensorOptions) *Sensor {
	return &Sensor{
		node:           node,
		name:           opts.Name,
		object:         opts.Object,
		icon:           opts.Icon,
		entityCategory: opts.EntityCategory,
		value:          opts.Initial,
	}
}

// Value returns the current reading.
func (s *Sensor) Value() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// SetValue replaces the reading. Call Publish afterwards.
func (s *Sensor) SetValue(v string) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// Publish sends the discovery config and the current reading.
func (s *Sensor) Publish() error {
	topics := s.node.topics
	cfg := sensorConfig{
		baseConfig:     s.node.baseConfig(s.name, s.object),
		StateTopic:     topics.State(s.node.UID, s.object),
		Icon:           s.icon,
		EntityCategory: s.entityCategory,
	}
	if err := s.node.publishJSON(topics.Discovery("sensor", s.node.UID, s.object), cfg); err != nil {
		return err
	}
	return s.node.publishState(cfg.StateTopic, s.Value())
}
