package homeassistant

import (
	"sync"
)

// Publisher is the MQTT surface entities need. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error
	Unsubscribe(topic string) error
}

// Dedup wraps a Publisher and skips a publish when the payload equals the
// last payload successfully published to the same topic.
type Dedup struct {
	pub Publisher

	mu   sync.Mutex
	last map[string]string
}

var _ Publisher = (*Dedup)(nil)

// NewDedup wraps pub.
func NewDedup(pub Publisher) *Dedup {
	return &Dedup{pub: pub, last: make(map[string]string)}
}

// Publish forwards the message unless it would repeat the last one.
func (d *Dedup) Publish(topic string, payload []byte, qos byte, retained bool) error {
	d.mu.Lock()
	prev, seen := d.last[topic]
	d.mu.Unlock()

	if seen && prev == string(payload) {
		return nil
	}
	if err := d.pub.Publish(topic, payload, qos, retained); err != nil {
		return err
	}

	d.mu.Lock()
	d.last[topic] = string(payload)
	d.mu.Unlock()
	return nil
}

// Subscribe delegates to the wrapped Publisher.
func (d *Dedup) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return d.pub.Subscribe(topic, qos, handler)
}

// Unsubscribe delegates to the wrapped Publisher.
func (d *Dedup) Unsubscribe(topic string) error {
	return d.pub.Unsubscribe(topic)
}

// Forget drops the cache so the next publish on every topic goes out.
// Call it after the broker connection was re-established.
func (d *Dedup) Forget() {
	d.mu.Lock()
	clear(d.last)
	d.mu.Unlock()
}
