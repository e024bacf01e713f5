package homeassistant

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/mqtt"
)

// Manufacturer appears in every device block.
const Manufacturer = "Tinkerforge"

// Device is the "device" block of a discovery config.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	HWVersion    string   `json:"hw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// Node is one physical device as seen by Home Assistant.
type Node struct {
	UID    string
	Device Device

	pub    Publisher
	topics mqtt.Topics
	qos    byte
}

// NewNode creates the node for the device with the given UID.
func NewNode(pub Publisher, topics mqtt.Topics, qos byte, uid string, device Device) *Node {
	if len(device.Identifiers) == 0 {
		device.Identifiers = []string{"tinkerforge-" + uid}
	}
	if device.Manufacturer == "" {
		device.Manufacturer = Manufacturer
	}
	return &Node{
		UID:    uid,
		Device: device,
		pub:    pub,
		topics: topics,
		qos:    qos,
	}
}

// Topics returns the topic builders the node publishes under.
func (n *Node) Topics() mqtt.Topics {
	return n.topics
}

// uniqueID is stable across restarts so Home Assistant keeps entity settings.
func (n *Node) uniqueID(object string) string {
	return mqtt.SanitizeID(fmt.Sprintf("tinkerforge-%s-%s", n.UID, object))
}

func (n *Node) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	return n.pub.Publish(topic, payload, n.qos, true)
}

func (n *Node) publishState(topic, value string) error {
	return n.pub.Publish(topic, []byte(value), n.qos, true)
}

// baseConfig holds the keys shared by every discovery config.
type baseConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	ObjectID          string `json:"object_id"`
	Device            Device `json:"device"`
	AvailabilityTopic string `json:"availability_topic"`
	QoS               byte   `json:"qos"`
}

func (n *Node) baseConfig(name, object string) baseConfig {
	return baseConfig{
		Name:              name,
		UniqueID:          n.uniqueID(object),
		ObjectID:          n.uniqueID(object),
		Device:            n.Device,
		AvailabilityTopic: n.topics.Availability(),
		QoS:               n.qos,
	}
}
