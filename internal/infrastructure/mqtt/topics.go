package mqtt

import (
	"strings"

	"github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/config"
)

// Topic suffixes.
const (
	suffixConfig  = "config"
	suffixState   = "state"
	suffixCommand = "set"
)

// Topics builds the MQTT topics used by the bridge.
//
// Discovery configs live under the Home Assistant discovery prefix:
//
//	homeassistant/<component>/<node>/<object>/config
//
// Entity state and command topics live under the bridge prefix:
//
//	tinkerforge/<node>/<object>/state
//	tinkerforge/<node>/<object>/set
//	tinkerforge/<node>/<object>/<field>/state
//	tinkerforge/<node>/<object>/<field>/set
//
// Node is the device UID; object names the entity within the device.
type Topics struct {
	DiscoveryPrefix string
	Prefix          string
}

// NewTopics returns topic builders for the configured prefixes.
func NewTopics(cfg config.MQTTConfig) Topics {
	return Topics{
		DiscoveryPrefix: cfg.DiscoveryPrefix,
		Prefix:          cfg.TopicPrefix,
	}
}

// Availability returns the bridge availability topic (LWT target).
//
// Example: tinkerforge/bridge/status
func (t Topics) Availability() string {
	return t.Prefix + "/bridge/status"
}

// BridgeState returns the topic carrying the bridge status document.
//
// Example: tinkerforge/bridge/state
func (t Topics) BridgeState() string {
	return t.Prefix + "/bridge/state"
}

// Discovery returns the Home Assistant discovery config topic.
//
// Example: homeassistant/light/Gh4/dmx_light/config
func (t Topics) Discovery(component, node, object string) string {
	return join(t.DiscoveryPrefix, component, SanitizeID(node), SanitizeID(object), suffixConfig)
}

// State returns the main state topic of an entity.
//
// Example: tinkerforge/Gh4/dmx_light/state
func (t Topics) State(node, object string) string {
	return join(t.Prefix, SanitizeID(node), SanitizeID(object), suffixState)
}

// Command returns the main command topic of an entity.
//
// Example: tinkerforge/Gh4/dmx_light/set
func (t Topics) Command(node, object string) string {
	return join(t.Prefix, SanitizeID(node), SanitizeID(object), suffixCommand)
}

// FieldState returns the state topic of one attribute of an entity.
//
// Example: tinkerforge/Gh4/dmx_light/brightness/state
func (t Topics) FieldState(node, object, field string) string {
	return join(t.Prefix, SanitizeID(node), SanitizeID(object), field, suffixState)
}

// FieldCommand returns the command topic of one attribute of an entity.
//
// Example: tinkerforge/Gh4/dmx_light/rgb/set
func (t Topics) FieldCommand(node, object, field string) string {
	return join(t.Prefix, SanitizeID(node), SanitizeID(object), field, suffixCommand)
}

// SanitizeID maps s onto the character set Home Assistant accepts for
// node and object ids: letters, digits, '_' and '-'. Anything else
// becomes '_'.
func SanitizeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func join(parts ...string) string {
	return strings.Join(parts, "/")
}
