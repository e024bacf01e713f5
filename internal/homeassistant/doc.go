// Package homeassistant models MQTT entities the way Home Assistant's MQTT
// integration expects them: a discovery config document per entity plus
// retained state topics and command topics.
//
// A Node groups the entities of one physical device and carries the device
// block shared by their discovery configs. Entities publish through a
// Publisher; wrapping the real client in a Dedup suppresses writes whose
// payload equals the last successful one on that topic.
//
// Command callbacks receive the previous and the requested value. They run
// on the MQTT delivery goroutine and are responsible for updating the
// entity state and publishing it again.
package homeassistant
