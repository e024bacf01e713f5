package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementEntityState is the measurement every entity state lands in.
const measurementEntityState = "entity_state"

// WriteEntityState queues one entity state sample.
//
// Parameters:
//   - uid: Device UID (tag "uid")
//   - object: Entity object id within the device (tag "entity")
//   - fields: The state values, e.g. {"on": true, "brightness": 150}
//
// Example:
//
//	client.WriteEntityState("Gh4", "dmx_light", map[string]any{"on": true})
//	client.WriteEntityState("Xyz", "lcd_text", map[string]any{"text": "hello"})
func (c *Client) WriteEntityState(uid, object string, fields map[string]any) {
	c.WritePoint(measurementEntityState, map[string]string{
		"uid":    uid,
		"entity": object,
	}, fields)
}

// WritePoint queues a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a custom point with a specific timestamp.
// Points written after Close, or while the queue is full, are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if len(fields) == 0 {
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	select {
	case c.queue <- point:
	default:
		go c.reportError(ErrQueueFull)
	}
}
