// Package influxdb records entity state history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every state the bridge
// publishes to MQTT can also be written as a point in the "entity_state"
// measurement, tagged with the device UID and entity object id.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEntityState("Gh4", "dmx_light", map[string]any{"on": true, "brightness": 150})
//
// # Failure isolation
//
// Writes are queued and flushed by a single background writer in batches of
// batch_size points or every flush_interval seconds. Each flush runs through a
// circuit breaker: after five consecutive failed flushes the breaker opens and
// points are dropped for thirty seconds instead of stalling on a dead server.
// History is best-effort and never blocks the MQTT path.
package influxdb
