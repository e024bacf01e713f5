// Package devices holds the Device Registry and the per-type Device State
// Handlers that keep hardware and published MQTT state in step.
//
// The registry receives enumeration events from the hardware link and
// keeps at most one handler per device UID. A handler owns the entities it
// exposes to Home Assistant and a shadow record of the state it last wrote
// to the hardware:
//
//	enumerate ─▶ Registry.OnEnumerate ─▶ Factory ─▶ Handler
//	                                             ├─ SetupSensors   (entities + command subscriptions)
//	                                             ├─ SetupCallbacks (hardware configuration)
//	                                             └─ Poll           (publish current state)
//
// Inbound commands arrive on the MQTT delivery goroutine, are applied to
// the hardware under the handler's mutex and then republished.
//
// Hardware access goes through HardwareConn so handlers can be tested
// without a brickd daemon.
package devices
