// Package bridge runs the bridge loop: it brings up the MQTT link, then
// keeps a hardware link to brickd alive and feeds enumeration events to
// the device registry.
//
// State machine:
//
//	AwaitingMQTT ──▶ AwaitingHardware ──▶ Operating
//	     │                  ▲                 │
//	     │                  └──── link lost ──┘
//	     ▼
//	  Stopped  (context cancelled from any state, or MQTT retries exhausted)
//
// The MQTT link is established once; after that the paho client reconnects
// on its own and the loop republishes every entity when it does. The
// hardware link is redialled with backoff every time it drops. Only running
// out of MQTT connection attempts makes Run return an error.
//
// The package also carries the bridge status reporter, which publishes a
// retained JSON document describing the bridge, and the optional device
// inventory, which records every device ever enumerated in SQLite.
package bridge
