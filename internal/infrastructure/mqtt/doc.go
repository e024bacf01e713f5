// Package mqtt provides MQTT broker connectivity for tinkerforge2mqtt.
//
// This package manages:
//   - A single connection attempt per Connect call (retries are owned by
//     the resilience package, not by paho)
//   - Automatic reconnection after the first successful connect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions, restored after every reconnect
//   - Last Will and Testament (LWT) on the bridge availability topic
//   - Topic builders for Home Assistant discovery, state and command topics
//
// # Architecture
//
//	Tinkerforge hardware ↔ tinkerforge2mqtt ↔ MQTT Broker ↔ Home Assistant
//
// # Availability
//
// The bridge publishes "online" (retained) to <topic_prefix>/bridge/status
// after every connect and "offline" on graceful shutdown. The broker
// publishes the same "offline" payload as the will when the process dies.
// Every discovery config references that topic so Home Assistant greys out
// all entities while the bridge is gone.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT)
//	err = client.Subscribe(topics.Command("dmx-abc", "light"), 1,
//	    func(topic string, payload []byte) error {
//	        return light.HandleSwitch(payload)
//	    })
package mqtt
