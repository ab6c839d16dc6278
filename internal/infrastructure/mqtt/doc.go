// Package mqtt provides MQTT client connectivity for the garden core.
//
// This package manages:
//   - Connection to the garden broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions restored after every reconnect
//   - Last Will and Testament (LWT) on garden/system/status
//
// # Architecture
//
// The broker decouples the core from the Raspberry Pi / ESP firmware that
// reads sensors and drives the relays:
//
//	garden core ↔ MQTT broker ↔ sensor and actuator firmware
//
// The wire topics (sensor/<id>, device/<id>, motor/control, servo/control,
// camera/control) are fixed by the firmware; see Topics.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllSensors(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleReading(topic, payload)
//	    })
package mqtt
