// Package bus connects the garden firmware's MQTT topics to the core.
//
// Inbound, the Adapter subscribes to sensor/+ and device/+ and turns each
// message into a telemetry update or a device registry status. A message is
// fully decoded and validated before anything is changed, so a malformed
// payload is dropped without partial effects.
//
// Outbound, the Commander encodes motor, servo and camera commands:
//
//	motor/control   {"motor": 1, "state": "run"}   1 = fan1, 2 = pump1
//	servo/control   {"angle": 90}                   0..150
//	camera/control  Take Photo                      plain text
package bus
