package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots used by the garden firmware. The firmware owns these names, so
// they are flat and unprefixed rather than namespaced under the core.
const (
	// TopicRootSensor carries one environmental reading per message.
	TopicRootSensor = "sensor"

	// TopicRootDevice carries actuator status reports.
	TopicRootDevice = "device"

	// TopicPrefixSystem is the base for topics owned by the core itself.
	TopicPrefixSystem = "garden/system"
)

// Topics provides builders for garden MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.Sensor("soil1")   // "sensor/soil1"
//	topics.MotorControl()    // "motor/control"
type Topics struct{}

// ─── Inbound ────────────────────────────────────────────────────────────────

// Sensor returns the reading topic for one sensor.
//
// Example: sensor/hum1
func (Topics) Sensor(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicRootSensor, deviceID)
}

// DeviceStatus returns the status topic for one actuator.
//
// Example: device/fan1
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicRootDevice, deviceID)
}

// AllSensors matches every sensor reading.
//
// Pattern: sensor/+
func (Topics) AllSensors() string {
	return TopicRootSensor + "/+"
}

// AllDeviceStatus matches every actuator status report.
//
// Pattern: device/+
func (Topics) AllDeviceStatus() string {
	return TopicRootDevice + "/+"
}

// ─── Outbound ───────────────────────────────────────────────────────────────

// MotorControl is the run/stop command topic for the fan and pump relays.
func (Topics) MotorControl() string {
	return "motor/control"
}

// ServoControl is the angle command topic for the cover servo.
func (Topics) ServoControl() string {
	return "servo/control"
}

// CameraControl is the capture command topic for the leaf camera.
func (Topics) CameraControl() string {
	return "camera/control"
}

// SystemStatus returns the retained online/offline topic of the core.
//
// Example: garden/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceIDFromTopic returns the last topic level when topic sits directly
// under root, e.g. ("sensor/hum1", "sensor") -> "hum1".
func DeviceIDFromTopic(topic, root string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, root+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
