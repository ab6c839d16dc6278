package bus

import (
	"fmt"

	"github.com/smartgarden/garden-core/internal/infrastructure/metrics"
	"github.com/smartgarden/garden-core/internal/infrastructure/mqtt"
)

// Publisher is the part of the MQTT client the commander uses.
type Publisher interface {
	PublishJSON(topic string, v any) error
	PublishString(topic, payload string) error
}

// Commander encodes actuator commands onto the firmware's control topics.
// It only publishes; the registry learns the outcome from device/<id>.
type Commander struct {
	pub     Publisher
	metrics *metrics.Metrics
}

// NewCommander creates a commander publishing through pub.
func NewCommander(pub Publisher, m *metrics.Metrics) *Commander {
	return &Commander{pub: pub, metrics: m}
}

// Start publishes a run command for a motor-driven device.
func (c *Commander) Start(deviceID string) error {
	return c.Motor(deviceID, true)
}

// Stop publishes a stop command for a motor-driven device.
func (c *Commander) Stop(deviceID string) error {
	return c.Motor(deviceID, false)
}

// Motor publishes {"motor": n, "state": "run"|"stop"} on motor/control.
func (c *Commander) Motor(deviceID string, run bool) error {
	n, ok := MotorNumber(deviceID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	state := MotorStop
	if run {
		state = MotorRun
	}
	return c.publishJSON(mqtt.Topics{}.MotorControl(), MotorCommand{Motor: n, State: state})
}

// Servo publishes {"angle": n} on servo/control.
func (c *Commander) Servo(angle int) error {
	if angle < MinServoAngle || angle > MaxServoAngle {
		return fmt.Errorf("%w: %d", ErrInvalidAngle, angle)
	}
	return c.publishJSON(mqtt.Topics{}.ServoControl(), ServoCommand{Angle: angle})
}

// CapturePhoto asks the camera node to take a picture.
func (c *Commander) CapturePhoto() error {
	topic := mqtt.Topics{}.CameraControl()
	if err := c.pub.PublishString(topic, CameraCommand); err != nil {
		c.metrics.RecordPublishError(topic)
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (c *Commander) publishJSON(topic string, v any) error {
	if err := c.pub.PublishJSON(topic, v); err != nil {
		c.metrics.RecordPublishError(topic)
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}
