package bus

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/smartgarden/garden-core/internal/device"
	"github.com/smartgarden/garden-core/internal/telemetry"
)

// SensorMessage is published by the firmware on sensor/<device_id>.
type SensorMessage struct {
	Type     string   `json:"type"`
	DeviceID string   `json:"device_id"`
	Value    *float64 `json:"value"`
	Time     string   `json:"time"`
}

// DeviceMessage is published by the firmware on device/<device_id>.
type DeviceMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
	Time     string `json:"time"`
}

// MotorCommand is published on motor/control.
type MotorCommand struct {
	Motor int    `json:"motor"`
	State string `json:"state"`
}

// ServoCommand is published on servo/control.
type ServoCommand struct {
	Angle int `json:"angle"`
}

// Motor command states.
const (
	MotorRun  = "run"
	MotorStop = "stop"
)

// Firmware device statuses.
const (
	StatusOpen        = "OPEN"
	StatusClosed      = "CLOSED"
	StatusAnglePrefix = "ANGLE_"
)

// CameraCommand is the plain-text camera trigger.
const CameraCommand = "Take Photo"

// Servo limits enforced by the firmware.
const (
	MinServoAngle = 0
	MaxServoAngle = 150
)

var motorNumbers = map[string]int{
	device.Fan1:  1,
	device.Pump1: 2,
}

// MotorNumber maps a device id to its motor channel.
func MotorNumber(deviceID string) (int, bool) {
	n, ok := motorNumbers[deviceID]
	return n, ok
}

// Reading is a decoded, validated sensor message.
type Reading struct {
	SensorID string         `json:"sensor_id"`
	Kind     telemetry.Kind `json:"kind"`
	Value    float64        `json:"value"`
	At       time.Time      `json:"at"`
}

// Status is a decoded, validated device message.
type Status struct {
	DeviceID string       `json:"device_id"`
	Type     string       `json:"type"`
	State    device.State `json:"state"`
	Detail   string       `json:"detail"`
	At       time.Time    `json:"at"`
}

// timeLayouts lists the timestamp forms the firmware has been seen to send.
// Layouts without a zone are read in the site timezone.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime reads a firmware timestamp. An empty string yields the zero time.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad time %q", ErrMalformedPayload, s)
}

// DecodeSensor parses and validates a sensor payload received on the topic
// for topicID.
func DecodeSensor(topicID string, payload []byte, loc *time.Location) (Reading, error) {
	var msg SensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := checkDeviceID(topicID, msg.DeviceID); err != nil {
		return Reading{}, err
	}

	kind, err := telemetry.ParseKind(msg.Type)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if msg.Value == nil {
		return Reading{}, fmt.Errorf("%w: missing value", ErrMalformedPayload)
	}
	if math.IsNaN(*msg.Value) || math.IsInf(*msg.Value, 0) {
		return Reading{}, fmt.Errorf("%w: value is not finite", ErrMalformedPayload)
	}
	at, err := ParseTime(msg.Time, loc)
	if err != nil {
		return Reading{}, err
	}

	return Reading{SensorID: topicID, Kind: kind, Value: *msg.Value, At: at}, nil
}

// DecodeDevice parses and validates a device status payload received on
// the topic for topicID.
func DecodeDevice(topicID string, payload []byte, loc *time.Location) (Status, error) {
	var msg DeviceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := checkDeviceID(topicID, msg.DeviceID); err != nil {
		return Status{}, err
	}

	state, err := ParseStatus(msg.Status)
	if err != nil {
		return Status{}, err
	}
	at, err := ParseTime(msg.Time, loc)
	if err != nil {
		return Status{}, err
	}

	return Status{
		DeviceID: topicID,
		Type:     msg.Type,
		State:    state,
		Detail:   msg.Status,
		At:       at,
	}, nil
}

// ParseStatus maps a firmware status onto a registry state. OPEN means the
// actuator is running; CLOSED and any servo angle mean it is idle.
func ParseStatus(status string) (device.State, error) {
	switch {
	case status == StatusOpen:
		return device.StateRunning, nil
	case status == StatusClosed:
		return device.StateIdle, nil
	case strings.HasPrefix(status, StatusAnglePrefix):
		angle, err := strconv.ParseFloat(strings.TrimPrefix(status, StatusAnglePrefix), 64)
		if err != nil || angle < MinServoAngle || angle > MaxServoAngle {
			return "", fmt.Errorf("%w: %q", ErrUnknownStatus, status)
		}
		return device.StateIdle, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
}

func checkDeviceID(topicID, payloadID string) error {
	if topicID == "" {
		return fmt.Errorf("%w: empty device id", ErrMalformedPayload)
	}
	if payloadID != "" && payloadID != topicID {
		return fmt.Errorf("%w: topic %q, payload %q", ErrTopicMismatch, topicID, payloadID)
	}
	return nil
}
