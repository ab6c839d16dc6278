package bus

import "errors"

var (
	// ErrMalformedPayload is returned when an inbound message cannot be decoded.
	ErrMalformedPayload = errors.New("bus: malformed payload")

	// ErrTopicMismatch is returned when the payload device_id disagrees with the topic.
	ErrTopicMismatch = errors.New("bus: device id does not match topic")

	// ErrUnknownStatus is returned for a device status outside OPEN/CLOSED/ANGLE_n.
	ErrUnknownStatus = errors.New("bus: unknown device status")

	// ErrUnknownDevice is returned for a motor command on a device with no motor number.
	ErrUnknownDevice = errors.New("bus: device has no motor")

	// ErrInvalidAngle is returned for a servo angle outside the firmware's range.
	ErrInvalidAngle = errors.New("bus: servo angle out of range")
)
