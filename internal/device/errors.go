package device

import "errors"

// Domain errors for the device package.
var (
	// ErrDeviceNotFound is returned when a device ID has never been seen.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidState is returned for a state outside IDLE/RUNNING.
	ErrInvalidState = errors.New("device: invalid state")

	// ErrInvalidController is returned for an unknown controller name.
	ErrInvalidController = errors.New("device: invalid controller")

	// ErrDeviceIDRequired is returned when an operation is given an empty id.
	ErrDeviceIDRequired = errors.New("device: id is required")
)
