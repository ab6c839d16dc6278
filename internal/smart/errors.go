package smart

import "errors"

// Domain errors for the smart package.
var (
	// ErrSmartControlDisabled is returned when the message bus was not
	// available at startup.
	ErrSmartControlDisabled = errors.New("smart: smart control disabled")

	// ErrNoDiagnosis is returned when no diagnosis has been stored yet.
	ErrNoDiagnosis = errors.New("smart: no diagnosis available")

	// ErrBusUnavailable is returned by manual commands when there is no bus.
	ErrBusUnavailable = errors.New("smart: message bus unavailable")

	// ErrVisionUnavailable is returned when no vision client is configured.
	ErrVisionUnavailable = errors.New("smart: vision pipeline unavailable")

	// ErrInvalidAngle is returned for a servo angle outside 0..150.
	ErrInvalidAngle = errors.New("smart: servo angle out of range")

	// ErrUnknownDevice is returned for a motor command on an unknown device.
	ErrUnknownDevice = errors.New("smart: unknown device")

	// ErrInvalidPolicy is returned when a policy table fails validation.
	ErrInvalidPolicy = errors.New("smart: invalid policy")
)
