package history

import "errors"

var (
	// ErrDiagnosisNotFound is returned when no diagnosis has the requested id.
	ErrDiagnosisNotFound = errors.New("history: diagnosis not found")

	// ErrSensorIDRequired is returned when a reading has no sensor id.
	ErrSensorIDRequired = errors.New("history: sensor id is required")
)
