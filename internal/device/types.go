package device

import (
	"fmt"
	"time"
)

// Actuator ids driven by the smart controller.
const (
	Fan1  = "fan1"
	Pump1 = "pump1"
)

// State is the coarse run state of an actuator.
type State string

// Device states.
const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
)

// ParseState validates s.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateIdle, StateRunning:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, s)
	}
}

// Controller names the actor that owns a device.
type Controller string

// Controllers.
const (
	ControllerNone      Controller = "none"
	ControllerRaspberry Controller = "raspberry"
	ControllerSmart     Controller = "smart"
)

// ParseController validates s. The empty string maps to ControllerNone.
func ParseController(s string) (Controller, error) {
	switch c := Controller(s); c {
	case "":
		return ControllerNone, nil
	case ControllerNone, ControllerRaspberry, ControllerSmart:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidController, s)
	}
}

// Record is the registry entry for one device.
type Record struct {
	DeviceID   string     `json:"device_id"`
	State      State      `json:"state"`
	Controller Controller `json:"controller"`

	// Detail is the raw firmware status when the record came from the bus
	// (for example "ANGLE_90"). Empty for claims and releases.
	Detail string `json:"detail,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Busy reports whether the record blocks a new claim.
func (r Record) Busy() bool {
	return r.State == StateRunning && r.Controller == ControllerRaspberry
}

// Lease identifies one successful Claim. The zero Lease is never issued.
type Lease uint64
