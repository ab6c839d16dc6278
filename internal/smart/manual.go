package smart

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartgarden/garden-core/internal/device"
)

// Servo angle limits accepted by the firmware.
const (
	MinServoAngle = 0
	MaxServoAngle = 150
)

// Commander publishes direct device commands.
type Commander interface {
	Motor(deviceID string, run bool) error
	Servo(angle int) error
	CapturePhoto() error
}

// Manual issues direct commands on behalf of the external controller. It
// does not consult the evaluator or claim devices in the registry; the
// firmware's status reports bring the registry up to date afterwards.
type Manual struct {
	commander Commander
	logger    Logger

	obsMu     sync.RWMutex
	observers []ActionObserver
}

// NewManual creates a Manual. commander may be nil when the bus is down,
// in which case every command returns ErrBusUnavailable.
func NewManual(commander Commander, logger Logger) *Manual {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manual{commander: commander, logger: logger}
}

// AddObserver registers fn for manual command events.
func (m *Manual) AddObserver(fn ActionObserver) {
	if fn == nil {
		return
	}
	m.obsMu.Lock()
	m.observers = append(m.observers, fn)
	m.obsMu.Unlock()
}

// Motor runs or stops fan1 or pump1.
func (m *Manual) Motor(deviceID string, run bool) error {
	if deviceID != device.Fan1 && deviceID != device.Pump1 {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	cmd, err := m.cmd()
	if err != nil {
		return err
	}

	event, reason := ActionStarted, "manual run"
	if !run {
		event, reason = ActionStopped, "manual stop"
	}

	err = cmd.Motor(deviceID, run)
	m.record(deviceID, event, reason, err)
	if err != nil {
		return fmt.Errorf("motor command for %s: %w", deviceID, err)
	}
	m.logger.Info("manual motor command", "device_id", deviceID, "run", run)
	return nil
}

// Servo points the camera servo at angle degrees.
func (m *Manual) Servo(angle int) error {
	if angle < MinServoAngle || angle > MaxServoAngle {
		return fmt.Errorf("%w: %d", ErrInvalidAngle, angle)
	}
	cmd, err := m.cmd()
	if err != nil {
		return err
	}

	err = cmd.Servo(angle)
	m.record("servo1", ActionStarted, fmt.Sprintf("angle %d", angle), err)
	if err != nil {
		return fmt.Errorf("servo command: %w", err)
	}
	m.logger.Info("manual servo command", "angle", angle)
	return nil
}

// CapturePhoto asks the camera node to take a picture.
func (m *Manual) CapturePhoto() error {
	cmd, err := m.cmd()
	if err != nil {
		return err
	}

	err = cmd.CapturePhoto()
	m.record("camera1", ActionStarted, "take photo", err)
	if err != nil {
		return fmt.Errorf("camera command: %w", err)
	}
	m.logger.Info("manual camera command")
	return nil
}

func (m *Manual) cmd() (Commander, error) {
	if m.commander == nil {
		return nil, ErrBusUnavailable
	}
	return m.commander, nil
}

func (m *Manual) record(deviceID string, event ActionEventType, reason string, err error) {
	ev := ActionEvent{
		ActionID:   uuid.New().String(),
		DeviceID:   deviceID,
		Event:      event,
		Controller: device.ControllerRaspberry,
		Reason:     reason,
		At:         time.Now().UTC(),
	}
	if err != nil {
		ev.Event = ActionFailed
		ev.Error = err.Error()
	}

	m.obsMu.RLock()
	observers := m.observers
	m.obsMu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}
