package smart

import (
	"errors"
	"sync"
	"testing"

	"github.com/smartgarden/garden-core/internal/device"
)

type commanderCall struct {
	kind  string
	id    string
	run   bool
	angle int
}

type mockCommander struct {
	mu    sync.Mutex
	calls []commanderCall
	err   error
}

func (m *mockCommander) Motor(id string, run bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, commanderCall{kind: "motor", id: id, run: run})
	return m.err
}

func (m *mockCommander) Servo(angle int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, commanderCall{kind: "servo", angle: angle})
	return m.err
}

func (m *mockCommander) CapturePhoto() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, commanderCall{kind: "camera"})
	return m.err
}

func TestManual_Motor(t *testing.T) {
	cmd := &mockCommander{}
	log := &eventLog{}
	m := NewManual(cmd, nil)
	m.AddObserver(log.observe)

	if err := m.Motor(device.Fan1, true); err != nil {
		t.Fatalf("Motor() error = %v", err)
	}
	if err := m.Motor(device.Pump1, false); err != nil {
		t.Fatalf("Motor() error = %v", err)
	}

	want := []commanderCall{{kind: "motor", id: device.Fan1, run: true}, {kind: "motor", id: device.Pump1}}
	if len(cmd.calls) != 2 || cmd.calls[0] != want[0] || cmd.calls[1] != want[1] {
		t.Errorf("calls = %+v, want %+v", cmd.calls, want)
	}
	if len(log.of(ActionStarted)) != 1 || len(log.of(ActionStopped)) != 1 {
		t.Errorf("events = %+v", log.events)
	}
	if log.events[0].Controller != device.ControllerRaspberry {
		t.Errorf("manual event controller = %s, want raspberry", log.events[0].Controller)
	}
}

func TestManual_Validation(t *testing.T) {
	cmd := &mockCommander{}
	m := NewManual(cmd, nil)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"unknown motor", func() error { return m.Motor("heater1", true) }, ErrUnknownDevice},
		{"angle below range", func() error { return m.Servo(-1) }, ErrInvalidAngle},
		{"angle above range", func() error { return m.Servo(151) }, ErrInvalidAngle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if len(cmd.calls) != 0 {
		t.Errorf("invalid commands reached the bus: %+v", cmd.calls)
	}
}

func TestManual_ServoAndCamera(t *testing.T) {
	cmd := &mockCommander{}
	m := NewManual(cmd, nil)

	for _, angle := range []int{MinServoAngle, 90, MaxServoAngle} {
		if err := m.Servo(angle); err != nil {
			t.Errorf("Servo(%d) error = %v", angle, err)
		}
	}
	if err := m.CapturePhoto(); err != nil {
		t.Errorf("CapturePhoto() error = %v", err)
	}
	if len(cmd.calls) != 4 || cmd.calls[3].kind != "camera" || cmd.calls[2].angle != MaxServoAngle {
		t.Errorf("calls = %+v", cmd.calls)
	}
}

func TestManual_BusUnavailable(t *testing.T) {
	m := NewManual(nil, nil)

	if err := m.Motor(device.Fan1, true); !errors.Is(err, ErrBusUnavailable) {
		t.Errorf("Motor() error = %v, want ErrBusUnavailable", err)
	}
	if err := m.Servo(10); !errors.Is(err, ErrBusUnavailable) {
		t.Errorf("Servo() error = %v, want ErrBusUnavailable", err)
	}
	if err := m.CapturePhoto(); !errors.Is(err, ErrBusUnavailable) {
		t.Errorf("CapturePhoto() error = %v, want ErrBusUnavailable", err)
	}
}

func TestManual_PublishFailure(t *testing.T) {
	cmd := &mockCommander{err: errors.New("not connected")}
	log := &eventLog{}
	m := NewManual(cmd, nil)
	m.AddObserver(log.observe)

	if err := m.Motor(device.Fan1, true); err == nil {
		t.Fatal("Motor() error = nil, want publish failure")
	}
	if failed := log.of(ActionFailed); len(failed) != 1 || failed[0].Error != "not connected" {
		t.Errorf("failed events = %+v", failed)
	}
}
