package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/smartgarden/garden-core/internal/device"
	"github.com/smartgarden/garden-core/internal/infrastructure/metrics"
	"github.com/smartgarden/garden-core/internal/infrastructure/mqtt"
	"github.com/smartgarden/garden-core/internal/telemetry"
)

// Logger is the logging surface the adapter needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Subscriber is the part of the MQTT client the adapter uses.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// TelemetryUpdater receives validated sensor readings.
type TelemetryUpdater interface {
	Update(kind telemetry.Kind, value float64, at time.Time) error
}

// StatusRecorder receives observed device statuses.
type StatusRecorder interface {
	SetStatus(id string, state device.State, controller device.Controller, detail string)
}

// ReadingSink is called with every reading after the snapshot is updated.
// Sinks run on the MQTT handler goroutine.
type ReadingSink func(Reading)

// Adapter applies inbound firmware messages to the telemetry snapshot and
// the device registry.
type Adapter struct {
	telemetry TelemetryUpdater
	devices   StatusRecorder
	loc       *time.Location
	metrics   *metrics.Metrics
	logger    Logger

	sinkMu sync.RWMutex
	sinks  []ReadingSink
}

// NewAdapter creates an adapter. loc is the timezone used for firmware
// timestamps that carry no offset; nil means the host's local zone.
func NewAdapter(t TelemetryUpdater, devices StatusRecorder, loc *time.Location) *Adapter {
	if loc == nil {
		loc = time.Local
	}
	return &Adapter{
		telemetry: t,
		devices:   devices,
		loc:       loc,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger.
func (a *Adapter) SetLogger(logger Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// SetMetrics attaches Prometheus counters. Nil disables them.
func (a *Adapter) SetMetrics(m *metrics.Metrics) {
	a.metrics = m
}

// AddReadingSink registers a sink for applied readings.
func (a *Adapter) AddReadingSink(sink ReadingSink) {
	a.sinkMu.Lock()
	defer a.sinkMu.Unlock()
	a.sinks = append(a.sinks, sink)
}

// Start subscribes to every sensor and device status topic.
func (a *Adapter) Start(sub Subscriber, qos byte) error {
	topics := mqtt.Topics{}
	if err := sub.Subscribe(topics.AllSensors(), qos, a.HandleSensor); err != nil {
		return fmt.Errorf("subscribing to sensors: %w", err)
	}
	if err := sub.Subscribe(topics.AllDeviceStatus(), qos, a.HandleDevice); err != nil {
		return fmt.Errorf("subscribing to device status: %w", err)
	}
	return nil
}

// HandleSensor applies a message from sensor/<id>. A rejected message
// leaves the snapshot untouched and the error is returned to the caller.
func (a *Adapter) HandleSensor(topic string, payload []byte) error {
	id, ok := mqtt.DeviceIDFromTopic(topic, mqtt.TopicRootSensor)
	if !ok {
		a.metrics.RecordBusMessage(mqtt.TopicRootSensor, false)
		return fmt.Errorf("%w: unexpected topic %q", ErrMalformedPayload, topic)
	}

	reading, err := DecodeSensor(id, payload, a.loc)
	if err != nil {
		a.metrics.RecordBusMessage(mqtt.TopicRootSensor, false)
		return fmt.Errorf("sensor %s: %w", id, err)
	}
	if err := a.telemetry.Update(reading.Kind, reading.Value, reading.At); err != nil {
		a.metrics.RecordBusMessage(mqtt.TopicRootSensor, false)
		return fmt.Errorf("sensor %s: %w", id, err)
	}
	a.metrics.RecordBusMessage(mqtt.TopicRootSensor, true)

	a.logger.Debug("sensor reading applied", "sensor", id, "kind", reading.Kind, "value", reading.Value)

	a.sinkMu.RLock()
	sinks := make([]ReadingSink, len(a.sinks))
	copy(sinks, a.sinks)
	a.sinkMu.RUnlock()
	for _, sink := range sinks {
		sink(reading)
	}
	return nil
}

// HandleDevice applies a message from device/<id>. The firmware reports
// what the actuator is physically doing, so the status is recorded against
// the raspberry controller and supersedes any lease held on the device.
func (a *Adapter) HandleDevice(topic string, payload []byte) error {
	id, ok := mqtt.DeviceIDFromTopic(topic, mqtt.TopicRootDevice)
	if !ok {
		a.metrics.RecordBusMessage(mqtt.TopicRootDevice, false)
		return fmt.Errorf("%w: unexpected topic %q", ErrMalformedPayload, topic)
	}

	status, err := DecodeDevice(id, payload, a.loc)
	if err != nil {
		a.metrics.RecordBusMessage(mqtt.TopicRootDevice, false)
		return fmt.Errorf("device %s: %w", id, err)
	}

	a.devices.SetStatus(status.DeviceID, status.State, device.ControllerRaspberry, status.Detail)
	a.metrics.RecordBusMessage(mqtt.TopicRootDevice, true)

	a.logger.Debug("device status applied", "device", id, "state", status.State, "detail", status.Detail)
	return nil
}
