package main

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/smartgarden/garden-core/internal/api"
	"github.com/smartgarden/garden-core/internal/bus"
	"github.com/smartgarden/garden-core/internal/device"
	"github.com/smartgarden/garden-core/internal/diagnosis"
	"github.com/smartgarden/garden-core/internal/infrastructure/metrics"
	"github.com/smartgarden/garden-core/internal/smart"
	"github.com/smartgarden/garden-core/internal/telemetry"
	"github.com/smartgarden/garden-core/internal/vision"
)

const (
	// sinkTimeout bounds a single best-effort sink write.
	sinkTimeout = 2 * time.Second

	// sinkQueueSize is how many writes may wait for the sink worker.
	sinkQueueSize = 1024
)

// sinkLogger is the logging surface the observers need.
type sinkLogger interface {
	Warn(msg string, args ...any)
}

// broadcaster pushes events to WebSocket subscribers. *api.Hub satisfies it.
type broadcaster interface {
	Broadcast(channel string, payload any)
}

// readingRecorder stores accepted readings. *history.Store satisfies it.
type readingRecorder interface {
	RecordReading(ctx context.Context, sensorID string, kind telemetry.Kind, value float64, at time.Time) error
}

// influxWriter is the InfluxDB surface. A nil *influxdb.Client is valid
// and drops every write.
type influxWriter interface {
	WriteReading(sensorID, kind string, value float64, at time.Time)
	WriteActuation(deviceID, event, controller string, durationSeconds int, at time.Time)
}

// archiver is the ClickHouse surface.
type archiver interface {
	InsertReading(ctx context.Context, sensorID, kind string, value float64, at time.Time) error
	InsertActuation(ctx context.Context, actionID, deviceID, event, controller string, durationSeconds int, at time.Time) error
}

// pendingCounter reports armed stops. *smart.Executor satisfies it.
type pendingCounter interface {
	Pending() int
}

// sinkQueue runs database writes on one background goroutine, so MQTT
// handlers and executor goroutines never wait on SQLite or ClickHouse. A
// full queue drops the write and counts it under the "queue" sink.
type sinkQueue struct {
	jobs    chan func()
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	metrics *metrics.Metrics
	log     sinkLogger
}

func newSinkQueue(size int, m *metrics.Metrics, log sinkLogger) *sinkQueue {
	q := &sinkQueue{
		jobs:    make(chan func(), size),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		metrics: m,
		log:     log,
	}
	go q.loop()
	return q
}

func (q *sinkQueue) loop() {
	defer close(q.done)
	for {
		select {
		case job := <-q.jobs:
			job()
		case <-q.quit:
			for {
				select {
				case job := <-q.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}

// submit queues job without blocking. A nil queue runs job inline.
func (q *sinkQueue) submit(what string, job func()) {
	if q == nil {
		job()
		return
	}
	select {
	case q.jobs <- job:
	default:
		q.metrics.RecordSinkError("queue")
		q.log.Warn("sink queue full, write dropped", "write", what)
	}
}

// close runs what is already queued and stops the worker. Writes
// submitted afterwards are never run.
func (q *sinkQueue) close() {
	q.once.Do(func() { close(q.quit) })
	<-q.done
}

// wiring fans registry, bus, executor and controller events out to the
// persistence sinks, metrics and WebSocket subscribers. Every sink is
// optional. A failing sink is logged and never blocks the others.
type wiring struct {
	log      sinkLogger
	hub      broadcaster
	metrics  *metrics.Metrics
	sinks    *sinkQueue
	history  readingRecorder
	influx   influxWriter
	archive  archiver
	executor pendingCounter
}

// readingAccepted is registered as a bus.ReadingSink. It runs on the MQTT
// handler goroutine and must not block: database writes are queued.
func (w *wiring) readingAccepted(r bus.Reading) {
	if w.history != nil || w.archive != nil {
		w.sinks.submit("reading", func() { w.persistReading(r) })
	}

	if w.influx != nil {
		w.influx.WriteReading(r.SensorID, string(r.Kind), r.Value, r.At)
	}

	if w.hub != nil {
		w.hub.Broadcast(api.ChannelTelemetry, r)
	}
}

func (w *wiring) persistReading(r bus.Reading) {
	if w.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := w.history.RecordReading(ctx, r.SensorID, r.Kind, r.Value, r.At); err != nil {
			w.metrics.RecordSinkError("sqlite")
			w.log.Warn("failed to store reading", "sensor_id", r.SensorID, "error", err)
		}
		cancel()
	}

	if w.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := w.archive.InsertReading(ctx, r.SensorID, string(r.Kind), r.Value, r.At); err != nil {
			w.metrics.RecordSinkError("clickhouse")
			w.log.Warn("failed to archive reading", "sensor_id", r.SensorID, "error", err)
		}
		cancel()
	}
}

// deviceChanged is registered as a device.Observer.
func (w *wiring) deviceChanged(rec device.Record) {
	if w.hub != nil {
		w.hub.Broadcast(api.ChannelDeviceState, rec)
	}
}

// actionEvent is registered on both the executor and the manual path.
func (w *wiring) actionEvent(ev smart.ActionEvent) {
	event := string(ev.Event)
	ctrl := string(ev.Controller)

	w.metrics.RecordAction(ev.DeviceID, event)
	if w.executor != nil {
		w.metrics.SetPendingStops(w.executor.Pending())
	}

	if w.influx != nil {
		w.influx.WriteActuation(ev.DeviceID, event, ctrl, ev.DurationSeconds, ev.At)
	}

	if w.archive != nil {
		w.sinks.submit("action", func() {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			err := w.archive.InsertActuation(ctx, ev.ActionID, ev.DeviceID, event, ctrl, ev.DurationSeconds, ev.At)
			cancel()
			if err != nil {
				w.metrics.RecordSinkError("clickhouse")
				w.log.Warn("failed to archive action", "action_id", ev.ActionID, "error", err)
			}
		})
	}

	if w.hub != nil {
		w.hub.Broadcast(api.ChannelSmartAction, ev)
	}
}

// cycleCompleted is registered as a smart.CycleObserver.
func (w *wiring) cycleCompleted(result smart.CycleResult, err error) {
	w.metrics.RecordCycle(smart.CycleOutcome(result, err))
	if err != nil {
		return
	}
	for _, a := range result.Actions {
		w.metrics.RecordIntent(a.DeviceID)
	}
	if w.hub != nil {
		w.hub.Broadcast(api.ChannelSmartCycle, result)
	}
}

// offlineActuator stands in for the commander when the broker was
// unreachable at startup. Smart control is disabled in that case, so it is
// only reached if someone enables it by hand.
type offlineActuator struct{}

func (offlineActuator) Start(string) error { return smart.ErrBusUnavailable }
func (offlineActuator) Stop(string) error  { return smart.ErrBusUnavailable }

// diagnosisWriter is the InfluxDB surface for diagnoses.
type diagnosisWriter interface {
	WriteDiagnosis(label string, confidence float64, supporting, total int, at time.Time)
}

// diagnosisSink stores diagnoses in SQLite and mirrors them to InfluxDB.
type diagnosisSink struct {
	smart.DiagnosisStore
	influx diagnosisWriter
}

// SaveDiagnosis stores d, then writes the InfluxDB point once the row
// exists.
func (s diagnosisSink) SaveDiagnosis(ctx context.Context, d diagnosis.Diagnosis, imageName string, leaves []diagnosis.LeafObservation) (string, error) {
	id, err := s.DiagnosisStore.SaveDiagnosis(ctx, d, imageName, leaves)
	if err != nil {
		return "", err
	}
	if s.influx != nil {
		s.influx.WriteDiagnosis(d.Label, d.Confidence, d.SupportingCount, d.TotalLeaves, d.CreatedAt)
	}
	return id, nil
}

// visionAnalyzer runs the pipeline. *vision.Client satisfies it.
type visionAnalyzer interface {
	Analyze(ctx context.Context, filename string, image io.Reader) (vision.Result, error)
}

// timedAnalyzer records pipeline latency and failures.
type timedAnalyzer struct {
	client  visionAnalyzer
	metrics *metrics.Metrics
}

func (a timedAnalyzer) Analyze(ctx context.Context, filename string, image io.Reader) (vision.Result, error) {
	start := time.Now()
	res, err := a.client.Analyze(ctx, filename, image)
	a.metrics.RecordVision(time.Since(start), err)
	return res, err
}
