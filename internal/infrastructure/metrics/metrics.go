// Package metrics holds the Prometheus collectors of the garden core and
// the handler that exposes them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "garden"

// Metrics contains every collector the core records into. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Bus
	BusMessages    *prometheus.CounterVec
	BusConnected   prometheus.Gauge
	BusReconnects  prometheus.Counter
	BusPublishErrs *prometheus.CounterVec

	// Actuation
	Actions        *prometheus.CounterVec
	PendingStops   prometheus.Gauge
	ControlCycles  *prometheus.CounterVec
	IntentsEmitted *prometheus.CounterVec

	// Vision
	VisionDuration *prometheus.HistogramVec

	// Persistence
	SinkErrors *prometheus.CounterVec
}

// New builds the collectors on a private registry with Go and process
// collectors attached.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		BusMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "messages_total",
				Help:      "Inbound bus messages by topic root and outcome (applied, dropped)",
			},
			[]string{"root", "outcome"},
		),
		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Broker connection status (0=disconnected, 1=connected)",
			},
		),
		BusReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "reconnects_total",
				Help:      "Broker reconnect attempts",
			},
		),
		BusPublishErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "publish_errors_total",
				Help:      "Failed command publishes by topic",
			},
			[]string{"topic"},
		),

		Actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "actuation",
				Name:      "events_total",
				Help:      "Executor events by device and event (started, stopped, dropped, superseded, failed)",
			},
			[]string{"device", "event"},
		),
		PendingStops: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "actuation",
				Name:      "pending_stops",
				Help:      "Deferred stops currently armed",
			},
		),
		ControlCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "smart",
				Name:      "cycles_total",
				Help:      "Smart control cycles by result (actions, no_actions, no_diagnosis, disabled)",
			},
			[]string{"result"},
		),
		IntentsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "smart",
				Name:      "intents_total",
				Help:      "Action intents produced by the evaluator by device",
			},
			[]string{"device"},
		),

		VisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "vision",
				Name:      "request_duration_seconds",
				Help:      "Classification request latency by outcome",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "errors_total",
				Help:      "Best-effort persistence failures by sink (sqlite, influxdb, clickhouse)",
			},
			[]string{"sink"},
		),
	}

	m.registry.MustRegister(
		m.BusMessages, m.BusConnected, m.BusReconnects, m.BusPublishErrs,
		m.Actions, m.PendingStops, m.ControlCycles, m.IntentsEmitted,
		m.VisionDuration, m.SinkErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordBusMessage counts an inbound message on root ("sensor", "device").
func (m *Metrics) RecordBusMessage(root string, applied bool) {
	if m == nil {
		return
	}
	outcome := "applied"
	if !applied {
		outcome = "dropped"
	}
	m.BusMessages.WithLabelValues(root, outcome).Inc()
}

// RecordBusStatus updates the connection gauge.
func (m *Metrics) RecordBusStatus(connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	m.BusConnected.Set(value)
}

// RecordBusReconnect counts a reconnect attempt.
func (m *Metrics) RecordBusReconnect() {
	if m == nil {
		return
	}
	m.BusReconnects.Inc()
}

// RecordPublishError counts a failed publish on topic.
func (m *Metrics) RecordPublishError(topic string) {
	if m == nil {
		return
	}
	m.BusPublishErrs.WithLabelValues(topic).Inc()
}

// RecordAction counts an executor event for device.
func (m *Metrics) RecordAction(device, event string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(device, event).Inc()
}

// SetPendingStops sets the number of armed deferred stops.
func (m *Metrics) SetPendingStops(n int) {
	if m == nil {
		return
	}
	m.PendingStops.Set(float64(n))
}

// RecordCycle counts a smart control cycle by result.
func (m *Metrics) RecordCycle(result string) {
	if m == nil {
		return
	}
	m.ControlCycles.WithLabelValues(result).Inc()
}

// RecordIntent counts an evaluator intent for device.
func (m *Metrics) RecordIntent(device string) {
	if m == nil {
		return
	}
	m.IntentsEmitted.WithLabelValues(device).Inc()
}

// RecordVision observes one classification request.
func (m *Metrics) RecordVision(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.VisionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordSinkError counts a best-effort persistence failure.
func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}
