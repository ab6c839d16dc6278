package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordBusMessage("sensor", true)
	m.RecordBusMessage("sensor", true)
	m.RecordBusMessage("device", false)
	m.RecordAction("fan1", "started")
	m.RecordCycle("actions")
	m.RecordIntent("pump1")
	m.RecordSinkError("sqlite")
	m.RecordBusStatus(true)
	m.SetPendingStops(2)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"sensor applied", testutil.ToFloat64(m.BusMessages.WithLabelValues("sensor", "applied")), 2},
		{"device dropped", testutil.ToFloat64(m.BusMessages.WithLabelValues("device", "dropped")), 1},
		{"fan started", testutil.ToFloat64(m.Actions.WithLabelValues("fan1", "started")), 1},
		{"cycles", testutil.ToFloat64(m.ControlCycles.WithLabelValues("actions")), 1},
		{"intents", testutil.ToFloat64(m.IntentsEmitted.WithLabelValues("pump1")), 1},
		{"sink errors", testutil.ToFloat64(m.SinkErrors.WithLabelValues("sqlite")), 1},
		{"connected", testutil.ToFloat64(m.BusConnected), 1},
		{"pending stops", testutil.ToFloat64(m.PendingStops), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestNilMetrics_NoOps(t *testing.T) {
	var m *Metrics

	// None of these may panic.
	m.RecordBusMessage("sensor", true)
	m.RecordBusStatus(false)
	m.RecordBusReconnect()
	m.RecordPublishError("motor/control")
	m.RecordAction("fan1", "dropped")
	m.SetPendingStops(0)
	m.RecordCycle("disabled")
	m.RecordIntent("fan1")
	m.RecordVision(time.Second, errors.New("timeout"))
	m.RecordSinkError("influxdb")
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.RecordAction("pump1", "stopped")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `garden_actuation_events_total{device="pump1",event="stopped"} 1`) {
		t.Errorf("exposition missing actuation counter:\n%s", body)
	}
}
