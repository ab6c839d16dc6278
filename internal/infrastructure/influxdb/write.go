package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTelemetry = "garden_telemetry"
	MeasurementActuation = "garden_actuation"
	MeasurementDiagnosis = "garden_diagnosis"
)

// WriteReading records one sensor reading.
//
// Parameters:
//   - sensorID: Firmware sensor id (e.g., "hum1")
//   - kind: Reading kind (e.g., "humidity", "soil_moisture")
//   - value: The reading
//   - at: When the reading was accepted
func (c *Client) WriteReading(sensorID, kind string, value float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(readingPoint(sensorID, kind, value, at))
}

// WriteActuation records an executor or manual command event.
//
// Parameters:
//   - deviceID: Actuator id (e.g., "fan1", "pump1")
//   - event: started, stopped, dropped or failed
//   - controller: Controller named on the event (smart or raspberry)
//   - durationSeconds: Requested run time, zero for stops
//   - at: When the event happened
func (c *Client) WriteActuation(deviceID, event, controller string, durationSeconds int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(actuationPoint(deviceID, event, controller, durationSeconds, at))
}

// WriteDiagnosis records a stored diagnosis.
//
// Parameters:
//   - label: Disease label from the vision service
//   - confidence: Aggregated confidence of label
//   - supporting: Leaves classified as label
//   - total: Leaves analysed
//   - at: When the diagnosis was stored
func (c *Client) WriteDiagnosis(label string, confidence float64, supporting, total int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(diagnosisPoint(label, confidence, supporting, total, at))
}

func readingPoint(sensorID, kind string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementTelemetry,
		map[string]string{"sensor_id": sensorID, "kind": kind},
		map[string]interface{}{"value": value},
		at,
	)
}

func actuationPoint(deviceID, event, controller string, durationSeconds int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementActuation,
		map[string]string{"device_id": deviceID, "event": event, "controller": controller},
		map[string]interface{}{"duration_seconds": durationSeconds},
		at,
	)
}

func diagnosisPoint(label string, confidence float64, supporting, total int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDiagnosis,
		map[string]string{"label": label},
		map[string]interface{}{
			"confidence":       confidence,
			"supporting_count": supporting,
			"total_leaves":     total,
		},
		at,
	)
}
