// Package influxdb records garden time series in InfluxDB v2.
//
// Three measurements are written, all through the non-blocking batched
// WriteAPI:
//   - garden_telemetry: one point per sensor reading (tags sensor_id, kind)
//   - garden_actuation: start/stop/drop events of the executor (tags device_id, event, controller)
//   - garden_diagnosis: every stored diagnosis (tag label)
//
// InfluxDB is optional. Connect returns ErrDisabled when it is switched off
// and every Write* method is a no-op on a closed or nil client, so callers
// never branch on availability.
package influxdb
