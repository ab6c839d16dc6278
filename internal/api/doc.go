// Package api provides the HTTP control API and WebSocket event stream for
// the garden core.
//
// Endpoints (all under /api/v1 unless noted):
//
//	GET  /health                      liveness
//	GET  /telemetry                   live sensor snapshot
//	GET  /telemetry/history           stored readings (?kind=&limit=)
//	GET  /devices, /devices/{id}      registry records
//	GET  /devices/{id}/history        registry transitions
//	POST /smart-control               run one smart control cycle
//	POST /diagnoses                   analyse an uploaded leaf photo (multipart "file")
//	GET  /diagnoses, /diagnoses/latest, /diagnoses/{id}
//	GET  /actions                     actuation log (?device=&cycle=&event=&limit=&offset=)
//	POST /commands/motor|servo|camera manual commands
//	GET  /debug                       bus and vision status
//	GET  /metrics                     JSON system metrics
//	GET  /ws                          WebSocket events
//	GET  /metrics (root)              Prometheus exposition
//
// WebSocket clients subscribe with a subscribe frame or ?channels= on
// connect. Channels: telemetry.updated, device.state_changed, smart.action,
// smart.cycle, or * for all. Joining telemetry.updated or
// device.state_changed first delivers a "snapshot" frame with the current
// state.
package api
