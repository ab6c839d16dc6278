package api

import (
	"net/http"

	"github.com/smartgarden/garden-core/internal/device"
	"github.com/smartgarden/garden-core/internal/process"
	"github.com/smartgarden/garden-core/internal/telemetry"
)

// DebugInfo is the operator troubleshooting view: bus and vision status
// alongside the live readings.
type DebugInfo struct {
	BusConnected        bool               `json:"bus_connected"`
	SmartControlEnabled bool               `json:"smart_control_enabled"`
	ManualAvailable     bool               `json:"manual_available"`
	VisionURL           string             `json:"vision_url"`
	VisionProcess       *process.Stats     `json:"vision_process,omitempty"`
	Telemetry           telemetry.Snapshot `json:"telemetry"`
	Devices             []device.Record    `json:"devices"`
	WebSocketClients    int                `json:"websocket_clients"`
}

// handleDebug reports the runtime wiring as the core sees it.
func (s *Server) handleDebug(w http.ResponseWriter, _ *http.Request) {
	info := DebugInfo{
		BusConnected:        s.bus != nil && s.bus.IsConnected(),
		SmartControlEnabled: s.controller.Enabled(),
		ManualAvailable:     s.manual != nil,
		VisionURL:           s.visionURL,
		Telemetry:           s.telemetry.Snapshot(),
		Devices:             s.registry.List(),
		WebSocketClients:    s.Hub().ClientCount(),
	}
	if s.visionProcess != nil {
		st := s.visionProcess.Stats()
		info.VisionProcess = &st
	}
	writeJSON(w, http.StatusOK, info)
}
