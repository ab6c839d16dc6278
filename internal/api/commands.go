package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/smartgarden/garden-core/internal/infrastructure/mqtt"
	"github.com/smartgarden/garden-core/internal/smart"
)

// MotorRequest is the body of POST /commands/motor.
type MotorRequest struct {
	Device string `json:"device"`
	State  string `json:"state"` // "run" or "stop"
}

// ServoRequest is the body of POST /commands/servo.
type ServoRequest struct {
	Angle *int `json:"angle"`
}

func (s *Server) handleMotorCommand(w http.ResponseWriter, r *http.Request) {
	if s.manual == nil {
		writeUnavailable(w, "manual commands not configured")
		return
	}
	var req MotorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	var run bool
	switch req.State {
	case "run":
		run = true
	case "stop":
	default:
		writeBadRequest(w, `state must be "run" or "stop"`)
		return
	}

	if err := s.manual.Motor(req.Device, run); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent", "device": req.Device, "state": req.State})
}

func (s *Server) handleServoCommand(w http.ResponseWriter, r *http.Request) {
	if s.manual == nil {
		writeUnavailable(w, "manual commands not configured")
		return
	}
	var req ServoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Angle == nil {
		writeBadRequest(w, "angle is required")
		return
	}

	if err := s.manual.Servo(*req.Angle); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent", "angle": *req.Angle})
}

func (s *Server) handleCameraCommand(w http.ResponseWriter, _ *http.Request) {
	if s.manual == nil {
		writeUnavailable(w, "manual commands not configured")
		return
	}
	if err := s.manual.CapturePhoto(); err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

// writeCommandError maps manual command errors. Anything not recognised
// is a publish failure on the bus.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, smart.ErrBusUnavailable),
		errors.Is(err, smart.ErrUnknownDevice),
		errors.Is(err, smart.ErrInvalidAngle):
		s.writeSmartError(w, err)
		return
	case errors.Is(err, mqtt.ErrNotConnected):
		writeUnavailable(w, "bus not connected")
		return
	}
	s.logger.Warn("manual command publish failed", "error", err)
	writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "publishing command failed")
}
