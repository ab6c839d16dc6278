package api

import (
	"net/http"

	"github.com/smartgarden/garden-core/internal/telemetry"
)

// handleGetTelemetry returns the live sensor snapshot.
func (s *Server) handleGetTelemetry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.telemetry.Snapshot())
}

// handleTelemetryHistory returns stored readings, newest first.
func (s *Server) handleTelemetryHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history store not configured")
		return
	}

	var kind telemetry.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := telemetry.ParseKind(raw)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		kind = k
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	samples, err := s.history.ListReadings(r.Context(), kind, limit)
	if err != nil {
		s.logger.Error("reading telemetry history", "error", err)
		writeInternalError(w, "failed to read telemetry history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": samples,
		"count":    len(samples),
	})
}
