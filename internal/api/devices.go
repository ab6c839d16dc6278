package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// maxQueryParamLen limits query parameter length to prevent DoS via oversized URL params.
	maxQueryParamLen = 100
)

// handleListDevices returns every device the registry has seen.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	records := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": records,
		"count":   len(records),
	})
}

// handleGetDevice returns one device record.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.registry.GetState(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device":  rec,
		"is_free": s.registry.IsFree(id),
	})
}

// handleGetDeviceHistory returns registry transitions for a device.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.stateHistory == nil {
		writeUnavailable(w, "state history not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.stateHistory.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("reading device history", "device_id", id, "error", err)
		writeInternalError(w, "failed to read device history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   entries,
		"count":     len(entries),
	})
}

var errInvalidLimit = errors.New("limit must be a positive integer")

// parseLimit parses the limit query parameter with bounds enforcement.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errInvalidLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

// parseOffset parses the offset query parameter.
func parseOffset(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		return 0, errors.New("offset must be a non-negative integer")
	}
	return offset, nil
}
