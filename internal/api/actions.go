package api

import (
	"net/http"

	"github.com/smartgarden/garden-core/internal/audit"
)

// handleListActions returns the actuation log, newest first.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	if s.actions == nil {
		writeUnavailable(w, "action log not configured")
		return
	}

	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	offset, err := parseOffset(q.Get("offset"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	filter := audit.Filter{
		DeviceID: q.Get("device"),
		CycleID:  q.Get("cycle"),
		Event:    q.Get("event"),
		Limit:    limit,
		Offset:   offset,
	}
	if len(filter.DeviceID) > maxQueryParamLen || len(filter.CycleID) > maxQueryParamLen || len(filter.Event) > maxQueryParamLen {
		writeBadRequest(w, "query parameter too long")
		return
	}

	res, err := s.actions.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing actions", "error", err)
		writeInternalError(w, "failed to list actions")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
