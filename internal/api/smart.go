package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smartgarden/garden-core/internal/history"
	"github.com/smartgarden/garden-core/internal/smart"
	"github.com/smartgarden/garden-core/internal/vision"
)

// handleTriggerSmartControl runs one evaluation cycle on the latest diagnosis.
func (s *Server) handleTriggerSmartControl(w http.ResponseWriter, r *http.Request) {
	result, err := s.controller.TriggerSmartControl(r.Context())
	if err != nil {
		s.writeSmartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAnalyze sends an uploaded photo through the vision pipeline.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "image exceeds upload limit")
			return
		}
		writeBadRequest(w, `multipart field "file" is required`)
		return
	}
	defer file.Close()

	analysis, err := s.controller.Analyze(r.Context(), header.Filename, file)
	if err != nil {
		s.writeSmartError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, analysis)
}

// handleLatestDiagnosis returns the most recent stored diagnosis.
func (s *Server) handleLatestDiagnosis(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history store not configured")
		return
	}
	d, ok, err := s.history.LatestDiagnosis(r.Context())
	if err != nil {
		s.logger.Error("reading latest diagnosis", "error", err)
		writeInternalError(w, "failed to read diagnosis")
		return
	}
	if !ok {
		writeNotFound(w, "no diagnosis stored yet")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleGetDiagnosis returns one stored diagnosis with its leaves.
func (s *Server) handleGetDiagnosis(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history store not configured")
		return
	}
	rec, err := s.history.GetDiagnosis(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrDiagnosisNotFound) {
		writeNotFound(w, "diagnosis not found")
		return
	}
	if err != nil {
		s.logger.Error("reading diagnosis", "error", err)
		writeInternalError(w, "failed to read diagnosis")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListDiagnoses returns recent diagnoses, newest first.
func (s *Server) handleListDiagnoses(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history store not configured")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	recs, err := s.history.ListDiagnoses(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing diagnoses", "error", err)
		writeInternalError(w, "failed to list diagnoses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"diagnoses": recs,
		"count":     len(recs),
	})
}

// writeSmartError maps control surface errors onto HTTP statuses.
func (s *Server) writeSmartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, smart.ErrSmartControlDisabled), errors.Is(err, smart.ErrBusUnavailable):
		writeUnavailable(w, err.Error())
	case errors.Is(err, smart.ErrNoDiagnosis):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, smart.ErrUnknownDevice), errors.Is(err, smart.ErrInvalidAngle):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, vision.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeGatewayTimeout, err.Error())
	case errors.Is(err, vision.ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, vision.ErrUnavailable), errors.Is(err, vision.ErrBadResponse), errors.Is(err, smart.ErrVisionUnavailable):
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
	default:
		s.logger.Error("smart control request failed", "error", err)
		writeInternalError(w, "request failed")
	}
}
