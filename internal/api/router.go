package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	// Prometheus exposition
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/debug", s.handleDebug)

		r.Route("/telemetry", func(r chi.Router) {
			r.Get("/", s.handleGetTelemetry)
			r.Get("/history", s.handleTelemetryHistory)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/history", s.handleGetDeviceHistory)
			})
		})

		r.With(s.bodySizeLimit(maxRequestBodySize)).Post("/smart-control", s.handleTriggerSmartControl)

		r.Route("/diagnoses", func(r chi.Router) {
			r.Get("/", s.handleListDiagnoses)
			r.Get("/latest", s.handleLatestDiagnosis)
			r.Get("/{id}", s.handleGetDiagnosis)
			r.With(s.bodySizeLimit(s.uploadLimit())).Post("/", s.handleAnalyze)
		})

		r.Get("/actions", s.handleListActions)

		r.Route("/commands", func(r chi.Router) {
			r.Use(s.bodySizeLimit(maxRequestBodySize))
			r.Post("/motor", s.handleMotorCommand)
			r.Post("/servo", s.handleServoCommand)
			r.Post("/camera", s.handleCameraCommand)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"version":               s.version,
		"smart_control_enabled": s.controller.Enabled(),
	})
}
