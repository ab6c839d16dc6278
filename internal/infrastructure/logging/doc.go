// Package logging provides structured logging for the garden core.
//
// This package wraps Go's standard log/slog package so that every component
// (bus adapter, rule engine, executor, control API) logs with the same
// shape: JSON in production, text in development, and default service and
// version fields on every entry.
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("executor").Info("claimed", "device", "fan1")
//
// Never log broker passwords or database tokens.
package logging
