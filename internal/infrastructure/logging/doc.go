// Package logging provides structured logging for Payload Core.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level filter.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	engine.SetLogger(logger.Component("camera"))
//	logger.Error("failed to connect", "error", err)
//
// Never log secrets, tokens or the operator key.
package logging
