// Package logging provides structured logging for the review core.
//
// This package wraps Go's standard log/slog package so every component logs
// the same way.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.Error("review transaction failed", "error", err)
//
// # Security
//
// Never log bearer tokens, the application secret, admin passwords or
// decrypted console credentials.
package logging
