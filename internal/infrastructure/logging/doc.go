// Package logging provides structured logging for Gatekeeper.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text for local runs, with service and version attached to
// every record.
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
//	logger := logging.New(cfg.Logging, version)
//	authLog := logger.With("component", "authn")
//	authLog.Warn("login failed", "reason", "bad_password")
//
// # Security
//
// Never log passwords, bearer tokens, session ids in full, or API keys.
// The one deliberate exception is the first-boot admin password, which is
// logged once so the operator can retrieve it.
package logging
