// Package logging provides structured logging for the spool scale core.
//
// It wraps log/slog so every component logs the same way: JSON on the
// appliance, text when running on a workstation, and a fixed set of default
// fields on each entry.
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components receive a child logger:
//
//	log := logging.New(cfg.Logging, version)
//	queueLog := log.With("component", "dispatch")
//
// Never log the device token or the registration code. Log the token
// prefix at most.
package logging
