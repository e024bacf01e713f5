// Package logging provides structured logging for tinkerforge2mqtt.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the bridge.
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// The -v command line flag overrides the level (see LevelForVerbosity).
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected to brickd", "address", addr)
//	logger.Error("failed to write frame", "error", err)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
