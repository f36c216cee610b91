// Package telemetry builds the process-wide structured logger.
package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger creates a JSON logger tagged with the service name. Level is
// read from RISKGATE_LOG_LEVEL (default info).
func NewLogger(service string) zerolog.Logger {
	return NewLoggerTo(service, os.Stdout)
}

// NewLoggerTo is NewLogger writing to the given sink. Tests pass a buffer.
func NewLoggerTo(service string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	level := zerolog.InfoLevel
	if raw := os.Getenv("RISKGATE_LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
