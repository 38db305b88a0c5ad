// Package logging builds the broker's structured logger and a shared panic
// recovery helper used at every per-message and per-session boundary.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the logger's verbosity and output shape.
type Config struct {
	Level  string // debug|info|warn|error|fatal
	Format string // json|pretty
}

// New builds a zerolog.Logger configured per cfg. JSON output is used in
// production; "pretty" gives a human-readable console writer for local dev.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "agent-broker").
		Logger()
}

// RecoverPanic recovers a panic in the deferred call of a goroutine boundary
// (a session's read/write pump, a background ticker loop) and logs it with
// context instead of crashing the process.
func RecoverPanic(logger zerolog.Logger, component string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("component", component).
			Interface("panic", r).
			Str("stack", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("recovered from panic")
	}
}
