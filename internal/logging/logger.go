// Package logging constructs the sync daemon's process-wide slog logger.
package logging

import (
	"log/slog"
	"os"
)

// envProduction is the ENVIRONMENT value that switches to JSON output.
const envProduction = "production"

// NewLogger builds the daemon's logger for the given runtime environment.
// Production emits info-level JSON for log collectors; any other
// environment gets human-readable text with debug enabled, which is what
// you want when watching sync attempts interactively.
func NewLogger(env string) *slog.Logger {
	if env == envProduction {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}
