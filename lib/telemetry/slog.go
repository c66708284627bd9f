package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog installs the process-wide text handler. verbose switches on
// debug-level output, which includes every request the portal clients make.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
