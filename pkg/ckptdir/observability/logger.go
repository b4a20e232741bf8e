// Package observability provides logging, metrics and tracing helpers for
// checkpoint saves.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in. Logging helpers accept a nil logger, and the
// metrics and tracing interfaces have no-op implementations.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds save context to a logger.
// Returns a new logger with process and save_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, 0, "3f1c...")
//	enriched.Info("writing") // includes process, save_id
func EnrichLogger(logger *slog.Logger, process int, saveID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.Int("process", process),
		slog.String("save_id", saveID),
	)
}

// LogCreateDirectory logs creation of a working location.
func LogCreateDirectory(logger *slog.Logger, location, strategy string) {
	if logger == nil {
		return
	}
	logger.Debug("creating temporary checkpoint directory",
		slog.String("location", location),
		slog.String("strategy", strategy),
	)
}

// LogStaleRecovered logs removal of a leftover artifact from an earlier
// attempt.
func LogStaleRecovered(logger *slog.Logger, path string) {
	if logger == nil {
		return
	}
	logger.Warn("attempted to create temporary directory which already exists; removing it",
		slog.String("path", path),
	)
}

// LogFinalizeStart logs the start of a commit.
func LogFinalizeStart(logger *slog.Logger, location, finalPath string) {
	if logger == nil {
		return
	}
	logger.Debug("finalizing checkpoint",
		slog.String("location", location),
		slog.String("final_path", finalPath),
	)
}

// LogFinalized logs a successful commit.
func LogFinalized(logger *slog.Logger, finalPath string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("finished saving checkpoint",
		slog.String("final_path", finalPath),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogFinalizeError logs a failed commit.
func LogFinalizeError(logger *slog.Logger, finalPath string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint commit failed",
		slog.String("final_path", finalPath),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
