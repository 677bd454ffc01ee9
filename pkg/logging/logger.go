// Package logging configures the global zerolog logger for pncp-sync.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs per-request and per-page flow.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs run boundaries, saves and progress.
	LevelInfo LogLevel = "info"

	// LevelWarn logs retries, skipped pages and best-effort failures.
	LevelWarn LogLevel = "warn"

	// LevelError logs failures that end or degrade a run.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is attached to every entry when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Output:  os.Stderr,
		Service: "pncp-sync",
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logCtx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		logCtx = logCtx.Str("service", cfg.Service)
	}
	logger := logCtx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel validates a level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per-request and per-page flow
//   - Request attempts, 404-as-empty responses
//   - Page fetched (page, records)
//   - Identity-less records skipped
//
// Info: run lifecycle
//   - Sync started / complete (run_id, mode, added, updated, duration)
//   - Snapshot checkpoint and item flush saves
//   - Progress every 50 pages
//
// Warn: degraded but continuing
//   - Retry attempts (attempt, error_class, delay)
//   - Skipped or dropped pages
//   - Malformed response shapes
//   - Best-effort persistence failures (checkpoint, item flush)
//
// Error: failures that end or degrade a run
//   - Page 1 unreachable after retries
//   - Final snapshot save failure
//
// Context Fields:
//   - component: package-level logger name
//   - run_id: engine run identifier
//   - page, total_pages: pagination position
//   - endpoint: request label (listings, items_count, items_list, record)
//   - attempt, error_class: retry state
//   - parent_key: listing whose items are being fetched
//   - added, updated, items, duration: run outcome
