// Package logging configures structured logging with zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
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

	// File, if set, receives a JSON copy of every log line. It is truncated
	// when the run starts.
	File string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger writing to cfg.Output.
// cfg.File is ignored; use Open for file output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	logger := zerolog.New(consoleWriter(cfg)).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// Open configures the global logger like Setup and additionally tees every
// line into cfg.File. The returned func closes the file.
func Open(cfg Config) (zerolog.Logger, func() error, error) {
	if cfg.File == "" {
		return Setup(cfg), func() error { return nil }, nil
	}

	if dir := filepath.Dir(cfg.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	multi := zerolog.MultiLevelWriter(consoleWriter(cfg), f)
	logger := zerolog.New(multi).With().Timestamp().Logger()
	log.Logger = logger

	return logger, f.Close, nil
}

// WithRunID tags every subsequent global log line with the run id.
func WithRunID(runID string) zerolog.Logger {
	log.Logger = log.With().Str("run_id", runID).Logger()
	return log.Logger
}

func consoleWriter(cfg Config) io.Writer {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		return zerolog.ConsoleWriter{Out: out}
	}
	return out
}

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
// Debug: request flow (method, path), cache hits, page progress
//
// Info: completed queries and paginated fetches, written and uploaded files,
// run summary
//
// Warn: retry attempts, failed dates that are skipped, cache errors
//
// Error: queries that exhausted their retries, failed uploads, fatal run errors
//
// Context Fields:
//   - query_id: query being run
//   - job_id: job being polled
//   - operation: retry policy name (submit, poll, query)
//   - date, start, end: report dates
//   - rows, pages, total: dataset sizes
//   - file, backend: published files
//   - run_id: one per process run
