// Package logging sets up structured JSON logging with optional size-based
// file rotation.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options controls logger construction.
type Options struct {
	Level      slog.Level
	FilePath   string // empty disables file output
	MaxSizeMB  int64
	MaxBackups int
	Console    bool
}

// DefaultOptions returns console-only logging at info level with 100MB
// rotation for file output when enabled.
func DefaultOptions() Options {
	return Options{
		Level:      slog.LevelInfo,
		MaxSizeMB:  100,
		MaxBackups: 5,
		Console:    true,
	}
}

// ParseLevel converts a string log level to slog.Level. Unknown strings fall
// back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a JSON logger writing to the configured destinations.
func NewLogger(opts Options) (*slog.Logger, error) {
	var writers []io.Writer

	if opts.Console {
		writers = append(writers, os.Stderr)
	}

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, err
		}
		fileWriter, err := NewRotatingWriter(opts.FilePath, opts.MaxSizeMB*1024*1024, opts.MaxBackups)
		if err != nil {
			return nil, err
		}
		writers = append(writers, fileWriter)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(handler), nil
}

// SetDefault creates a logger and installs it as the process default.
func SetDefault(opts Options) error {
	logger, err := NewLogger(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}
