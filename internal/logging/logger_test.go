package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"info level", "info", slog.LevelInfo},
		{"warn level", "warn", slog.LevelWarn},
		{"warning level", "warning", slog.LevelWarn},
		{"error level", "error", slog.LevelError},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"mixed case Info", "Info", slog.LevelInfo},
		{"invalid level", "invalid", slog.LevelInfo}, // defaults to info
		{"empty string", "", slog.LevelInfo},         // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.Level != slog.LevelInfo {
		t.Errorf("Default level = %v, want %v", opts.Level, slog.LevelInfo)
	}
	if opts.FilePath != "" {
		t.Errorf("Default FilePath = %q, want empty", opts.FilePath)
	}
	if opts.MaxSizeMB != 100 {
		t.Errorf("Default MaxSizeMB = %d, want 100", opts.MaxSizeMB)
	}
	if opts.MaxBackups != 5 {
		t.Errorf("Default MaxBackups = %d, want 5", opts.MaxBackups)
	}
	if !opts.Console {
		t.Errorf("Default Console = %v, want true", opts.Console)
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		logger, err := NewLogger(Options{Level: slog.LevelInfo, Console: true})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger returned nil logger")
		}
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")

		logger, err := NewLogger(Options{
			Level:      slog.LevelDebug,
			FilePath:   logFile,
			MaxSizeMB:  10,
			MaxBackups: 3,
		})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}

		logger.Info("test message")

		if _, err := os.Stat(logFile); os.IsNotExist(err) {
			t.Errorf("Log file was not created at %s", logFile)
		}
	})

	t.Run("no outputs configured defaults to stderr", func(t *testing.T) {
		logger, err := NewLogger(Options{Level: slog.LevelInfo})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger returned nil logger")
		}
	})
}

func TestSetDefault(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	err := SetDefault(Options{
		Level:      slog.LevelDebug,
		FilePath:   logFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
	})
	if err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}

	slog.Info("test message from default logger")

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Errorf("Log file was not created at %s", logFile)
	}
}
