// Package config provides configuration management for the queue and the
// crawl consumer. It defines the configuration structure, default values and
// validation.
package config

import (
	"time"
)

// Storage backend names accepted in the "storage" setting.
const (
	StorageMemory     = "memory"
	StorageFilesystem = "filesystem"
	StorageSQLite     = "sqlite"
	StorageRemote     = "remote"
)

// Config holds the queue and crawler configuration.
type Config struct {
	// Storage backend selection
	Storage      string `mapstructure:"storage" yaml:"storage"`             // memory, filesystem, sqlite or remote
	QueueName    string `mapstructure:"queue_name" yaml:"queue_name"`       // Named queue to open
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`           // Root directory for filesystem storage
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"` // Path to SQLite database file

	// Remote backend
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"` // Base URL of the queue API
	APIToken   string `mapstructure:"api_token" yaml:"api_token"`       // Bearer token for the queue API

	// Crawling parameters
	SeedURLs       []string      `mapstructure:"seed_urls" yaml:"seed_urls"`             // Starting URLs for crawling
	Concurrency    int           `mapstructure:"concurrency" yaml:"concurrency"`         // Number of concurrent workers
	RequestDelay   time.Duration `mapstructure:"request_delay" yaml:"request_delay"`     // Minimum delay between requests
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // HTTP request timeout
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`           // HTTP User-Agent header
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`         // Reclaims before a request is given up
	Limit          int           `mapstructure:"limit" yaml:"limit"`                     // Stop after N handled requests

	// URL filtering
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns"` // Regex patterns for URLs to include
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"` // Regex patterns for URLs to exclude

	// Logging
	LogLevel string `mapstructure:"log_level" yaml:"log_level"` // debug, info, warn or error
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`   // Log file path, empty for stderr
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Storage:        StorageSQLite,
		QueueName:      "default",
		DataDir:        "./storage",
		DatabasePath:   "./queue.db",
		Concurrency:    10,
		RequestDelay:   1 * time.Second,
		RequestTimeout: 30 * time.Second,
		UserAgent:      "QueTadoru/1.0",
		MaxRetries:     3,
		Limit:          0, // unlimited
		LogLevel:       "info",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// Note: SeedURLs are optional - the crawler can resume from an existing
	// queue.

	switch c.Storage {
	case StorageMemory, StorageFilesystem, StorageSQLite, StorageRemote:
	default:
		return ErrInvalidStorage
	}

	if c.QueueName == "" {
		return ErrEmptyQueueName
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	// Enforce minimum delay of 100ms for proper queue coordination
	if c.RequestDelay < 100*time.Millisecond {
		c.RequestDelay = 100 * time.Millisecond
	}

	if c.Storage == StorageSQLite && c.DatabasePath == "" {
		return ErrEmptyDatabasePath
	}
	if c.Storage == StorageFilesystem && c.DataDir == "" {
		return ErrEmptyDataDir
	}
	if c.Storage == StorageRemote && c.APIBaseURL == "" {
		return ErrEmptyAPIBaseURL
	}

	return nil
}
