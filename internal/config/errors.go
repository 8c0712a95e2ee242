package config

import "errors"

var (
	// ErrInvalidStorage is returned when the storage backend name is unknown
	ErrInvalidStorage = errors.New("storage must be one of memory, filesystem, sqlite, remote")
	// ErrEmptyQueueName is returned when the queue name is empty
	ErrEmptyQueueName = errors.New("queue_name cannot be empty")
	// ErrInvalidConcurrency is returned when concurrency is not greater than 0
	ErrInvalidConcurrency = errors.New("concurrency must be greater than 0")
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout must be greater than 0")
	// ErrEmptyDatabasePath is returned when the database path is empty
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
	// ErrEmptyDataDir is returned when the filesystem data directory is empty
	ErrEmptyDataDir = errors.New("data_dir cannot be empty")
	// ErrEmptyAPIBaseURL is returned when the remote API base URL is empty
	ErrEmptyAPIBaseURL = errors.New("api_base_url cannot be empty")
)
