package config

import "errors"

// Sentinel errors returned by Validate.
var (
	ErrWorkerConcurrencyInvalid = errors.New("pool.worker_concurrency must be positive")
	ErrMaxQueueSizeInvalid      = errors.New("pool.max_queue_size must be positive")
	ErrRequestTimeoutInvalid    = errors.New("pool.request_timeout_millis must be positive")
	ErrQueueTimeoutInvalid      = errors.New("pool.queue_timeout_millis must not be negative")
	ErrStorageDBPathEmpty       = errors.New("storage.db_path must not be empty")
	ErrMaxSessionsPerKeyInvalid = errors.New("session.max_sessions_per_key must be positive")
)
