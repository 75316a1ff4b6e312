package config

import "fmt"

// Validate aggregates the bound checks spec §6 implies for each section,
// returning the first failure. Its shape — named check functions fanned out
// from one entry point — follows the teacher's original config/validator.go.
func Validate(cfg Config) error {
	checks := []func(Config) error{
		validatePool,
		validateStorage,
		validateSession,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validatePool(cfg Config) error {
	if cfg.Pool.WorkerConcurrency <= 0 {
		return fmt.Errorf("worker_concurrency=%d: %w", cfg.Pool.WorkerConcurrency, ErrWorkerConcurrencyInvalid)
	}
	if cfg.Pool.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size=%d: %w", cfg.Pool.MaxQueueSize, ErrMaxQueueSizeInvalid)
	}
	if cfg.Pool.RequestTimeoutMillis <= 0 {
		return fmt.Errorf("request_timeout_millis=%d: %w", cfg.Pool.RequestTimeoutMillis, ErrRequestTimeoutInvalid)
	}
	if cfg.Pool.QueueTimeoutMillis < 0 {
		return fmt.Errorf("queue_timeout_millis=%d: %w", cfg.Pool.QueueTimeoutMillis, ErrQueueTimeoutInvalid)
	}
	return nil
}

func validateStorage(cfg Config) error {
	if cfg.Storage.DBPath == "" {
		return ErrStorageDBPathEmpty
	}
	return nil
}

func validateSession(cfg Config) error {
	if cfg.Session.MaxSessionsPerKey <= 0 {
		return fmt.Errorf("max_sessions_per_key=%d: %w", cfg.Session.MaxSessionsPerKey, ErrMaxSessionsPerKeyInvalid)
	}
	return nil
}
