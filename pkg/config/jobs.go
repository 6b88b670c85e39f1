package config

import "time"

// JobsConfig configures the job orchestration subsystem: worker pool,
// retry policy, progress coalescing and the SSE bridge.
type JobsConfig struct {
	Concurrency     int
	DequeueTimeout  time.Duration
	ShutdownTimeout time.Duration

	// AutoRetry re-enqueues failed jobs with remaining retry budget
	// directly from the worker loop. Only honored when an async queue
	// transport is configured.
	AutoRetry bool

	// DefaultMaxRetries applies when a submission does not set its own
	// retry budget.
	DefaultMaxRetries int

	// ProgressFlushInterval bounds how often coalesced progress updates
	// are written to the job store.
	ProgressFlushInterval time.Duration

	// CancelPollInterval is how often a running job's row is re-read to
	// observe cooperative cancellation.
	CancelPollInterval time.Duration

	// StreamPollInterval is the SSE bridge's fixed polling tick.
	StreamPollInterval time.Duration

	// StreamMaxLifetime bounds the total lifetime of one SSE connection.
	StreamMaxLifetime time.Duration
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		Concurrency:           getEnvInt("JOBS_CONCURRENCY", 4),
		DequeueTimeout:        getEnvDuration("JOBS_DEQUEUE_TIMEOUT", 5*time.Second),
		ShutdownTimeout:       getEnvDuration("JOBS_SHUTDOWN_TIMEOUT", 30*time.Second),
		AutoRetry:             getEnvBool("JOBS_AUTO_RETRY", false),
		DefaultMaxRetries:     getEnvInt("JOBS_DEFAULT_MAX_RETRIES", 3),
		ProgressFlushInterval: getEnvDuration("JOBS_PROGRESS_FLUSH_INTERVAL", 200*time.Millisecond),
		CancelPollInterval:    getEnvDuration("JOBS_CANCEL_POLL_INTERVAL", time.Second),
		StreamPollInterval:    getEnvDuration("JOBS_STREAM_POLL_INTERVAL", time.Second),
		StreamMaxLifetime:     getEnvDuration("JOBS_STREAM_MAX_LIFETIME", 5*time.Minute),
	}
}
