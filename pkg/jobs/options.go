package jobs

import "time"

// WorkerOptions configures the consuming worker pool.
type WorkerOptions struct {
	Concurrency     int
	DequeueTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func defaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency:     4,
		DequeueTimeout:  5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// WorkerOption is a functional option for configuring the worker.
type WorkerOption func(*WorkerOptions)

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithDequeueTimeout sets the timeout passed to the blocking dequeue call.
func WithDequeueTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		o.DequeueTimeout = d
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight jobs on shutdown.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		o.ShutdownTimeout = d
	}
}

// ServiceOptions configures the orchestration service.
type ServiceOptions struct {
	Transport         Transport
	AutoRetry         bool
	DefaultMaxRetries int
	ProgressInterval  time.Duration
	CancelPoll        time.Duration
}

func defaultServiceOptions() ServiceOptions {
	return ServiceOptions{
		DefaultMaxRetries: 3,
		ProgressInterval:  200 * time.Millisecond,
		CancelPoll:        time.Second,
	}
}

// ServiceOption is a functional option for configuring the service.
type ServiceOption func(*ServiceOptions)

// WithTransport wires an asynchronous queue transport. Without one the
// service falls back to synchronous in-process execution on submit.
func WithTransport(t Transport) ServiceOption {
	return func(o *ServiceOptions) {
		o.Transport = t
	}
}

// WithAutoRetry re-enqueues failed jobs with remaining budget directly
// from the worker loop. Only honored in async mode; synchronous fallback
// leaves failures for manual retry.
func WithAutoRetry(enabled bool) ServiceOption {
	return func(o *ServiceOptions) {
		o.AutoRetry = enabled
	}
}

// WithDefaultMaxRetries sets the retry budget applied when a submission
// does not carry its own.
func WithDefaultMaxRetries(n int) ServiceOption {
	return func(o *ServiceOptions) {
		if n >= 0 {
			o.DefaultMaxRetries = n
		}
	}
}

// WithProgressInterval bounds how often coalesced progress updates reach
// the store.
func WithProgressInterval(d time.Duration) ServiceOption {
	return func(o *ServiceOptions) {
		if d > 0 {
			o.ProgressInterval = d
		}
	}
}

// WithCancelPoll sets how often a running job's row is re-read to observe
// cooperative cancellation.
func WithCancelPoll(d time.Duration) ServiceOption {
	return func(o *ServiceOptions) {
		if d > 0 {
			o.CancelPoll = d
		}
	}
}
