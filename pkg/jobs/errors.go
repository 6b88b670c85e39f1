package jobs

import "github.com/iofold/iofold-sub002/pkg/errx"

var jobsErrors = errx.NewRegistry("JOBS")

var (
	ErrValidation       = jobsErrors.Register("VALIDATION_ERROR", errx.TypeValidation, 400, "Invalid job request")
	ErrNotFound         = jobsErrors.Register("NOT_FOUND", errx.TypeNotFound, 404, "Job not found")
	ErrInvalidState     = jobsErrors.Register("INVALID_STATE", errx.TypeConflict, 400, "Operation not valid for current job status")
	ErrRetryExhausted   = jobsErrors.Register("RETRY_EXHAUSTED", errx.TypeBusiness, 400, "Job retry budget exhausted")
	ErrQueueUnavailable = jobsErrors.Register("QUEUE_UNAVAILABLE", errx.TypeExternal, 503, "Queue transport unavailable")
	ErrHandlerError     = jobsErrors.Register("HANDLER_ERROR", errx.TypeInternal, 500, "Job handler failed")

	ErrAlreadyRunning = jobsErrors.Register("ALREADY_RUNNING", errx.TypeConflict, 409, "Worker is already running")

	// ErrStatusConflict signals a failed compare-and-swap: the job's
	// status no longer matches what the caller expected. Internal to the
	// store contract; service-level callers translate it.
	ErrStatusConflict = jobsErrors.Register("STATUS_CONFLICT", errx.TypeConflict, 409, "Job status changed concurrently")
)

// ErrNotFoundFor builds a NOT_FOUND error carrying the job id.
func ErrNotFoundFor(id string) *errx.Error {
	return jobsErrors.New(ErrNotFound).WithDetail("job_id", id)
}

// ErrConflictBetween builds a STATUS_CONFLICT error describing a failed
// compare-and-swap.
func ErrConflictBetween(id string, expected, actual JobStatus) *errx.Error {
	return jobsErrors.New(ErrStatusConflict).
		WithDetail("job_id", id).
		WithDetail("expected", expected.String()).
		WithDetail("actual", actual.String())
}

// IsNotFound reports whether err is the store's not-found error.
func IsNotFound(err error) bool {
	return errx.HasCode(err, ErrNotFound)
}

// IsStatusConflict reports whether err is a failed compare-and-swap.
func IsStatusConflict(err error) bool {
	return errx.HasCode(err, ErrStatusConflict)
}
