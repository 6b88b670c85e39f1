package jobs

import (
	"context"
	"time"

	"github.com/iofold/iofold-sub002/pkg/kernel"
	"github.com/iofold/iofold-sub002/pkg/logx"
)

// EnqueueFunc hands a re-activated job back to execution. In async mode
// it enqueues on the transport; in sync fallback it runs the job inline.
// Manual and automatic retries go through this one path so their behavior
// never diverges.
type EnqueueFunc func(ctx context.Context, msg QueueMessage) error

// Coordinator decides retry eligibility for failed jobs and keeps the
// append-only audit trail of attempts.
type Coordinator struct {
	store   Store
	retries RetryStore
	enqueue EnqueueFunc
}

// NewCoordinator creates a retry coordinator.
func NewCoordinator(store Store, retries RetryStore, enqueue EnqueueFunc) *Coordinator {
	return &Coordinator{store: store, retries: retries, enqueue: enqueue}
}

// RecordAttempt appends one audit record for a failed attempt. Attempt
// numbers are 1-based: the Nth failure is recorded as retry_count+1 as
// observed at failure time.
func (c *Coordinator) RecordAttempt(ctx context.Context, job *Job, errMsg string) error {
	rec := &RetryRecord{
		JobID:         job.ID,
		WorkspaceID:   job.WorkspaceID,
		AttemptNumber: job.RetryCount + 1,
		Error:         errMsg,
		AttemptedAt:   time.Now().UTC(),
	}
	return c.retries.Append(ctx, rec)
}

// CanRetry reports whether a job is eligible for another attempt.
func (c *Coordinator) CanRetry(job *Job) bool {
	return job.Status == StatusFailed && job.RetryCount < job.MaxRetries
}

// Retry re-activates a failed job: failed -> queued with the retry count
// incremented and the previous outcome cleared, then re-enqueues it.
func (c *Coordinator) Retry(ctx context.Context, id string, workspaceID kernel.WorkspaceID) (*Job, error) {
	job, err := c.store.Get(ctx, id, workspaceID)
	if err != nil {
		return nil, err
	}

	if job.Status != StatusFailed {
		return nil, jobsErrors.NewWithMessage(ErrInvalidState, "only failed jobs can be retried").
			WithDetail("status", job.Status.String())
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, jobsErrors.New(ErrRetryExhausted).
			WithDetail("retry_count", job.RetryCount).
			WithDetail("max_retries", job.MaxRetries)
	}

	next := job.RetryCount + 1
	queued, err := c.store.UpdateStatus(ctx, id, workspaceID, StatusFailed, StatusQueued, StatusUpdate{
		RetryCount:   &next,
		ClearOutcome: true,
	})
	if err != nil {
		if IsStatusConflict(err) {
			return nil, jobsErrors.NewWithMessage(ErrInvalidState, "job status changed before retry").
				WithDetail("job_id", id)
		}
		return nil, err
	}

	msg := QueueMessage{
		JobID:       queued.ID,
		WorkspaceID: queued.WorkspaceID,
		Type:        queued.Type,
		Payload:     queued.Metadata,
	}
	if err := c.enqueue(ctx, msg); err != nil {
		// The row is re-queued but nothing will pick it up; fail it so it
		// cannot sit queued forever.
		errMsg := "failed to enqueue retry: " + err.Error()
		now := time.Now().UTC()
		if _, uerr := c.store.UpdateStatus(ctx, id, workspaceID, StatusQueued, StatusFailed, StatusUpdate{
			Error:       &errMsg,
			CompletedAt: &now,
		}); uerr != nil {
			logx.WithError(uerr).Errorf("jobs: failed to mark job %s failed after enqueue error", id)
		}
		return nil, jobsErrors.NewWithCause(ErrQueueUnavailable, err).WithDetail("job_id", id)
	}

	return c.store.Get(ctx, id, workspaceID)
}
