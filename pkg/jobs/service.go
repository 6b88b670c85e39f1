package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/iofold/iofold-sub002/pkg/kernel"
	"github.com/iofold/iofold-sub002/pkg/logx"
	"github.com/iofold/iofold-sub002/pkg/ptrx"
)

// Service is the orchestrator: it owns the job store, the queue transport,
// the handler registry and the retry coordinator, all passed in by the
// composition root rather than held as package state.
type Service struct {
	store     Store
	retries   RetryStore
	registry  *Registry
	transport Transport
	opts      ServiceOptions

	exec  *Executor
	retry *Coordinator
}

// NewService wires the orchestrator. A nil transport (no WithTransport
// option) enables synchronous fallback: Submit runs the handler inline
// through the same claim/complete transitions, so callers observe no
// behavioral difference beyond latency.
func NewService(store Store, retries RetryStore, registry *Registry, options ...ServiceOption) *Service {
	opts := defaultServiceOptions()
	for _, o := range options {
		o(&opts)
	}

	s := &Service{
		store:     store,
		retries:   retries,
		registry:  registry,
		transport: opts.Transport,
		opts:      opts,
	}
	s.retry = NewCoordinator(store, retries, s.dispatch)
	s.exec = &Executor{
		store:            store,
		registry:         registry,
		retry:            s.retry,
		progressInterval: opts.ProgressInterval,
		cancelPoll:       opts.CancelPoll,
		autoRetry:        opts.AutoRetry && opts.Transport != nil,
	}
	return s
}

// Executor exposes the claim-and-execute engine for worker pools.
func (s *Service) Executor() *Executor { return s.exec }

// Coordinator exposes the retry coordinator.
func (s *Service) Coordinator() *Coordinator { return s.retry }

// dispatch is the single hand-off point for queue messages: transport
// when configured, inline execution otherwise.
func (s *Service) dispatch(ctx context.Context, msg QueueMessage) error {
	if s.transport == nil {
		s.exec.Process(ctx, msg)
		return nil
	}
	return s.transport.Enqueue(ctx, msg)
}

// Submission describes a job creation request.
type Submission struct {
	WorkspaceID kernel.WorkspaceID
	Type        JobType
	Metadata    json.RawMessage
	MaxRetries  *int
}

// Submit creates a job row in queued state and hands it to the transport.
// Validation failures happen before any row exists and are returned
// synchronously; an enqueue failure after the row exists marks the job
// failed instead of surfacing to the caller, so it can never sit queued
// forever.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Job, error) {
	if sub.WorkspaceID.IsEmpty() {
		return nil, jobsErrors.NewWithMessage(ErrValidation, "workspace scope is required")
	}
	if sub.Type == "" {
		return nil, jobsErrors.NewWithMessage(ErrValidation, "job type is required")
	}
	if _, ok := s.registry.Get(sub.Type); !ok {
		return nil, jobsErrors.NewWithMessage(ErrValidation, "unknown job type").
			WithDetail("type", sub.Type.String())
	}

	job := &Job{
		ID:          uuid.New().String(),
		WorkspaceID: sub.WorkspaceID,
		Type:        sub.Type,
		Status:      StatusQueued,
		Metadata:    sub.Metadata,
		MaxRetries:  ptrx.ValueOr(sub.MaxRetries, s.opts.DefaultMaxRetries),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	msg := QueueMessage{
		JobID:       job.ID,
		WorkspaceID: job.WorkspaceID,
		Type:        job.Type,
		Payload:     job.Metadata,
	}
	if err := s.dispatch(ctx, msg); err != nil {
		errMsg := "failed to enqueue job: " + err.Error()
		now := time.Now().UTC()
		if _, uerr := s.store.UpdateStatus(ctx, job.ID, job.WorkspaceID, StatusQueued, StatusFailed, StatusUpdate{
			Error:       &errMsg,
			CompletedAt: &now,
		}); uerr != nil {
			logx.WithError(uerr).Errorf("jobs: failed to mark job %s failed after enqueue error", job.ID)
		}
	}

	// Re-read: sync fallback may already have driven the job terminal.
	return s.store.Get(ctx, job.ID, job.WorkspaceID)
}

// Get returns a workspace-scoped job snapshot.
func (s *Service) Get(ctx context.Context, id string, workspaceID kernel.WorkspaceID) (*Job, error) {
	return s.store.Get(ctx, id, workspaceID)
}

// List returns a bounded, workspace-scoped job listing.
func (s *Service) List(ctx context.Context, workspaceID kernel.WorkspaceID, filter ListFilter) ([]*Job, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, jobsErrors.NewWithMessage(ErrValidation, "unknown status filter").
			WithDetail("status", filter.Status.String())
	}
	return s.store.ListByWorkspace(ctx, workspaceID, filter)
}

// Cancel transitions a non-terminal job to cancelled. Cancelling a
// running job is cooperative: the worker's cancellation watcher observes
// the row and cancels the handler context; a handler that never checks it
// runs to completion and its result is discarded.
func (s *Service) Cancel(ctx context.Context, id string, workspaceID kernel.WorkspaceID) (*Job, error) {
	now := time.Now().UTC()
	reason := "job cancelled by client request"
	upd := StatusUpdate{CompletedAt: &now, Error: &reason}

	job, err := s.store.UpdateStatus(ctx, id, workspaceID, StatusQueued, StatusCancelled, upd)
	if err == nil {
		return job, nil
	}
	if !IsStatusConflict(err) {
		return nil, err
	}

	job, err = s.store.UpdateStatus(ctx, id, workspaceID, StatusRunning, StatusCancelled, upd)
	if err == nil {
		return job, nil
	}
	if IsStatusConflict(err) {
		current, gerr := s.store.Get(ctx, id, workspaceID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, jobsErrors.NewWithMessage(ErrInvalidState, "job is already terminal").
			WithDetail("status", current.Status.String())
	}
	return nil, err
}

// Retry re-activates a failed job through the retry coordinator.
func (s *Service) Retry(ctx context.Context, id string, workspaceID kernel.WorkspaceID) (*Job, error) {
	return s.retry.Retry(ctx, id, workspaceID)
}

// ListRetries returns the ordered audit trail for a job.
func (s *Service) ListRetries(ctx context.Context, id string, workspaceID kernel.WorkspaceID) ([]*RetryRecord, error) {
	// Scope check first so cross-workspace probes get the same 404 as an
	// unknown id.
	if _, err := s.store.Get(ctx, id, workspaceID); err != nil {
		return nil, err
	}
	return s.retries.ListByJob(ctx, id, workspaceID)
}
