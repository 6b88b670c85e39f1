package jobsinfra

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/iofold/iofold-sub002/pkg/errx"
	"github.com/iofold/iofold-sub002/pkg/jobs"
	"github.com/iofold/iofold-sub002/pkg/kernel"
)

// MemoryStore is an in-memory implementation of jobs.Store and
// jobs.RetryStore with the same compare-and-swap semantics as the
// Postgres store. Used by tests and local development without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	jobs        map[string]*jobs.Job
	retries     map[string][]*jobs.RetryRecord
	nextRetryID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*jobs.Job),
		retries: make(map[string][]*jobs.RetryRecord),
	}
}

var (
	_ jobs.Store      = (*MemoryStore)(nil)
	_ jobs.RetryStore = (*MemoryStore)(nil)
)

// Create inserts a new job row.
func (m *MemoryStore) Create(_ context.Context, job *jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return errx.Conflict("job already exists").WithDetail("job_id", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a workspace-scoped snapshot of a job.
func (m *MemoryStore) Get(_ context.Context, id string, workspaceID kernel.WorkspaceID) (*jobs.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok || job.WorkspaceID != workspaceID {
		return nil, jobs.ErrNotFoundFor(id)
	}
	return job.Clone(), nil
}

// ListByWorkspace returns a bounded, newest-first listing.
func (m *MemoryStore) ListByWorkspace(_ context.Context, workspaceID kernel.WorkspaceID, filter jobs.ListFilter) ([]*jobs.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*jobs.Job
	for _, job := range m.jobs {
		if job.WorkspaceID != workspaceID {
			continue
		}
		if filter.Type != nil && job.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		out = append(out, job.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := filter.EffectiveLimit()
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus performs the status-guarded compare-and-swap.
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, workspaceID kernel.WorkspaceID, expected, next jobs.JobStatus, upd jobs.StatusUpdate) (*jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.WorkspaceID != workspaceID {
		return nil, jobs.ErrNotFoundFor(id)
	}
	if job.Status != expected {
		return nil, jobs.ErrConflictBetween(id, expected, job.Status)
	}

	job.Status = next
	if upd.StartedAt != nil {
		t := *upd.StartedAt
		job.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		job.CompletedAt = &t
	}
	if upd.Result != nil {
		job.Result = append(json.RawMessage(nil), upd.Result...)
	}
	if upd.Error != nil {
		job.Error = *upd.Error
	}
	if upd.RetryCount != nil {
		job.RetryCount = *upd.RetryCount
	}
	if upd.ClearOutcome {
		job.Result = nil
		job.Error = ""
		job.Progress = nil
	}
	return job.Clone(), nil
}

// UpdateProgress replaces the progress document, guarded on running.
func (m *MemoryStore) UpdateProgress(_ context.Context, id string, workspaceID kernel.WorkspaceID, progress json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.WorkspaceID != workspaceID {
		return jobs.ErrNotFoundFor(id)
	}
	if job.Status != jobs.StatusRunning {
		return jobs.ErrConflictBetween(id, jobs.StatusRunning, job.Status)
	}
	job.Progress = append(json.RawMessage(nil), progress...)
	return nil
}

// Append adds one retry audit record.
func (m *MemoryStore) Append(_ context.Context, rec *jobs.RetryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRetryID++
	cp := *rec
	cp.ID = m.nextRetryID
	m.retries[rec.JobID] = append(m.retries[rec.JobID], &cp)
	return nil
}

// ListByJob returns a job's audit records ordered by attempt number.
func (m *MemoryStore) ListByJob(_ context.Context, jobID string, workspaceID kernel.WorkspaceID) ([]*jobs.RetryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*jobs.RetryRecord
	for _, rec := range m.retries[jobID] {
		if rec.WorkspaceID != workspaceID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}
