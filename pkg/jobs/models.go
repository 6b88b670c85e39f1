package jobs

import (
	"encoding/json"
	"time"

	"github.com/iofold/iofold-sub002/pkg/kernel"
)

// JobType identifies the handler responsible for executing a job.
type JobType string

const (
	TypeImport           JobType = "import"
	TypeGenerate         JobType = "generate"
	TypeExecute          JobType = "execute"
	TypeGepaOptimization JobType = "gepa_optimization"
	TypeRolloutTask      JobType = "rollout_task"
	TypeTasksetRun       JobType = "taskset_run"
)

func (t JobType) String() string { return string(t) }

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) String() string { return string(s) }

// Terminal reports whether the status admits no further transitions
// other than retry re-activation of a failed job.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is the unit of trackable asynchronous work. The job row is the sole
// source of truth for status; all mutations go through the status-guarded
// compare-and-swap on the Store.
type Job struct {
	ID          string             `json:"id"`
	WorkspaceID kernel.WorkspaceID `json:"workspace_id"`
	Type        JobType            `json:"type"`
	Status      JobStatus          `json:"status"`

	// Metadata is the write-once request payload the job was created with.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// Progress is handler-defined JSON, monotonically replaced.
	Progress json.RawMessage `json:"progress,omitempty"`

	// Result is set only on the transition into completed; Error only on
	// the transition into failed or cancelled. They are mutually exclusive.
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the job. Stores hand out clones so callers
// can never mutate shared state.
func (j *Job) Clone() *Job {
	c := *j
	c.Metadata = cloneRaw(j.Metadata)
	c.Progress = cloneRaw(j.Progress)
	c.Result = cloneRaw(j.Result)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	c := make(json.RawMessage, len(raw))
	copy(c, raw)
	return c
}

// RetryRecord is an append-only audit entry, one per failed attempt.
type RetryRecord struct {
	ID            int64              `json:"id"`
	JobID         string             `json:"job_id"`
	WorkspaceID   kernel.WorkspaceID `json:"workspace_id"`
	AttemptNumber int                `json:"attempt_number"`
	Error         string             `json:"error"`
	AttemptedAt   time.Time          `json:"attempted_at"`
}

// QueueMessage is the ephemeral envelope carried by the queue transport.
// Its only durable representation is the job row it references; delivery
// is at-least-once, so consumers must claim before executing.
type QueueMessage struct {
	JobID       string             `json:"job_id"`
	WorkspaceID kernel.WorkspaceID `json:"workspace_id"`
	Type        JobType            `json:"type"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
}

// StatusUpdate carries the fields written alongside a status transition.
// Nil pointers leave the column untouched.
type StatusUpdate struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      json.RawMessage
	Error       *string
	RetryCount  *int

	// ClearOutcome wipes result, error and progress; used by the
	// failed -> queued retry re-activation.
	ClearOutcome bool
}

// List bounds, per the store contract.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListFilter narrows a workspace-scoped job listing.
type ListFilter struct {
	Type   *JobType
	Status *JobStatus
	Limit  int
}

// EffectiveLimit clamps the requested page size to the hard cap.
func (f ListFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}
