package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/iofold/iofold-sub002/pkg/kernel"
)

// Store is the durable job table, the sole source of truth for status.
//
// UpdateStatus is the only mutation primitive available to the worker
// loop and the service: a compare-and-swap on status. Callers supply the
// status they expect to be overwriting; a mismatch returns
// ErrStatusConflict and writes nothing. This is what makes claiming,
// cancellation and completion race-free across concurrent workers.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string, workspaceID kernel.WorkspaceID) (*Job, error)
	ListByWorkspace(ctx context.Context, workspaceID kernel.WorkspaceID, filter ListFilter) ([]*Job, error)
	UpdateStatus(ctx context.Context, id string, workspaceID kernel.WorkspaceID, expected, next JobStatus, upd StatusUpdate) (*Job, error)

	// UpdateProgress replaces the progress document. The write is guarded
	// on status = running so a late progress flush can never touch a
	// terminal row; a guarded miss returns ErrStatusConflict.
	UpdateProgress(ctx context.Context, id string, workspaceID kernel.WorkspaceID, progress json.RawMessage) error
}

// RetryStore persists the append-only retry audit trail.
type RetryStore interface {
	Append(ctx context.Context, rec *RetryRecord) error
	ListByJob(ctx context.Context, jobID string, workspaceID kernel.WorkspaceID) ([]*RetryRecord, error)
}

// Transport enqueues messages for asynchronous execution. Delivery is
// at-least-once; the claim CAS makes duplicate delivery harmless.
type Transport interface {
	Enqueue(ctx context.Context, msg QueueMessage) error
}

// Consumer is the worker-facing side of a queue transport. Dequeue blocks
// until a message is available or the timeout expires; a nil message with
// a nil error means timeout.
type Consumer interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*QueueMessage, error)
}
