package jobs

import (
	"context"
	"encoding/json"
	"sync"
)

// ProgressFunc reports handler-defined progress JSON. Successive calls
// replace the previous document; the publisher coalesces rapid updates
// before they reach the store. Safe for concurrent use, but a handler
// spawning internal concurrency should still serialize its own calls so
// updates arrive in order.
type ProgressFunc func(progress json.RawMessage)

// Handler executes the business logic for one job type. The context is
// cancelled when the job is cancelled or the worker shuts down; a
// long-running handler must check it at safe points — ignoring it is a
// contract violation, not something the worker can preempt. The returned
// JSON becomes the job's result.
type Handler interface {
	Execute(ctx context.Context, job *Job, report ProgressFunc) (json.RawMessage, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *Job, report ProgressFunc) (json.RawMessage, error)

func (f HandlerFunc) Execute(ctx context.Context, job *Job, report ProgressFunc) (json.RawMessage, error) {
	return f(ctx, job, report)
}

// Registry maps job types to their handlers. Handlers are resolved at
// startup; submitting a type with no registered handler is a validation
// error rather than a silent no-op.
type Registry struct {
	mu       sync.RWMutex
	handlers map[JobType]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[JobType]Handler)}
}

// Register adds a handler for a job type, replacing any previous one.
func (r *Registry) Register(t JobType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Get returns the handler for the given type.
func (r *Registry) Get(t JobType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
