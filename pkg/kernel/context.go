package kernel

import "context"

type ContextKey string

const (
	// WorkspaceContextKey is the key under which the request's WorkspaceID
	// is stored in context.Context
	WorkspaceContextKey ContextKey = "workspace_id"

	// RequestIDKey is the key under which the request ID is stored
	RequestIDKey ContextKey = "request_id"
)

// WithWorkspace returns a context carrying the given workspace scope.
func WithWorkspace(ctx context.Context, id WorkspaceID) context.Context {
	return context.WithValue(ctx, WorkspaceContextKey, id)
}

// WorkspaceFromContext extracts the workspace scope from a context.
// The second return value is false when no scope is present.
func WorkspaceFromContext(ctx context.Context) (WorkspaceID, bool) {
	id, ok := ctx.Value(WorkspaceContextKey).(WorkspaceID)
	if !ok || id.IsEmpty() {
		return "", false
	}
	return id, true
}
