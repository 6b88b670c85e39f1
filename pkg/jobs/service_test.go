package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/iofold/iofold-sub002/pkg/jobs"
	"github.com/iofold/iofold-sub002/pkg/jobs/jobsinfra"
	"github.com/iofold/iofold-sub002/pkg/kernel"
	"github.com/iofold/iofold-sub002/pkg/ptrx"
)

const testWorkspace = kernel.WorkspaceID("ws-1")

func newSyncService(t *testing.T, handlers map[jobs.JobType]jobs.HandlerFunc, options ...jobs.ServiceOption) (*jobs.Service, *jobsinfra.MemoryStore) {
	t.Helper()
	store := jobsinfra.NewMemoryStore()
	registry := jobs.NewRegistry()
	for typ, fn := range handlers {
		registry.Register(typ, fn)
	}
	return jobs.NewService(store, store, registry, options...), store
}

func okHandler(result string) jobs.HandlerFunc {
	return func(_ context.Context, _ *jobs.Job, _ jobs.ProgressFunc) (json.RawMessage, error) {
		return json.RawMessage(result), nil
	}
}

func failHandler(msg string) jobs.HandlerFunc {
	return func(_ context.Context, _ *jobs.Job, _ jobs.ProgressFunc) (json.RawMessage, error) {
		return nil, errors.New(msg)
	}
}

// --- Submit ---

func TestSubmit_SyncFallbackRunsToCompletion(t *testing.T) {
	svc, _ := newSyncService(t, map[jobs.JobType]jobs.HandlerFunc{
		jobs.TypeImport: okHandler(`{"imported":5}`),
	})

	job, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeImport,
		Metadata:    json.RawMessage(`{"source":"traces"}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	if job.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if string(job.Result) != `{"imported":5}` {
		t.Fatalf("unexpected result: %s", job.Result)
	}
	if job.Error != "" {
		t.Fatalf("completed job must not carry an error, got %q", job.Error)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatal("expected started_at and completed_at to be set")
	}
}

func TestSubmit_SyncFallbackRecordsFailure(t *testing.T) {
	svc, _ := newSyncService(t, map[jobs.JobType]jobs.HandlerFunc{
		jobs.TypeImport: failHandler("upstream unreachable"),
	})

	job, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeImport,
	})
	if err != nil {
		t.Fatal(err)
	}

	if job.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error != "upstream unreachable" {
		t.Fatalf("unexpected error: %q", job.Error)
	}
	if job.Result != nil {
		t.Fatalf("failed job must not carry a result, got %s", job.Result)
	}
}

func TestSubmit_HandlerPanicBecomesFailure(t *testing.T) {
	svc, _ := newSyncService(t, map[jobs.JobType]jobs.HandlerFunc{
		jobs.TypeExecute: func(_ context.Context, _ *jobs.Job, _ jobs.ProgressFunc) (json.RawMessage, error) {
			panic("boom")
		},
	})

	job, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeExecute,
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error != "handler panic: boom" {
		t.Fatalf("unexpected error: %q", job.Error)
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc, _ := newSyncService(t, map[jobs.JobType]jobs.HandlerFunc{
		jobs.TypeImport: okHandler(`{}`),
	})

	cases := []struct {
		name string
		sub  jobs.Submission
	}{
		{"missing workspace", jobs.Submission{Type: jobs.TypeImport}},
		{"missing type", jobs.Submission{WorkspaceID: testWorkspace}},
		{"unregistered type", jobs.Submission{WorkspaceID: testWorkspace, Type: jobs.TypeGenerate}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Submit(context.Background(), tc.sub); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSubmit_DefaultMaxRetries(t *testing.T) {
	svc, store := newSyncService(t, map[jobs.JobType]jobs.HandlerFunc{
		jobs.TypeImport: okHandler(`{}`),
	}, jobs.WithDefaultMaxRetries(7))

	job, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeImport,
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.MaxRetries != 7 {
		t.Fatalf("expected default max_retries 7, got %d", job.MaxRetries)
	}

	override, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeImport,
		MaxRetries:  ptrx.Int(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if override.MaxRetries != 1 {
		t.Fatalf("expected max_retries override 1, got %d", override.MaxRetries)
	}

	stored, err := store.Get(context.Background(), job.ID, testWorkspace)
	if err != nil {
		t.Fatal(err)
	}
	if stored.MaxRetries != 7 {
		t.Fatalf("stored max_retries = %d, want 7", stored.MaxRetries)
	}
}

// --- Get / List ---

func TestGet_WorkspaceScoped(t *testing.T) {
	svc, _ := newSyncService(t, map[jobs.JobType]jobs.HandlerFunc{
		jobs.TypeImport: okHandler(`{}`),
	})

	job, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeImport,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Get(context.Background(), job.ID, kernel.WorkspaceID("ws-other")); !jobs.IsNotFound(err) {
		t.Fatalf("cross-workspace get should be not-found, got %v", err)
	}
}

func TestList_FiltersAndLimit(t *testing.T) {
	svc, _ := newSyncService(t, map[jobs.JobType]jobs.HandlerFunc{
		jobs.TypeImport:   okHandler(`{}`),
		jobs.TypeGenerate: failHandler("nope"),
	})

	for i := 0; i < 3; i++ {
		if _, err := svc.Submit(context.Background(), jobs.Submission{WorkspaceID: testWorkspace, Type: jobs.TypeImport}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Submit(context.Background(), jobs.Submission{WorkspaceID: testWorkspace, Type: jobs.TypeGenerate}); err != nil {
		t.Fatal(err)
	}

	failed := jobs.StatusFailed
	list, err := svc.List(context.Background(), testWorkspace, jobs.ListFilter{Status: &failed})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Type != jobs.TypeGenerate {
		t.Fatalf("expected one failed generate job, got %d", len(list))
	}

	limited, err := svc.List(context.Background(), testWorkspace, jobs.ListFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit 2, got %d", len(limited))
	}

	bogus := jobs.JobStatus("sleeping")
	if _, err := svc.List(context.Background(), testWorkspace, jobs.ListFilter{Status: &bogus}); err == nil {
		t.Fatal("expected validation error for unknown status filter")
	}
}

// --- Cancel ---

func TestCancel_QueuedJob(t *testing.T) {
	store := jobsinfra.NewMemoryStore()
	registry := jobs.NewRegistry()
	registry.Register(jobs.TypeImport, okHandler(`{}`))
	svc := jobs.NewService(store, store, registry, jobs.WithTransport(noopTransport{}))

	job, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeImport,
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != jobs.StatusQueued {
		t.Fatalf("expected queued with async transport, got %s", job.Status)
	}

	cancelled, err := svc.Cancel(context.Background(), job.ID, testWorkspace)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.Error == "" {
		t.Fatal("cancelled job should record a cancellation reason")
	}
	if cancelled.CompletedAt == nil {
		t.Fatal("cancelled job should record completed_at")
	}
}

func TestCancel_TerminalJobRejected(t *testing.T) {
	svc, _ := newSyncService(t, map[jobs.JobType]jobs.HandlerFunc{
		jobs.TypeImport: okHandler(`{}`),
	})

	job, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeImport,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Cancel(context.Background(), job.ID, testWorkspace); err == nil {
		t.Fatal("cancelling a completed job must fail")
	}
}

func TestCancel_UnknownJob(t *testing.T) {
	svc, _ := newSyncService(t, nil)
	if _, err := svc.Cancel(context.Background(), "nope", testWorkspace); !jobs.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

// noopTransport accepts every message and drops it, keeping jobs queued.
type noopTransport struct{}

func (noopTransport) Enqueue(context.Context, jobs.QueueMessage) error { return nil }
