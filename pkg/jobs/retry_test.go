package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/iofold/iofold-sub002/pkg/jobs"
	"github.com/iofold/iofold-sub002/pkg/jobs/jobsinfra"
	"github.com/iofold/iofold-sub002/pkg/ptrx"
)

// flakyHandler fails the first n invocations, then succeeds.
func flakyHandler(failures int32) jobs.HandlerFunc {
	var calls int32
	return func(_ context.Context, _ *jobs.Job, _ jobs.ProgressFunc) (json.RawMessage, error) {
		if atomic.AddInt32(&calls, 1) <= failures {
			return nil, errors.New("transient failure")
		}
		return json.RawMessage(`{"ok":true}`), nil
	}
}

func TestRetry_ReactivatesFailedJob(t *testing.T) {
	svc, store := newSyncService(t, map[jobs.JobType]jobs.HandlerFunc{
		jobs.TypeExecute: flakyHandler(1),
	})

	job, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeExecute,
		MaxRetries:  ptrx.Int(3),
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != jobs.StatusFailed {
		t.Fatalf("expected first attempt to fail, got %s", job.Status)
	}

	retried, err := svc.Retry(context.Background(), job.ID, testWorkspace)
	if err != nil {
		t.Fatal(err)
	}
	if retried.Status != jobs.StatusCompleted {
		t.Fatalf("expected retry to complete, got %s", retried.Status)
	}
	if retried.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", retried.RetryCount)
	}
	if retried.Error != "" {
		t.Fatalf("retried job should have cleared error, got %q", retried.Error)
	}
	if string(retried.Result) != `{"ok":true}` {
		t.Fatalf("unexpected result: %s", retried.Result)
	}

	records, err := store.ListByJob(context.Background(), job.ID, testWorkspace)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(records))
	}
	if records[0].AttemptNumber != 1 {
		t.Fatalf("expected attempt_number 1, got %d", records[0].AttemptNumber)
	}
	if records[0].Error != "transient failure" {
		t.Fatalf("unexpected recorded error: %q", records[0].Error)
	}
}

func TestRetry_ExhaustedBudget(t *testing.T) {
	svc, _ := newSyncService(t, map[jobs.JobType]jobs.HandlerFunc{
		jobs.TypeExecute: failHandler("always"),
	})

	job, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeExecute,
		MaxRetries:  ptrx.Int(2),
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		failed, err := svc.Retry(context.Background(), job.ID, testWorkspace)
		if err != nil {
			t.Fatalf("retry %d: %v", i+1, err)
		}
		if failed.Status != jobs.StatusFailed {
			t.Fatalf("retry %d: expected failed, got %s", i+1, failed.Status)
		}
	}

	if _, err := svc.Retry(context.Background(), job.ID, testWorkspace); err == nil {
		t.Fatal("expected retry budget exhaustion")
	}

	records, err := svc.ListRetries(context.Background(), job.ID, testWorkspace)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 audit records (initial + 2 retries), got %d", len(records))
	}
	for i, rec := range records {
		if rec.AttemptNumber != i+1 {
			t.Fatalf("record %d: attempt_number = %d, want %d", i, rec.AttemptNumber, i+1)
		}
	}
}

func TestRetry_NonFailedJobRejected(t *testing.T) {
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

	if _, err := svc.Retry(context.Background(), job.ID, testWorkspace); err == nil {
		t.Fatal("retrying a completed job must fail")
	}
}

func TestRetry_EnqueueFailureMarksJobFailed(t *testing.T) {
	store := jobsinfra.NewMemoryStore()
	registry := jobs.NewRegistry()
	registry.Register(jobs.TypeExecute, failHandler("boom"))

	// First submission succeeds through the transport; retries hit a dead
	// queue.
	transport := &failAfterTransport{allow: 1}
	svc := jobs.NewService(store, store, registry, jobs.WithTransport(transport))

	job, err := svc.Submit(context.Background(), jobs.Submission{
		WorkspaceID: testWorkspace,
		Type:        jobs.TypeExecute,
		MaxRetries:  ptrx.Int(3),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Drive the queued job to failed the way a worker would.
	svc.Executor().Process(context.Background(), jobs.QueueMessage{
		JobID:       job.ID,
		WorkspaceID: testWorkspace,
		Type:        job.Type,
	})

	if _, err := svc.Retry(context.Background(), job.ID, testWorkspace); err == nil {
		t.Fatal("expected queue unavailable error")
	}

	current, err := svc.Get(context.Background(), job.ID, testWorkspace)
	if err != nil {
		t.Fatal(err)
	}
	if current.Status != jobs.StatusFailed {
		t.Fatalf("job must not sit queued after enqueue failure, got %s", current.Status)
	}
}

func TestListRetries_CrossWorkspaceIsNotFound(t *testing.T) {
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

	if _, err := svc.ListRetries(context.Background(), job.ID, "ws-other"); !jobs.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

// failAfterTransport allows the first n enqueues, then fails.
type failAfterTransport struct {
	allow int32
}

func (f *failAfterTransport) Enqueue(context.Context, jobs.QueueMessage) error {
	if atomic.AddInt32(&f.allow, -1) >= 0 {
		return nil
	}
	return errors.New("connection refused")
}
