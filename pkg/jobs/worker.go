package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/iofold/iofold-sub002/pkg/kernel"
	"github.com/iofold/iofold-sub002/pkg/logx"
)

// Executor drives a single claimed job through the state machine:
// claim (CAS queued -> running), invoke the registered handler, then the
// terminal CAS. The claim makes at-least-once delivery safe: losing the
// CAS means another worker owns the job (or it was cancelled) and the
// message is simply dropped.
type Executor struct {
	store            Store
	registry         *Registry
	retry            *Coordinator
	progressInterval time.Duration
	cancelPoll       time.Duration
	autoRetry        bool
}

// Process executes the job referenced by msg. It never returns an error:
// everything after a successful claim is recorded on the job row, not
// propagated to the enqueuer.
func (e *Executor) Process(ctx context.Context, msg QueueMessage) {
	now := time.Now().UTC()
	job, err := e.store.UpdateStatus(ctx, msg.JobID, msg.WorkspaceID, StatusQueued, StatusRunning, StatusUpdate{
		StartedAt: &now,
	})
	if err != nil {
		if IsStatusConflict(err) || IsNotFound(err) {
			// Duplicate delivery, or cancelled before claim.
			logx.WithField("job_id", msg.JobID).Debug("jobs: claim lost, dropping message")
			return
		}
		logx.WithError(err).Errorf("jobs: failed to claim job %s", msg.JobID)
		return
	}

	handler, ok := e.registry.Get(job.Type)
	if !ok {
		e.fail(ctx, job, fmt.Sprintf("no handler registered for job type %q", job.Type))
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go e.watchCancellation(runCtx, cancel, job.ID, job.WorkspaceID)

	publisher := NewProgressPublisher(e.store, job.ID, job.WorkspaceID, e.progressInterval)
	publisher.Start(runCtx)

	result, hErr := e.invoke(runCtx, handler, job, publisher.Publish)

	// Flush pending progress before the terminal write; the parent ctx is
	// used because runCtx may already be cancelled.
	publisher.Close(ctx)

	if hErr != nil {
		e.fail(ctx, job, hErr.Error())
		return
	}

	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	done := time.Now().UTC()
	if _, err := e.store.UpdateStatus(ctx, job.ID, job.WorkspaceID, StatusRunning, StatusCompleted, StatusUpdate{
		Result:      result,
		CompletedAt: &done,
	}); err != nil {
		if IsStatusConflict(err) {
			// Cancelled while the handler was finishing.
			logx.WithField("job_id", job.ID).Debug("jobs: job no longer running, discarding result")
			return
		}
		logx.WithError(err).Errorf("jobs: failed to complete job %s", job.ID)
	}
}

// invoke calls the handler with panic recovery. A handler panic must never
// escape the worker loop; it becomes a failed transition like any error.
func (e *Executor) invoke(ctx context.Context, handler Handler, job *Job, report ProgressFunc) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, job, report)
}

func (e *Executor) fail(ctx context.Context, job *Job, errMsg string) {
	done := time.Now().UTC()
	failed, err := e.store.UpdateStatus(ctx, job.ID, job.WorkspaceID, StatusRunning, StatusFailed, StatusUpdate{
		Error:       &errMsg,
		CompletedAt: &done,
	})
	if err != nil {
		if IsStatusConflict(err) {
			// Cancelled mid-flight; not a failed attempt.
			return
		}
		logx.WithError(err).Errorf("jobs: failed to mark job %s as failed", job.ID)
		return
	}

	logx.WithFields(logx.Fields{"job_id": failed.ID, "type": failed.Type}).
		Warnf("jobs: job failed: %s", errMsg)

	if err := e.retry.RecordAttempt(ctx, failed, errMsg); err != nil {
		logx.WithError(err).Warnf("jobs: failed to record attempt for job %s", failed.ID)
	}

	if e.autoRetry && e.retry.CanRetry(failed) {
		if _, err := e.retry.Retry(ctx, failed.ID, failed.WorkspaceID); err != nil {
			logx.WithError(err).Warnf("jobs: automatic retry of job %s failed", failed.ID)
		}
	}
}

// watchCancellation polls the job row while the handler runs and cancels
// the handler context once the row reaches cancelled. Cancellation stays
// cooperative: a handler that never checks its context runs to completion
// and its terminal CAS is dropped instead.
func (e *Executor) watchCancellation(ctx context.Context, cancel context.CancelFunc, id string, workspaceID kernel.WorkspaceID) {
	ticker := time.NewTicker(e.cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := e.store.Get(ctx, id, workspaceID)
			if err != nil {
				continue
			}
			if job.Status == StatusCancelled {
				cancel()
				return
			}
			if job.Status.Terminal() {
				return
			}
		}
	}
}

// Worker consumes queue messages with a pool of goroutines and feeds them
// to the Executor. Multiple Worker instances may run against the same
// queue; the claim CAS keeps them from executing the same job twice.
type Worker struct {
	consumer Consumer
	exec     *Executor
	opts     WorkerOptions

	mu      sync.Mutex
	running bool
}

// NewWorker creates a worker pool over the given consumer.
func NewWorker(consumer Consumer, exec *Executor, options ...WorkerOption) *Worker {
	opts := defaultWorkerOptions()
	for _, o := range options {
		o(&opts)
	}
	return &Worker{consumer: consumer, exec: exec, opts: opts}
}

// Start begins consuming. It blocks until ctx is cancelled, then drains
// in-flight jobs up to the shutdown timeout.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return jobsErrors.New(ErrAlreadyRunning)
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	logx.Infof("jobs: starting %d workers", w.opts.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}

	<-ctx.Done()
	logx.Info("jobs: shutting down workers...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logx.Info("jobs: all workers stopped")
	case <-time.After(w.opts.ShutdownTimeout):
		logx.Warn("jobs: shutdown timed out, some jobs may not have completed")
	}

	return nil
}

func (w *Worker) loop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := w.consumer.Dequeue(ctx, w.opts.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.WithError(err).Warnf("jobs: worker %d dequeue error", id)
			time.Sleep(w.opts.DequeueTimeout)
			continue
		}
		if msg == nil {
			continue
		}

		w.exec.Process(ctx, *msg)
	}
}
