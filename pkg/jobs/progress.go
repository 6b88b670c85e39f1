package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/iofold/iofold-sub002/pkg/kernel"
	"github.com/iofold/iofold-sub002/pkg/logx"
)

// ProgressPublisher records handler progress on the job row. Rapid
// successive updates are coalesced: only the latest document is written,
// at most once per flush interval, which keeps write amplification bounded
// for chatty handlers. A final flush happens on Close so the last report
// is visible before the terminal transition.
type ProgressPublisher struct {
	store       Store
	jobID       string
	workspaceID kernel.WorkspaceID
	interval    time.Duration

	mu     sync.Mutex
	latest json.RawMessage
	dirty  bool

	stop chan struct{}
	done chan struct{}
}

// NewProgressPublisher creates a publisher for one job execution.
func NewProgressPublisher(store Store, jobID string, workspaceID kernel.WorkspaceID, interval time.Duration) *ProgressPublisher {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &ProgressPublisher{
		store:       store,
		jobID:       jobID,
		workspaceID: workspaceID,
		interval:    interval,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins the background flush loop.
func (p *ProgressPublisher) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.flush(ctx)
			}
		}
	}()
}

// Publish replaces the pending progress document. Safe for concurrent use.
func (p *ProgressPublisher) Publish(progress json.RawMessage) {
	p.mu.Lock()
	p.latest = cloneRaw(progress)
	p.dirty = true
	p.mu.Unlock()
}

// Close stops the flush loop and synchronously writes any pending update.
func (p *ProgressPublisher) Close(ctx context.Context) {
	close(p.stop)
	<-p.done
	p.flush(ctx)
}

func (p *ProgressPublisher) flush(ctx context.Context) {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return
	}
	latest := p.latest
	p.dirty = false
	p.mu.Unlock()

	if err := p.store.UpdateProgress(ctx, p.jobID, p.workspaceID, latest); err != nil {
		// A guarded miss means the job left running; nothing to record.
		if IsStatusConflict(err) {
			return
		}
		logx.WithError(err).WithField("job_id", p.jobID).Warn("jobs: progress write failed")
	}
}
