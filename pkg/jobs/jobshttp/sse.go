package jobshttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/iofold/iofold-sub002/pkg/jobs"
	"github.com/iofold/iofold-sub002/pkg/kernel"
	"github.com/iofold/iofold-sub002/pkg/logx"
)

// StreamConfig tunes the job event stream.
type StreamConfig struct {
	// PollInterval is how often the job row is re-read while streaming.
	PollInterval time.Duration
	// MaxLifetime bounds a single stream; clients reconnect after it.
	MaxLifetime time.Duration
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	return c
}

// Stream pushes job progress as server-sent events until the job reaches
// a terminal status, the stream lifetime expires, or the client leaves.
func (h *Handlers) Stream(c *fiber.Ctx) error {
	id := c.Params("id")
	workspaceID := workspaceFrom(c)

	// Resolve before upgrading so unknown jobs get a plain 404.
	job, err := h.service.Get(c.UserContext(), id, workspaceID)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	cfg := h.stream
	service := h.service

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		streamJob(service, job, workspaceID, cfg, w)
	}))
	return nil
}

// streamJob runs the poll loop. The initial snapshot is emitted before the
// first poll, so a stream opened on a terminal job sends its final event
// and the sentinel without waiting.
func streamJob(service *jobs.Service, job *jobs.Job, workspaceID kernel.WorkspaceID, cfg StreamConfig, w *bufio.Writer) {
	deadline := time.Now().Add(cfg.MaxLifetime)

	if job.Status.Terminal() {
		writeEvent(w, terminalEvent(job))
		writeDone(w)
		return
	}

	lastStatus := job.Status
	lastProgress := job.Progress
	writeEvent(w, progressEvent(job.Status, job.Progress))

	for {
		time.Sleep(cfg.PollInterval)

		if time.Now().After(deadline) {
			writeEvent(w, fiber.Map{
				"type":  "failed",
				"error": "stream timeout: job still running, reconnect to continue",
			})
			writeDone(w)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.PollInterval)
		current, err := service.Get(ctx, job.ID, workspaceID)
		cancel()
		if err != nil {
			logx.WithError(err).WithField("job_id", job.ID).Warn("Stream poll failed")
			continue
		}

		if current.Status.Terminal() {
			writeEvent(w, terminalEvent(current))
			writeDone(w)
			return
		}

		if current.Status != lastStatus || !bytes.Equal(current.Progress, lastProgress) {
			if err := writeEvent(w, progressEvent(current.Status, current.Progress)); err != nil {
				return // client went away
			}
		}
		lastStatus = current.Status
		lastProgress = current.Progress
	}
}

func progressEvent(status jobs.JobStatus, progress json.RawMessage) fiber.Map {
	event := fiber.Map{"type": "progress", "status": status}
	if progress != nil {
		event["data"] = progress
	}
	return event
}

func terminalEvent(job *jobs.Job) fiber.Map {
	switch job.Status {
	case jobs.StatusCompleted:
		event := fiber.Map{"type": "completed"}
		if job.Result != nil {
			event["result"] = job.Result
		}
		return event
	case jobs.StatusCancelled:
		return fiber.Map{"type": "failed", "error": job.Error, "cancelled": true}
	default:
		return fiber.Map{"type": "failed", "error": job.Error}
	}
}

func writeEvent(w *bufio.Writer, event fiber.Map) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func writeDone(w *bufio.Writer) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	w.Flush()
}
