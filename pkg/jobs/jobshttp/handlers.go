package jobshttp

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/iofold/iofold-sub002/pkg/errx"
	"github.com/iofold/iofold-sub002/pkg/jobs"
	"github.com/iofold/iofold-sub002/pkg/logx"
)

// Handlers exposes the job API over Fiber.
type Handlers struct {
	service *jobs.Service
	stream  StreamConfig
}

// NewHandlers creates the job HTTP handlers.
func NewHandlers(service *jobs.Service, stream StreamConfig) *Handlers {
	return &Handlers{service: service, stream: stream.withDefaults()}
}

// RegisterRoutes mounts the job routes under /api/v1/jobs.
func (h *Handlers) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/v1/jobs", WorkspaceMiddleware())

	api.Post("/", h.Submit)
	api.Get("/", h.List)
	api.Get("/:id", h.Get)
	api.Get("/:id/stream", h.Stream)
	api.Get("/:id/retries", h.ListRetries)
	api.Post("/:id/cancel", h.Cancel)
	api.Post("/:id/retry", h.Retry)
}

type submitRequest struct {
	Type       string          `json:"type"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
}

// Submit creates and dispatches a new job.
func (h *Handlers) Submit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Wrap(err, "invalid request body", errx.TypeValidation)
	}

	job, err := h.service.Submit(c.UserContext(), jobs.Submission{
		WorkspaceID: workspaceFrom(c),
		Type:        jobs.JobType(req.Type),
		Metadata:    req.Metadata,
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(toJobResponse(job))
}

// Get returns a single job snapshot.
func (h *Handlers) Get(c *fiber.Ctx) error {
	job, err := h.service.Get(c.UserContext(), c.Params("id"), workspaceFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(toJobResponse(job))
}

// List returns workspace jobs, newest first, optionally filtered.
func (h *Handlers) List(c *fiber.Ctx) error {
	var filter jobs.ListFilter
	if v := c.Query("type"); v != "" {
		t := jobs.JobType(v)
		filter.Type = &t
	}
	if v := c.Query("status"); v != "" {
		s := jobs.JobStatus(v)
		filter.Status = &s
	}
	filter.Limit = c.QueryInt("limit")

	list, err := h.service.List(c.UserContext(), workspaceFrom(c), filter)
	if err != nil {
		return err
	}

	out := make([]fiber.Map, len(list))
	for i, job := range list {
		out[i] = toJobResponse(job)
	}
	return c.JSON(fiber.Map{"jobs": out, "count": len(out)})
}

// Cancel requests cooperative cancellation of a job.
func (h *Handlers) Cancel(c *fiber.Ctx) error {
	job, err := h.service.Cancel(c.UserContext(), c.Params("id"), workspaceFrom(c))
	if err != nil {
		return err
	}
	logx.WithField("job_id", job.ID).Info("Job cancelled")
	return c.JSON(toJobResponse(job))
}

// Retry re-activates a failed job.
func (h *Handlers) Retry(c *fiber.Ctx) error {
	job, err := h.service.Retry(c.UserContext(), c.Params("id"), workspaceFrom(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(toJobResponse(job))
}

// ListRetries returns the retry audit trail for a job.
func (h *Handlers) ListRetries(c *fiber.Ctx) error {
	records, err := h.service.ListRetries(c.UserContext(), c.Params("id"), workspaceFrom(c))
	if err != nil {
		return err
	}

	out := make([]fiber.Map, len(records))
	for i, rec := range records {
		out[i] = fiber.Map{
			"id":             rec.ID,
			"job_id":         rec.JobID,
			"attempt_number": rec.AttemptNumber,
			"error":          rec.Error,
			"attempted_at":   rec.AttemptedAt,
		}
	}
	return c.JSON(fiber.Map{"retries": out, "count": len(out)})
}

func toJobResponse(job *jobs.Job) fiber.Map {
	out := fiber.Map{
		"id":           job.ID,
		"workspace_id": job.WorkspaceID.String(),
		"type":         job.Type.String(),
		"status":       job.Status.String(),
		"retry_count":  job.RetryCount,
		"max_retries":  job.MaxRetries,
		"created_at":   job.CreatedAt,
	}
	if job.Metadata != nil {
		out["metadata"] = job.Metadata
	}
	if job.Progress != nil {
		out["progress"] = job.Progress
	}
	if job.Result != nil {
		out["result"] = job.Result
	}
	if job.Error != "" {
		out["error"] = job.Error
	}
	if job.StartedAt != nil {
		out["started_at"] = job.StartedAt
	}
	if job.CompletedAt != nil {
		out["completed_at"] = job.CompletedAt
	}
	return out
}

// ErrorHandler converts errors escaping the handlers into standard JSON
// responses. Wired into the Fiber app config by the server.
func ErrorHandler(c *fiber.Ctx, err error) error {
	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{
			"error":      e.Message,
			"code":       "FIBER_ERROR",
			"request_id": c.Get("X-Request-ID"),
		})
	}

	var e *errx.Error
	if errx.As(err, &e) {
		response := fiber.Map{
			"error":      e.Message,
			"code":       e.Code,
			"type":       string(e.Type),
			"request_id": c.Get("X-Request-ID"),
		}
		if len(e.Details) > 0 {
			response["details"] = e.Details
		}
		return c.Status(e.HTTPStatus).JSON(response)
	}

	logx.WithError(err).WithFields(logx.Fields{
		"path":   c.Path(),
		"method": c.Method(),
	}).Error("Unhandled request error")

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":      "Internal Server Error",
		"code":       "INTERNAL_ERROR",
		"request_id": c.Get("X-Request-ID"),
	})
}
