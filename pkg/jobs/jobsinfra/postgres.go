package jobsinfra

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/iofold/iofold-sub002/pkg/errx"
	"github.com/iofold/iofold-sub002/pkg/jobs"
	"github.com/iofold/iofold-sub002/pkg/kernel"
)

const jobColumns = `id, workspace_id, type, status, metadata, progress, result, error, retry_count, max_retries, created_at, started_at, completed_at`

// PostgresStore is the production jobs.Store and jobs.RetryStore backed by
// Postgres. The status-guarded UPDATE ... WHERE status = $expected is the
// compare-and-swap that makes concurrent claiming race-free.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var (
	_ jobs.Store      = (*PostgresStore)(nil)
	_ jobs.RetryStore = (*PostgresStore)(nil)
)

// Create inserts a new job row.
func (s *PostgresStore) Create(ctx context.Context, job *jobs.Job) error {
	query := `
		INSERT INTO jobs (
			id, workspace_id, type, status, metadata, progress, result,
			error, retry_count, max_retries, created_at, started_at, completed_at
		) VALUES (
			:id, :workspace_id, :type, :status, :metadata, :progress, :result,
			:error, :retry_count, :max_retries, :created_at, :started_at, :completed_at
		)`

	_, err := s.db.NamedExecContext(ctx, query, toJobRow(job))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" { // unique_violation
			return errx.Conflict("job already exists").WithDetail("job_id", job.ID)
		}
		return errx.Wrap(err, "failed to create job", errx.TypeInternal).
			WithDetail("job_id", job.ID)
	}
	return nil
}

// Get returns a workspace-scoped job snapshot.
func (s *PostgresStore) Get(ctx context.Context, id string, workspaceID kernel.WorkspaceID) (*jobs.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND workspace_id = $2`
	err := s.db.GetContext(ctx, &row, query, id, workspaceID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, jobs.ErrNotFoundFor(id)
		}
		return nil, errx.Wrap(err, "failed to get job", errx.TypeInternal).
			WithDetail("job_id", id)
	}
	return row.toDomain(), nil
}

// ListByWorkspace returns a bounded, newest-first listing with optional
// type and status filters.
func (s *PostgresStore) ListByWorkspace(ctx context.Context, workspaceID kernel.WorkspaceID, filter jobs.ListFilter) ([]*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE workspace_id = $1`
	args := []interface{}{workspaceID.String()}

	if filter.Type != nil {
		args = append(args, filter.Type.String())
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, filter.Status.String())
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errx.Wrap(err, "failed to list jobs", errx.TypeInternal)
	}

	out := make([]*jobs.Job, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// UpdateStatus performs the status-guarded compare-and-swap. The WHERE
// clause pins the expected status so that of N concurrent writers exactly
// one sees RowsAffected = 1.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, workspaceID kernel.WorkspaceID, expected, next jobs.JobStatus, upd jobs.StatusUpdate) (*jobs.Job, error) {
	set := []string{"status = $1"}
	args := []interface{}{next.String()}

	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.StartedAt != nil {
		add("started_at", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}
	if upd.Result != nil {
		add("result", types.JSONText(upd.Result))
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}
	if upd.RetryCount != nil {
		add("retry_count", *upd.RetryCount)
	}
	if upd.ClearOutcome {
		set = append(set, "result = NULL", "error = NULL", "progress = NULL")
	}

	args = append(args, id, workspaceID.String(), expected.String())
	query := fmt.Sprintf(
		`UPDATE jobs SET %s WHERE id = $%d AND workspace_id = $%d AND status = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args)-2, len(args)-1, len(args), jobColumns,
	)

	var row jobRow
	err := s.db.QueryRowxContext(ctx, query, args...).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			// Either the row does not exist in this workspace, or the
			// status guard missed. Re-read to tell the two apart.
			current, gerr := s.Get(ctx, id, workspaceID)
			if gerr != nil {
				return nil, gerr
			}
			return nil, jobs.ErrConflictBetween(id, expected, current.Status)
		}
		return nil, errx.Wrap(err, "failed to update job status", errx.TypeInternal).
			WithDetail("job_id", id)
	}
	return row.toDomain(), nil
}

// UpdateProgress replaces the progress document, guarded on running.
func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, workspaceID kernel.WorkspaceID, progress json.RawMessage) error {
	query := `UPDATE jobs SET progress = $1 WHERE id = $2 AND workspace_id = $3 AND status = $4`
	result, err := s.db.ExecContext(ctx, query, types.JSONText(progress), id, workspaceID.String(), jobs.StatusRunning.String())
	if err != nil {
		return errx.Wrap(err, "failed to update job progress", errx.TypeInternal).
			WithDetail("job_id", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on progress update", errx.TypeInternal)
	}
	if affected == 0 {
		current, gerr := s.Get(ctx, id, workspaceID)
		if gerr != nil {
			return gerr
		}
		return jobs.ErrConflictBetween(id, jobs.StatusRunning, current.Status)
	}
	return nil
}

// Append adds one retry audit record.
func (s *PostgresStore) Append(ctx context.Context, rec *jobs.RetryRecord) error {
	query := `
		INSERT INTO job_retries (job_id, workspace_id, attempt_number, error, attempted_at)
		VALUES (:job_id, :workspace_id, :attempt_number, :error, :attempted_at)`

	_, err := s.db.NamedExecContext(ctx, query, toRetryRow(rec))
	if err != nil {
		return errx.Wrap(err, "failed to append retry record", errx.TypeInternal).
			WithDetail("job_id", rec.JobID)
	}
	return nil
}

// ListByJob returns a job's audit records ordered by attempt number.
func (s *PostgresStore) ListByJob(ctx context.Context, jobID string, workspaceID kernel.WorkspaceID) ([]*jobs.RetryRecord, error) {
	var rows []retryRow
	query := `
		SELECT id, job_id, workspace_id, attempt_number, error, attempted_at
		FROM job_retries
		WHERE job_id = $1 AND workspace_id = $2
		ORDER BY attempt_number ASC`
	if err := s.db.SelectContext(ctx, &rows, query, jobID, workspaceID.String()); err != nil {
		return nil, errx.Wrap(err, "failed to list retry records", errx.TypeInternal).
			WithDetail("job_id", jobID)
	}

	out := make([]*jobs.RetryRecord, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

// jobRow is the persistence shape of a job.
type jobRow struct {
	ID          string             `db:"id"`
	WorkspaceID string             `db:"workspace_id"`
	Type        string             `db:"type"`
	Status      string             `db:"status"`
	Metadata    types.NullJSONText `db:"metadata"`
	Progress    types.NullJSONText `db:"progress"`
	Result      types.NullJSONText `db:"result"`
	Error       sql.NullString     `db:"error"`
	RetryCount  int                `db:"retry_count"`
	MaxRetries  int                `db:"max_retries"`
	CreatedAt   time.Time          `db:"created_at"`
	StartedAt   *time.Time         `db:"started_at"`
	CompletedAt *time.Time         `db:"completed_at"`
}

func toJobRow(j *jobs.Job) jobRow {
	return jobRow{
		ID:          j.ID,
		WorkspaceID: j.WorkspaceID.String(),
		Type:        j.Type.String(),
		Status:      j.Status.String(),
		Metadata:    toNullJSON(j.Metadata),
		Progress:    toNullJSON(j.Progress),
		Result:      toNullJSON(j.Result),
		Error:       sql.NullString{String: j.Error, Valid: j.Error != ""},
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func (r jobRow) toDomain() *jobs.Job {
	return &jobs.Job{
		ID:          r.ID,
		WorkspaceID: kernel.WorkspaceID(r.WorkspaceID),
		Type:        jobs.JobType(r.Type),
		Status:      jobs.JobStatus(r.Status),
		Metadata:    fromNullJSON(r.Metadata),
		Progress:    fromNullJSON(r.Progress),
		Result:      fromNullJSON(r.Result),
		Error:       r.Error.String,
		RetryCount:  r.RetryCount,
		MaxRetries:  r.MaxRetries,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

type retryRow struct {
	ID            int64     `db:"id"`
	JobID         string    `db:"job_id"`
	WorkspaceID   string    `db:"workspace_id"`
	AttemptNumber int       `db:"attempt_number"`
	Error         string    `db:"error"`
	AttemptedAt   time.Time `db:"attempted_at"`
}

func toRetryRow(rec *jobs.RetryRecord) retryRow {
	return retryRow{
		JobID:         rec.JobID,
		WorkspaceID:   rec.WorkspaceID.String(),
		AttemptNumber: rec.AttemptNumber,
		Error:         rec.Error,
		AttemptedAt:   rec.AttemptedAt,
	}
}

func (r retryRow) toDomain() *jobs.RetryRecord {
	return &jobs.RetryRecord{
		ID:            r.ID,
		JobID:         r.JobID,
		WorkspaceID:   kernel.WorkspaceID(r.WorkspaceID),
		AttemptNumber: r.AttemptNumber,
		Error:         r.Error,
		AttemptedAt:   r.AttemptedAt,
	}
}

func toNullJSON(raw json.RawMessage) types.NullJSONText {
	if raw == nil {
		return types.NullJSONText{}
	}
	return types.NullJSONText{JSONText: types.JSONText(raw), Valid: true}
}

func fromNullJSON(n types.NullJSONText) json.RawMessage {
	if !n.Valid {
		return nil
	}
	return json.RawMessage(n.JSONText)
}
