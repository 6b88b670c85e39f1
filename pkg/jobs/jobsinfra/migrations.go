package jobsinfra

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iofold/iofold-sub002/pkg/errx"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		type         TEXT NOT NULL,
		status       TEXT NOT NULL,
		metadata     JSONB,
		progress     JSONB,
		result       JSONB,
		error        TEXT,
		retry_count  INT NOT NULL DEFAULT 0,
		max_retries  INT NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL,
		started_at   TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_workspace_created
		ON jobs (workspace_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_workspace_status
		ON jobs (workspace_id, status)`,
	`CREATE TABLE IF NOT EXISTS job_retries (
		id             BIGSERIAL PRIMARY KEY,
		job_id         TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
		workspace_id   TEXT NOT NULL,
		attempt_number INT NOT NULL,
		error          TEXT NOT NULL,
		attempted_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_retries_job
		ON job_retries (job_id, attempt_number)`,
}

// Migrate applies the jobs schema. Statements are idempotent so the call
// is safe on every startup.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errx.Wrap(err, "failed to apply jobs migration", errx.TypeInternal)
		}
	}
	return nil
}
