package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `
id, user_id, kind, provider, model, prompt, params, status, provider_task_id,
verify_token, reserved_credits, output_location, parent_id, output_index,
workflow_id, workflow_step, error_message, created_at, updated_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (
  id, user_id, kind, provider, model, prompt, params, status, provider_task_id,
  verify_token, reserved_credits, output_location, parent_id, output_index,
  workflow_id, workflow_step, error_message
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Kind,
		job.Provider,
		job.Model,
		job.Prompt,
		job.Params,
		job.Status,
		job.ProviderTaskID,
		job.VerifyToken,
		job.ReservedCredits,
		job.OutputLocation,
		job.ParentID,
		job.OutputIndex,
		job.WorkflowID,
		job.WorkflowStep,
		job.ErrorMessage,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, jobID)
	return scanJob(row)
}

// GetByTaskID fetches the job that owns the provider task identifier.
func (r *JobRepositoryPG) GetByTaskID(ctx context.Context, taskID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE provider_task_id = $1 AND provider_task_id <> '';`
	row := r.pool.QueryRow(ctx, query, taskID)
	return scanJob(row)
}

// ChildByIndex fetches the batch child at index beneath parentID.
func (r *JobRepositoryPG) ChildByIndex(ctx context.Context, parentID string, index int) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE parent_id = $1 AND output_index = $2;`
	row := r.pool.QueryRow(ctx, query, parentID, index)
	return scanJob(row)
}

// ListChildren returns the batch children of parentID ordered by index.
func (r *JobRepositoryPG) ListChildren(ctx context.Context, parentID string) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE parent_id = $1 ORDER BY output_index ASC;`
	rows, err := r.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var children []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, *job)
	}
	return children, rows.Err()
}

// UpdateStatus moves a non-terminal job to status. Terminal rows are
// immutable; the status machine only moves forward.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	query := `
UPDATE jobs
SET status = $2,
    error_message = CASE WHEN $3 <> '' THEN $3 ELSE error_message END,
    updated_at = NOW()
WHERE id = $1
  AND status IN ('pending', 'processing');
`
	tag, err := r.pool.Exec(ctx, query, jobID, status, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// SetOutput marks the job completed with its storage location.
func (r *JobRepositoryPG) SetOutput(ctx context.Context, jobID, location string) error {
	query := `
UPDATE jobs
SET status = 'completed',
    output_location = $2,
    updated_at = NOW()
WHERE id = $1
  AND status IN ('pending', 'processing');
`
	tag, err := r.pool.Exec(ctx, query, jobID, location)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// MarkSubmitted records the provider task id after submission.
func (r *JobRepositoryPG) MarkSubmitted(ctx context.Context, jobID, taskID string) error {
	query := `
UPDATE jobs
SET provider_task_id = $2,
    updated_at = NOW()
WHERE id = $1
  AND status IN ('pending', 'processing');
`
	tag, err := r.pool.Exec(ctx, query, jobID, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// Cancel flags a non-terminal job cancelled for its owner. Late callbacks
// against a cancelled job are absorbed by the verify-token layer.
func (r *JobRepositoryPG) Cancel(ctx context.Context, jobID, userID string) error {
	query := `
UPDATE jobs
SET status = 'cancelled',
    updated_at = NOW()
WHERE id = $1
  AND user_id = $2
  AND status IN ('pending', 'processing');
`
	tag, err := r.pool.Exec(ctx, query, jobID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClaimPending atomically claims the oldest unsubmitted job for the worker.
func (r *JobRepositoryPG) ClaimPending(ctx context.Context) (*domain.Job, error) {
	query := `
WITH next_job AS (
    SELECT id
    FROM jobs
    WHERE status = 'pending' AND provider_task_id = ''
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
),
claimed AS (
    UPDATE jobs
    SET status = 'processing', updated_at = NOW()
    WHERE id IN (SELECT id FROM next_job)
    RETURNING ` + jobColumns + `
)
SELECT * FROM claimed;
`
	row := r.pool.QueryRow(ctx, query)
	return scanJob(row)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Kind,
		&job.Provider,
		&job.Model,
		&job.Prompt,
		&job.Params,
		&job.Status,
		&job.ProviderTaskID,
		&job.VerifyToken,
		&job.ReservedCredits,
		&job.OutputLocation,
		&job.ParentID,
		&job.OutputIndex,
		&job.WorkflowID,
		&job.WorkflowStep,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// isUniqueViolation reports whether err is a PostgreSQL duplicate-key error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
