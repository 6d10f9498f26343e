package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// WorkflowRepositoryPG implements domain.WorkflowRepository.
type WorkflowRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewWorkflowRepository(pool *pgxpool.Pool) *WorkflowRepositoryPG {
	return &WorkflowRepositoryPG{pool: pool}
}

// Create inserts a new execution.
func (r *WorkflowRepositoryPG) Create(ctx context.Context, exec *domain.WorkflowExecution) error {
	steps, err := json.Marshal(exec.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	query := `
INSERT INTO workflow_executions (
  id, user_id, status, steps, current_step, user_inputs, step_outputs,
  credits_used, final_output, error_message
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err = r.pool.Exec(ctx, query,
		exec.ID,
		exec.UserID,
		exec.Status,
		steps,
		exec.CurrentStep,
		exec.UserInputs,
		exec.StepOutputs,
		exec.CreditsUsed,
		exec.FinalOutput,
		exec.ErrorMessage,
	)
	return err
}

// GetByID fetches an execution by identifier.
func (r *WorkflowRepositoryPG) GetByID(ctx context.Context, execID string) (*domain.WorkflowExecution, error) {
	query := `
SELECT id, user_id, status, steps, current_step, user_inputs, step_outputs,
       credits_used, final_output, error_message, created_at, updated_at
FROM workflow_executions
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, execID)
	var exec domain.WorkflowExecution
	var steps []byte
	if err := row.Scan(
		&exec.ID,
		&exec.UserID,
		&exec.Status,
		&steps,
		&exec.CurrentStep,
		&exec.UserInputs,
		&exec.StepOutputs,
		&exec.CreditsUsed,
		&exec.FinalOutput,
		&exec.ErrorMessage,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(steps, &exec.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &exec, nil
}

// SaveProgress persists the advancing step pointer, accumulated outputs and
// consumed credits for a live execution.
func (r *WorkflowRepositoryPG) SaveProgress(ctx context.Context, exec *domain.WorkflowExecution) error {
	query := `
UPDATE workflow_executions
SET current_step = $2,
    step_outputs = $3,
    credits_used = $4,
    updated_at = NOW()
WHERE id = $1
  AND status IN ('pending', 'processing');
`
	_, err := r.pool.Exec(ctx, query, exec.ID, exec.CurrentStep, exec.StepOutputs, exec.CreditsUsed)
	return err
}

// MarkCompleted finalizes the execution with its terminal output.
func (r *WorkflowRepositoryPG) MarkCompleted(ctx context.Context, execID, finalOutput string) error {
	query := `
UPDATE workflow_executions
SET status = 'completed',
    final_output = $2,
    updated_at = NOW()
WHERE id = $1
  AND status IN ('pending', 'processing');
`
	_, err := r.pool.Exec(ctx, query, execID, finalOutput)
	return err
}

// MarkFailed records a terminal failure. Completed prior steps stay intact.
func (r *WorkflowRepositoryPG) MarkFailed(ctx context.Context, execID, reason string) error {
	query := `
UPDATE workflow_executions
SET status = 'failed',
    error_message = $2,
    updated_at = NOW()
WHERE id = $1
  AND status IN ('pending', 'processing');
`
	_, err := r.pool.Exec(ctx, query, execID, reason)
	return err
}
