package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for generation jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// GetByTaskID returns ErrNotFound when no job carries the provider task id.
	GetByTaskID(ctx context.Context, taskID string) (*Job, error)
	// ChildByIndex returns ErrNotFound when no batch child exists at the index.
	ChildByIndex(ctx context.Context, parentID string, index int) (*Job, error)
	// ListChildren returns a parent's batch children ordered by output index.
	ListChildren(ctx context.Context, parentID string) ([]Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error
	// SetOutput marks the job completed with its storage location.
	SetOutput(ctx context.Context, jobID, location string) error
	// MarkSubmitted records the provider task id and moves the job to processing.
	MarkSubmitted(ctx context.Context, jobID, taskID string) error
	// Cancel flags a non-terminal job cancelled; late callbacks are absorbed.
	Cancel(ctx context.Context, jobID, userID string) error
	// ClaimPending atomically claims one unsubmitted pending job for the
	// worker, or returns ErrNotFound when the queue is empty.
	ClaimPending(ctx context.Context) (*Job, error)
}

// WebhookEventRepository is the idempotency ledger.
type WebhookEventRepository interface {
	Find(ctx context.Context, taskID, subtype string) (*WebhookEvent, error)
	// Insert returns ErrDuplicateOperation when the (task id, subtype) key
	// already exists.
	Insert(ctx context.Context, event *WebhookEvent) error
}

// WorkflowRepository defines persistence for workflow executions.
type WorkflowRepository interface {
	Create(ctx context.Context, exec *WorkflowExecution) error
	GetByID(ctx context.Context, execID string) (*WorkflowExecution, error)
	// SaveProgress persists current step, accumulated outputs and credits.
	SaveProgress(ctx context.Context, exec *WorkflowExecution) error
	MarkCompleted(ctx context.Context, execID, finalOutput string) error
	MarkFailed(ctx context.Context, execID, reason string) error
}

// AuditRepository is an append-only sink for settlement records.
type AuditRepository interface {
	Append(ctx context.Context, record *SettlementAudit) error
}

// SecurityEventRepository is an append-only sink for rejected callbacks.
type SecurityEventRepository interface {
	Append(ctx context.Context, event *SecurityEvent) error
}

// CreditLedger settles credits reserved at submission time. Release and
// Finalize are idempotent per job: a second call for the same job is a no-op,
// so double delivery cannot double-charge or double-refund.
type CreditLedger interface {
	Reserve(ctx context.Context, userID, jobID string, amount int64) error
	Release(ctx context.Context, jobID string) error
	Finalize(ctx context.Context, jobID string) error
}

// WebhookAnalytics increments daily webhook counters for observability.
type WebhookAnalytics interface {
	IncrementCounters(ctx context.Context, day time.Time, counters map[string]int) error
}
