package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// WebhookEventRepositoryPG implements the idempotency ledger.
type WebhookEventRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepository(pool *pgxpool.Pool) *WebhookEventRepositoryPG {
	return &WebhookEventRepositoryPG{pool: pool}
}

// Find returns the ledger entry for the (task id, subtype) key, if any.
func (r *WebhookEventRepositoryPG) Find(ctx context.Context, taskID, subtype string) (*domain.WebhookEvent, error) {
	query := `
SELECT id, task_id, subtype, provider, payload, received_at
FROM webhook_events
WHERE task_id = $1 AND subtype = $2;
`
	row := r.pool.QueryRow(ctx, query, taskID, subtype)
	var event domain.WebhookEvent
	if err := row.Scan(&event.ID, &event.TaskID, &event.Subtype, &event.Provider, &event.Payload, &event.ReceivedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

// Insert records a processed callback. A concurrent duplicate delivery that
// wins the insert race surfaces as ErrDuplicateOperation, not a crash.
func (r *WebhookEventRepositoryPG) Insert(ctx context.Context, event *domain.WebhookEvent) error {
	query := `
INSERT INTO webhook_events (id, task_id, subtype, provider, payload, received_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.TaskID,
		event.Subtype,
		event.Provider,
		event.Payload,
		event.ReceivedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return domain.ErrDuplicateOperation
	}
	return err
}

// SecurityEventRepositoryPG appends rejected-callback records.
type SecurityEventRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(pool *pgxpool.Pool) *SecurityEventRepositoryPG {
	return &SecurityEventRepositoryPG{pool: pool}
}

// Append inserts one security event. Rows are never mutated afterwards.
func (r *SecurityEventRepositoryPG) Append(ctx context.Context, event *domain.SecurityEvent) error {
	query := `
INSERT INTO security_events (id, provider, layer, reason, task_id, source_ip, country, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.Provider,
		event.Layer,
		event.Reason,
		event.TaskID,
		event.SourceIP,
		event.Country,
		event.OccurredAt,
	)
	return err
}
