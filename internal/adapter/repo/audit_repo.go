package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// AuditRepositoryPG appends settlement reconciliation records.
type AuditRepositoryPG struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepositoryPG {
	return &AuditRepositoryPG{pool: pool}
}

// Append inserts one audit record. Rows are append-only by convention; there
// is no update path in this repository.
func (r *AuditRepositoryPG) Append(ctx context.Context, record *domain.SettlementAudit) error {
	query := `
INSERT INTO settlement_audits (
  id, job_id, task_id, provider, outcome, failure_class,
  provider_charge, system_charge, raw_payload, detail
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.JobID,
		record.TaskID,
		record.Provider,
		record.Outcome,
		record.FailureClass,
		record.ProviderCharge,
		record.SystemCharge,
		record.RawPayload,
		record.Detail,
	)
	return err
}
