package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// CreditLedgerPG implements domain.CreditLedger over users.credits and a
// per-job reservation row. Release and Finalize are conditional updates on
// the reservation state, which makes them idempotent: a second call matches
// zero rows and changes nothing.
type CreditLedgerPG struct {
	pool *pgxpool.Pool
}

func NewCreditLedger(pool *pgxpool.Pool) *CreditLedgerPG {
	return &CreditLedgerPG{pool: pool}
}

// Reserve deducts amount from the user's balance and records the reservation
// in one statement. Insufficient balance reserves nothing.
func (r *CreditLedgerPG) Reserve(ctx context.Context, userID, jobID string, amount int64) error {
	query := `
WITH deducted AS (
    UPDATE users
    SET credits = credits - $3, updated_at = NOW()
    WHERE id = $1 AND credits >= $3
    RETURNING id
)
INSERT INTO credit_reservations (job_id, user_id, amount, state)
SELECT $2, id, $3, 'reserved' FROM deducted;
`
	tag, err := r.pool.Exec(ctx, query, userID, jobID, amount)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateOperation
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s needs %d credits", domain.ErrInsufficientCredit, userID, amount)
	}
	return nil
}

// Release returns the reserved amount to the owner's balance. Only a
// reservation still in 'reserved' state is refunded.
func (r *CreditLedgerPG) Release(ctx context.Context, jobID string) error {
	query := `
WITH released AS (
    UPDATE credit_reservations
    SET state = 'released', settled_at = NOW()
    WHERE job_id = $1 AND state = 'reserved'
    RETURNING user_id, amount
)
UPDATE users
SET credits = credits + released.amount, updated_at = NOW()
FROM released
WHERE users.id = released.user_id;
`
	_, err := r.pool.Exec(ctx, query, jobID)
	return err
}

// Finalize marks the reservation as spent.
func (r *CreditLedgerPG) Finalize(ctx context.Context, jobID string) error {
	query := `
UPDATE credit_reservations
SET state = 'finalized', settled_at = NOW()
WHERE job_id = $1 AND state = 'reserved';
`
	_, err := r.pool.Exec(ctx, query, jobID)
	return err
}
