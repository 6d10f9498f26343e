package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookAnalyticsPG upserts daily webhook counters.
type WebhookAnalyticsPG struct {
	pool *pgxpool.Pool
}

func NewWebhookAnalytics(pool *pgxpool.Pool) *WebhookAnalyticsPG {
	return &WebhookAnalyticsPG{pool: pool}
}

// IncrementCounters upserts metrics for the provided day.
func (r *WebhookAnalyticsPG) IncrementCounters(ctx context.Context, day time.Time, counters map[string]int) error {
	query := `
INSERT INTO webhook_stats (
    day, received, rejected, duplicates, completed, failed, panics
) VALUES (
    $1, $2, $3, $4, $5, $6, $7
) ON CONFLICT (day) DO UPDATE SET
    received = webhook_stats.received + EXCLUDED.received,
    rejected = webhook_stats.rejected + EXCLUDED.rejected,
    duplicates = webhook_stats.duplicates + EXCLUDED.duplicates,
    completed = webhook_stats.completed + EXCLUDED.completed,
    failed = webhook_stats.failed + EXCLUDED.failed,
    panics = webhook_stats.panics + EXCLUDED.panics;
`
	_, err := r.pool.Exec(ctx, query,
		day.Format("2006-01-02"),
		counters["received"],
		counters["rejected"],
		counters["duplicates"],
		counters["completed"],
		counters["failed"],
		counters["panics"],
	)
	return err
}
