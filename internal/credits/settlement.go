// Package credits settles credits reserved at job submission. Settlement is
// two idempotent operations, release and finalize, rather than balance
// arithmetic in the webhook handler: a double-delivered callback that slips
// past the idempotency layer cannot double-charge or double-refund.
package credits

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// maxErrorLen caps the user-facing failure message. The raw provider error is
// retained only in the audit record.
const maxErrorLen = 200

// Settler applies terminal settlement to a job.
type Settler struct {
	ledger domain.CreditLedger
	jobs   domain.JobRepository
	logger zerolog.Logger
}

func NewSettler(ledger domain.CreditLedger, jobs domain.JobRepository, logger zerolog.Logger) *Settler {
	return &Settler{ledger: ledger, jobs: jobs, logger: logger}
}

// Fail marks the job failed with a sanitized message and releases the
// reserved credits back to the owner. The user is not charged for a provider
// or storage fault.
func (s *Settler) Fail(ctx context.Context, job *domain.Job, rawErr string) error {
	if err := s.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, SanitizeError(rawErr)); err != nil {
		return fmt.Errorf("settle: mark failed: %w", err)
	}
	if err := s.ledger.Release(ctx, job.ID); err != nil {
		return fmt.Errorf("settle: release credits: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Int64("credits", job.ReservedCredits).Msg("credits released")
	return nil
}

// Succeed finalizes the reservation as spent.
func (s *Settler) Succeed(ctx context.Context, job *domain.Job) error {
	if err := s.ledger.Finalize(ctx, job.ID); err != nil {
		return fmt.Errorf("settle: finalize credits: %w", err)
	}
	s.logger.Info().Str("job_id", job.ID).Int64("credits", job.ReservedCredits).Msg("credits finalized")
	return nil
}

// SanitizeError produces the length-capped message stored on the job record.
func SanitizeError(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, raw)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		cleaned = "generation failed"
	}
	if len(cleaned) > maxErrorLen {
		cleaned = cleaned[:maxErrorLen]
	}
	return cleaned
}
