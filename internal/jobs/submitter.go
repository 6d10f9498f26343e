// Package jobs owns generation-job submission: credit reservation, verify
// token minting and the initial pending row. The webhook pipeline takes over
// from there.
package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/provider"
)

// Submitter creates jobs and reserves their credits.
type Submitter struct {
	jobs     domain.JobRepository
	ledger   domain.CreditLedger
	registry *provider.Registry

	publicBaseURL string
	staticToken   string
	logger        zerolog.Logger
}

func NewSubmitter(
	jobsRepo domain.JobRepository,
	ledger domain.CreditLedger,
	registry *provider.Registry,
	publicBaseURL, staticToken string,
	logger zerolog.Logger,
) *Submitter {
	return &Submitter{
		jobs:          jobsRepo,
		ledger:        ledger,
		registry:      registry,
		publicBaseURL: publicBaseURL,
		staticToken:   staticToken,
		logger:        logger,
	}
}

// SubmitSpec describes one job to create.
type SubmitSpec struct {
	UserID       string
	Provider     string
	Model        string
	Prompt       string
	Params       map[string]any
	WorkflowID   string
	WorkflowStep int
}

// Submit reserves credits, mints the per-job verify token and inserts the
// pending job row. The worker picks it up for provider submission.
func (s *Submitter) Submit(ctx context.Context, spec SubmitSpec) (*domain.Job, error) {
	mc, ok := s.registry.Lookup(spec.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModel, spec.Model)
	}
	providerName := spec.Provider
	if providerName == "" {
		providerName = mc.Provider
	}
	jobID := uuid.NewString()
	if err := s.ledger.Reserve(ctx, spec.UserID, jobID, mc.CreditCost); err != nil {
		return nil, fmt.Errorf("reserve credits: %w", err)
	}
	job := &domain.Job{
		ID:              jobID,
		UserID:          spec.UserID,
		Kind:            mc.Kind,
		Provider:        providerName,
		Model:           spec.Model,
		Prompt:          spec.Prompt,
		Params:          mc.MergedParams(spec.Params),
		Status:          domain.JobStatusPending,
		VerifyToken:     newVerifyToken(),
		ReservedCredits: mc.CreditCost,
		WorkflowID:      spec.WorkflowID,
		WorkflowStep:    spec.WorkflowStep,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		// The reservation must not leak when the row never existed.
		if rerr := s.ledger.Release(ctx, jobID); rerr != nil {
			s.logger.Error().Err(rerr).Str("job_id", jobID).Msg("orphan reservation release failed")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info().
		Str("job_id", jobID).
		Str("model", spec.Model).
		Int64("credits", mc.CreditCost).
		Msg("job submitted")
	return job, nil
}

// CallbackURL builds the provider-facing callback URL carrying both the
// static deployment token and the job's verify token.
func (s *Submitter) CallbackURL(providerName, verifyToken string) string {
	return fmt.Sprintf("%s/v1/webhooks/%s?token=%s&verify=%s",
		s.publicBaseURL,
		url.PathEscape(providerName),
		url.QueryEscape(s.staticToken),
		url.QueryEscape(verifyToken),
	)
}

// newVerifyToken mints the per-job secret embedded in the callback URL. It is
// stored server-side only and never sent to the client.
func newVerifyToken() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is unrecoverable; uuid keeps submission alive.
		return uuid.NewString()
	}
	return hex.EncodeToString(b[:])
}
