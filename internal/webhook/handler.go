package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"server/internal/credits"
	"server/internal/domain"
	"server/internal/provider"
)

// maxBodyBytes caps an inbound callback payload.
const maxBodyBytes = 10 << 20

// WorkflowAdvancer is implemented by the workflow orchestrator.
type WorkflowAdvancer interface {
	Advance(ctx context.Context, job *domain.Job, outputs map[string]any) error
	OnStepFailed(ctx context.Context, job *domain.Job, reason string) error
}

// Handler is the inbound callback endpoint: validation chain, result
// normalization, persistence, settlement and workflow advancement.
type Handler struct {
	chain     *Chain
	registry  *provider.Registry
	persister *Persister
	settler   *credits.Settler
	workflows WorkflowAdvancer
	analytics domain.WebhookAnalytics
	logger    zerolog.Logger
}

func NewHandler(
	chain *Chain,
	registry *provider.Registry,
	persister *Persister,
	settler *credits.Settler,
	workflows WorkflowAdvancer,
	analytics domain.WebhookAnalytics,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		chain:     chain,
		registry:  registry,
		persister: persister,
		settler:   settler,
		workflows: workflows,
		analytics: analytics,
		logger:    logger,
	}
}

type callbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Handle serves POST /v1/webhooks/{provider}.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	// Safety net: nothing propagates to the transport layer except through
	// this generic response. Internal detail never leaks to the provider.
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("webhook handler panicked")
			h.count(r.Context(), "panics")
			h.respond(w, http.StatusInternalServerError, callbackResponse{Success: false, Message: "internal error"})
		}
	}()

	providerName := chi.URLParam(r, "provider")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respond(w, http.StatusBadRequest, callbackResponse{Success: false, Message: "unreadable body"})
		return
	}

	req := &Request{
		Provider:  providerName,
		Token:     r.URL.Query().Get("token"),
		Verify:    r.URL.Query().Get("verify"),
		Signature: r.Header.Get(SignatureHeader),
		SourceIP:  clientIP(r),
		Body:      body,
	}

	// Layer 1 runs before the body is even parsed.
	if !h.chain.CheckStaticToken(r.Context(), req) {
		h.count(r.Context(), "rejected")
		http.NotFound(w, r)
		return
	}

	h.count(r.Context(), "received")

	cb, err := DecodeCallback(body)
	if err != nil {
		h.logger.Warn().Err(err).Str("provider", providerName).Msg("undecodable callback payload")
		h.respond(w, http.StatusBadRequest, callbackResponse{Success: false, Message: "invalid payload"})
		return
	}
	req.Callback = cb

	decision := h.chain.Validate(r.Context(), req)
	if !decision.Proceed {
		if decision.Duplicate {
			h.count(r.Context(), "duplicates")
		} else if !decision.Ack {
			h.count(r.Context(), "rejected")
		}
		h.respond(w, decision.HTTPStatus, callbackResponse{Success: decision.Ack, Message: decision.Message})
		return
	}

	mc, _ := h.registry.Lookup(decision.Job.Model)
	h.process(r.Context(), w, decision.Job, cb, mc)
}

// process runs the business pipeline for a validated callback.
func (h *Handler) process(ctx context.Context, w http.ResponseWriter, job *domain.Job, cb *Callback, mc provider.ModelConfig) {
	if cb.FailureReported() {
		h.persister.AuditFailure(ctx, job, cb, domain.FailureClassProvider, cb.Message)
		if err := h.settler.Fail(ctx, job, cb.Message); err != nil {
			h.logger.Error().Err(err).Str("job_id", job.ID).Msg("failure settlement errored")
		}
		h.notifyStepFailed(ctx, job, cb.Message)
		h.count(ctx, "failed")
		h.respond(w, http.StatusOK, callbackResponse{Success: true, Message: "failure recorded"})
		return
	}

	urls := ExtractResultURLs(cb, job.Kind, mc)
	if len(urls) == 0 {
		if !cb.Final() {
			// Partial progress callback: acknowledge and wait for the rest.
			if err := h.chain.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, ""); err != nil {
				h.logger.Error().Err(err).Str("job_id", job.ID).Msg("partial status update failed")
			}
			h.respond(w, http.StatusOK, callbackResponse{Success: true, Message: "partial acknowledged"})
			return
		}
		if !cb.SucceededState() {
			// A shape this system does not understand yet. Acknowledge so the
			// provider does not enter a retry storm.
			h.logger.Warn().Str("job_id", job.ID).Str("state", cb.State).Msg("unknown callback state")
			h.respond(w, http.StatusOK, callbackResponse{Success: true, Message: "state unknown"})
			return
		}
		h.logger.Warn().Str("job_id", job.ID).Msg("final callback without results")
		h.respond(w, http.StatusOK, callbackResponse{Success: true, Message: "no results"})
		return
	}

	if err := h.chain.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusProcessing, ""); err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("processing status update failed")
	}

	outcome, err := h.persister.Persist(ctx, job, urls, cb)
	if err != nil {
		// Provider delivered; our download or upload failed. The user is not
		// charged and the provider must not retry.
		if serr := h.settler.Fail(ctx, job, err.Error()); serr != nil {
			h.logger.Error().Err(serr).Str("job_id", job.ID).Msg("infrastructure settlement errored")
		}
		h.notifyStepFailed(ctx, job, "output persistence failed")
		h.count(ctx, "failed")
		h.respond(w, http.StatusOK, callbackResponse{Success: true, Message: "failure recorded"})
		return
	}

	if err := h.settler.Succeed(ctx, job); err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("finalize settlement errored")
	}
	h.count(ctx, "completed")

	if job.InWorkflow() && h.workflows != nil {
		outputs := map[string]any{}
		if outcome.Batch() {
			list := make([]any, 0, len(outcome.ChildLocations))
			for _, loc := range outcome.ChildLocations {
				list = append(list, loc)
			}
			outputs["output_urls"] = list
			if len(outcome.ChildLocations) > 0 {
				outputs["output_url"] = outcome.ChildLocations[0]
			}
		} else {
			outputs["output_url"] = outcome.Location
		}
		if err := h.workflows.Advance(ctx, job, outputs); err != nil {
			h.logger.Error().Err(err).Str("job_id", job.ID).Str("execution_id", job.WorkflowID).Msg("workflow advance failed")
		}
	}

	h.respond(w, http.StatusOK, callbackResponse{Success: true, Message: "processed"})
}

func (h *Handler) notifyStepFailed(ctx context.Context, job *domain.Job, reason string) {
	if !job.InWorkflow() || h.workflows == nil {
		return
	}
	if err := h.workflows.OnStepFailed(ctx, job, reason); err != nil {
		h.logger.Error().Err(err).Str("execution_id", job.WorkflowID).Msg("workflow failure propagation errored")
	}
}

func (h *Handler) count(ctx context.Context, counter string) {
	if h.analytics == nil {
		return
	}
	day := time.Now().UTC().Truncate(24 * time.Hour)
	if err := h.analytics.IncrementCounters(ctx, day, map[string]int{counter: 1}); err != nil {
		h.logger.Debug().Err(err).Str("counter", counter).Msg("analytics increment failed")
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, body callbackResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
