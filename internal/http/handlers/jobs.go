package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/jobs"
)

type submitJobRequest struct {
	Kind   string         `json:"kind"`
	Model  string         `json:"model"`
	Prompt string         `json:"prompt"`
	Params map[string]any `json:"params"`
}

type jobResponse struct {
	ID              string         `json:"id"`
	Kind            string         `json:"kind"`
	Provider        string         `json:"provider"`
	Model           string         `json:"model"`
	Status          string         `json:"status"`
	Prompt          string         `json:"prompt,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
	ReservedCredits int64          `json:"reserved_credits"`
	OutputLocation  string         `json:"output_location,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	WorkflowID      string         `json:"workflow_id,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:              j.ID,
		Kind:            string(j.Kind),
		Provider:        j.Provider,
		Model:           j.Model,
		Status:          string(j.Status),
		Prompt:          j.Prompt,
		Params:          j.Params,
		ReservedCredits: j.ReservedCredits,
		OutputLocation:  j.OutputLocation,
		ErrorMessage:    j.ErrorMessage,
		WorkflowID:      j.WorkflowID,
		CreatedAt:       j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:       j.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// SubmitJob handles POST /v1/jobs.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Model == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "model is required")
		return
	}

	job, err := a.Submitter.Submit(r.Context(), jobs.SubmitSpec{
		UserID: userID,
		Model:  req.Model,
		Prompt: req.Prompt,
		Params: req.Params,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownModel):
			a.error(w, http.StatusBadRequest, "unknown_model", "model is not supported")
		case errors.Is(err, domain.ErrInsufficientCredit):
			a.error(w, http.StatusPaymentRequired, "insufficient_credit", "not enough credits")
		default:
			a.Logger.Error().Err(err).Str("model", req.Model).Msg("job submission failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		}
		return
	}

	a.json(w, http.StatusCreated, toJobResponse(job))
}

// GetJob handles GET /v1/jobs/{job_id}.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	job, err := a.Jobs.GetByID(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Msg("job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	a.json(w, http.StatusOK, toJobResponse(job))
}

// CancelJob handles POST /v1/jobs/{job_id}/cancel.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	jobID := chi.URLParam(r, "job_id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Msg("job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if job.Status.Terminal() {
		a.error(w, http.StatusConflict, "conflict", "job already finished")
		return
	}

	if err := a.Jobs.Cancel(r.Context(), jobID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Lost the race against a terminal transition.
			a.error(w, http.StatusConflict, "conflict", "job already finished")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("job cancel failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}

	a.json(w, http.StatusOK, map[string]string{"id": jobID, "status": string(domain.JobStatusCancelled)})
}

// ListJobOutputs handles GET /v1/jobs/{job_id}/outputs. Batch results are
// persisted as child jobs, one per output index.
func (a *App) ListJobOutputs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	job, err := a.Jobs.GetByID(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Msg("job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	children, err := a.Jobs.ListChildren(r.Context(), job.ID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("child listing failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list outputs")
		return
	}

	type output struct {
		JobID    string `json:"job_id"`
		Index    int    `json:"index"`
		Location string `json:"location"`
	}
	outputs := make([]output, 0, len(children)+1)
	if job.OutputLocation != "" && len(children) == 0 {
		outputs = append(outputs, output{JobID: job.ID, Index: 0, Location: job.OutputLocation})
	}
	for i := range children {
		outputs = append(outputs, output{
			JobID:    children[i].ID,
			Index:    children[i].OutputIndex,
			Location: children[i].OutputLocation,
		})
	}

	a.json(w, http.StatusOK, map[string]any{"job_id": job.ID, "outputs": outputs})
}
