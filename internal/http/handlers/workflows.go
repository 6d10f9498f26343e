package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

type startWorkflowRequest struct {
	Steps  []domain.StepDefinition `json:"steps"`
	Inputs map[string]any          `json:"inputs"`
}

type workflowResponse struct {
	ID          string                    `json:"id"`
	Status      string                    `json:"status"`
	CurrentStep int                       `json:"current_step"`
	StepCount   int                       `json:"step_count"`
	StepOutputs map[string]map[string]any `json:"step_outputs,omitempty"`
	CreditsUsed int64                     `json:"credits_used"`
	FinalOutput string                    `json:"final_output,omitempty"`
	Error       string                    `json:"error,omitempty"`
	CreatedAt   string                    `json:"created_at"`
	UpdatedAt   string                    `json:"updated_at"`
}

func toWorkflowResponse(exec *domain.WorkflowExecution) workflowResponse {
	return workflowResponse{
		ID:          exec.ID,
		Status:      string(exec.Status),
		CurrentStep: exec.CurrentStep,
		StepCount:   len(exec.Steps),
		StepOutputs: exec.StepOutputs,
		CreditsUsed: exec.CreditsUsed,
		FinalOutput: exec.FinalOutput,
		Error:       exec.ErrorMessage,
		CreatedAt:   exec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   exec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// StartWorkflow handles POST /v1/workflows.
func (a *App) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	var req startWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if len(req.Steps) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "at least one step is required")
		return
	}

	exec := &domain.WorkflowExecution{
		UserID:     userID,
		Steps:      req.Steps,
		UserInputs: req.Inputs,
	}
	if err := a.Orchestrator.Start(r.Context(), exec); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownModel):
			a.error(w, http.StatusBadRequest, "unknown_model", "step model is not supported")
		case errors.Is(err, domain.ErrInsufficientCredit):
			a.error(w, http.StatusPaymentRequired, "insufficient_credit", "not enough credits")
		default:
			a.Logger.Error().Err(err).Msg("workflow start failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to start workflow")
		}
		return
	}

	a.json(w, http.StatusCreated, toWorkflowResponse(exec))
}

// GetWorkflow handles GET /v1/workflows/{execution_id}.
func (a *App) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	exec, err := a.Workflows.GetByID(r.Context(), chi.URLParam(r, "execution_id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "workflow not found")
			return
		}
		a.Logger.Error().Err(err).Msg("workflow lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load workflow")
		return
	}
	if exec.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "workflow not found")
		return
	}

	a.json(w, http.StatusOK, toWorkflowResponse(exec))
}
