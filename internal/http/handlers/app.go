package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/jobs"
	"server/internal/webhook"
	"server/internal/workflow"
)

// App bundles the dependencies the HTTP handlers need.
type App struct {
	Jobs         domain.JobRepository
	Workflows    domain.WorkflowRepository
	Submitter    *jobs.Submitter
	Orchestrator *workflow.Orchestrator
	Webhooks     *webhook.Handler
	Logger       zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}

// currentUserID returns the authenticated user set by the fronting gateway.
// End-user authentication is outside this service.
func (a *App) currentUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}
