package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter wires the public API and the provider webhook intake. The
// webhook routes skip the per-client rate limiter: providers retry on
// their own schedule and rejections there are handled by the security
// chain, not by throttling.
func NewRouter(app *handlers.App, rateLimitPerMin int, staticDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		chimw.Recoverer,
		middleware.RequestID,
		middleware.Logger(app.Logger),
	)

	r.Get("/v1/healthz", app.Health)

	// Filesystem storage backend serves its artifacts directly.
	if staticDir != "" {
		fs := http.StripPrefix("/files/", http.FileServer(http.Dir(staticDir)))
		r.Get("/files/*", fs.ServeHTTP)
	}

	r.Post("/v1/webhooks/{provider}", app.Webhooks.Handle)

	r.Group(func(r chi.Router) {
		if rateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(rateLimitPerMin, time.Minute))
		}

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.SubmitJob)
			r.Get("/{job_id}", app.GetJob)
			r.Get("/{job_id}/outputs", app.ListJobOutputs)
			r.Post("/{job_id}/cancel", app.CancelJob)
		})

		r.Route("/v1/workflows", func(r chi.Router) {
			r.Post("/", app.StartWorkflow)
			r.Get("/{execution_id}", app.GetWorkflow)
		})
	})

	return r
}
