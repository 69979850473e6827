// Package api serves the scan job HTTP surface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/lead-scanner/internal/job"
	"github.com/sells-group/lead-scanner/internal/model"
)

// JobService is the job manager as seen by the handlers.
type JobService interface {
	Submit(params model.SearchParams) (string, error)
	Summary(id string, logTail int) (job.Snapshot, error)
	Results(id string) ([]model.Lead, error)
	Cancel(id string) error
	List() []job.Snapshot
	Active() (job.Snapshot, bool)
}

// Dependencies holds everything the router needs.
type Dependencies struct {
	Jobs JobService
	// Defaults fill request fields left out of a submission.
	Defaults model.SearchParams
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string
	// LogTail is the number of log lines in a status response. Default: 20.
	LogTail int
	// Ready reports dependency health for /health. Nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	if deps.LogTail <= 0 {
		deps.LogTail = 20
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/", h.submit)
		r.Get("/", h.list)
		r.Get("/active", h.active)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", h.status)
			r.Get("/results", h.results)
			r.Post("/cancel", h.cancel)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
