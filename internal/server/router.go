package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hivemindhq/hivemind/internal/api"
	"github.com/hivemindhq/hivemind/internal/api/handlers"
	"github.com/hivemindhq/hivemind/internal/api/middleware"
)

type RouterConfig struct {
	AuthValidator   middleware.AuthValidator
	IngestHandler   *handlers.IngestHandler
	SearchHandler   *handlers.SearchHandler
	DocumentHandler *handlers.DocumentHandler
	AuthHandler     *handlers.AuthHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Post("/ingest", cfg.IngestHandler.Ingest)

		r.Post("/search", cfg.SearchHandler.Search)
		r.Post("/answer", cfg.SearchHandler.Answer)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", cfg.DocumentHandler.List)
			r.Post("/batch", cfg.DocumentHandler.Batch)
			r.Post("/similar", cfg.DocumentHandler.Similar)
			r.Get("/{id}", cfg.DocumentHandler.Get)
			r.Get("/{id}/versions", cfg.DocumentHandler.Versions)
		})
	})

	r.Post("/workspaces", cfg.AuthHandler.CreateWorkspace)
	r.Post("/apikeys", cfg.AuthHandler.CreateAPIKey)

	return r
}
