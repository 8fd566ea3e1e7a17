package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Get("/sync", h.AllSyncStatuses)
			r.Get("/sync/{entityType}", h.SyncStatus)
			r.Post("/sync/{entityType}", h.TriggerSync)
			r.Post("/sync/{entityType}/full", h.TriggerFullResync)

			r.Post("/records/{entityType}/{dataID}", h.SubmitRecord)

			r.Post("/media/download", h.DownloadMedia)
			r.Post("/media/delete", h.DeleteMedia)
		})
	})

	return r
}
