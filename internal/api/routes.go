package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/smart-import/internal/metrics"
)

// SetupRoutes configures all routes.
func SetupRoutes(h *ImportHandlers, health *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/kinds", h.HandleKinds)

		r.Route("/imports", func(r chi.Router) {
			r.Post("/", h.HandleStart)
			r.Post("/validate", h.HandleValidate)
			r.Post("/s3", h.HandleStartFromS3)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.HandleGet)
				r.Post("/proceed", h.HandleProceed)
				r.Post("/cancel", h.HandleCancel)

				r.Route("/files/{file}", func(r chi.Router) {
					r.Post("/fixes/{issueId}", h.HandleApplyFix)
					r.Post("/corrections", h.HandleCorrection)
					r.Post("/kind", h.HandleKind)
				})
			})
		})
	})

	return r
}
