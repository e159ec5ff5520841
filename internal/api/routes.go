package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// SetupRoutes configures all routes. tracking, when non-nil, is mounted at
// the root so signed /track/... links resolve on the same host.
func SetupRoutes(h *Handlers, hc *HealthChecker, corsOrigins []string, tracking http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(corsOrigins) == 0 {
		corsOrigins = defaultCORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if hc != nil {
		r.Get("/health", hc.HandleHealth)
		r.Get("/health/live", hc.HandleLiveness)
		r.Get("/health/ready", hc.HandleReadiness)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.HandleListCampaigns)
			r.Post("/", h.HandleCreateCampaign)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.HandleGetCampaign)
				r.Patch("/", h.HandleUpdateCampaign)
				r.Get("/steps", h.HandleGetSteps)
				r.Put("/steps", h.HandleSetSteps)
				r.Get("/metrics", h.HandleCampaignMetrics)
				r.Get("/snapshot", h.HandleLatestSnapshot)
				r.Post("/counters", h.HandleAddCounters)
				r.Post("/enrollments", h.HandleEnroll)
				r.Post("/{action}", h.HandleCampaignAction)
			})
		})
		r.Route("/enrollments", func(r chi.Router) {
			r.Get("/ready", h.HandleReady)
			r.Get("/{id}", h.HandleGetEnrollment)
			r.Post("/{id}/{action}", h.HandleEnrollmentAction)
		})
	})

	if tracking != nil {
		r.Mount("/track", tracking)
	}
	return r
}
