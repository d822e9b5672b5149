package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes builds the router. allowedOrigins configures CORS; an empty list
// allows none.
func SetupRoutes(h *SequenceHandlers, health *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Server-Binary", "cmd/worker")
			next.ServeHTTP(w, req)
		})
	})

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", health.HandleHealth)
	r.Get("/health/live", health.HandleLiveness)
	r.Get("/health/ready", health.HandleReadiness)

	r.Route("/api/sequences", func(r chi.Router) {
		r.Post("/events", h.HandleTriggerEvent)
		r.Get("/worker", h.HandleWorkerStats)
	})

	return r
}
