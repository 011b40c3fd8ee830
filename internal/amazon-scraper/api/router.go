package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts every endpoint on a chi router. requestTimeout bounds
// each request, including the whole fetch pipeline.
func NewRouter(h *Handlers, requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = 90 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		MaxAge:             300,
		OptionsPassthrough: true,
	}))

	r.Use(h.answerPreflight)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// path used by the admin UI before the versioned API existed
	r.Post("/fetch-amazon-product", h.FetchProduct)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/products/fetch", h.FetchProduct)

		if h.jobs != nil {
			r.Post("/products/import-jobs", h.CreateJob)
			r.Get("/products/import-jobs", h.ListJobs)
			r.Get("/products/import-jobs/{jobID}", h.GetJob)
			r.Get("/products/import-jobs/{jobID}/items", h.GetJobItems)
			r.Get("/stats", h.GetStats)
		}
	})

	return r
}

// answerPreflight ends every OPTIONS request before routing, so pre-flights
// succeed on any path.
func (h *Handlers) answerPreflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			h.Preflight(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
