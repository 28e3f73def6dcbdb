package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/contact-orchestrator/internal/pkg/logger"
)

// SetupRoutes configures all HTTP routes. The capture app posts to the bare
// paths; the /api aliases serve the web dashboard.
func SetupRoutes(h *Handlers, hc *HealthChecker) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// The capture shortcut and dashboard run from arbitrary origins.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Health
	r.Get("/health", hc.HandleLiveness)
	r.Get("/health/ready", hc.HandleReadiness)

	// Intake and query
	r.Post("/contact", h.CreateContact)
	r.Get("/contacts", h.ListContacts)
	r.Get("/contact/{id}", h.GetContact)
	r.Post("/trigger/{id}/{channel}", h.TriggerChannel)
	r.Get("/media/{ref}", h.GetMedia)

	r.Route("/api", func(r chi.Router) {
		r.Post("/contact", h.CreateContact)
		r.Get("/contacts", h.ListContacts)
		r.Get("/contact/{id}", h.GetContact)
		r.Post("/trigger/{id}/{channel}", h.TriggerChannel)
		r.Post("/trigger-linkedin/{id}", h.TriggerConnector)
	})

	return r
}

// requestLogger writes one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			fields := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			}
			if ww.Status() >= 500 {
				logger.Error("http request", fields...)
				return
			}
			logger.Debug("http request", fields...)
		}()
		next.ServeHTTP(ww, r)
	})
}
