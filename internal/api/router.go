/**
 * @description
 * HTTP router setup for the registration-service using go-chi/chi. The
 * public surface is deliberately tiny: health plus the token-authenticated
 * resume endpoint. Everything operational sits behind the internal API key.
 *
 * @dependencies
 * - net/http: Standard Go library.
 * - github.com/go-chi/chi/v5, github.com/go-chi/cors: routing and CORS.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers registration routes.
func NewRouter(h *RegistrationHandlers, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// The resume link lands here from the verification email; the token in
	// the body is the sole credential.
	r.Post("/resume", h.ResumeHandler)

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/cycle", h.TriggerCycleHandler)
		r.Post("/interrupts/sweep", h.SweepInterruptsHandler)
		r.Get("/requests/{id}", h.GetRequestHandler)
	})

	return r
}
