package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"etl-orchestrator/internal/middleware"
)

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	// Validator authenticates /api/v1 requests. Nil disables authentication
	// and every caller acts as an anonymous operator.
	Validator      middleware.JWTValidator
	AllowedOrigins []string
	RateLimit      middleware.RateLimitConfig
	// UI, when set, is mounted under /ui. auth is nil when authentication
	// is disabled.
	UI func(r chi.Router, auth func(http.Handler) http.Handler)
}

// NewRouter builds the server's root handler. The context bounds the
// lifetime of the rate limiter's background cleanup.
func NewRouter(ctx context.Context, h *Handler, opts RouterOptions, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	var auth func(http.Handler) http.Handler
	if opts.Validator != nil {
		auth = middleware.AuthMiddleware(opts.Validator, logger)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		} else {
			r.Use(middleware.AnonymousOperator)
		}
		r.Use(middleware.RateLimiter(ctx, opts.RateLimit))
		h.Routes(r)
	})

	if opts.UI != nil {
		r.Route("/ui", func(r chi.Router) { opts.UI(r, auth) })
	}
	return r
}
