package ui

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"

	"etl-orchestrator/internal/middleware"
	"etl-orchestrator/internal/ui/assets"
)

// MountRoutes registers the console on r, which is expected to be mounted
// at /ui. authMiddleware authenticates the bridged session cookie; nil
// serves every page as the anonymous operator.
func MountRoutes(r chi.Router, h *Handler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(h.EnsureCSRFToken)
	r.Get("/login", h.LoginPage)
	r.Post("/login", h.LoginSubmit)
	r.Post("/logout", h.Logout)

	staticFS, err := fs.Sub(assets.StaticFS(), "static")
	if err == nil {
		r.Handle("/static/*", http.StripPrefix("/ui/static/", http.FileServer(http.FS(staticFS))))
	}

	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(h.CookieHeaderBridge)
			r.Use(RedirectUnauthenticated)
			r.Use(authMiddleware)
		} else {
			r.Use(middleware.AnonymousOperator)
		}
		r.Use(h.RequireCSRF)
		r.Get("/", h.Home)
		r.Get("/pipelines", h.Pipelines)
		r.Get("/executions", h.Executions)
		r.Get("/runs/{batchID}", h.RunDetail)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleOperator))
			r.Post("/runs", h.TriggerRun)
			r.Post("/runs/{batchID}/cancel", h.CancelRun)
		})
	})
}
