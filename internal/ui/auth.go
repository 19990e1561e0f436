package ui

import (
	"net/http"
	"strings"
	"time"
)

const bearerCookieName = "ui_bearer"

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	renderHTML(w, http.StatusOK, loginPage(strings.TrimSpace(r.URL.Query().Get("error"))))
}

// LoginSubmit stores the pasted JWT in an HttpOnly cookie. The token is
// verified on the next request by the regular API authentication.
func (h *Handler) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/ui/login?error=invalid+form", http.StatusSeeOther)
		return
	}
	token := strings.TrimSpace(r.Form.Get("token"))
	if token == "" {
		http.Redirect(w, r, "/ui/login?error=token+is+required", http.StatusSeeOther)
		return
	}
	http.SetCookie(w, h.bearerCookie(token, time.Now().Add(24*time.Hour)))
	http.Redirect(w, r, "/ui", http.StatusSeeOther)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	c := h.bearerCookie("", time.Time{})
	c.MaxAge = -1
	http.SetCookie(w, c)
	http.Redirect(w, r, "/ui/login", http.StatusSeeOther)
}

func (h *Handler) bearerCookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     bearerCookieName,
		Value:    value,
		Path:     "/ui",
		HttpOnly: true,
		Secure:   h.Production,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	}
}

// CookieHeaderBridge copies the session cookie into the Authorization header
// so the API authentication middleware can verify it.
func (h *Handler) CookieHeaderBridge(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			if token := cookieValue(r, bearerCookieName); token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RedirectUnauthenticated sends browsers without credentials to the login
// page instead of letting the API middleware answer with JSON.
func RedirectUnauthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Redirect(w, r, "/ui/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}
