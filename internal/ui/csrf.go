package ui

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"net/http"
	"strings"

	gomponents "maragu.dev/gomponents"
	html "maragu.dev/gomponents/html"
)

// Double-submit token: the console cookie must match the form field, or the
// header datastar actions send.
const (
	csrfCookieName = "etl_console_csrf"
	csrfFormField  = "csrf_token"
	csrfHeader     = "X-CSRF-Token"
)

type csrfContextKey struct{}

// EnsureCSRFToken issues the console token cookie on first contact and
// exposes the token to page renderers.
func (h *Handler) EnsureCSRFToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := cookieValue(r, csrfCookieName)
		if token == "" {
			token = rand.Text()
			http.SetCookie(w, &http.Cookie{
				Name:     csrfCookieName,
				Value:    token,
				Path:     "/ui",
				HttpOnly: true,
				Secure:   h.Production,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfContextKey{}, token)))
	})
}

// RequireCSRF rejects unsafe requests whose token does not match the cookie.
func (h *Handler) RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !csrfMatches(r) {
			h.logger.Warn("console request rejected: csrf token mismatch", "path", r.URL.Path)
			renderHTML(w, http.StatusForbidden, errorPage("Request Rejected",
				"The form expired or was submitted from another site. Reload the page and try again."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func csrfMatches(r *http.Request) bool {
	want := cookieValue(r, csrfCookieName)
	if want == "" {
		return false
	}
	got := strings.TrimSpace(r.Header.Get(csrfHeader))
	if got == "" {
		got = strings.TrimSpace(r.PostFormValue(csrfFormField))
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func csrfField(r *http.Request) gomponents.Node {
	token, _ := r.Context().Value(csrfContextKey{}).(string)
	return html.Input(html.Type("hidden"), html.Name(csrfFormField), html.Value(token))
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
