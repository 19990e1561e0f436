package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

// Roles understood by RequireRole.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Name  string
	Roles []string
}

// HasRole reports whether the principal holds role. Admins hold every role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role) || slices.Contains(p.Roles, RoleAdmin)
}

type principalKey struct{}

// WithPrincipal stores the principal in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ActorFromContext returns the principal name used in audit trails, or
// fallback when the request is unauthenticated.
func ActorFromContext(ctx context.Context, fallback string) string {
	if p, ok := PrincipalFromContext(ctx); ok && p.Name != "" {
		return p.Name
	}
	return fallback
}

// AuthMiddleware requires a valid Bearer JWT whose sub claim names the
// principal. Returns 401 otherwise.
func AuthMiddleware(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeUnauthorized(w, "unauthorized: provide a valid JWT Bearer token")
				return
			}
			claims, err := validator.Validate(r.Context(), strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logger.Debug("token rejected", "error", err, "request_id", RequestIDFromContext(r.Context()))
				writeUnauthorized(w, "unauthorized: invalid token")
				return
			}
			if claims.Subject == "" {
				writeUnauthorized(w, "unauthorized: token has no subject")
				return
			}
			ctx := WithPrincipal(r.Context(), Principal{Name: claims.Subject, Roles: claims.Roles})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers lacking role with 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "unauthorized")
				return
			}
			if !p.HasRole(role) {
				writeJSONError(w, http.StatusForbidden, "forbidden: requires role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"message": msg,
	})
}

// AnonymousOperator authenticates every request as "anonymous" with the
// operator role. It stands in for AuthMiddleware when no secret is set.
func AnonymousOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithPrincipal(r.Context(), Principal{Name: "anonymous", Roles: []string{RoleOperator}})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
