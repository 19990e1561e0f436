package domain

import "context"

type principalKey struct{}

// ContextPrincipal carries the authenticated identity through request context.
type ContextPrincipal struct {
	Name    string
	IsAdmin bool
}

// WithPrincipal stores a ContextPrincipal in the context.
func WithPrincipal(ctx context.Context, p ContextPrincipal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the ContextPrincipal from the context.
func PrincipalFromContext(ctx context.Context) (ContextPrincipal, bool) {
	p, ok := ctx.Value(principalKey{}).(ContextPrincipal)
	return p, ok
}

// ActorFromContext returns the principal name, or fallback when the context
// carries none.
func ActorFromContext(ctx context.Context, fallback string) string {
	if p, ok := PrincipalFromContext(ctx); ok && p.Name != "" {
		return p.Name
	}
	return fallback
}
