package auth

import "context"

type ctxKey string

const ctxPrincipal ctxKey = "principal"

// Source identifies which credential authenticated the request.
type Source string

const (
	SourceJWT    Source = "jwt"
	SourceAPIKey Source = "api_key"
)

// Principal is the authenticated identity attached to a request for the
// duration of its handling. It is never persisted.
type Principal struct {
	UserID string
	Source Source
	Claims map[string]any
	KeyID  string // set when Source == SourceAPIKey
}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalFromContext extracts the principal set by the auth middleware.
// Returns nil on unauthenticated requests (public paths).
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(ctxPrincipal).(*Principal); ok {
		return p
	}
	return nil
}

// UserID extracts the authenticated user ID from request context.
// Returns empty string if not authenticated.
func UserID(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UserID
	}
	return ""
}
