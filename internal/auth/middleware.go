package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// publicPaths are served without credentials.
var publicPaths = map[string]struct{}{
	"/":             {},
	"/health":       {},
	"/docs":         {},
	"/openapi.json": {},
	"/redoc":        {},
}

// Middleware gates every non-public request. An X-API-Key header is checked
// first, then a bearer token; both are verified when both are present and
// either failure rejects the request. The API-key identity wins when both
// succeed.
func Middleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// CORS preflight never carries credentials.
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := publicPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			var apiKeyPrincipal, jwtPrincipal *Principal

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				p, err := a.VerifyAPIKey(r.Context(), apiKey, nil)
				if err != nil {
					log.Ctx(r.Context()).Warn().Err(err).Msg("api key rejected")
					writeAuthError(w, err)
					return
				}
				apiKeyPrincipal = p
			}

			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				p, err := a.VerifyJWT(r.Context(), strings.TrimPrefix(h, "Bearer "))
				if err != nil {
					log.Ctx(r.Context()).Warn().Err(err).Msg("bearer token rejected")
					writeAuthError(w, err)
					return
				}
				jwtPrincipal = p
			}

			principal := apiKeyPrincipal
			if principal == nil {
				principal = jwtPrincipal
			}
			if principal == nil {
				writeAuthError(w, ErrHeaderMissing)
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			logger := log.Ctx(ctx).With().
				Str("user_id", principal.UserID).
				Str("auth_source", string(principal.Source)).
				Logger()
			ctx = logger.WithContext(ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError emits the standard error envelope. The request id was
// already placed on the response headers by the request-id middleware.
func writeAuthError(w http.ResponseWriter, err error) {
	requestID := w.Header().Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(map[string]string{
		"detail":     err.Error(),
		"request_id": requestID,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAPIKeyForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrJWKSFetch), errors.Is(err, ErrAPIKeyVerify):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}
