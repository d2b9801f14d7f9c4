package auth

import "errors"

// Sentinel errors for the authentication flows. Handlers and middleware map
// these onto HTTP statuses; message text is what clients see in the `detail`
// field.
var (
	ErrHeaderMissing   = errors.New("Authorization header missing")
	ErrTokenMissingKid = errors.New("Token missing key ID")
	ErrTokenInvalid    = errors.New("Invalid token")
	ErrKeyNotFound     = errors.New("Public key not found")
	ErrJWKSFetch       = errors.New("Failed to fetch JWKS")
	ErrAPIKeyInvalid   = errors.New("Invalid API key")
	ErrAPIKeyForbidden = errors.New("API key has insufficient permissions")
	ErrAPIKeyVerify    = errors.New("Failed to verify API key")
)
