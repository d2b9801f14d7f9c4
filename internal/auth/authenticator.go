package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Authenticator verifies the two credential types this service accepts:
// Ed25519-signed JWTs issued by the identity provider, and API keys checked
// against its verification endpoint.
type Authenticator struct {
	jwks       *JWKSCache
	issuer     string
	audience   string
	verifyURL  string
	httpClient *http.Client
}

// NewAuthenticator creates an authenticator backed by the given JWKS cache.
func NewAuthenticator(jwks *JWKSCache, issuer, audience, verifyURL string) *Authenticator {
	return &Authenticator{
		jwks:       jwks,
		issuer:     issuer,
		audience:   audience,
		verifyURL:  verifyURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// JWKS exposes the underlying cache (for the health probe).
func (a *Authenticator) JWKS() *JWKSCache {
	return a.jwks
}

// VerifyJWT validates a bearer token: EdDSA signature against the cached
// JWKS, plus issuer and audience. The user ID is taken from the `sub` claim,
// falling back to `id`.
func (a *Authenticator) VerifyJWT(ctx context.Context, tokenString string) (*Principal, error) {
	// Parse unverified first to learn which key signed the token.
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, ErrTokenMissingKid
	}

	key, err := a.jwks.Key(ctx, kid)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
	)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("kid", kid).Msg("jwt verification failed")
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		userID, _ = claims["id"].(string)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: no subject claim", ErrTokenInvalid)
	}

	return &Principal{
		UserID: userID,
		Source: SourceJWT,
		Claims: claims,
	}, nil
}

// verifyKeyResponse is the identity provider's answer to a verification call.
type verifyKeyResponse struct {
	Valid bool `json:"valid"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Key struct {
		ID          string         `json:"id"`
		UserID      string         `json:"userId"`
		Name        string         `json:"name"`
		Prefix      string         `json:"prefix"`
		Enabled     bool           `json:"enabled"`
		Permissions map[string]any `json:"permissions"`
		Metadata    map[string]any `json:"metadata"`
	} `json:"key"`
}

// VerifyAPIKey checks an API key against the identity provider, optionally
// requiring a set of permissions ({resource: [actions...]}).
func (a *Authenticator) VerifyAPIKey(ctx context.Context, apiKey string, requiredPermissions map[string][]string) (*Principal, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyInvalid
	}

	body := map[string]any{"key": apiKey}
	if len(requiredPermissions) > 0 {
		body["permissions"] = requiredPermissions
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIKeyVerify, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.verifyURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIKeyVerify, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPIKeyVerify, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAPIKeyInvalid
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrAPIKeyForbidden
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: HTTP %d", ErrAPIKeyVerify, resp.StatusCode)
	}

	var vr verifyKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("%w: invalid response format", ErrAPIKeyVerify)
	}

	if !vr.Valid {
		if vr.Error != nil && vr.Error.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrAPIKeyInvalid, vr.Error.Message)
		}
		return nil, ErrAPIKeyInvalid
	}
	if vr.Key.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrAPIKeyVerify)
	}

	log.Ctx(ctx).Debug().
		Str("userId", vr.Key.UserID).
		Str("keyId", vr.Key.ID).
		Msg("api key verified")

	return &Principal{
		UserID: vr.Key.UserID,
		Source: SourceAPIKey,
		KeyID:  vr.Key.ID,
		Claims: map[string]any{
			"permissions": vr.Key.Permissions,
			"metadata":    vr.Key.Metadata,
			"name":        vr.Key.Name,
			"prefix":      vr.Key.Prefix,
			"enabled":     vr.Key.Enabled,
		},
	}, nil
}
