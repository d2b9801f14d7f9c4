package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGatedHandler(t *testing.T, stub *providerStub) (http.Handler, *Principal) {
	t.Helper()

	seen := &Principal{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := PrincipalFromContext(r.Context()); p != nil {
			*seen = *p
		}
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(stub.authenticator(time.Hour))(inner), seen
}

func authErrorDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail    string `json:"detail"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Detail
}

func TestMiddlewareRejectsMissingCredentials(t *testing.T) {
	stub := newProviderStub(t)
	handler, _ := newGatedHandler(t, stub)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Authorization header missing", authErrorDetail(t, w))
}

func TestMiddlewarePublicPaths(t *testing.T) {
	stub := newProviderStub(t)
	handler, _ := newGatedHandler(t, stub)

	for _, path := range []string{"/", "/health", "/docs", "/openapi.json", "/redoc"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, "path %s", path)
	}

	// Public prefixes do not leak to nested paths.
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/history", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewarePreflightPasses(t *testing.T) {
	stub := newProviderStub(t)
	handler, _ := newGatedHandler(t, stub)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/jobs", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddlewareAPIKey(t *testing.T) {
	stub := newProviderStub(t)
	handler, seen := newGatedHandler(t, stub)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", stubAPIKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, stubUserID, seen.UserID)
	assert.Equal(t, SourceAPIKey, seen.Source)
}

func TestMiddlewareBearerToken(t *testing.T) {
	stub := newProviderStub(t)
	handler, seen := newGatedHandler(t, stub)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+stub.signToken(tokenOpts{sub: "jwt-user"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "jwt-user", seen.UserID)
	assert.Equal(t, SourceJWT, seen.Source)
}

func TestMiddlewareAPIKeyIdentityWins(t *testing.T) {
	stub := newProviderStub(t)
	handler, seen := newGatedHandler(t, stub)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", stubAPIKey)
	req.Header.Set("Authorization", "Bearer "+stub.signToken(tokenOpts{sub: "jwt-user"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, stubUserID, seen.UserID)
	assert.Equal(t, SourceAPIKey, seen.Source)
}

func TestMiddlewareEitherCredentialFailureRejects(t *testing.T) {
	stub := newProviderStub(t)
	handler, _ := newGatedHandler(t, stub)

	// Valid API key, rotten bearer token: still rejected.
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", stubAPIKey)
	req.Header.Set("Authorization", "Bearer eyJ.bogus.token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Bad API key, valid bearer token: same outcome.
	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", "pk_live_wrong")
	req.Header.Set("Authorization", "Bearer "+stub.signToken(tokenOpts{sub: "jwt-user"}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid API key", authErrorDetail(t, w))
}

func TestMiddlewareForbiddenKey(t *testing.T) {
	stub := newProviderStub(t)
	handler, _ := newGatedHandler(t, stub)
	stub.verifyStatus.Store(403)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", stubAPIKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "API key has insufficient permissions", authErrorDetail(t, w))
}

func TestMiddlewareProviderOutageIs503(t *testing.T) {
	stub := newProviderStub(t)
	handler, _ := newGatedHandler(t, stub)
	stub.server.Close()

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("X-API-Key", stubAPIKey)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
