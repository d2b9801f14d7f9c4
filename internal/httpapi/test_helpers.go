package httpapi

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pulsekit/pulse-api/internal/auth"
	"github.com/pulsekit/pulse-api/internal/chat"
	"github.com/pulsekit/pulse-api/internal/jobs"
)

const (
	testIssuer   = "https://id.test"
	testAudience = "pulse-api"
	testKid      = "test-key-1"
	testAPIKey   = "pk_test_valid"
	testUserID   = "user-1"
)

// identityStub fakes the identity provider: a JWKS document carrying one
// Ed25519 key, plus the API key verification endpoint.
type identityStub struct {
	Server *httptest.Server
	priv   ed25519.PrivateKey
}

func newIdentityStub(t *testing.T) *identityStub {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": testKid,
				"kty": "OKP",
				"crv": "Ed25519",
				"x":   base64.RawURLEncoding.EncodeToString(pub),
			}},
		})
	})
	mux.HandleFunc("/api/auth/verify-api-key", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Key string `json:"key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key != testAPIKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"valid": true,
			"key": map[string]any{
				"id":      "key-id-1",
				"userId":  testUserID,
				"name":    "test key",
				"enabled": true,
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &identityStub{Server: srv, priv: priv}
}

// SignToken mints a valid EdDSA token for sub.
func (s *identityStub) SignToken(t *testing.T, sub string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": sub,
		"iss": testIssuer,
		"aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
	token.Header["kid"] = testKid

	signed, err := token.SignedString(s.priv)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// newTestServer wires a Server onto in-memory stores and the identity stub.
// llmBaseURL may be empty when the test never reaches the LLM backend.
func newTestServer(t *testing.T, stub *identityStub, llmBaseURL string) (*Server, http.Handler) {
	t.Helper()

	jwks := auth.NewJWKSCache(stub.Server.URL+"/api/auth/jwks", time.Hour)
	authn := auth.NewAuthenticator(jwks, testIssuer, testAudience, stub.Server.URL+"/api/auth/verify-api-key")

	registry := jobs.NewRegistry()
	jobs.RegisterExamples(registry)
	sched := jobs.New(jobs.NewMemoryStore(), registry, jobs.Options{})

	convs := chat.NewMemoryStore()
	llm := chat.NewLLMClient(llmBaseURL, "test-model")

	srv := &Server{
		Auth:          authn,
		Scheduler:     sched,
		JobStore:      sched.Store(),
		Conversations: convs,
		Chat:          chat.NewService(convs, llm),
		LLM:           llm,
	}
	return srv, srv.Routes()
}

// doRequest performs a JSON request against the router, authenticated with
// the stub API key.
func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testAPIKey)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response: %v (body: %s)", err, w.Body.String())
	}
}
