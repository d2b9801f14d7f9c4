package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	stubIssuer   = "https://id.test"
	stubAudience = "pulse-api"
	stubKid      = "stub-key-1"
	stubAPIKey   = "pk_live_good"
	stubUserID   = "user-42"
)

// providerStub fakes the identity provider for auth tests. Keys can be
// swapped at runtime to exercise rotation, and endpoints can be forced to
// fail.
type providerStub struct {
	t      *testing.T
	server *httptest.Server

	priv ed25519.PrivateKey
	pub  atomic.Value // map[string]ed25519.PublicKey

	jwksFetches  atomic.Int64
	failJWKS     atomic.Bool
	verifyStatus atomic.Int64 // 0 means the normal verify flow
}

func newProviderStub(t *testing.T) *providerStub {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	s := &providerStub{t: t, priv: priv}
	s.pub.Store(map[string]ed25519.PublicKey{stubKid: pub})

	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", s.handleJWKS)
	mux.HandleFunc("/verify", s.handleVerify)
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func (s *providerStub) jwksURL() string   { return s.server.URL + "/jwks" }
func (s *providerStub) verifyURL() string { return s.server.URL + "/verify" }

// rotate replaces the published key set with a single fresh key under kid.
func (s *providerStub) rotate(kid string) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		s.t.Fatalf("failed to rotate key: %v", err)
	}
	s.priv = priv
	s.pub.Store(map[string]ed25519.PublicKey{kid: pub})
}

func (s *providerStub) handleJWKS(w http.ResponseWriter, r *http.Request) {
	s.jwksFetches.Add(1)
	if s.failJWKS.Load() {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	keys := []map[string]string{{
		// Always include a non-Ed25519 entry; the cache must skip it.
		"kid": "rsa-legacy",
		"kty": "RSA",
	}}
	for kid, pub := range s.pub.Load().(map[string]ed25519.PublicKey) {
		keys = append(keys, map[string]string{
			"kid": kid,
			"kty": "OKP",
			"crv": "Ed25519",
			"x":   base64.RawURLEncoding.EncodeToString(pub),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"keys": keys})
}

func (s *providerStub) handleVerify(w http.ResponseWriter, r *http.Request) {
	if code := s.verifyStatus.Load(); code != 0 {
		w.WriteHeader(int(code))
		return
	}

	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key != stubAPIKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"valid": true,
		"key": map[string]any{
			"id":      "key-7",
			"userId":  stubUserID,
			"name":    "ci key",
			"prefix":  "pk_live",
			"enabled": true,
		},
	})
}

type tokenOpts struct {
	kid    string
	iss    string
	aud    string
	sub    string
	id     string
	expire time.Duration
}

// signToken mints an EdDSA token with the stub's current private key.
func (s *providerStub) signToken(opts tokenOpts) string {
	s.t.Helper()

	if opts.kid == "" {
		opts.kid = stubKid
	}
	if opts.iss == "" {
		opts.iss = stubIssuer
	}
	if opts.aud == "" {
		opts.aud = stubAudience
	}
	if opts.expire == 0 {
		opts.expire = time.Hour
	}

	claims := jwt.MapClaims{
		"iss": opts.iss,
		"aud": opts.aud,
		"exp": time.Now().Add(opts.expire).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
	if opts.sub != "" {
		claims["sub"] = opts.sub
	}
	if opts.id != "" {
		claims["id"] = opts.id
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = opts.kid

	signed, err := token.SignedString(s.priv)
	if err != nil {
		s.t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (s *providerStub) authenticator(ttl time.Duration) *Authenticator {
	return NewAuthenticator(NewJWKSCache(s.jwksURL(), ttl), stubIssuer, stubAudience, s.verifyURL())
}
