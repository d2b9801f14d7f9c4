package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// JWKSCache is a TTL-bounded cache of the identity provider's Ed25519
// signing keys. The cache is refreshed when it expires or when a token
// arrives with an unknown key ID; an unknown kid forces at most one refresh
// before the lookup fails.
type JWKSCache struct {
	mu         sync.RWMutex
	url        string
	ttl        time.Duration
	httpClient *http.Client
	keys       map[string]ed25519.PublicKey
	expiresAt  time.Time
	ready      bool
}

// NewJWKSCache creates a cache for the given JWKS endpoint. ttl <= 0 falls
// back to one hour.
func NewJWKSCache(url string, ttl time.Duration) *JWKSCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWKSCache{
		url:        url,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		keys:       make(map[string]ed25519.PublicKey),
	}
}

// Key returns the Ed25519 public key for kid, refreshing the cache when it
// has expired or does not contain kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	c.mu.RLock()
	key, exists := c.keys[kid]
	fresh := time.Now().Before(c.expiresAt)
	c.mu.RUnlock()

	if exists && fresh {
		return key, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if key, exists := c.keys[kid]; exists && time.Now().Before(c.expiresAt) {
		return key, nil
	}

	if err := c.refreshLocked(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetch, err)
	}

	if key, exists := c.keys[kid]; exists {
		return key, nil
	}
	return nil, fmt.Errorf("%w for kid: %s", ErrKeyNotFound, kid)
}

// refreshLocked fetches the JWKS document and replaces the cached key set.
// Caller must hold the write lock.
func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS request failed with status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Crv string `json:"crv"`
			X   string `json:"x"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]ed25519.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" || k.Kid == "" {
			continue
		}
		pub, err := parseEd25519PublicKey(k.X)
		if err != nil {
			log.Warn().Err(err).Str("kid", k.Kid).Msg("failed to parse Ed25519 public key")
			continue
		}
		keys[k.Kid] = pub
	}

	c.keys = keys
	c.expiresAt = time.Now().Add(c.ttl)
	c.ready = true

	log.Debug().Int("keyCount", len(keys)).Time("expiresAt", c.expiresAt).Msg("JWKS cache updated")
	return nil
}

// WarmUp pre-fetches the JWKS so the first request does not pay the fetch
// latency. Startup tolerates failure; the next verification retries.
func (c *JWKSCache) WarmUp(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// Ready reports whether at least one fetch has succeeded.
func (c *JWKSCache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Probe checks that the JWKS endpoint is reachable. Used by the health
// endpoint; it does not touch the cache.
func (c *JWKSCache) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}
	return nil
}

// parseEd25519PublicKey decodes the base64url x coordinate of an OKP JWK.
func parseEd25519PublicKey(x string) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(x)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("unexpected key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
