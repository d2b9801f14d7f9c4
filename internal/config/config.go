package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded once at startup from the
// environment.
type Config struct {
	Env      string
	HTTPAddr string

	// Database
	DatabaseURL string
	DBSchema    string

	// Identity provider
	IdentityProviderURL string
	JWTIssuer           string
	JWTAudience         string
	JWKSCacheTTL        time.Duration

	// Scheduler
	JobStoreTable      string
	MisfireGrace       time.Duration
	PersistVerifyTries int
	PersistVerifyDelay time.Duration

	// Chat
	LLMBaseURL      string
	LLMDefaultModel string

	// Rate limiting (chat routes)
	RateLimitWindowSeconds int
	RateLimitMaxRequests   int
	RateLimitBurst         int
}

// JWKSURL returns the identity provider's JWKS endpoint.
func (c Config) JWKSURL() string {
	return strings.TrimRight(c.IdentityProviderURL, "/") + "/api/auth/jwks"
}

// VerifyAPIKeyURL returns the identity provider's API key verification endpoint.
func (c Config) VerifyAPIKeyURL() string {
	return strings.TrimRight(c.IdentityProviderURL, "/") + "/api/auth/verify-api-key"
}

// Load reads configuration from environment variables, applying defaults for
// everything except DATABASE_URL.
func Load() (Config, error) {
	cfg := Config{
		Env:                 env("ENV", "dev"),
		HTTPAddr:            env("HTTP_ADDR", ":8000"),
		DatabaseURL:         env("DATABASE_URL", ""),
		DBSchema:            env("DB_SCHEMA", "public"),
		IdentityProviderURL: env("IDENTITY_PROVIDER_URL", "http://localhost:3000"),
		JWTIssuer:           env("JWT_ISSUER", "http://localhost:3000"),
		JWTAudience:         env("JWT_AUDIENCE", "http://localhost:3000"),
		JobStoreTable:       env("JOB_STORE_TABLE_NAME", "scheduler_jobs"),
		LLMBaseURL:          env("LLM_BASE_URL", "http://localhost:11434"),
		LLMDefaultModel:     env("LLM_DEFAULT_MODEL", "llama3.2"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	ttl, err := envInt("JWKS_CACHE_TTL_SECONDS", 3600)
	if err != nil {
		return Config{}, err
	}
	cfg.JWKSCacheTTL = time.Duration(ttl) * time.Second

	grace, err := envInt("JOB_MISFIRE_GRACE_SECONDS", 3600)
	if err != nil {
		return Config{}, err
	}
	cfg.MisfireGrace = time.Duration(grace) * time.Second

	if cfg.PersistVerifyTries, err = envInt("JOB_PERSIST_VERIFY_RETRIES", 5); err != nil {
		return Config{}, err
	}
	delay, err := envInt("JOB_PERSIST_VERIFY_DELAY_MS", 200)
	if err != nil {
		return Config{}, err
	}
	cfg.PersistVerifyDelay = time.Duration(delay) * time.Millisecond

	if cfg.RateLimitWindowSeconds, err = envInt("RATE_LIMIT_WINDOW_SECONDS", 60); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitMaxRequests, err = envInt("RATE_LIMIT_MAX_REQUESTS", 60); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 20); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: expected integer, got %q", k, v)
	}
	return n, nil
}
