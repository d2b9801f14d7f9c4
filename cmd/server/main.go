package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulsekit/pulse-api/internal/auth"
	"github.com/pulsekit/pulse-api/internal/chat"
	"github.com/pulsekit/pulse-api/internal/config"
	"github.com/pulsekit/pulse-api/internal/db"
	"github.com/pulsekit/pulse-api/internal/httpapi"
	"github.com/pulsekit/pulse-api/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "pulse-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Pretty logging for local dev
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	// Database connection and schema bootstrap
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := db.Bootstrap(ctx, pool, cfg.DBSchema, cfg.JobStoreTable); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap schema")
	}

	// Auth against the identity provider
	jwks := auth.NewJWKSCache(cfg.JWKSURL(), cfg.JWKSCacheTTL)
	if err := jwks.WarmUp(ctx); err != nil {
		log.Warn().Err(err).Msg("JWKS warm-up failed, will retry on first request")
	}
	authn := auth.NewAuthenticator(jwks, cfg.JWTIssuer, cfg.JWTAudience, cfg.VerifyAPIKeyURL())

	// Job scheduler
	registry := jobs.NewRegistry()
	jobs.RegisterExamples(registry)

	jobStore := jobs.NewPGStore(pool, cfg.DBSchema, cfg.JobStoreTable)
	sched := jobs.New(jobStore, registry, jobs.Options{
		MisfireGrace:  cfg.MisfireGrace,
		VerifyRetries: cfg.PersistVerifyTries,
		VerifyDelay:   cfg.PersistVerifyDelay,
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	// Chat
	convStore := chat.NewPGStore(pool, cfg.DBSchema)
	llm := chat.NewLLMClient(cfg.LLMBaseURL, cfg.LLMDefaultModel)
	chatSvc := chat.NewService(convStore, llm)

	srv := &httpapi.Server{
		Auth:          authn,
		Scheduler:     sched,
		JobStore:      jobStore,
		Conversations: convStore,
		Chat:          chatSvc,
		LLM:           llm,
		RateLimit: httpapi.RateLimitInfo{
			WindowSeconds: cfg.RateLimitWindowSeconds,
			MaxRequests:   cfg.RateLimitMaxRequests,
			Burst:         cfg.RateLimitBurst,
		},
	}

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Routes(),
		ReadTimeout: 15 * time.Second,
		// Streaming responses stay open well past a normal write timeout
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}

	log.Info().Msg("server stopped")
}
