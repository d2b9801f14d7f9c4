package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Open creates a new PostgreSQL connection pool
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	// Connection pool configuration
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return pool, nil
}

// Bootstrap creates the service's tables if they do not exist yet. Schema
// migrations proper live outside this service; this only guarantees a fresh
// database is usable.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool, schema, jobTable string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversations (
			id         uuid PRIMARY KEY,
			user_id    text NOT NULL,
			title      varchar(255) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)`, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS conversations_user_updated_idx
			ON %s.conversations (user_id, updated_at DESC)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.messages (
			id              uuid PRIMARY KEY,
			conversation_id uuid NOT NULL REFERENCES %s.conversations (id) ON DELETE CASCADE,
			role            varchar(32) NOT NULL,
			content         text NOT NULL,
			model           varchar(255),
			created_at      timestamptz NOT NULL DEFAULT now()
		)`, schema, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS messages_conversation_created_idx
			ON %s.messages (conversation_id, created_at)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.job_history (
			id            uuid PRIMARY KEY,
			job_id        text NOT NULL,
			function      varchar(255),
			func_ref      varchar(255),
			trigger_repr  text,
			trigger_type  varchar(32),
			status        varchar(32) NOT NULL,
			args          jsonb,
			kwargs        jsonb,
			next_run_time timestamptz,
			error_message text,
			logs          text,
			user_id       text,
			created_at    timestamptz NOT NULL DEFAULT now()
		)`, schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS job_history_job_created_idx
			ON %s.job_history (job_id, created_at DESC)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			id            text PRIMARY KEY,
			next_run_time timestamptz,
			paused        boolean NOT NULL DEFAULT false,
			payload       jsonb NOT NULL,
			inserted_seq  bigserial
		)`, schema, jobTable),
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}

	log.Info().Str("schema", schema).Str("job_table", jobTable).Msg("database schema ready")
	return nil
}
