// Package database wraps the PostgreSQL connection pool and row-store schema
// for agents, rounds, judgments, verdicts, score events, flip cards and meta.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"btc-tournament/internal/logging"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  *logging.Logger
}

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool and verifies connectivity.
func NewDB(ctx context.Context, cfg Config, log *logging.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 3
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info("connected to postgres database", "database", cfg.Database, "host", cfg.Host)

	return &DB{Pool: pool, log: log}, nil
}

// Close releases the pool's connections.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info("database connection pool closed")
	}
}

// HealthCheck performs a liveness ping against the pool.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations creates the tournament schema if it does not already exist.
// No external migration-tooling dependency is used, matching the teacher's
// inline CREATE TABLE IF NOT EXISTS convention.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			persona TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL DEFAULT '',
			score BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending_claim',
			secret TEXT NOT NULL UNIQUE,
			claim_token TEXT NOT NULL,
			verification_code TEXT NOT NULL,
			claimed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)`,

		`CREATE TABLE IF NOT EXISTS rounds (
			round_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			duration_min INT NOT NULL,
			start_price DOUBLE PRECISION NOT NULL,
			end_price DOUBLE PRECISION,
			status TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_status ON rounds(status)`,

		`CREATE TABLE IF NOT EXISTS judgments (
			round_id TEXT NOT NULL REFERENCES rounds(round_id) ON DELETE CASCADE,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			direction TEXT NOT NULL,
			confidence INT NOT NULL,
			comment TEXT NOT NULL,
			"timestamp" TIMESTAMPTZ NOT NULL,
			intervals TEXT[] NOT NULL DEFAULT '{}',
			analysis_start_time TIMESTAMPTZ,
			analysis_end_time TIMESTAMPTZ,
			reason_timeframe TEXT,
			reason_pattern TEXT,
			reason_direction TEXT,
			reason_horizon_bars INT,
			reason_t_close_ms BIGINT,
			reason_target_close_ms BIGINT,
			reason_base_close DOUBLE PRECISION,
			reason_pattern_holds SMALLINT,
			reason_target_close DOUBLE PRECISION,
			reason_delta_pct DOUBLE PRECISION,
			reason_outcome TEXT,
			reason_correct SMALLINT,
			reason_evaluated_at TIMESTAMPTZ,
			reason_eval_error TEXT,
			PRIMARY KEY (round_id, agent_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_judgments_round_id ON judgments(round_id)`,
		`CREATE INDEX IF NOT EXISTS idx_judgments_agent_id ON judgments(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_judgments_target_close_ms ON judgments(reason_target_close_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_judgments_reason_correct ON judgments(reason_correct)`,

		`CREATE TABLE IF NOT EXISTS verdicts (
			round_id TEXT PRIMARY KEY REFERENCES rounds(round_id) ON DELETE CASCADE,
			result TEXT NOT NULL,
			delta_pct DOUBLE PRECISION NOT NULL,
			"timestamp" TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_round_id ON verdicts(round_id)`,

		`CREATE TABLE IF NOT EXISTS score_events (
			id BIGSERIAL PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			round_id TEXT NOT NULL REFERENCES rounds(round_id) ON DELETE CASCADE,
			correct BOOLEAN NOT NULL,
			confidence INT NOT NULL,
			score_change BIGINT NOT NULL,
			reason TEXT NOT NULL,
			"timestamp" TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_score_events_agent_round ON score_events(agent_id, round_id)`,

		`CREATE TABLE IF NOT EXISTS flip_cards (
			id BIGSERIAL PRIMARY KEY,
			round_id TEXT NOT NULL REFERENCES rounds(round_id) ON DELETE CASCADE,
			agent_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			result TEXT NOT NULL,
			title TEXT NOT NULL,
			text TEXT NOT NULL,
			confidence INT NOT NULL,
			score_change BIGINT NOT NULL,
			"timestamp" TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_flip_cards_round_timestamp ON flip_cards(round_id, "timestamp")`,

		`CREATE TABLE IF NOT EXISTS meta (
			id SMALLINT PRIMARY KEY DEFAULT 1,
			last_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_delta_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_price_at TIMESTAMPTZ,
			CONSTRAINT meta_singleton CHECK (id = 1)
		)`,
		`INSERT INTO meta (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	}

	for i, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info("database migrations completed")
	return nil
}
