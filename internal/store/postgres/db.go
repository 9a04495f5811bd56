// Package postgres implements the persistence interfaces on PostgreSQL
// via database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
)

// DB wraps a database connection and implements the aggregate store.
type DB struct {
	conn *sql.DB
}

var _ store.Store = (*DB)(nil)

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// schema holds the full table layout. Incidents carry a partial unique
// index so at most one non-resolved incident exists per fingerprint;
// deliveries, decisions, and the event log are insert-only.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS rules (
		rule_id    TEXT PRIMARY KEY,
		spec       JSONB NOT NULL,
		enabled    BOOLEAN NOT NULL DEFAULT TRUE,
		version    BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS rules_meta (
		id      INT PRIMARY KEY CHECK (id = 1),
		version BIGINT NOT NULL
	)`,
	`INSERT INTO rules_meta (id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS incidents (
		incident_id   TEXT PRIMARY KEY,
		fingerprint   TEXT NOT NULL,
		rule_id       TEXT NOT NULL,
		subject_key   TEXT NOT NULL,
		group_key     TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		severity      TEXT NOT NULL,
		title         TEXT NOT NULL,
		first_seen    TIMESTAMPTZ NOT NULL,
		last_seen     TIMESTAMPTZ NOT NULL,
		last_dispatch TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS incidents_active_fingerprint
		ON incidents (fingerprint) WHERE status != 'RESOLVED'`,
	`CREATE INDEX IF NOT EXISTS incidents_subject_key ON incidents (subject_key)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		delivery_id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL REFERENCES incidents (incident_id),
		channel     TEXT NOT NULL,
		attempt     INT NOT NULL,
		status      TEXT NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS deliveries_incident ON deliveries (incident_id)`,
	`CREATE TABLE IF NOT EXISTS decision_log (
		decision_id TEXT PRIMARY KEY,
		proposal_id TEXT NOT NULL,
		subject_key TEXT NOT NULL,
		action      TEXT NOT NULL,
		rationale   TEXT NOT NULL,
		prev_price  NUMERIC(18,6) NOT NULL,
		new_price   NUMERIC(18,6) NOT NULL,
		actor       TEXT NOT NULL,
		at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS decision_log_subject ON decision_log (subject_key, at DESC)`,
	`CREATE TABLE IF NOT EXISTS prices (
		sku        TEXT PRIMARY KEY,
		price      NUMERIC(18,6) NOT NULL,
		revision   BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS event_log (
		event_id TEXT PRIMARY KEY,
		topic    TEXT NOT NULL,
		payload  JSONB,
		at       TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates all tables and indexes if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	slog.Info("Database schema is up to date")
	return nil
}
