package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// Connect opens the pool and pings it once.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS verification_states (
  session_id         TEXT PRIMARY KEY,
  status             TEXT NOT NULL,
  anchor_type        TEXT NOT NULL DEFAULT '',
  anchor_value       TEXT NOT NULL DEFAULT '',
  anchor_name        TEXT NOT NULL DEFAULT '',
  anchor_phone_last4 TEXT NOT NULL DEFAULT '',
  anchor_ref         TEXT NOT NULL DEFAULT '',
  attempts           INTEGER NOT NULL DEFAULT 0,
  updated_at         TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS security_events (
  id          UUID PRIMARY KEY,
  type        TEXT NOT NULL,
  business_id TEXT NOT NULL,
  session_id  TEXT NOT NULL DEFAULT '',
  details     JSONB,
  created_at  TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_business ON security_events (business_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS guardrail_violations (
  id          BIGSERIAL PRIMARY KEY,
  business_id TEXT NOT NULL,
  occurred_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_guardrail_violations_business ON guardrail_violations (business_id, occurred_at)`,
}

// Migrate creates the guardrail tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
