package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Connect opens the pool and pings it once.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS verification_states (
  session_id         VARCHAR(255) NOT NULL PRIMARY KEY,
  status             VARCHAR(16)  NOT NULL,
  anchor_type        VARCHAR(16)  NOT NULL DEFAULT '',
  anchor_value       VARCHAR(64)  NOT NULL DEFAULT '',
  anchor_name        VARCHAR(255) NOT NULL DEFAULT '',
  anchor_phone_last4 VARCHAR(4)   NOT NULL DEFAULT '',
  anchor_ref         VARCHAR(128) NOT NULL DEFAULT '',
  attempts           INT          NOT NULL DEFAULT 0,
  updated_at         DATETIME(6)  NOT NULL
);
CREATE TABLE IF NOT EXISTS security_events (
  id          CHAR(36)     NOT NULL PRIMARY KEY,
  type        VARCHAR(64)  NOT NULL,
  business_id VARCHAR(128) NOT NULL,
  session_id  VARCHAR(128) NOT NULL DEFAULT '',
  details     JSON         NULL,
  created_at  DATETIME(6)  NOT NULL,
  INDEX idx_security_events_business (business_id, created_at)
);
CREATE TABLE IF NOT EXISTS guardrail_violations (
  id          BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
  business_id VARCHAR(128) NOT NULL,
  occurred_at DATETIME(6)  NOT NULL,
  INDEX idx_guardrail_violations_business (business_id, occurred_at)
);
CREATE TABLE IF NOT EXISTS guardrail_violation_heads (
  business_id VARCHAR(128) NOT NULL PRIMARY KEY,
  last_at     DATETIME(6)  NOT NULL
);`

// Migrate creates the guardrail tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range splitStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
