package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/domain/audit"
)

// EventRepository implements audit.Sink. Rows are insert-only.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, e audit.SecurityEvent) error {
	const q = `
INSERT INTO security_events (id, type, business_id, session_id, details, created_at)
VALUES (?,?,?,?,?,?);
`
	details, err := detailsJSON(e.Details)
	if err != nil {
		return fmt.Errorf("encode event details: %w", err)
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, q, e.ID, string(e.Type), stringOrDash(e.BusinessID), e.SessionID, details, ts)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// ViolationRepository implements audit.ViolationCounter.
type ViolationRepository struct {
	db *sql.DB
}

func NewViolationRepository(db *sql.DB) *ViolationRepository {
	return &ViolationRepository{db: db}
}

// Add inserts the violation and counts the window in one transaction. The
// upsert on guardrail_violation_heads row-locks the business until commit,
// so concurrent writers on any replica get distinct counts.
func (r *ViolationRepository) Add(ctx context.Context, businessID string, at, since time.Time) (n int, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin violation tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	const lockQ = `
INSERT INTO guardrail_violation_heads (business_id, last_at) VALUES (?,?)
ON DUPLICATE KEY UPDATE last_at = VALUES(last_at);
`
	if _, err = tx.ExecContext(ctx, lockQ, businessID, at.UTC()); err != nil {
		return 0, fmt.Errorf("lock violation head: %w", err)
	}
	const insQ = `INSERT INTO guardrail_violations (business_id, occurred_at) VALUES (?,?);`
	if _, err = tx.ExecContext(ctx, insQ, businessID, at.UTC()); err != nil {
		return 0, fmt.Errorf("insert violation: %w", err)
	}
	const countQ = `
SELECT COUNT(*) FROM guardrail_violations
WHERE business_id=? AND occurred_at >= ?;
`
	if err = tx.QueryRowContext(ctx, countQ, businessID, since.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit violation tx: %w", err)
	}
	return n, nil
}

// CountSince counts violations of a business at or after since.
func (r *ViolationRepository) CountSince(ctx context.Context, businessID string, since time.Time) (int, error) {
	const q = `
SELECT COUNT(*) FROM guardrail_violations
WHERE business_id=? AND occurred_at >= ?;
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, businessID, since.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return n, nil
}

// PurgeBefore drops counter rows older than cutoff. Security events are
// never deleted here.
func (r *ViolationRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM guardrail_violations WHERE occurred_at < ?;`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge violations: %w", err)
	}
	return res.RowsAffected()
}
