package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
	"github.com/bryanwahyu/support-guardrail/internal/domain/verification"
)

// StateRepository implements verification.StateStore on MySQL.
type StateRepository struct {
	db *sql.DB
}

func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get returns NewState() for sessions without a row.
func (r *StateRepository) Get(ctx context.Context, sessionID string) (verification.State, error) {
	const q = `
SELECT status, anchor_type, anchor_value, anchor_name, anchor_phone_last4, anchor_ref, attempts, updated_at
FROM verification_states
WHERE session_id=? LIMIT 1;
`
	var (
		st     verification.State
		status string
		a      verification.Anchor
		at     string
	)
	err := r.db.QueryRowContext(ctx, q, sessionID).Scan(
		&status, &at, &a.Value, &a.Name, &a.PhoneLast4, &a.RecordRef, &st.Attempts, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return verification.NewState(), nil
	}
	if err != nil {
		return verification.State{}, fmt.Errorf("select verification state: %w", err)
	}
	st.Status = outcome.VerificationStatus(status)
	if at != "" {
		a.Type = verification.AnchorType(at)
		st.Anchor = &a
	}
	return st, nil
}

// Set upserts the state of one session.
func (r *StateRepository) Set(ctx context.Context, sessionID string, st verification.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	const q = `
INSERT INTO verification_states
(session_id, status, anchor_type, anchor_value, anchor_name, anchor_phone_last4, anchor_ref, attempts, updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status=VALUES(status),
 anchor_type=VALUES(anchor_type), anchor_value=VALUES(anchor_value), anchor_name=VALUES(anchor_name),
 anchor_phone_last4=VALUES(anchor_phone_last4), anchor_ref=VALUES(anchor_ref),
 attempts=VALUES(attempts), updated_at=VALUES(updated_at);
`
	var a verification.Anchor
	if st.Anchor != nil {
		a = *st.Anchor
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		sessionID, string(st.Status),
		string(a.Type), a.Value, a.Name, a.PhoneLast4, a.RecordRef,
		st.Attempts, updated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert verification state: %w", err)
	}
	return nil
}
