package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
	"github.com/bryanwahyu/support-guardrail/internal/domain/verification"
)

type StateRepository struct{ db *sql.DB }

func NewStateRepository(db *sql.DB) *StateRepository { return &StateRepository{db: db} }

// Get returns NewState() for sessions without a row.
func (r *StateRepository) Get(ctx context.Context, sessionID string) (verification.State, error) {
	const q = `
SELECT status, anchor_type, anchor_value, anchor_name, anchor_phone_last4, anchor_ref, attempts, updated_at
FROM verification_states
WHERE session_id = $1
`
	var (
		st     verification.State
		status string
		at     string
		a      verification.Anchor
	)
	err := r.db.QueryRowContext(ctx, q, sessionID).Scan(
		&status, &at, &a.Value, &a.Name, &a.PhoneLast4, &a.RecordRef, &st.Attempts, &st.UpdatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return verification.NewState(), nil
	case err != nil:
		return verification.State{}, fmt.Errorf("select verification state: %w", err)
	}
	st.Status = outcome.VerificationStatus(status)
	if at != "" {
		a.Type = verification.AnchorType(at)
		st.Anchor = &a
	}
	return st, nil
}

// Set upsert state per session
func (r *StateRepository) Set(ctx context.Context, sessionID string, st verification.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	const q = `
INSERT INTO verification_states
(session_id, status, anchor_type, anchor_value, anchor_name, anchor_phone_last4, anchor_ref, attempts, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (session_id) DO UPDATE SET
 status = EXCLUDED.status,
 anchor_type = EXCLUDED.anchor_type,
 anchor_value = EXCLUDED.anchor_value,
 anchor_name = EXCLUDED.anchor_name,
 anchor_phone_last4 = EXCLUDED.anchor_phone_last4,
 anchor_ref = EXCLUDED.anchor_ref,
 attempts = EXCLUDED.attempts,
 updated_at = EXCLUDED.updated_at
`
	var a verification.Anchor
	if st.Anchor != nil {
		a = *st.Anchor
	}
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if _, err := r.db.ExecContext(ctx, q,
		sessionID, string(st.Status),
		string(a.Type), a.Value, a.Name, a.PhoneLast4, a.RecordRef,
		st.Attempts, updated.UTC(),
	); err != nil {
		return fmt.Errorf("upsert verification state: %w", err)
	}
	return nil
}
