package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/support-guardrail/internal/domain/audit"
	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
	"github.com/bryanwahyu/support-guardrail/internal/domain/verification"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var stateCols = []string{"status", "anchor_type", "anchor_value", "anchor_name", "anchor_phone_last4", "anchor_ref", "attempts", "updated_at"}

func TestStateRepositoryGetMissingRow(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT status, anchor_type").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(stateCols))

	st, err := NewStateRepository(db).Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, verification.NewState(), st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStateRepositoryGet(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT status, anchor_type").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(stateCols).
			AddRow("pending", "order", "ORD-1", "Ayşe Yılmaz", "1164", "ORD-1", 1, now))

	st, err := NewStateRepository(db).Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, outcome.StatusPending, st.Status)
	require.NotNil(t, st.Anchor)
	assert.Equal(t, verification.AnchorOrder, st.Anchor.Type)
	assert.Equal(t, "Ayşe Yılmaz", st.Anchor.Name)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, now, st.UpdatedAt)
}

func TestStateRepositoryGetError(t *testing.T) {
	db, mock := newMock(t)
	boom := errors.New("conn reset")
	mock.ExpectQuery("SELECT status").WillReturnError(boom)

	_, err := NewStateRepository(db).Get(context.Background(), "s1")
	assert.ErrorIs(t, err, boom)
}

func TestStateRepositorySetUpserts(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("(?s)INSERT INTO verification_states.*ON DUPLICATE KEY UPDATE").
		WithArgs("s1", "verified", "phone", "5542601164", "Ayşe Yılmaz", "1164", "", 0, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	st := verification.State{
		Status:    outcome.StatusVerified,
		Anchor:    &verification.Anchor{Type: verification.AnchorPhone, Value: "5542601164", Name: "Ayşe Yılmaz", PhoneLast4: "1164"},
		UpdatedAt: now,
	}
	require.NoError(t, NewStateRepository(db).Set(context.Background(), "s1", st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStateRepositorySetRejectsCorruptState(t *testing.T) {
	db, mock := newMock(t)
	err := NewStateRepository(db).Set(context.Background(), "s1", verification.State{Status: outcome.StatusVerified})
	assert.ErrorIs(t, err, verification.ErrCorruptedState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryAppend(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e := audit.NewEvent(audit.EventPIILeakBlocked, "biz-1", "s1", map[string]any{"kind": "phone"}, now)
	mock.ExpectExec("INSERT INTO security_events").
		WithArgs(e.ID, "pii_leak_blocked", "biz-1", "s1", `{"kind":"phone"}`, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewEventRepository(db).Append(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepositoryAppendNullDetails(t *testing.T) {
	db, mock := newMock(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e := audit.NewEvent(audit.EventInjectionAttempt, "", "s1", nil, now)
	mock.ExpectExec("INSERT INTO security_events").
		WithArgs(e.ID, "injection_attempt", "-", "s1", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewEventRepository(db).Append(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViolationRepository(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	repo := NewViolationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO guardrail_violation_heads").
		WithArgs("biz-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO guardrail_violations").
		WithArgs("biz-1", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM guardrail_violations`).
		WithArgs("biz-1", at.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))
	mock.ExpectCommit()
	added, err := repo.Add(context.Background(), "biz-1", at, at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM guardrail_violations`).
		WithArgs("biz-1", at.Add(-time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(4))
	n, err := repo.CountSince(context.Background(), "biz-1", at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViolationRepositoryAddRollsBackOnInsertError(t *testing.T) {
	db, mock := newMock(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO guardrail_violation_heads").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO guardrail_violations").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := NewViolationRepository(db).Add(context.Background(), "biz-1", at, at.Add(-time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert violation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS verification_states").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS security_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS guardrail_violations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS guardrail_violation_heads").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViolationRepositoryPurge(t *testing.T) {
	db, mock := newMock(t)
	cutoff := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM guardrail_violations").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewViolationRepository(db).PurgeBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
