package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/domain/session"
)

// advisory lock classes; the second key is hashtext of the id
const (
	lockSessions   = 1
	lockViolations = 2
)

// Locker implements session.Locker with session-level advisory locks. Each
// held lock pins one *sql.Conn until unlock; give the Locker its own pool.
type Locker struct{ db *sql.DB }

func NewLocker(db *sql.DB) *Locker { return &Locker{db: db} }

func (l *Locker) Lock(ctx context.Context, sessionID string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", session.ErrLockTimeout, sessionID)
		}
		return nil, fmt.Errorf("postgres lock conn: %w", err)
	}

	// blocks until granted; a cancelled ctx cancels the wait
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1, hashtext($2))`, lockSessions, sessionID); err != nil {
		discard(conn)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", session.ErrLockTimeout, sessionID)
		}
		return nil, fmt.Errorf("postgres advisory lock: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := conn.ExecContext(rctx, `SELECT pg_advisory_unlock($1, hashtext($2))`, lockSessions, sessionID); err != nil {
				discard(conn)
				return
			}
			conn.Close()
		})
	}, nil
}

// discard ends the backend session, which drops its advisory locks, instead
// of returning the connection to the pool.
func discard(conn *sql.Conn) {
	conn.Raw(func(any) error { return driver.ErrBadConn })
	conn.Close()
}
