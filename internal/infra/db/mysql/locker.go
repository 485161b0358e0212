package mysql

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/domain/session"
)

// Locker implements session.Locker with GET_LOCK. Named locks belong to the
// connection that took them, so each held lock pins one *sql.Conn until
// unlock; give the Locker its own pool.
type Locker struct {
	db   *sql.DB
	wait time.Duration
}

// NewLocker waits up to wait for a lock when the context has no deadline.
func NewLocker(db *sql.DB, wait time.Duration) *Locker {
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &Locker{db: db, wait: wait}
}

func (l *Locker) Lock(ctx context.Context, sessionID string) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", session.ErrLockTimeout, sessionID)
		}
		return nil, fmt.Errorf("mysql lock conn: %w", err)
	}

	name := lockName(sessionID)
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, name, l.waitSeconds(ctx)).Scan(&got); err != nil {
		discard(conn)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", session.ErrLockTimeout, sessionID)
		}
		return nil, fmt.Errorf("mysql get_lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", session.ErrLockTimeout, sessionID)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := conn.ExecContext(rctx, `DO RELEASE_LOCK(?)`, name); err != nil {
				// closing the session drops every lock it holds
				discard(conn)
				return
			}
			conn.Close()
		})
	}, nil
}

// waitSeconds is the GET_LOCK timeout: the time left on ctx, rounded up.
func (l *Locker) waitSeconds(ctx context.Context) int {
	d := l.wait
	if dl, ok := ctx.Deadline(); ok {
		d = time.Until(dl)
	}
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// lockName keeps names under the 64 character GET_LOCK limit.
func lockName(sessionID string) string {
	sum := sha1.Sum([]byte(sessionID))
	return "guardrail:" + hex.EncodeToString(sum[:])
}

// discard closes the underlying session instead of returning it to the pool.
func discard(conn *sql.Conn) {
	conn.Raw(func(any) error { return driver.ErrBadConn })
	conn.Close()
}
