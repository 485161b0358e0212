// Package session serializes turns of one conversation.
package session

import (
	"context"
	"errors"
)

// ErrLockTimeout is returned when a session lock could not be acquired
// before the context ended.
var ErrLockTimeout = errors.New("session: lock timeout")

// Locker hands out one exclusive lock per session ID. The returned unlock
// func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}
