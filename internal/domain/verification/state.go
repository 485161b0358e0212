// Package verification binds a conversation to the record it is about and
// tracks whether the user has proven ownership of that record.
package verification

import (
	"errors"
	"fmt"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/domain/outcome"
)

var (
	// ErrCorruptedState marks a stored state that breaks the lifecycle
	// invariants. It propagates to the caller instead of being repaired.
	ErrCorruptedState = errors.New("verification: corrupted state")
	// ErrNoCanonicalName means the resolved record carries no owner name.
	ErrNoCanonicalName = errors.New("verification: record has no canonical name")
	// ErrInvalidAnchor means the anchor type or value is unusable.
	ErrInvalidAnchor = errors.New("verification: invalid anchor")
)

// State is owned by one session and only changed through the transition
// methods below. All methods return a new value.
type State struct {
	Status    outcome.VerificationStatus `json:"status"`
	Anchor    *Anchor                    `json:"anchor,omitempty"`
	Attempts  int                        `json:"attempts"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

// NewState is the state of a conversation that has not resolved a record.
func NewState() State {
	return State{Status: outcome.StatusNone}
}

// Validate reports ErrCorruptedState when s cannot have been produced by the
// transitions of this package.
func (s State) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrCorruptedState, s.Status)
	}
	if s.Attempts < 0 {
		return fmt.Errorf("%w: negative attempts", ErrCorruptedState)
	}
	if s.Status == outcome.StatusNone {
		if s.Anchor != nil || s.Attempts != 0 {
			return fmt.Errorf("%w: status none with anchor or attempts", ErrCorruptedState)
		}
		return nil
	}
	if s.Anchor == nil {
		return fmt.Errorf("%w: status %s without anchor", ErrCorruptedState, s.Status)
	}
	if !s.Anchor.Type.Valid() || s.Anchor.Value == "" {
		return fmt.Errorf("%w: malformed anchor", ErrCorruptedState)
	}
	return nil
}

// IsVerifiedFor reports whether s proves ownership of exactly a.
func (s State) IsVerifiedFor(a Anchor) bool {
	return s.Status == outcome.StatusVerified && s.Anchor != nil && s.Anchor.Same(a)
}

// Bind attaches a. A different anchor resets the state to pending with no
// attempts, so a prior verification never carries over to another record.
// Binding the current anchor again keeps progress.
func (s State) Bind(a Anchor, now time.Time) (next State, switched bool) {
	if s.Anchor != nil && s.Anchor.Same(a) {
		next = s
		if next.Status == outcome.StatusNone {
			next.Status = outcome.StatusPending
		}
		next.UpdatedAt = now
		return next, false
	}
	anchor := a
	return State{
		Status:    outcome.StatusPending,
		Anchor:    &anchor,
		Attempts:  0,
		UpdatedAt: now,
	}, s.Anchor != nil
}

// Verify marks the bound anchor as proven.
func (s State) Verify(now time.Time) State {
	s.Status = outcome.StatusVerified
	s.Attempts = 0
	s.UpdatedAt = now
	return s
}

// Fail records a mismatched proof.
func (s State) Fail(now time.Time) State {
	s.Status = outcome.StatusFailed
	s.Attempts++
	s.UpdatedAt = now
	return s
}

// Retry moves a failed state back to pending so the user may try again.
func (s State) Retry(now time.Time) State {
	if s.Status == outcome.StatusFailed {
		s.Status = outcome.StatusPending
		s.UpdatedAt = now
	}
	return s
}

// Locked reports whether max consecutive failures were reached.
func (s State) Locked(max int) bool {
	return max > 0 && s.Attempts >= max
}
