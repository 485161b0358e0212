// Package memory keeps verification state, session locks and audit data in
// process memory. It backs single-node deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bryanwahyu/support-guardrail/internal/domain/audit"
	"github.com/bryanwahyu/support-guardrail/internal/domain/session"
	"github.com/bryanwahyu/support-guardrail/internal/domain/verification"
)

// StateStore implements verification.StateStore.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]verification.State
}

func NewStateStore() *StateStore {
	return &StateStore{states: map[string]verification.State{}}
}

func (s *StateStore) Get(_ context.Context, sessionID string) (verification.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[sessionID]
	if !ok {
		return verification.NewState(), nil
	}
	if st.Anchor != nil {
		a := *st.Anchor
		st.Anchor = &a
	}
	return st, nil
}

func (s *StateStore) Set(_ context.Context, sessionID string, st verification.State) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if st.Anchor != nil {
		a := *st.Anchor
		st.Anchor = &a
	}
	s.mu.Lock()
	s.states[sessionID] = st
	s.mu.Unlock()
	return nil
}

// Locker implements session.Locker with one buffered channel per session.
// An entry lives only while someone holds or waits for it.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: map[string]*lockEntry{}}
}

func (l *Locker) Lock(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[sessionID]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID, e)
		return nil, session.ErrLockTimeout
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(sessionID, e)
		})
	}, nil
}

func (l *Locker) release(sessionID string, e *lockEntry) {
	l.mu.Lock()
	if e.refs--; e.refs == 0 {
		delete(l.locks, sessionID)
	}
	l.mu.Unlock()
}

// held reports how many sessions have an entry.
func (l *Locker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Sink implements audit.Sink and keeps every event.
type Sink struct {
	mu     sync.Mutex
	events []audit.SecurityEvent
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Append(_ context.Context, e audit.SecurityEvent) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

// Events returns a copy of the stored events.
func (s *Sink) Events() []audit.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Counter implements audit.ViolationCounter. Entries older than Retention
// are pruned on write.
type Counter struct {
	Retention time.Duration

	mu sync.Mutex
	at map[string][]time.Time
}

func NewCounter(retention time.Duration) *Counter {
	return &Counter{Retention: retention, at: map[string][]time.Time{}}
}

func (c *Counter) Add(_ context.Context, businessID string, at, since time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := append(c.at[businessID], at)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	if c.Retention > 0 {
		cut := at.Add(-c.Retention)
		i := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(cut) })
		ts = ts[i:]
	}
	c.at[businessID] = ts
	return countFrom(ts, since), nil
}

func countFrom(ts []time.Time, since time.Time) int {
	i := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(since) })
	return len(ts) - i
}

func (c *Counter) CountSince(_ context.Context, businessID string, since time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return countFrom(c.at[businessID], since), nil
}
