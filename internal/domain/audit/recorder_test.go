package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	events []SecurityEvent
	err    error
}

func (f *fakeSink) Append(_ context.Context, e SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeSink) types() []EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []EventType
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeCounter struct {
	mu sync.Mutex
	at map[string][]time.Time
}

func (f *fakeCounter) Add(_ context.Context, id string, at, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.at == nil {
		f.at = map[string][]time.Time{}
	}
	f.at[id] = append(f.at[id], at)
	return f.countLocked(id, since), nil
}

func (f *fakeCounter) CountSince(_ context.Context, id string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countLocked(id, since), nil
}

func (f *fakeCounter) countLocked(id string, since time.Time) int {
	n := 0
	for _, t := range f.at[id] {
		if !t.Before(since) {
			n++
		}
	}
	return n
}

func TestRecorderAppendsEvent(t *testing.T) {
	sink := &fakeSink{}
	r := NewRecorder(sink, nil, RecorderOptions{})
	now := time.Now()
	r.Record(NewEvent(EventPIILeakBlocked, "biz-1", "s-1", map[string]any{"reason": "secret_detected"}, now))
	r.Wait()

	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "biz-1", e.BusinessID)
	assert.Equal(t, now.UTC(), e.Timestamp)
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	r := NewRecorder(sink, &fakeCounter{}, RecorderOptions{})
	assert.NotPanics(t, func() {
		r.Record(NewEvent(EventCrossTenant, "biz-1", "", nil, time.Now()))
		r.Wait()
	})
}

func TestRecorderEscalatesOnceWhenThresholdCrossed(t *testing.T) {
	sink := &fakeSink{}
	counter := &fakeCounter{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewRecorder(sink, counter, RecorderOptions{
		Threshold: 2,
		Window:    10 * time.Minute,
		Now:       func() time.Time { return now },
	})
	for i := 0; i < 5; i++ {
		r.Record(NewEvent(EventActionClaimBlocked, "biz-1", "s-1", nil, now))
		r.Wait()
	}

	escalations := 0
	for _, ty := range sink.types() {
		if ty == EventThresholdExceeded {
			escalations++
		}
	}
	assert.Equal(t, 1, escalations)
}

// barrierSink holds every violation append until all of them arrived, so
// the counter sees the writes together.
type barrierSink struct {
	fakeSink
	pending sync.WaitGroup
	release chan struct{}
	once    sync.Once
}

func newBarrierSink(n int) *barrierSink {
	b := &barrierSink{release: make(chan struct{})}
	b.pending.Add(n)
	go func() {
		b.pending.Wait()
		close(b.release)
	}()
	return b
}

func (b *barrierSink) Append(ctx context.Context, e SecurityEvent) error {
	if e.Type.IsViolation() {
		b.pending.Done()
		<-b.release
	}
	return b.fakeSink.Append(ctx, e)
}

func TestRecorderEscalatesOnceUnderConcurrentViolations(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, seeded := range []int{0, 1, 2} {
		counter := &fakeCounter{}
		for i := 0; i < seeded; i++ {
			_, err := counter.Add(context.Background(), "biz-1", now.Add(-time.Minute), time.Time{})
			require.NoError(t, err)
		}
		const burst = 8
		sink := newBarrierSink(burst)
		r := NewRecorder(sink, counter, RecorderOptions{Threshold: 2, Window: 10 * time.Minute})
		for i := 0; i < burst; i++ {
			r.Record(NewEvent(EventPIILeakBlocked, "biz-1", "s-1", nil, now))
		}
		r.Wait()

		escalations := 0
		for _, ty := range sink.types() {
			if ty == EventThresholdExceeded {
				escalations++
			}
		}
		assert.Equal(t, 1, escalations, "seeded=%d", seeded)
	}
}

func TestRecorderIgnoresNonViolationsForCounter(t *testing.T) {
	counter := &fakeCounter{}
	r := NewRecorder(&fakeSink{}, counter, RecorderOptions{Threshold: 1})
	r.Record(NewEvent(EventIdentitySwitch, "biz-1", "s-1", nil, time.Now()))
	r.Wait()
	n, err := counter.CountSince(context.Background(), "biz-1", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := sinkFunc(func(context.Context, SecurityEvent) error {
		<-block
		return nil
	})
	r := NewRecorder(sink, nil, RecorderOptions{MaxInFlight: 1})
	start := time.Now()
	r.Record(NewEvent(EventInjectionAttempt, "biz-1", "", nil, time.Now()))
	r.Record(NewEvent(EventInjectionAttempt, "biz-1", "", nil, time.Now()))
	assert.Less(t, time.Since(start), time.Second)
	close(block)
	r.Wait()
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	ok := &fakeSink{}
	bad := &fakeSink{err: errors.New("boom")}
	err := MultiSink{ok, bad}.Append(context.Background(), NewEvent(EventCrossTenant, "b", "", nil, time.Now()))
	require.Error(t, err)
	assert.Len(t, ok.events, 1)
}

type sinkFunc func(context.Context, SecurityEvent) error

func (f sinkFunc) Append(ctx context.Context, e SecurityEvent) error { return f(ctx, e) }
