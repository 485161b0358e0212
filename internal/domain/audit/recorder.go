package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecorderOptions tunes a Recorder. Zero values fall back to defaults.
type RecorderOptions struct {
	Timeout   time.Duration
	Window    time.Duration
	Threshold int
	// MaxInFlight bounds pending writes; events beyond it are dropped.
	MaxInFlight int
	Logger      *slog.Logger
	// Now is used for events without a timestamp.
	Now func() time.Time
}

// Recorder writes events in the background. Record never blocks the caller
// and write failures are only logged.
type Recorder struct {
	sink    Sink
	counter ViolationCounter
	opts    RecorderOptions
	slots   chan struct{}
	wg      sync.WaitGroup
}

// NewRecorder builds a recorder. counter may be nil, which disables
// escalation.
func NewRecorder(sink Sink, counter ViolationCounter, opts RecorderOptions) *Recorder {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{sink: sink, counter: counter, opts: opts, slots: make(chan struct{}, opts.MaxInFlight)}
}

// Record stores e asynchronously.
func (r *Recorder) Record(e SecurityEvent) {
	if r == nil || r.sink == nil {
		return
	}
	select {
	case r.slots <- struct{}{}:
	default:
		r.opts.Logger.Warn("audit queue full, event dropped", "type", e.Type, "business_id", e.BusinessID)
		return
	}
	r.wg.Add(1)
	go func() {
		defer func() {
			<-r.slots
			r.wg.Done()
		}()
		r.write(e)
	}()
}

// Wait blocks until all in-flight writes finish.
func (r *Recorder) Wait() {
	if r != nil {
		r.wg.Wait()
	}
}

func (r *Recorder) write(e SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	defer cancel()

	if err := r.sink.Append(ctx, e); err != nil {
		r.opts.Logger.Warn("audit append failed", "type", e.Type, "business_id", e.BusinessID, "error", err)
	}
	if r.counter == nil || !e.Type.IsViolation() || e.BusinessID == "" {
		return
	}
	now := e.Timestamp
	if now.IsZero() {
		now = r.opts.Now()
	}
	n, err := r.counter.Add(ctx, e.BusinessID, now, now.Add(-r.opts.Window))
	if err != nil {
		r.opts.Logger.Warn("violation counter add failed", "business_id", e.BusinessID, "error", err)
		return
	}
	// counts are handed out one per Add, so exactly one event sees the
	// crossing from Threshold to Threshold+1
	if r.opts.Threshold <= 0 || n-1 > r.opts.Threshold || n <= r.opts.Threshold {
		return
	}
	r.opts.Logger.Warn("violation threshold exceeded",
		"business_id", e.BusinessID,
		"count", n,
		"window", r.opts.Window.String(),
	)
	esc := NewEvent(EventThresholdExceeded, e.BusinessID, e.SessionID, map[string]any{
		"count":     n,
		"threshold": r.opts.Threshold,
		"window":    r.opts.Window.String(),
		"last_type": string(e.Type),
	}, now)
	if err := r.sink.Append(ctx, esc); err != nil {
		r.opts.Logger.Warn("audit append failed", "type", esc.Type, "business_id", e.BusinessID, "error", err)
	}
}
