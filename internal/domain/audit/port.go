package audit

import (
	"context"
	"errors"
	"time"
)

// Sink port (append-only penyimpanan event)
type Sink interface {
	Append(ctx context.Context, e SecurityEvent) error
}

// ViolationCounter port: append + jumlah dalam window waktu
type ViolationCounter interface {
	// Add records one violation at `at` and returns how many violations of
	// the business fall at or after since, the new one included. Add and
	// count are one atomic step: concurrent calls for a business never
	// observe the same count.
	Add(ctx context.Context, businessID string, at, since time.Time) (int, error)
	CountSince(ctx context.Context, businessID string, since time.Time) (int, error)
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, e SecurityEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
