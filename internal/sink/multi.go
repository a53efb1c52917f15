// Package sink fans finished job records out to the configured storage sinks.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// Multi persists each record to every sink, in order. A record counts as
// stored only when every sink accepted it.
type Multi struct {
	sinks []crawler.Sink
}

// NewMulti returns a fan-out over sinks. At least one sink is required.
func NewMulti(sinks ...crawler.Sink) (*Multi, error) {
	var kept []crawler.Sink
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil, crawler.ErrNoSinks
	}
	return &Multi{sinks: kept}, nil
}

// Persist writes record to all sinks and wraps any failure in
// crawler.ErrStorage. Sinks after a failing one are still attempted so that
// their idempotent writes stay in step.
func (m *Multi) Persist(ctx context.Context, record crawler.JobRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Persist(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: persist %s: %w", crawler.ErrStorage, record.ID, errors.Join(errs...))
	}
	return nil
}

// Close closes every sink and returns the joined errors.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}
