// Package memory contains an in-memory sink for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// Sink stores persisted records for inspection. Re-persisting an id
// replaces the stored record but is counted in Calls.
type Sink struct {
	mu      sync.RWMutex
	records map[string]crawler.JobRecord
	order   []string
	calls   int
	failFn  func(crawler.JobRecord) error
	closed  bool
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{records: make(map[string]crawler.JobRecord)}
}

// FailWith makes Persist return fn's error for matching records.
func (s *Sink) FailWith(fn func(crawler.JobRecord) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFn = fn
}

// Persist records the job.
func (s *Sink) Persist(_ context.Context, record crawler.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failFn != nil {
		if err := s.failFn(record); err != nil {
			return err
		}
	}
	if _, ok := s.records[record.ID]; !ok {
		s.order = append(s.order, record.ID)
	}
	s.records[record.ID] = record
	return nil
}

// Close marks the sink closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Records returns stored records in first-persisted order.
func (s *Sink) Records() []crawler.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.JobRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// IDs returns stored ids in first-persisted order.
func (s *Sink) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Calls returns how many times Persist was invoked.
func (s *Sink) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
