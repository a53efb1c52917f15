// Package ledger implements the dedup ledger: the persisted set of item ids
// the crawler has already handed to storage.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/job-crawler/internal/crawler"
	"github.com/JakeFAU/job-crawler/internal/metrics"
)

// Ledger tracks seen ids in memory and records newly marked ids as pending
// until the next successful Flush. Membership is monotonic: nothing is ever
// removed.
type Ledger struct {
	store crawler.LedgerStore

	mu      sync.RWMutex
	seen    map[string]struct{}
	pending []string
}

// New returns an empty ledger backed by store.
func New(store crawler.LedgerStore) *Ledger {
	return &Ledger{store: store, seen: make(map[string]struct{})}
}

// Load merges the backing store's ids into memory. A missing or empty store
// leaves the ledger empty; a corrupted store returns an error wrapping
// crawler.ErrLedgerCorrupted.
func (l *Ledger) Load(ctx context.Context) error {
	ids, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	l.mu.Lock()
	for _, id := range ids {
		if id != "" {
			l.seen[id] = struct{}{}
		}
	}
	size := len(l.seen)
	l.mu.Unlock()
	metrics.SetLedgerSize(size)
	return nil
}

// Contains reports whether id has been marked seen.
func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[id]
	return ok
}

// MarkSeen records id. Marking an id twice has no further effect.
func (l *Ledger) MarkSeen(id string) {
	if id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return
	}
	l.seen[id] = struct{}{}
	l.pending = append(l.pending, id)
}

// Flush persists ids marked since the last successful flush. On failure the
// ids stay pending and are retried by the next Flush.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := l.store.Persist(ctx, batch); err != nil {
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		l.mu.Unlock()
		return fmt.Errorf("flush ledger: %w", err)
	}
	metrics.SetLedgerSize(l.Len())
	return nil
}

// Len returns the number of seen ids.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}

// Empty reports whether nothing has been seen yet. The crawl cycle treats an
// empty ledger as a first run and scans every page.
func (l *Ledger) Empty() bool {
	return l.Len() == 0
}

// Pending returns the number of ids not yet flushed.
func (l *Ledger) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Close releases the backing store.
func (l *Ledger) Close() error {
	if err := l.store.Close(); err != nil {
		return fmt.Errorf("close ledger store: %w", err)
	}
	return nil
}
