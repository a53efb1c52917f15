// Package report consumes the CycleReport produced at the end of every crawl
// cycle: it logs it, exports it to Prometheus, and keeps the latest one for
// the status server.
package report

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// Fanout forwards each report to every sink.
type Fanout []crawler.ReportSink

// Record calls every sink and joins their errors.
func (f Fanout) Record(ctx context.Context, r crawler.CycleReport) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes one structured line per cycle.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the report sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Record logs r. Degraded cycles are logged at warn level.
func (s *LogSink) Record(_ context.Context, r crawler.CycleReport) error {
	fields := []zap.Field{
		zap.String("cycle_id", r.CycleID),
		zap.String("stop_reason", string(r.StopReason)),
		zap.Bool("full_crawl", r.FullCrawl),
		zap.Int("page_budget", r.PageBudget),
		zap.Int("pages_scanned", r.PagesScanned),
		zap.Int("items_seen", r.ItemsSeen),
		zap.Int("items_new", r.ItemsNew),
		zap.Int("items_skipped", r.ItemsSkipped),
		zap.Int("items_failed", r.ItemsFailed),
		zap.Time("started_at", r.StartedAt),
		zap.Duration("duration", r.Duration()),
	}
	if r.Degraded() {
		s.logger.Warn("cycle report (degraded)", fields...)
		return nil
	}
	s.logger.Info("cycle report", fields...)
	return nil
}

// Latest keeps the most recent report.
type Latest struct {
	mu     sync.RWMutex
	report crawler.CycleReport
	cycles int
}

// NewLatest returns an empty holder.
func NewLatest() *Latest {
	return &Latest{}
}

// Record stores r as the latest report.
func (l *Latest) Record(_ context.Context, r crawler.CycleReport) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.report = r
	l.cycles++
	return nil
}

// Get returns the latest report and false when no cycle has finished yet.
func (l *Latest) Get() (crawler.CycleReport, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.report, l.cycles > 0
}

// Cycles returns how many reports were recorded.
func (l *Latest) Cycles() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cycles
}
