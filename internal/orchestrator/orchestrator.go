// Package orchestrator drives crawl cycles in one-shot or continuous mode and
// owns the shutdown contract: once ctx is canceled no new cycle starts, and
// the running cycle stops at its next page or item boundary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// Runner runs a single crawl cycle.
type Runner interface {
	RunOnce(ctx context.Context, pageBudget int) (crawler.CycleReport, error)
}

// Config selects the run mode.
type Config struct {
	// PagesToScan is the page budget of an incremental cycle.
	PagesToScan int
	// SleepInterval separates the end of one cycle from the start of the next.
	SleepInterval time.Duration
	// MaxRuntime stops new cycles from starting once exceeded. Zero means unbounded.
	MaxRuntime time.Duration
	// Once runs exactly one cycle.
	Once bool
	// Full forces an unlimited page budget on every cycle.
	Full bool
}

// Orchestrator runs cycles according to Config.
type Orchestrator struct {
	runner  Runner
	reports crawler.ReportSink
	clock   crawler.Clock
	cfg     Config
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error
}

// New constructs an Orchestrator. reports may be nil.
func New(runner Runner, reports crawler.ReportSink, clock crawler.Clock, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if runner == nil {
		return nil, errors.New("orchestrator: runner is required")
	}
	if clock == nil {
		return nil, errors.New("orchestrator: clock is required")
	}
	if cfg.SleepInterval < 0 || cfg.MaxRuntime < 0 {
		return nil, errors.New("orchestrator: intervals must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		runner:  runner,
		reports: reports,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
	}, nil
}

// Run blocks until the mode completes, the runtime budget is spent, or ctx
// is canceled, and returns the number of cycles run. Cancellation is a
// clean exit and returns nil. In Once mode a
// failed final ledger flush is returned; in continuous mode it is logged and
// the unflushed ids are retried by the next cycle.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	start := o.clock.Now()
	budget := o.cfg.PagesToScan
	if o.cfg.Full {
		budget = 0
	}

	cycles := 0
	for {
		if ctx.Err() != nil {
			o.logger.Info("shutdown requested, not starting a new cycle", zap.Int("cycles", cycles))
			return cycles, nil
		}
		if o.budgetSpent(start, cycles) {
			return cycles, nil
		}

		report, err := o.runner.RunOnce(ctx, budget)
		cycles++
		if report.CycleID != "" && o.reports != nil {
			if rerr := o.reports.Record(context.WithoutCancel(ctx), report); rerr != nil {
				o.logger.Warn("record cycle report", zap.String("cycle_id", report.CycleID), zap.Error(rerr))
			}
		}
		if err != nil {
			if o.cfg.Once {
				return cycles, fmt.Errorf("run cycle: %w", err)
			}
			o.logger.Error("cycle ended with error", zap.String("cycle_id", report.CycleID), zap.Error(err))
		}

		if o.cfg.Once || o.budgetSpent(start, cycles) {
			return cycles, nil
		}
		o.logger.Info("sleeping until next cycle", zap.Duration("sleep_interval", o.cfg.SleepInterval))
		if err := o.sleep(ctx, o.cfg.SleepInterval); err != nil {
			o.logger.Info("shutdown requested during sleep", zap.Int("cycles", cycles))
			return cycles, nil
		}
	}
}

// budgetSpent reports whether the runtime budget has run out. It is checked
// before each cycle and again before sleeping, so a spent budget never waits
// out a sleep interval.
func (o *Orchestrator) budgetSpent(start time.Time, cycles int) bool {
	if o.cfg.MaxRuntime <= 0 || o.clock.Now().Sub(start) < o.cfg.MaxRuntime {
		return false
	}
	o.logger.Info("runtime budget spent", zap.Duration("max_runtime", o.cfg.MaxRuntime), zap.Int("cycles", cycles))
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
