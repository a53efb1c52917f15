// Package cycle runs one pass over the listing pages: it pages through the
// listing, filters item references through the dedup ledger, fetches new
// detail pages on a bounded worker pool, and hands finished records to the
// storage sink before marking them seen.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/job-crawler/internal/crawler"
	"github.com/JakeFAU/job-crawler/internal/ledger"
	"github.com/JakeFAU/job-crawler/internal/metrics"
	"github.com/JakeFAU/job-crawler/internal/pagination"
)

const defaultWorkers = 3

// Config controls a cycle.
type Config struct {
	// BaseURL is the first listing page; the page number is set via PageParam.
	BaseURL   string
	PageParam string
	StartPage int
	// Workers bounds concurrent detail fetches within one listing page.
	Workers    int
	MaxRetries int
	// Headers are sent with every listing and detail request.
	Headers http.Header
	// FlushEachItem flushes the ledger after every successful hand-off
	// instead of once per listing page.
	FlushEachItem bool
}

// Cycle coordinates one crawl pass. The ledger is only touched from the
// goroutine calling RunOnce; detail workers report back through a channel.
type Cycle struct {
	fetcher crawler.RetryFetcher
	parser  crawler.Parser
	ledger  *ledger.Ledger
	sink    crawler.Sink
	clock   crawler.Clock
	ids     crawler.IDGenerator
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Cycle.
func New(
	fetcher crawler.RetryFetcher,
	parser crawler.Parser,
	seen *ledger.Ledger,
	sink crawler.Sink,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) (*Cycle, error) {
	switch {
	case fetcher == nil:
		return nil, errors.New("cycle: fetcher is required")
	case parser == nil:
		return nil, errors.New("cycle: parser is required")
	case seen == nil:
		return nil, errors.New("cycle: ledger is required")
	case sink == nil:
		return nil, crawler.ErrNoSinks
	case clock == nil:
		return nil, errors.New("cycle: clock is required")
	case ids == nil:
		return nil, errors.New("cycle: id generator is required")
	case cfg.BaseURL == "":
		return nil, errors.New("cycle: base url is required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{
		fetcher: fetcher,
		parser:  parser,
		ledger:  seen,
		sink:    sink,
		clock:   clock,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

type itemStatus int

const (
	itemStored itemStatus = iota
	itemFailed
	itemInterrupted
)

type itemResult struct {
	ref      crawler.ItemReference
	status   itemStatus
	attempts int
	err      error
}

// RunOnce performs one cycle. A pageBudget of zero or less, or an empty
// ledger, scans until the listing is exhausted. The report is always
// returned; the error is non-nil only when the final ledger flush failed,
// in which case the unflushed ids stay pending in the ledger.
//
// A listing page fetched after cancellation is not counted as scanned. If
// cancellation lands while a page's references are being filtered, the page
// counts as scanned and only the references filtered so far count as seen.
func (c *Cycle) RunOnce(ctx context.Context, pageBudget int) (crawler.CycleReport, error) {
	cycleID, err := c.ids.NewID()
	if err != nil {
		return crawler.CycleReport{}, fmt.Errorf("start cycle: %w", err)
	}
	full := pageBudget <= 0 || c.ledger.Empty()
	if full {
		pageBudget = 0
	}
	report := crawler.CycleReport{
		CycleID:    cycleID,
		PageBudget: pageBudget,
		FullCrawl:  full,
		StartedAt:  c.clock.Now(),
	}
	logger := c.logger.With(zap.String("cycle_id", cycleID))
	logger.Info("cycle started", zap.Int("page_budget", pageBudget), zap.Bool("full_crawl", full))

	ctrl := pagination.New(c.cfg.StartPage, pageBudget)
	inCycle := make(map[string]struct{})
	for {
		if ctx.Err() != nil {
			ctrl.Stop()
			break
		}
		page, ok := ctrl.Next()
		if !ok {
			break
		}
		listing, err := c.fetchListing(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				ctrl.Stop()
				break
			}
			logger.Warn("listing page failed", zap.Int("page", page), zap.Error(err))
			ctrl.Fail()
			break
		}
		if ctx.Err() != nil {
			ctrl.Stop()
			break
		}
		state := ctrl.Observe(listing)
		logger.Info("listing page scanned",
			zap.Int("page", page),
			zap.Int("items", len(listing.Items)),
			zap.Bool("has_more", listing.HasMore),
			zap.Stringer("state", state),
		)
		if len(listing.Items) == 0 {
			break
		}
		c.processPage(ctx, logger, listing.Items, inCycle, &report)
		if err := c.ledger.Flush(context.WithoutCancel(ctx)); err != nil {
			logger.Error("ledger flush failed", zap.Int("page", page), zap.Error(err))
		}
	}

	report.PagesScanned = ctrl.Scanned()
	report.StopReason = ctrl.StopReason()
	flushErr := c.ledger.Flush(context.WithoutCancel(ctx))
	report.EndedAt = c.clock.Now()
	logger.Info("cycle finished",
		zap.String("stop_reason", string(report.StopReason)),
		zap.Int("pages_scanned", report.PagesScanned),
		zap.Int("items_seen", report.ItemsSeen),
		zap.Int("items_new", report.ItemsNew),
		zap.Int("items_skipped", report.ItemsSkipped),
		zap.Int("items_failed", report.ItemsFailed),
		zap.Duration("duration", report.Duration()),
	)
	if flushErr != nil {
		return report, fmt.Errorf("cycle %s: %w", cycleID, flushErr)
	}
	return report, nil
}

func (c *Cycle) fetchListing(ctx context.Context, page int) (crawler.ListingPage, error) {
	pageURL, err := pagination.PageURL(c.cfg.BaseURL, c.cfg.PageParam, page)
	if err != nil {
		return crawler.ListingPage{}, err
	}
	resp, attempts, err := c.fetcher.FetchWithRetry(ctx, c.request(pageURL), c.cfg.MaxRetries)
	metrics.ObserveAttempts(attempts)
	if err != nil {
		return crawler.ListingPage{}, err
	}
	listing, err := c.parser.ParseListing(resp.Body, page)
	if err != nil {
		return crawler.ListingPage{}, fmt.Errorf("parse listing page %d: %w", page, err)
	}
	return listing, nil
}

// processPage filters refs through the ledger in parser order, fans new
// ones out to the worker pool, and applies results as they arrive. Only
// stored items are marked seen.
func (c *Cycle) processPage(
	ctx context.Context,
	logger *zap.Logger,
	refs []crawler.ItemReference,
	inCycle map[string]struct{},
	report *crawler.CycleReport,
) {
	var fresh []crawler.ItemReference
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		report.ItemsSeen++
		if _, dup := inCycle[ref.ID]; dup || c.ledger.Contains(ref.ID) {
			report.ItemsSkipped++
			metrics.ObserveItem("skipped")
			continue
		}
		inCycle[ref.ID] = struct{}{}
		fresh = append(fresh, ref)
	}
	if len(fresh) == 0 {
		return
	}

	results := make(chan itemResult, len(fresh))
	go func() {
		var g errgroup.Group
		g.SetLimit(c.cfg.Workers)
		for _, ref := range fresh {
			g.Go(func() error {
				results <- c.processItem(ctx, ref)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for res := range results {
		switch res.status {
		case itemStored:
			c.ledger.MarkSeen(res.ref.ID)
			report.ItemsNew++
			metrics.ObserveItem("new")
			if c.cfg.FlushEachItem {
				if err := c.ledger.Flush(context.WithoutCancel(ctx)); err != nil {
					logger.Error("ledger flush failed", zap.String("item_id", res.ref.ID), zap.Error(err))
				}
			}
		case itemFailed:
			report.ItemsFailed++
			metrics.ObserveItem("failed")
			logger.Warn("item failed",
				zap.String("item_id", res.ref.ID),
				zap.String("url", res.ref.DetailURL),
				zap.Int("attempts", res.attempts),
				zap.String("kind", failureLabel(res.err)),
				zap.Error(res.err),
			)
		case itemInterrupted:
			logger.Debug("item interrupted", zap.String("item_id", res.ref.ID))
		}
	}
}

// processItem fetches, parses, and stores one item. The sink hand-off
// ignores cancellation so a fetched record still reaches storage.
func (c *Cycle) processItem(ctx context.Context, ref crawler.ItemReference) itemResult {
	if ctx.Err() != nil {
		return itemResult{ref: ref, status: itemInterrupted}
	}
	resp, attempts, err := c.fetcher.FetchWithRetry(ctx, c.request(ref.DetailURL), c.cfg.MaxRetries)
	metrics.ObserveAttempts(attempts)
	if err != nil {
		if ctx.Err() != nil {
			return itemResult{ref: ref, status: itemInterrupted, attempts: attempts}
		}
		return itemResult{ref: ref, status: itemFailed, attempts: attempts, err: err}
	}
	record, err := c.parser.ParseDetail(resp.Body, ref)
	if err != nil {
		return itemResult{ref: ref, status: itemFailed, attempts: attempts, err: err}
	}
	if record.CrawledAt.IsZero() {
		record.CrawledAt = c.clock.Now()
	}
	if err := c.sink.Persist(context.WithoutCancel(ctx), record); err != nil {
		if !errors.Is(err, crawler.ErrStorage) {
			err = fmt.Errorf("%w: %w", crawler.ErrStorage, err)
		}
		return itemResult{ref: ref, status: itemFailed, attempts: attempts, err: err}
	}
	return itemResult{ref: ref, status: itemStored, attempts: attempts}
}

func (c *Cycle) request(u string) crawler.FetchRequest {
	return crawler.FetchRequest{URL: u, Headers: c.cfg.Headers}
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, crawler.ErrStorage):
		return "storage"
	case errors.Is(err, crawler.ErrParse):
		return "parse"
	}
	if kind := crawler.KindOf(err); kind != "" {
		return string(kind)
	}
	return "unknown"
}
