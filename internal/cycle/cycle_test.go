package cycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-crawler/internal/crawler"
	"github.com/JakeFAU/job-crawler/internal/ledger"
	"github.com/JakeFAU/job-crawler/internal/sink/memory"
)

const siteURL = "https://jobs.test/listing"

// fakeSite serves listing pages as comma-separated ids and detail pages as
// "detail:<id>". It records every URL requested.
type fakeSite struct {
	mu       sync.Mutex
	pages    map[int][]string
	hasMore  map[int]bool
	failures map[string]error
	bodies   map[string]string
	requests []string
	// onListing runs while a listing page is parsed.
	onListing func(page int)
	delay     time.Duration
	inFlight int
	peak     int
}

func newFakeSite(pages map[int][]string) *fakeSite {
	return &fakeSite{
		pages:    pages,
		hasMore:  map[int]bool{},
		failures: map[string]error{},
		bodies:   map[string]string{},
	}
}

func (s *fakeSite) FetchWithRetry(
	ctx context.Context,
	req crawler.FetchRequest,
	_ int,
) (crawler.FetchResponse, int, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req.URL)
	s.inFlight++
	s.peak = max(s.peak, s.inFlight)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, 1, err
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return crawler.FetchResponse{}, 1, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if fail, ok := s.failures[req.URL]; ok {
		return crawler.FetchResponse{}, 1, fail
	}
	if p := u.Query().Get("page"); p != "" {
		n, _ := strconv.Atoi(p)
		return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(strings.Join(s.pages[n], ","))}, 1, nil
	}
	id := strings.TrimPrefix(u.Path, "/job/")
	body := "detail:" + id
	if b, ok := s.bodies[id]; ok {
		body = b
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, 1, nil
}

func (s *fakeSite) requested(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.requests {
		if strings.HasPrefix(r, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func detailURL(id string) string {
	return "https://jobs.test/job/" + id
}

func listingURL(page int) string {
	return siteURL + "?page=" + strconv.Itoa(page)
}

type fakeParser struct {
	site *fakeSite
}

func (p fakeParser) ParseListing(content []byte, page int) (crawler.ListingPage, error) {
	if p.site != nil && p.site.onListing != nil {
		p.site.onListing(page)
	}
	if len(content) == 0 {
		return crawler.ListingPage{}, nil
	}
	var items []crawler.ItemReference
	for _, id := range strings.Split(string(content), ",") {
		items = append(items, crawler.ItemReference{ID: id, DetailURL: detailURL(id)})
	}
	hasMore := true
	if v, ok := p.site.hasMore[page]; ok {
		hasMore = v
	}
	return crawler.ListingPage{Items: items, HasMore: hasMore}, nil
}

func (fakeParser) ParseDetail(content []byte, ref crawler.ItemReference) (crawler.JobRecord, error) {
	if !strings.HasPrefix(string(content), "detail:") {
		return crawler.JobRecord{}, fmt.Errorf("%w: unexpected detail body", crawler.ErrParse)
	}
	return crawler.JobRecord{ID: ref.ID, Title: string(content), URL: ref.DetailURL}, nil
}

type memStore struct {
	mu       sync.Mutex
	ids      []string
	persists int
	failNext int
}

func (s *memStore) Load(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...), nil
}

func (s *memStore) Persist(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("ledger store unavailable")
	}
	s.persists++
	s.ids = append(s.ids, ids...)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) stored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "cycle-" + strconv.Itoa(g.n), nil
}

type harness struct {
	site   *fakeSite
	store  *memStore
	ledger *ledger.Ledger
	sink   *memory.Sink
	cycle  *Cycle
}

func newHarness(t *testing.T, site *fakeSite, cfg Config, preseeded ...string) *harness {
	t.Helper()

	store := &memStore{ids: preseeded}
	seen := ledger.New(store)
	require.NoError(t, seen.Load(context.Background()))
	sink := memory.New()
	if cfg.BaseURL == "" {
		cfg.BaseURL = siteURL
	}
	clock := fixedClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	c, err := New(site, fakeParser{site: site}, seen, sink, clock, &seqIDs{}, cfg, nil)
	require.NoError(t, err)
	return &harness{site: site, store: store, ledger: seen, sink: sink, cycle: c}
}

func tenItemSite() *fakeSite {
	return newFakeSite(map[int][]string{
		1: {"a1", "a2", "a3", "a4", "a5"},
		2: {"b1", "b2", "b3", "b4", "b5"},
	})
}

var tenIDs = []string{"a1", "a2", "a3", "a4", "a5", "b1", "b2", "b3", "b4", "b5"}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	site := tenItemSite()
	seen := ledger.New(&memStore{})
	clock := fixedClock{}
	ids := &seqIDs{}
	cfg := Config{BaseURL: siteURL}

	_, err := New(nil, fakeParser{}, seen, memory.New(), clock, ids, cfg, nil)
	require.Error(t, err)
	_, err = New(site, nil, seen, memory.New(), clock, ids, cfg, nil)
	require.Error(t, err)
	_, err = New(site, fakeParser{}, nil, memory.New(), clock, ids, cfg, nil)
	require.Error(t, err)
	_, err = New(site, fakeParser{}, seen, nil, clock, ids, cfg, nil)
	require.ErrorIs(t, err, crawler.ErrNoSinks)
	_, err = New(site, fakeParser{}, seen, memory.New(), clock, ids, Config{}, nil)
	require.Error(t, err)

	c, err := New(site, fakeParser{}, seen, memory.New(), clock, ids, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, defaultWorkers, c.cfg.Workers)
}

func TestRunOnceTwoPagesAllNew(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tenItemSite(), Config{Workers: 3})
	report, err := h.cycle.RunOnce(context.Background(), 2)
	require.NoError(t, err)

	require.Equal(t, 2, report.PagesScanned)
	require.Equal(t, 10, report.ItemsSeen)
	require.Equal(t, 10, report.ItemsNew)
	require.Equal(t, 0, report.ItemsFailed)
	require.Equal(t, "cycle-1", report.CycleID)
	require.True(t, report.FullCrawl, "empty ledger forces a full crawl")
	require.Equal(t, crawler.StopExhausted, report.StopReason)
	require.False(t, report.Degraded())

	require.ElementsMatch(t, tenIDs, h.store.stored())
	require.ElementsMatch(t, tenIDs, h.sink.IDs())
	require.Equal(t, 10, h.ledger.Len())
	require.Equal(t, 0, h.ledger.Pending())
	for _, r := range h.sink.Records() {
		require.False(t, r.CrawledAt.IsZero())
	}
	require.Equal(t, []string{listingURL(1), listingURL(2), listingURL(3)}, h.site.requested(siteURL))
}

func TestRunOnceClientErrorItemIsRetriedNextCycle(t *testing.T) {
	t.Parallel()

	site := tenItemSite()
	site.failures[detailURL("a3")] = &crawler.FetchError{
		Kind:       crawler.FailureClientError,
		StatusCode: 404,
		URL:        detailURL("a3"),
	}
	h := newHarness(t, site, Config{Workers: 2})

	report, err := h.cycle.RunOnce(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 10, report.ItemsSeen)
	require.Equal(t, 9, report.ItemsNew)
	require.Equal(t, 1, report.ItemsFailed)
	require.True(t, report.Degraded())
	require.False(t, h.ledger.Contains("a3"))
	require.NotContains(t, h.sink.IDs(), "a3")
	require.NotContains(t, h.store.stored(), "a3")

	site.mu.Lock()
	delete(site.failures, detailURL("a3"))
	site.mu.Unlock()

	report, err = h.cycle.RunOnce(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 1, report.ItemsNew)
	require.Equal(t, 9, report.ItemsSkipped)
	require.True(t, h.ledger.Contains("a3"))
}

func TestRunOnceIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tenItemSite(), Config{})
	_, err := h.cycle.RunOnce(context.Background(), 2)
	require.NoError(t, err)

	report, err := h.cycle.RunOnce(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 0, report.ItemsNew)
	require.Equal(t, 10, report.ItemsSkipped)
	require.Equal(t, 10, report.ItemsSeen)
	require.False(t, report.FullCrawl)
	require.Equal(t, crawler.StopBudgetReached, report.StopReason)
	require.Equal(t, 10, h.sink.Calls(), "no record is persisted twice")
}

func TestRunOnceBudgetStopsBeforeLaterPages(t *testing.T) {
	t.Parallel()

	site := newFakeSite(map[int][]string{
		1: {"p1"}, 2: {"p2"}, 3: {"p3"}, 4: {"p4"},
	})
	h := newHarness(t, site, Config{}, "old")

	report, err := h.cycle.RunOnce(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, report.PagesScanned)
	require.Equal(t, 2, report.PageBudget)
	require.Equal(t, crawler.StopBudgetReached, report.StopReason)
	require.Equal(t, []string{listingURL(1), listingURL(2)}, site.requested(siteURL))
}

func TestRunOnceZeroBudgetIsFullCrawl(t *testing.T) {
	t.Parallel()

	site := newFakeSite(map[int][]string{1: {"p1"}, 2: {"p2"}, 3: {"p3"}})
	h := newHarness(t, site, Config{}, "old")

	report, err := h.cycle.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, report.FullCrawl)
	require.Equal(t, 3, report.PagesScanned)
	require.Equal(t, crawler.StopExhausted, report.StopReason)
}

func TestRunOnceHasMoreFalseEndsPagination(t *testing.T) {
	t.Parallel()

	site := newFakeSite(map[int][]string{1: {"p1"}, 2: {"p2"}, 3: {"p3"}})
	site.hasMore[2] = false
	h := newHarness(t, site, Config{})

	report, err := h.cycle.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, report.PagesScanned)
	require.Equal(t, crawler.StopExhausted, report.StopReason)
	require.Equal(t, []string{listingURL(1), listingURL(2)}, site.requested(siteURL))
}

func TestRunOnceStorageErrorLeavesItemUnseen(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tenItemSite(), Config{})
	h.sink.FailWith(func(r crawler.JobRecord) error {
		if r.ID == "b2" {
			return errors.New("disk full")
		}
		return nil
	})

	report, err := h.cycle.RunOnce(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 9, report.ItemsNew)
	require.Equal(t, 1, report.ItemsFailed)
	require.False(t, h.ledger.Contains("b2"))
	require.NotContains(t, h.store.stored(), "b2")
}

func TestRunOnceParseErrorCountsAsFailure(t *testing.T) {
	t.Parallel()

	site := tenItemSite()
	site.bodies["a1"] = "<html>captcha</html>"
	h := newHarness(t, site, Config{})

	report, err := h.cycle.RunOnce(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 1, report.ItemsFailed)
	require.False(t, h.ledger.Contains("a1"))
}

func TestRunOnceListingFailureStopsPagination(t *testing.T) {
	t.Parallel()

	site := tenItemSite()
	site.failures[listingURL(2)] = fmt.Errorf("%w after 4 attempts: %w", crawler.ErrRetriesExhausted,
		&crawler.FetchError{Kind: crawler.FailureServerBusy, StatusCode: 503, URL: listingURL(2)})
	h := newHarness(t, site, Config{})

	report, err := h.cycle.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, crawler.StopListingFailed, report.StopReason)
	require.Equal(t, 1, report.PagesScanned)
	require.Equal(t, 5, report.ItemsNew)
	require.True(t, report.Degraded())
}

func TestRunOnceDedupesWithinCycle(t *testing.T) {
	t.Parallel()

	site := newFakeSite(map[int][]string{1: {"x", "y"}, 2: {"y", "z"}})
	h := newHarness(t, site, Config{})

	report, err := h.cycle.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 4, report.ItemsSeen)
	require.Equal(t, 3, report.ItemsNew)
	require.Equal(t, 1, report.ItemsSkipped)
	require.Len(t, site.requested(detailURL("y")), 1)
}

func TestRunOnceBoundsDetailConcurrency(t *testing.T) {
	t.Parallel()

	site := newFakeSite(map[int][]string{1: {"a", "b", "c", "d", "e", "f"}})
	site.delay = 20 * time.Millisecond
	h := newHarness(t, site, Config{Workers: 2})

	report, err := h.cycle.RunOnce(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 6, report.ItemsNew)
	require.LessOrEqual(t, site.peak, 2)
}

func TestRunOnceFlushEachItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tenItemSite(), Config{FlushEachItem: true})
	_, err := h.cycle.RunOnce(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 10, h.store.persists)
}

func TestRunOnceCanceledBeforeStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tenItemSite(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.cycle.RunOnce(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, crawler.StopInterrupted, report.StopReason)
	require.Equal(t, 0, report.PagesScanned)
	require.Empty(t, h.site.requested(""))
}

func TestRunOnceCancelMidPageReachesSafePoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tenItemSite(), Config{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.sink.FailWith(func(crawler.JobRecord) error {
		cancel()
		return nil
	})

	report, err := h.cycle.RunOnce(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, crawler.StopInterrupted, report.StopReason)
	require.Equal(t, 1, report.ItemsNew)
	require.Equal(t, 0, report.ItemsFailed)
	require.Equal(t, []string{"a1"}, h.store.stored(), "the stored item is flushed")
	require.NotContains(t, h.site.requested(siteURL), listingURL(2))
}

func TestRunOnceLedgerFlushFailureKeepsIDsPending(t *testing.T) {
	t.Parallel()

	site := newFakeSite(map[int][]string{1: {"a1", "a2", "a3", "a4", "a5"}})
	site.hasMore[1] = false
	h := newHarness(t, site, Config{PageParam: "page"})
	// Fail the page flush and the final flush of the first cycle.
	h.store.failNext = 2

	report, err := h.cycle.RunOnce(context.Background(), 0)
	require.Error(t, err)
	require.ErrorContains(t, err, "ledger store unavailable")
	require.Equal(t, 5, report.ItemsNew)
	require.Equal(t, crawler.StopExhausted, report.StopReason)
	require.Empty(t, h.store.stored())
	require.Equal(t, 5, h.ledger.Pending())
	require.True(t, h.ledger.Contains("a3"))

	report, err = h.cycle.RunOnce(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, report.ItemsNew)
	require.Equal(t, 5, report.ItemsSkipped)
	require.Zero(t, h.ledger.Pending())
	require.ElementsMatch(t, []string{"a1", "a2", "a3", "a4", "a5"}, h.store.stored())
	require.Equal(t, 5, h.sink.Calls())
}

func TestRunOnceCancelAfterListingFetchDoesNotCountPage(t *testing.T) {
	t.Parallel()

	site := tenItemSite()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	site.onListing = func(page int) {
		if page == 2 {
			cancel()
		}
	}
	h := newHarness(t, site, Config{PageParam: "page"})

	report, err := h.cycle.RunOnce(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, crawler.StopInterrupted, report.StopReason)
	require.Equal(t, 1, report.PagesScanned)
	require.Equal(t, 5, report.ItemsSeen)
	require.Equal(t, 5, report.ItemsNew)
	require.Empty(t, site.requested(detailURL("b")))
	require.ElementsMatch(t, []string{"a1", "a2", "a3", "a4", "a5"}, h.store.stored())
}
