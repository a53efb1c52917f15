package pagination

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// site serves pages 1..n with items and every later page empty.
type site struct {
	pages     int
	requested []int
	hasMore   func(page int) bool
}

func (s *site) listing(page int) crawler.ListingPage {
	s.requested = append(s.requested, page)
	if page > s.pages {
		return crawler.ListingPage{}
	}
	more := true
	if s.hasMore != nil {
		more = s.hasMore(page)
	}
	return crawler.ListingPage{
		Items:   []crawler.ItemReference{{ID: fmt.Sprint(page), DetailURL: fmt.Sprintf("https://example.com/%d.html", page)}},
		HasMore: more,
	}
}

func drive(c *Controller, s *site) {
	for {
		page, ok := c.Next()
		if !ok {
			return
		}
		c.Observe(s.listing(page))
	}
}

func TestExhaustedAfterNPages(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 3, 7} {
		s := &site{pages: n}
		c := New(1, 0)
		drive(c, s)

		require.Equal(t, Exhausted, c.State())
		require.Equal(t, n, c.Scanned())
		require.Equal(t, n+1, s.requested[len(s.requested)-1])
		require.NotContains(t, s.requested, n+2)
		require.Equal(t, crawler.StopExhausted, c.StopReason())
		require.False(t, c.Cursor().HasMore)
	}
}

func TestBudgetReached(t *testing.T) {
	t.Parallel()

	s := &site{pages: 10}
	c := New(1, 3)
	drive(c, s)

	require.Equal(t, BudgetReached, c.State())
	require.Equal(t, 3, c.Scanned())
	require.Equal(t, []int{1, 2, 3}, s.requested)
	require.Equal(t, crawler.StopBudgetReached, c.StopReason())
	require.Equal(t, 3, c.Budget())
}

func TestBudgetEqualToPagesStillReportsBudget(t *testing.T) {
	t.Parallel()

	s := &site{pages: 2}
	c := New(1, 2)
	drive(c, s)
	require.Equal(t, BudgetReached, c.State())
	require.Equal(t, []int{1, 2}, s.requested)
}

func TestHasMoreFalseEndsWithoutRequestingNextPage(t *testing.T) {
	t.Parallel()

	s := &site{pages: 10, hasMore: func(page int) bool { return page < 4 }}
	c := New(1, 0)
	drive(c, s)

	require.Equal(t, Exhausted, c.State())
	require.Equal(t, 4, c.Scanned())
	require.Equal(t, []int{1, 2, 3, 4}, s.requested)
}

func TestUnlimitedBudget(t *testing.T) {
	t.Parallel()

	s := &site{pages: 50}
	c := New(1, -5)
	drive(c, s)
	require.Equal(t, 0, c.Budget())
	require.Equal(t, 50, c.Scanned())
	require.Equal(t, Exhausted, c.State())
}

func TestFailAndTerminalStates(t *testing.T) {
	t.Parallel()

	c := New(0, 0)
	page, ok := c.Next()
	require.True(t, ok)
	require.Equal(t, 1, page)

	c.Fail()
	require.Equal(t, Failed, c.State())
	require.Equal(t, crawler.StopListingFailed, c.StopReason())
	_, ok = c.Next()
	require.False(t, ok)

	// Terminal states ignore further input.
	require.Equal(t, Failed, c.Observe(crawler.ListingPage{Items: []crawler.ItemReference{{ID: "x"}}}))
	require.Equal(t, 0, c.Scanned())
}

func TestInterruptedReason(t *testing.T) {
	t.Parallel()

	c := New(1, 0)
	c.Stop()
	require.Equal(t, Scanning, c.State())
	require.Equal(t, crawler.StopInterrupted, c.StopReason())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "scanning", Scanning.String())
	require.Equal(t, "exhausted", Exhausted.String())
	require.Equal(t, "budget_reached", BudgetReached.String())
	require.Equal(t, "failed", Failed.String())
	require.Equal(t, "unknown", State(42).String())
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	got, err := PageURL("https://www.topcv.vn/viec-lam-it", "page", 3)
	require.NoError(t, err)
	require.Equal(t, "https://www.topcv.vn/viec-lam-it?page=3", got)

	got, err = PageURL("https://example.com/jobs?sort=new&page=1", "", 2)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/jobs?page=2&sort=new", got)

	_, err = PageURL("://bad", "page", 1)
	require.Error(t, err)
}
