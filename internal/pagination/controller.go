// Package pagination drives the sequence of listing pages fetched in one
// crawl cycle and decides when that sequence ends.
package pagination

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// State is the controller's position in its state machine.
type State int

// Controller states. Every state except Scanning is terminal.
const (
	Scanning State = iota
	Exhausted
	BudgetReached
	Failed
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Exhausted:
		return "exhausted"
	case BudgetReached:
		return "budget_reached"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Cursor is the listing position the controller owns.
type Cursor struct {
	Page    int
	HasMore bool
}

// Controller walks listing pages from a start page until the listing runs
// dry or the page budget is spent. It is not safe for concurrent use; the
// crawl cycle's coordinator is its only caller.
type Controller struct {
	budget  int
	cursor  Cursor
	scanned int
	state   State
}

// New returns a controller positioned at startPage. A budget of zero or less
// means unlimited (a full crawl).
func New(startPage, budget int) *Controller {
	if startPage < 1 {
		startPage = 1
	}
	if budget < 0 {
		budget = 0
	}
	return &Controller{
		budget: budget,
		cursor: Cursor{Page: startPage, HasMore: true},
		state:  Scanning,
	}
}

// Next returns the page to fetch, or false once the controller is terminal.
func (c *Controller) Next() (int, bool) {
	if c.state != Scanning {
		return 0, false
	}
	return c.cursor.Page, true
}

// Observe feeds the parsed listing for the current page and advances the
// state machine. It returns the resulting state.
func (c *Controller) Observe(listing crawler.ListingPage) State {
	if c.state != Scanning {
		return c.state
	}
	if len(listing.Items) == 0 {
		c.cursor.HasMore = false
		c.state = Exhausted
		return c.state
	}

	c.scanned++
	switch {
	case c.budget > 0 && c.scanned >= c.budget:
		c.state = BudgetReached
	case !listing.HasMore:
		c.cursor.HasMore = false
		c.state = Exhausted
	default:
		c.cursor.Page++
	}
	return c.state
}

// Fail ends pagination after the current page could not be fetched or parsed.
func (c *Controller) Fail() {
	if c.state == Scanning {
		c.state = Failed
	}
}

// Stop ends pagination because the cycle was interrupted. The state stays
// Scanning so the report can tell it apart from a natural end.
func (c *Controller) Stop() {
	c.cursor.HasMore = false
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Cursor returns a copy of the current cursor.
func (c *Controller) Cursor() Cursor {
	return c.cursor
}

// Scanned returns the number of pages that yielded items.
func (c *Controller) Scanned() int {
	return c.scanned
}

// Budget returns the page budget, zero meaning unlimited.
func (c *Controller) Budget() int {
	return c.budget
}

// StopReason maps the terminal state onto the report's stop reason.
// A controller still in Scanning was interrupted.
func (c *Controller) StopReason() crawler.StopReason {
	switch c.state {
	case Exhausted:
		return crawler.StopExhausted
	case BudgetReached:
		return crawler.StopBudgetReached
	case Failed:
		return crawler.StopListingFailed
	default:
		return crawler.StopInterrupted
	}
}

// PageURL sets the page query parameter on base.
func PageURL(base, param string, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse listing url %q: %w", base, err)
	}
	if param == "" {
		param = "page"
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
