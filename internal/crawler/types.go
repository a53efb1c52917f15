package crawler

import (
	"net/http"
	"time"
)

// ItemReference points at a single posting discovered on a listing page.
// ID is the stable dedup key; the remaining fields are the listing summary
// the parser could extract and are carried into the detail record.
type ItemReference struct {
	ID         string `json:"id"`
	DetailURL  string `json:"url"`
	Title      string `json:"title,omitempty"`
	Company    string `json:"company_name,omitempty"`
	Location   string `json:"location,omitempty"`
	Salary     string `json:"salary,omitempty"`
	Experience string `json:"experience,omitempty"`
	PostedDate string `json:"posted_date,omitempty"`
}

// ListingPage is what the parser extracts from one listing page.
// An empty Items slice signals the end of listings.
type ListingPage struct {
	Items   []ItemReference
	HasMore bool
}

// JobRecord is the fully extracted posting handed to the storage sinks.
// It is treated as immutable once the parser returns it.
type JobRecord struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Company          string    `json:"company_name"`
	Location         string    `json:"location"`
	Salary           string    `json:"salary"`
	SalaryMin        *float64  `json:"salary_min"`
	SalaryMax        *float64  `json:"salary_max"`
	SalaryCurrency   string    `json:"salary_currency"`
	SalaryNegotiable bool      `json:"salary_negotiable"`
	Experience       string    `json:"experience"`
	Description      string    `json:"description"`
	Requirements     string    `json:"requirements"`
	Benefits         string    `json:"benefits"`
	WorkLocation     string    `json:"work_location"`
	PostedDate       string    `json:"posted_date"`
	Deadline         string    `json:"application_deadline"`
	URL              string    `json:"url"`
	CrawledAt        time.Time `json:"crawled_at"`
}

// StopReason records why a cycle's pagination ended.
type StopReason string

// Stop reasons surfaced in CycleReport.
const (
	StopExhausted     StopReason = "exhausted"
	StopBudgetReached StopReason = "budget_reached"
	StopListingFailed StopReason = "listing_failed"
	StopInterrupted   StopReason = "interrupted"
)

// CycleReport summarizes one crawl cycle. It is produced even when items fail.
type CycleReport struct {
	CycleID      string     `json:"cycle_id"`
	PagesScanned int        `json:"pages_scanned"`
	ItemsSeen    int        `json:"items_seen"`
	ItemsNew     int        `json:"items_new"`
	ItemsSkipped int        `json:"items_skipped"`
	ItemsFailed  int        `json:"items_failed"`
	PageBudget   int        `json:"page_budget"`
	FullCrawl    bool       `json:"full_crawl"`
	StopReason   StopReason `json:"stop_reason"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      time.Time  `json:"ended_at"`
}

// Duration returns the wall time the cycle took.
func (r CycleReport) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Degraded reports whether any item failed during the cycle.
func (r CycleReport) Degraded() bool {
	return r.ItemsFailed > 0 || r.StopReason == StopListingFailed
}

// FetchRequest captures everything needed to issue a single GET.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Timeout time.Duration
}

// FetchResponse is the raw page returned by a Transport.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
