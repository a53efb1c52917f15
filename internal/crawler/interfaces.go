package crawler

import (
	"context"
	"time"
)

// Transport performs one network GET without retries or rate limiting.
type Transport interface {
	RoundTrip(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Gate enforces spacing between outbound requests. Wait blocks until the
// caller may start its request or ctx is done.
type Gate interface {
	Wait(ctx context.Context) error
}

// Fetcher issues a single classified fetch.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RetryFetcher issues a fetch with bounded retries and reports the attempts made.
type RetryFetcher interface {
	FetchWithRetry(ctx context.Context, request FetchRequest, maxRetries int) (FetchResponse, int, error)
}

// Parser turns site markup into references and records. Implementations are
// pure: no network access and no retries.
type Parser interface {
	ParseListing(content []byte, page int) (ListingPage, error)
	ParseDetail(content []byte, ref ItemReference) (JobRecord, error)
}

// Sink persists finished records. Persist must tolerate ids it has already seen.
type Sink interface {
	Persist(ctx context.Context, record JobRecord) error
	Close() error
}

// LedgerStore is the durable backing of the dedup ledger.
type LedgerStore interface {
	// Load returns every id recorded so far. A missing or empty store yields
	// no ids and no error; an undecodable store yields ErrLedgerCorrupted.
	Load(ctx context.Context) ([]string, error)
	// Persist durably records the given ids in addition to those already stored.
	Persist(ctx context.Context, ids []string) error
	Close() error
}

// ReportSink consumes the summary of each finished cycle.
type ReportSink interface {
	Record(ctx context.Context, report CycleReport) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle IDs.
type IDGenerator interface {
	NewID() (string, error)
}
