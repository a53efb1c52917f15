package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/job-crawler/internal/crawler"
)

// Retrying wraps a single-shot fetcher with bounded, jittered exponential
// backoff. Each retry goes back through the wrapped fetcher, so rate-limit
// spacing still applies on top of the backoff delay. It logs nothing.
type Retrying struct {
	fetcher crawler.Fetcher
	policy  BackoffPolicy
}

// NewRetrying composes a Retrying fetcher. A nil policy uses the default backoff.
func NewRetrying(fetcher crawler.Fetcher, policy BackoffPolicy) *Retrying {
	if policy == nil {
		policy = NewExponentialBackoff(0, 0)
	}
	return &Retrying{fetcher: fetcher, policy: policy}
}

// FetchWithRetry performs up to maxRetries+1 attempts. It returns the final
// response, the number of attempts made, and the final error. Terminal
// failures return at once; exhausting the budget wraps the last failure in
// crawler.ErrRetriesExhausted.
func (r *Retrying) FetchWithRetry(
	ctx context.Context,
	request crawler.FetchRequest,
	maxRetries int,
) (crawler.FetchResponse, int, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var (
		resp     crawler.FetchResponse
		err      error
		attempts int
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++
		resp, err = r.fetcher.Fetch(ctx, request)
		if err == nil {
			return resp, attempts, nil
		}
		if ctx.Err() != nil || !crawler.IsRetryable(err) {
			return resp, attempts, err
		}
		if attempt == maxRetries {
			break
		}
		if werr := wait(ctx, r.policy.Backoff(attempt)); werr != nil {
			return resp, attempts, werr
		}
	}
	return resp, attempts, fmt.Errorf("%w after %d attempts: %w", crawler.ErrRetriesExhausted, attempts, err)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
