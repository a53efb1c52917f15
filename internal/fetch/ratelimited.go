package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/job-crawler/internal/crawler"
	"github.com/JakeFAU/job-crawler/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// penalizer is implemented by gates that can back off after a 429.
type penalizer interface {
	Penalize(d time.Duration)
}

// Config controls the RateLimited fetcher.
type Config struct {
	// Headers are merged under each request's own headers.
	Headers http.Header
	// Timeout applies when a request does not carry its own.
	Timeout time.Duration
	// BusyPenalty delays the gate after a 429 when the gate supports it.
	BusyPenalty time.Duration
}

// RateLimited issues one request per call through a shared gate and
// classifies the result. It knows nothing about retries.
type RateLimited struct {
	transport crawler.Transport
	gate      crawler.Gate
	cfg       Config
}

// NewRateLimited builds a RateLimited fetcher. A nil gate disables spacing.
func NewRateLimited(transport crawler.Transport, gate crawler.Gate, cfg Config) *RateLimited {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &RateLimited{transport: transport, gate: gate, cfg: cfg}
}

// Fetch waits for the gate, performs the request under a timeout, and maps
// the result onto the fetch error taxonomy. Every call advances the gate,
// whatever the outcome.
func (f *RateLimited) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.gate != nil {
		start := time.Now()
		if err := f.gate.Wait(ctx); err != nil {
			return crawler.FetchResponse{}, err
		}
		metrics.ObserveGateWait(time.Since(start))
	}

	timeout := request.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	request.Timeout = timeout
	request.Headers = mergeHeaders(f.cfg.Headers, request.Headers)

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := f.transport.RoundTrip(reqCtx, request)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
		}
		fetchErr := &crawler.FetchError{Kind: classifyTransportError(reqCtx, err), URL: request.URL, Err: err}
		metrics.ObserveFetch(string(fetchErr.Kind))
		return crawler.FetchResponse{}, fetchErr
	}

	if kind, failed := crawler.ClassifyStatus(resp.StatusCode); failed {
		if resp.StatusCode == http.StatusTooManyRequests {
			if p, ok := f.gate.(penalizer); ok {
				p.Penalize(f.cfg.BusyPenalty)
			}
		}
		metrics.ObserveFetch(string(kind))
		return resp, &crawler.FetchError{Kind: kind, StatusCode: resp.StatusCode, URL: request.URL}
	}
	metrics.ObserveFetch(string(crawler.OutcomeSuccess))
	return resp, nil
}

func classifyTransportError(reqCtx context.Context, err error) crawler.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return crawler.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.FailureTimeout
	}
	return crawler.FailureNetwork
}

func mergeHeaders(base, override http.Header) http.Header {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(http.Header, len(base)+len(override))
	for k, values := range base {
		out[k] = append([]string(nil), values...)
	}
	for k, values := range override {
		out[http.CanonicalHeaderKey(k)] = append([]string(nil), values...)
	}
	return out
}
