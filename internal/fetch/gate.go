// Package fetch implements the rate-limited and retrying fetchers that every
// network call of the crawl engine goes through.
package fetch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// SpacingGate enforces a minimum interval between the start of successive
// requests. The next allowed start time is the only shared state and is
// advanced with compare-and-swap, so concurrent workers each reserve a
// distinct slot and then sleep until it opens.
type SpacingGate struct {
	interval time.Duration
	next     atomic.Int64
	now      func() time.Time
}

// NewSpacingGate returns a gate that admits one request per interval.
// A non-positive interval disables spacing.
func NewSpacingGate(interval time.Duration) *SpacingGate {
	return &SpacingGate{interval: interval, now: time.Now}
}

// Wait reserves the next slot and blocks until it opens or ctx is done. The
// slot is consumed even when ctx is canceled mid-wait.
func (g *SpacingGate) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("gate wait: %w", err)
	}
	if g.interval <= 0 {
		return nil
	}
	now := g.now().UnixNano()
	slot := g.reserve(now)
	return sleepUntil(ctx, time.Duration(slot-now))
}

func (g *SpacingGate) reserve(now int64) int64 {
	for {
		prev := g.next.Load()
		slot := max(prev, now)
		if g.next.CompareAndSwap(prev, slot+g.interval.Nanoseconds()) {
			return slot
		}
	}
}

// Penalize pushes the next allowed start at least d into the future. It is
// used after the site answers 429.
func (g *SpacingGate) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	target := g.now().Add(d).UnixNano()
	for {
		prev := g.next.Load()
		if prev >= target {
			return
		}
		if g.next.CompareAndSwap(prev, target) {
			return
		}
	}
}

// TokenBucketGate adapts golang.org/x/time/rate to the Gate interface.
type TokenBucketGate struct {
	limiter *rate.Limiter
}

// NewTokenBucketGate admits one request per interval with the given burst.
func NewTokenBucketGate(interval time.Duration, burst int) *TokenBucketGate {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketGate{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a token is available or ctx is done.
func (g *TokenBucketGate) Wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("token bucket wait: %w", err)
	}
	return nil
}

func sleepUntil(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("gate wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
