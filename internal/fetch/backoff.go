package fetch

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffPolicy returns the delay before retry number attempt (0-based).
type BackoffPolicy interface {
	Backoff(attempt int) time.Duration
}

// ExponentialBackoff computes base*2^attempt plus jitter in [0, base),
// capped at max.
type ExponentialBackoff struct {
	base     time.Duration
	maxDelay time.Duration
}

// NewExponentialBackoff builds a policy; zero values fall back to 1s base and 30s cap.
func NewExponentialBackoff(base, maxDelay time.Duration) *ExponentialBackoff {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &ExponentialBackoff{base: base, maxDelay: maxDelay}
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialBackoff) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.base) * math.Pow(2, float64(attempt))
	delay += float64(randomJitter(p.base))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
