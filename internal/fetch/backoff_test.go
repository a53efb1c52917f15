package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffBounds(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	policy := NewExponentialBackoff(base, 10*time.Second)

	for attempt := 0; attempt < 5; attempt++ {
		floor := base * time.Duration(1<<attempt)
		for i := 0; i < 20; i++ {
			got := policy.Backoff(attempt)
			require.GreaterOrEqual(t, got, floor)
			require.Less(t, got, floor+base)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	t.Parallel()

	policy := NewExponentialBackoff(time.Second, 3*time.Second)
	require.Equal(t, 3*time.Second, policy.Backoff(10))
}

func TestExponentialBackoffDefaults(t *testing.T) {
	t.Parallel()

	policy := NewExponentialBackoff(0, 0)
	require.Equal(t, time.Second, policy.base)
	require.Equal(t, 30*time.Second, policy.maxDelay)
	require.GreaterOrEqual(t, policy.Backoff(-1), time.Second)
}
