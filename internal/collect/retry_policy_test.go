package collect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldRetryRespectsCategoryAndBudget(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(3, time.Millisecond, time.Second)

	transient := &FetchFailure{Category: FailureHTTP, Err: errors.New("503")}
	permanent := &FetchFailure{Category: FailurePermanent, Err: errors.New("404")}

	assert.True(t, policy.ShouldRetry(transient, 0))
	assert.True(t, policy.ShouldRetry(transient, 2))
	assert.False(t, policy.ShouldRetry(transient, 3))
	assert.False(t, policy.ShouldRetry(permanent, 0))
	assert.False(t, policy.ShouldRetry(nil, 0))
	assert.False(t, policy.ShouldRetry(context.Canceled, 0))
	assert.False(t, policy.ShouldRetry(context.DeadlineExceeded, 0))
}

func TestBackoffStaysWithinJitterWindow(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	policy := NewExponentialRetryPolicy(5, base, time.Minute)

	for attempt := 0; attempt < 4; attempt++ {
		floor := base * (1 << attempt)
		ceiling := floor + floor/2
		for i := 0; i < 50; i++ {
			d := policy.Backoff(attempt)
			require.GreaterOrEqual(t, d, floor, "attempt %d", attempt)
			require.Less(t, d, ceiling, "attempt %d", attempt)
		}
	}
}

func TestBackoffNeverDecreasesAcrossAttempts(t *testing.T) {
	t.Parallel()

	// A low cap forces later attempts onto the ceiling; even so, no
	// attempt may wait less than any earlier one.
	policy := NewExponentialRetryPolicy(10, 50*time.Millisecond, 300*time.Millisecond)

	for i := 0; i < 100; i++ {
		var prev time.Duration
		for attempt := 0; attempt < 10; attempt++ {
			d := policy.Backoff(attempt)
			require.GreaterOrEqual(t, d, prev, "attempt %d shrank the wait", attempt)
			require.LessOrEqual(t, d, 300*time.Millisecond)
			prev = d
		}
	}
}

func TestBackoffCapReturnsMaxExactly(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(8, time.Second, 4*time.Second)

	// 1s * 2^2 reaches the cap; from there every wait is the cap itself.
	for attempt := 2; attempt < 8; attempt++ {
		assert.Equal(t, 4*time.Second, policy.Backoff(attempt))
	}
}
