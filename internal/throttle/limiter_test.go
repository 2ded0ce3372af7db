// Package throttle includes tests for the per-domain spacing gate.
package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryAcquireFirstCallAllowed(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: time.Second})
	ok, wait := l.TryAcquire("example.com")
	require.True(t, ok)
	require.Zero(t, wait)
}

func TestTryAcquireRejectsInsideWindow(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: time.Second})
	l.RecordSent("example.com")

	ok, wait := l.TryAcquire("example.com")
	require.False(t, ok)
	require.Greater(t, wait, time.Duration(0))
	require.LessOrEqual(t, wait, time.Second)
}

func TestRejectedAcquisitionDoesNotResetWindow(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: 100 * time.Millisecond})
	l.RecordSent("example.com")

	// Hammer the gate; rejections must not push the window forward.
	deadline := time.Now().Add(60 * time.Millisecond)
	for time.Now().Before(deadline) {
		l.TryAcquire("example.com")
	}
	time.Sleep(50 * time.Millisecond)

	ok, _ := l.TryAcquire("example.com")
	require.True(t, ok, "window should have elapsed despite rejected acquisitions")
}

func TestDomainsDoNotContend(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: time.Second})
	l.RecordSent("a.example.com")

	ok, _ := l.TryAcquire("b.example.com")
	require.True(t, ok, "a send to one domain must not block another")
}

func TestAcquireEnforcesMinimumSpacing(t *testing.T) {
	t.Parallel()

	const interval = 50 * time.Millisecond
	l := New(Config{Interval: interval})
	ctx := context.Background()

	var sentAt []time.Time
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Acquire(ctx, "example.com"))
		sentAt = append(sentAt, time.Now())
	}
	for i := 1; i < len(sentAt); i++ {
		delta := sentAt[i].Sub(sentAt[i-1])
		require.GreaterOrEqual(t, delta, interval-time.Millisecond,
			"sends %d and %d too close: %v", i-1, i, delta)
	}
}

func TestAcquireConcurrentCallersSerialized(t *testing.T) {
	t.Parallel()

	const interval = 30 * time.Millisecond
	l := New(Config{Interval: interval})

	var (
		mu     sync.Mutex
		stamps []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, l.Acquire(context.Background(), "example.com"))
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 5)
	for i := range stamps {
		for j := i + 1; j < len(stamps); j++ {
			delta := stamps[j].Sub(stamps[i])
			if delta < 0 {
				delta = -delta
			}
			require.GreaterOrEqual(t, delta, interval-5*time.Millisecond,
				"two callers claimed the same window")
		}
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: time.Minute})
	require.NoError(t, l.Acquire(context.Background(), "example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "example.com")
	require.Error(t, err)
}

func TestSetIntervalNeverShrinksDefault(t *testing.T) {
	t.Parallel()

	l := New(Config{Interval: time.Second})
	l.SetInterval("example.com", time.Millisecond)

	l.RecordSent("example.com")
	ok, _ := l.TryAcquire("example.com")
	require.False(t, ok, "crawl-delay hints may only widen the window")
}
