package collect

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// ExponentialRetryPolicy implements jittered backoff for transient fetch
// failures.
type ExponentialRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponentialRetryPolicy builds a policy. Zero values fall back to
// 3 retries, 250ms base, 5s cap.
func NewExponentialRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &ExponentialRetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// MaxRetries returns the retry budget beyond the first attempt.
func (p *ExponentialRetryPolicy) MaxRetries() int { return p.maxRetries }

// ShouldRetry decides whether the error is retryable at the given attempt
// (0-based).
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return CategoryOf(err).Retryable()
}

// Backoff returns the wait before the next attempt. Jitter only extends
// the base delay, and the result is capped at maxDelay, so successive
// waits never decrease: the floor of attempt n (base*2^n) is at or above
// the ceiling of attempt n-1 (1.5*base*2^(n-1)), and capped attempts all
// return exactly maxDelay.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay >= float64(p.maxDelay) {
		return p.maxDelay
	}
	base := time.Duration(delay)
	jittered := base + randomJitter(base/2)
	if jittered > p.maxDelay {
		jittered = p.maxDelay
	}
	return jittered
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
