// Package fetch wraps a raw fetcher with compliance checking, per-domain
// throttling, circuit breaking, and retrying.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/breaker"
	"github.com/reviewsignal/collector/internal/collect"
	"github.com/reviewsignal/collector/internal/compliance"
	"github.com/reviewsignal/collector/internal/metrics"
	"github.com/reviewsignal/collector/internal/throttle"
)

// defaultUserAgents is rotated across requests so one static fingerprint
// does not trip bot detection.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// Config controls client behavior.
type Config struct {
	// MaxRetries bounds retries beyond the first attempt.
	MaxRetries int
	// BackoffInitial and BackoffMax shape the jittered exponential backoff.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// RateLimitWait is the fallback wait for a 429 without Retry-After.
	RateLimitWait time.Duration
	// UserAgents overrides the default rotation set.
	UserAgents []string
	// SnapshotPrefix prefixes archived page paths.
	SnapshotPrefix string
}

// Client executes single fetches through the full politeness pipeline:
// compliance check, throttle acquire, circuit breaker guard, HTTP request,
// retry with backoff.
type Client struct {
	cfg        Config
	compliance *compliance.Checker
	throttle   *throttle.Limiter
	breaker    *breaker.Breaker
	probe      collect.Fetcher
	headless   collect.Fetcher
	detector   collect.HeadlessDetector
	policy     *collect.ExponentialRetryPolicy
	archive    collect.BlobStore
	hasher     collect.Hasher
	logger     *zap.Logger
	uaCounter  atomic.Uint64
}

// New constructs a Client. The headless fetcher, detector, archive, and
// hasher are optional.
func New(
	cfg Config,
	checker *compliance.Checker,
	limiter *throttle.Limiter,
	brk *breaker.Breaker,
	probe collect.Fetcher,
	headless collect.Fetcher,
	det collect.HeadlessDetector,
	archive collect.BlobStore,
	hasher collect.Hasher,
	logger *zap.Logger,
) *Client {
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = 60 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	return &Client{
		cfg:        cfg,
		compliance: checker,
		throttle:   limiter,
		breaker:    brk,
		probe:      probe,
		headless:   headless,
		detector:   det,
		policy:     collect.NewExponentialRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		archive:    archive,
		hasher:     hasher,
		logger:     logger,
	}
}

// Fetch retrieves rawURL, returning the response body. Transient failures
// are retried up to the configured budget; on exhaustion the error keeps
// the category of the last failure.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.FetchResponse(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FetchResponse is Fetch with access to status code and headers.
func (c *Client) FetchResponse(ctx context.Context, rawURL string) (collect.FetchResponse, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return collect.FetchResponse{}, fmt.Errorf("invalid url %q", rawURL)
	}
	domain := parsed.Hostname()

	allowed, crawlDelay := c.compliance.Allowed(ctx, rawURL)
	if !allowed {
		c.logger.Warn("url disallowed by crawl policy", zap.String("url", rawURL))
		return collect.FetchResponse{}, fmt.Errorf("%s: %w", rawURL, collect.ErrComplianceDenied)
	}
	if crawlDelay > 0 {
		c.throttle.SetInterval(domain, crawlDelay)
	}

	var (
		lastFailure      *collect.FetchFailure
		rateLimitRetries int
		maxAttempts      = c.policy.MaxRetries() + 1
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.attempt(ctx, domain, rawURL)
		if err == nil {
			metrics.ObserveFetch(domain, "success", resp.Duration)
			c.snapshot(ctx, domain, resp)
			return resp, nil
		}
		if breaker.IsOpen(err) {
			metrics.ObserveFetch(domain, "circuit_open", 0)
			return collect.FetchResponse{}, err
		}

		failure := classify(rawURL, resp, err, attempt+1)
		lastFailure = failure
		metrics.ObserveFetch(domain, string(failure.Category), resp.Duration)
		c.logger.Warn("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.String("category", string(failure.Category)),
			zap.Error(err),
		)

		wait := c.cfg.RateLimitWait
		switch failure.Category {
		case collect.FailureRateLimited:
			// One more try after honoring Retry-After; a second 429
			// surfaces as rate-limited.
			if rateLimitRetries >= 1 {
				return collect.FetchResponse{}, lastFailure
			}
			rateLimitRetries++
			if ra, ok := retryAfter(resp.Headers); ok {
				wait = ra
			}
		default:
			if !c.policy.ShouldRetry(failure, attempt) {
				return collect.FetchResponse{}, lastFailure
			}
			wait = c.policy.Backoff(attempt)
		}

		if err := sleepWithContext(ctx, wait); err != nil {
			return collect.FetchResponse{}, fmt.Errorf("fetch backoff: %w", err)
		}
	}
	return collect.FetchResponse{}, lastFailure
}

// attempt performs one throttled, breaker-guarded fetch. The throttle
// window is claimed immediately before the request goes out, so rejected
// breaker calls never advance it.
func (c *Client) attempt(ctx context.Context, domain, rawURL string) (collect.FetchResponse, error) {
	var resp collect.FetchResponse
	err := c.breaker.Guard(domain, func() error {
		start := time.Now()
		if err := c.throttle.Acquire(ctx, domain); err != nil {
			return err
		}
		metrics.ObserveThrottleDelay(domain, time.Since(start))

		probeResp, err := c.probe.Fetch(ctx, collect.FetchRequest{
			URL:     rawURL,
			Headers: c.requestHeaders(),
		})
		if err != nil {
			resp = probeResp
			return err
		}
		resp = c.maybePromote(ctx, rawURL, probeResp)
		return nil
	})
	return resp, err
}

// maybePromote re-fetches through the headless renderer when the probe
// response looks like an anti-bot shell. Promotion failure keeps the probe
// response.
func (c *Client) maybePromote(ctx context.Context, rawURL string, probe collect.FetchResponse) collect.FetchResponse {
	if c.headless == nil || c.detector == nil || !c.detector.ShouldPromote(probe) {
		return probe
	}
	rendered, err := c.headless.Fetch(ctx, collect.FetchRequest{
		URL:         rawURL,
		Headers:     c.requestHeaders(),
		UseHeadless: true,
	})
	if err != nil {
		c.logger.Warn("headless promotion failed", zap.String("url", rawURL), zap.Error(err))
		return probe
	}
	c.logger.Info("headless promotion applied", zap.String("url", rawURL))
	return rendered
}

func (c *Client) snapshot(ctx context.Context, domain string, resp collect.FetchResponse) {
	if c.archive == nil || c.hasher == nil || len(resp.Body) == 0 {
		return
	}
	hash, err := c.hasher.Hash(resp.Body)
	if err != nil {
		c.logger.Warn("snapshot hash failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s/%s.html", c.cfg.SnapshotPrefix, domain, hash)
	if _, err := c.archive.PutObject(ctx, path, "text/html; charset=utf-8", resp.Body); err != nil {
		c.logger.Warn("snapshot archive failed", zap.String("path", path), zap.Error(err))
	}
}

// requestHeaders builds browser-like headers with a rotated User-Agent.
func (c *Client) requestHeaders() http.Header {
	idx := c.uaCounter.Add(1)
	h := http.Header{}
	h.Set("User-Agent", c.cfg.UserAgents[int(idx)%len(c.cfg.UserAgents)])
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// classify maps a failed attempt onto the failure taxonomy.
func classify(rawURL string, resp collect.FetchResponse, err error, attempts int) *collect.FetchFailure {
	failure := &collect.FetchFailure{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Attempts:   attempts,
		Err:        err,
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		failure.Category = collect.FailureRateLimited
	case resp.StatusCode >= 500:
		failure.Category = collect.FailureHTTP
	case resp.StatusCode >= 400:
		failure.Category = collect.FailurePermanent
	case isTimeout(err):
		failure.Category = collect.FailureTimeout
	default:
		failure.Category = collect.FailureConnection
	}
	return failure
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// retryAfter parses a Retry-After header, seconds form or HTTP date.
func retryAfter(h http.Header) (time.Duration, bool) {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(raw); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
