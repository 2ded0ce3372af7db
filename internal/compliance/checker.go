// Package compliance enforces per-domain crawl policy before any fetch.
package compliance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Config controls the checker.
type Config struct {
	UserAgent string
	TTL       time.Duration
	Timeout   time.Duration
}

// Checker fetches and caches robots.txt per host and answers allow/deny.
// Policy fetch failures fail open: absence of a policy must never block
// otherwise-permitted collection.
type Checker struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*hostPolicy
}

type hostPolicy struct {
	data      *robotstxt.RobotsData // nil when robots.txt could not be fetched
	fetchedAt time.Time
}

// New builds a Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "reviewsignal-collector/1.0"
	}
	return &Checker{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		ttl:       cfg.TTL,
		logger:    logger,
		cache:     make(map[string]*hostPolicy),
	}
}

// Allowed reports whether the crawl policy permits rawURL, plus the host's
// crawl-delay hint when the policy declares one.
func (c *Checker) Allowed(ctx context.Context, rawURL string) (bool, time.Duration) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false, 0
	}
	policy := c.load(ctx, parsed)
	if policy == nil {
		c.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", parsed.Host))
		return true, 0
	}
	group := policy.FindGroup(c.userAgent)
	if group == nil {
		return true, 0
	}
	return group.Test(parsed.Path), group.CrawlDelay
}

func (c *Checker) load(ctx context.Context, parsed *url.URL) *robotstxt.RobotsData {
	hostKey := strings.ToLower(parsed.Host)
	now := time.Now()

	c.mu.Lock()
	cached, ok := c.cache[hostKey]
	c.mu.Unlock()
	if ok && now.Sub(cached.fetchedAt) <= c.ttl {
		return cached.data
	}

	data, err := c.fetch(ctx, parsed)
	if err != nil {
		c.logger.Debug("robots.txt unavailable",
			zap.String("host", hostKey), zap.Error(err))
		data = nil
	}
	// Failures are cached too so a dead host is not re-probed on every call.
	c.mu.Lock()
	c.cache[hostKey] = &hostPolicy{data: data, fetchedAt: now}
	c.mu.Unlock()
	return data
}

func (c *Checker) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
