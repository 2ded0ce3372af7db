package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/breaker"
	"github.com/reviewsignal/collector/internal/collect"
	"github.com/reviewsignal/collector/internal/compliance"
	"github.com/reviewsignal/collector/internal/fetch/detector"
	sha256hash "github.com/reviewsignal/collector/internal/hash/sha256"
	"github.com/reviewsignal/collector/internal/throttle"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req collect.FetchRequest) (collect.FetchResponse, error)
}

func (s *stubFetcher) Fetch(_ context.Context, req collect.FetchRequest) (collect.FetchResponse, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call, req)
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingBlobStore struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingBlobStore) PutObject(_ context.Context, path string, _ string, _ []byte) (string, error) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	return path, nil
}

// robotsServer serves a robots.txt so the compliance layer has something
// real to consult.
func robotsServer(t *testing.T, robots string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, robots)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type clientOptions struct {
	cfg              Config
	breakerThreshold int
	headless         collect.Fetcher
	detector         collect.HeadlessDetector
	archive          collect.BlobStore
}

func newTestClient(t *testing.T, probe collect.Fetcher, opts clientOptions) *Client {
	t.Helper()
	logger := zap.NewNop()
	checker := compliance.New(compliance.Config{
		UserAgent: "collector-test",
		Timeout:   2 * time.Second,
	}, logger)
	limiter := throttle.New(throttle.Config{Interval: time.Millisecond})
	brk := breaker.New(breaker.Config{Threshold: opts.breakerThreshold}, collect.SystemClock{}, logger)

	cfg := opts.cfg
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 2 * time.Millisecond
	}
	var hasher collect.Hasher
	if opts.archive != nil {
		hasher = sha256hash.New()
	}
	return New(cfg, checker, limiter, brk, probe, opts.headless, opts.detector, opts.archive, hasher, logger)
}

func TestFetchSuccess(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nAllow: /\n")
	probe := &stubFetcher{fn: func(_ int, req collect.FetchRequest) (collect.FetchResponse, error) {
		assert.NotEmpty(t, req.Headers.Get("User-Agent"))
		assert.NotEmpty(t, req.Headers.Get("Accept"))
		return collect.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte("hello")}, nil
	}}
	client := newTestClient(t, probe, clientOptions{})

	body, err := client.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), body)
	assert.Equal(t, 1, probe.callCount())
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nAllow: /\n")
	probe := &stubFetcher{fn: func(call int, req collect.FetchRequest) (collect.FetchResponse, error) {
		if call < 3 {
			return collect.FetchResponse{URL: req.URL, StatusCode: 503}, errors.New("service unavailable")
		}
		return collect.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte("recovered")}, nil
	}}
	client := newTestClient(t, probe, clientOptions{cfg: Config{MaxRetries: 3}})

	body, err := client.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), body)
	assert.Equal(t, 3, probe.callCount())
}

func TestFetchPermanentFailureNotRetried(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nAllow: /\n")
	probe := &stubFetcher{fn: func(_ int, req collect.FetchRequest) (collect.FetchResponse, error) {
		return collect.FetchResponse{URL: req.URL, StatusCode: 404}, errors.New("not found")
	}}
	client := newTestClient(t, probe, clientOptions{cfg: Config{MaxRetries: 3}})

	_, err := client.Fetch(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	assert.Equal(t, 1, probe.callCount())

	var failure *collect.FetchFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, collect.FailurePermanent, failure.Category)
	assert.Equal(t, 404, failure.StatusCode)
	assert.Equal(t, 1, failure.Attempts)
}

func TestFetchRateLimitedHonorsRetryAfter(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nAllow: /\n")
	probe := &stubFetcher{fn: func(call int, req collect.FetchRequest) (collect.FetchResponse, error) {
		if call == 1 {
			headers := http.Header{}
			headers.Set("Retry-After", "1")
			return collect.FetchResponse{URL: req.URL, StatusCode: 429, Headers: headers}, errors.New("too many requests")
		}
		return collect.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte("ok")}, nil
	}}
	client := newTestClient(t, probe, clientOptions{cfg: Config{MaxRetries: 3}})

	start := time.Now()
	body, err := client.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, 2, probe.callCount())
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestFetchRateLimitedTwiceSurfaces(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nAllow: /\n")
	probe := &stubFetcher{fn: func(_ int, req collect.FetchRequest) (collect.FetchResponse, error) {
		headers := http.Header{}
		headers.Set("Retry-After", "0")
		return collect.FetchResponse{URL: req.URL, StatusCode: 429, Headers: headers}, errors.New("too many requests")
	}}
	client := newTestClient(t, probe, clientOptions{cfg: Config{MaxRetries: 3}})

	_, err := client.Fetch(context.Background(), srv.URL+"/page")
	require.Error(t, err)
	assert.Equal(t, 2, probe.callCount())

	var failure *collect.FetchFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, collect.FailureRateLimited, failure.Category)
}

func TestFetchComplianceDenied(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nDisallow: /private\n")
	probe := &stubFetcher{fn: func(_ int, req collect.FetchRequest) (collect.FetchResponse, error) {
		return collect.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte("secret")}, nil
	}}
	client := newTestClient(t, probe, clientOptions{})

	_, err := client.Fetch(context.Background(), srv.URL+"/private/data")
	require.ErrorIs(t, err, collect.ErrComplianceDenied)
	assert.Zero(t, probe.callCount())
}

func TestFetchBreakerOpenShortCircuits(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nAllow: /\n")
	probe := &stubFetcher{fn: func(_ int, req collect.FetchRequest) (collect.FetchResponse, error) {
		return collect.FetchResponse{URL: req.URL, StatusCode: 500}, errors.New("boom")
	}}
	client := newTestClient(t, probe, clientOptions{
		cfg:              Config{MaxRetries: 2},
		breakerThreshold: 1,
	})

	_, err := client.Fetch(context.Background(), srv.URL+"/page")
	require.Error(t, err)
	assert.True(t, breaker.IsOpen(err))
	// The first attempt tripped the breaker; the second never reached the
	// probe.
	assert.Equal(t, 1, probe.callCount())
}

func TestFetchTimeoutCategoryPreserved(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nAllow: /\n")
	probe := &stubFetcher{fn: func(_ int, req collect.FetchRequest) (collect.FetchResponse, error) {
		return collect.FetchResponse{URL: req.URL}, fmt.Errorf("fetch: %w", context.DeadlineExceeded)
	}}
	client := newTestClient(t, probe, clientOptions{cfg: Config{MaxRetries: 3}})

	_, err := client.Fetch(context.Background(), srv.URL+"/page")
	require.Error(t, err)
	assert.Equal(t, 1, probe.callCount())
	assert.Equal(t, collect.FailureTimeout, collect.CategoryOf(err))
}

func TestFetchHeadlessPromotion(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nAllow: /\n")
	shell := `<html><body><div id="root"></div><script src="bundle.js"></script></body></html>`
	probe := &stubFetcher{fn: func(_ int, req collect.FetchRequest) (collect.FetchResponse, error) {
		return collect.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(shell)}, nil
	}}
	rendered := []byte("<html><body>" + strings.Repeat("review text ", 500) + "</body></html>")
	headless := &stubFetcher{fn: func(_ int, req collect.FetchRequest) (collect.FetchResponse, error) {
		assert.True(t, req.UseHeadless)
		return collect.FetchResponse{URL: req.URL, StatusCode: 200, Body: rendered, UsedHeadless: true}, nil
	}}
	client := newTestClient(t, probe, clientOptions{
		headless: headless,
		detector: detector.NewHeuristic(0),
	})

	body, err := client.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, rendered, body)
	assert.Equal(t, 1, headless.callCount())
}

func TestFetchHeadlessFailureKeepsProbeResponse(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nAllow: /\n")
	shell := `<html><body><div id="root"></div><script src="bundle.js"></script></body></html>`
	probe := &stubFetcher{fn: func(_ int, req collect.FetchRequest) (collect.FetchResponse, error) {
		return collect.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(shell)}, nil
	}}
	headless := &stubFetcher{fn: func(_ int, _ collect.FetchRequest) (collect.FetchResponse, error) {
		return collect.FetchResponse{}, errors.New("browser crashed")
	}}
	client := newTestClient(t, probe, clientOptions{
		headless: headless,
		detector: detector.NewHeuristic(0),
	})

	body, err := client.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, []byte(shell), body)
}

func TestFetchSnapshotArchived(t *testing.T) {
	srv := robotsServer(t, "User-agent: *\nAllow: /\n")
	probe := &stubFetcher{fn: func(_ int, req collect.FetchRequest) (collect.FetchResponse, error) {
		return collect.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte("<html>page</html>")}, nil
	}}
	store := &recordingBlobStore{}
	client := newTestClient(t, probe, clientOptions{archive: store})

	_, err := client.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)

	parsed, err := url.Parse(srv.URL)
	require.NoError(t, err)
	require.Len(t, store.paths, 1)
	assert.True(t, strings.HasPrefix(store.paths[0], "snapshots/"+parsed.Hostname()+"/"))
	assert.True(t, strings.HasSuffix(store.paths[0], ".html"))
}

func TestFetchInvalidURL(t *testing.T) {
	probe := &stubFetcher{fn: func(_ int, _ collect.FetchRequest) (collect.FetchResponse, error) {
		return collect.FetchResponse{}, nil
	}}
	client := newTestClient(t, probe, clientOptions{})

	_, err := client.Fetch(context.Background(), "::not-a-url")
	require.Error(t, err)
	assert.Zero(t, probe.callCount())
}
