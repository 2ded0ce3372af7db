// Package compliance includes tests for the crawl policy checker.
package compliance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const robotsBody = `User-agent: *
Disallow: /private/
Crawl-delay: 2
`

func newRobotsServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(hits, 1)
		if _, err := w.Write([]byte(robotsBody)); err != nil {
			t.Errorf("write robots body: %v", err)
		}
	}))
}

func TestCheckerAllowsPermittedPath(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newRobotsServer(t, &hits)
	defer srv.Close()

	checker := New(Config{UserAgent: "test-bot"}, zap.NewNop())
	allowed, delay := checker.Allowed(context.Background(), srv.URL+"/reviews")
	require.True(t, allowed)
	require.Equal(t, 2*time.Second, delay)
}

func TestCheckerDeniesDisallowedPath(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newRobotsServer(t, &hits)
	defer srv.Close()

	checker := New(Config{UserAgent: "test-bot"}, zap.NewNop())
	allowed, _ := checker.Allowed(context.Background(), srv.URL+"/private/data")
	require.False(t, allowed)
}

func TestCheckerCachesPolicyPerHost(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := newRobotsServer(t, &hits)
	defer srv.Close()

	checker := New(Config{UserAgent: "test-bot"}, zap.NewNop())
	for i := 0; i < 5; i++ {
		allowed, _ := checker.Allowed(context.Background(), srv.URL+"/reviews")
		require.True(t, allowed)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&hits), "robots.txt should be fetched once per TTL window")
}

func TestCheckerFailsOpenWhenPolicyUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // force connection errors

	checker := New(Config{UserAgent: "test-bot"}, zap.NewNop())
	allowed, delay := checker.Allowed(context.Background(), srv.URL+"/anything")
	require.True(t, allowed, "policy fetch failure must not block collection")
	require.Zero(t, delay)
}

func TestCheckerRejectsUnparseableURL(t *testing.T) {
	t.Parallel()

	checker := New(Config{}, zap.NewNop())
	allowed, _ := checker.Allowed(context.Background(), "::not-a-url")
	require.False(t, allowed)
}
