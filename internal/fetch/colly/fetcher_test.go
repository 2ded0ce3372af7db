// Package collyfetcher includes tests for the Colly-backed fetcher.
package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reviewsignal/collector/internal/collect"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "test-agent"})
	resp, err := f.Fetch(context.Background(), collect.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "ok")
	require.Equal(t, "text/html", resp.Headers.Get("Content-Type"))
	require.Greater(t, resp.Duration, time.Duration(0))
}

func TestFetchPreservesStatusOnHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), collect.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "5", resp.Headers.Get("Retry-After"))
}

func TestFetchAppliesRequestHeaders(t *testing.T) {
	t.Parallel()

	var gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	headers := http.Header{}
	headers.Set("Accept-Language", "en-US,en;q=0.5")

	f := New(Config{})
	_, err := f.Fetch(context.Background(), collect.FetchRequest{URL: srv.URL, Headers: headers})
	require.NoError(t, err)
	require.Equal(t, "en-US,en;q=0.5", gotAccept)
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(Config{})
	_, err := f.Fetch(ctx, collect.FetchRequest{URL: srv.URL})
	require.Error(t, err)
}
