package collect

import (
	"errors"
	"fmt"
)

// ErrComplianceDenied marks a fetch the crawl policy disallowed. It is a
// decision, not a failure: callers skip the URL without retrying.
var ErrComplianceDenied = errors.New("fetch denied by crawl policy")

// FailureCategory classifies why a fetch ultimately failed so the
// orchestrator can pick an informed fallback per source.
type FailureCategory string

// Failure categories preserved through retry exhaustion.
const (
	FailureTimeout     FailureCategory = "timeout"
	FailureConnection  FailureCategory = "connection"
	FailureHTTP        FailureCategory = "http_error"
	FailureRateLimited FailureCategory = "rate_limited"
	FailurePermanent   FailureCategory = "permanent"
)

// Retryable reports whether the fetch client may attempt the call again.
func (c FailureCategory) Retryable() bool {
	switch c {
	case FailureTimeout, FailureConnection, FailureHTTP, FailureRateLimited:
		return true
	default:
		return false
	}
}

// FetchFailure wraps a fetch error with its category and attempt count.
type FetchFailure struct {
	URL        string
	Category   FailureCategory
	StatusCode int
	Attempts   int
	Err        error
}

// Error implements error.
func (f *FetchFailure) Error() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("fetch %s failed (%s, status %d, %d attempts): %v",
			f.URL, f.Category, f.StatusCode, f.Attempts, f.Err)
	}
	return fmt.Sprintf("fetch %s failed (%s, %d attempts): %v", f.URL, f.Category, f.Attempts, f.Err)
}

// Unwrap exposes the underlying cause for errors.Is checks.
func (f *FetchFailure) Unwrap() error { return f.Err }

// CategoryOf extracts the failure category from an error chain, defaulting
// to FailureConnection for untyped errors.
func CategoryOf(err error) FailureCategory {
	var failure *FetchFailure
	if errors.As(err, &failure) {
		return failure.Category
	}
	return FailureConnection
}
