package headless

import (
	"context"
	"errors"

	"github.com/reviewsignal/collector/internal/collect"
)

// Noop implements collect.Fetcher but always returns an error to indicate
// that headless browsing is not available in the current build.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ collect.FetchRequest) (collect.FetchResponse, error) {
	return collect.FetchResponse{}, errors.New("headless fetcher not configured")
}
