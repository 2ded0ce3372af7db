// Package memory holds in-memory persistence for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/reviewsignal/collector/internal/collect"
)

// ReviewStore implements collect.Store in memory. It mirrors the Postgres
// store's semantics, including duplicate suppression on (tool, source,
// text).
type ReviewStore struct {
	mu      sync.RWMutex
	reviews []collect.Review
	index   map[string]struct{}
}

// NewReviewStore creates an empty in-memory store.
func NewReviewStore() *ReviewStore {
	return &ReviewStore{index: make(map[string]struct{})}
}

// SaveReviews appends valid, previously unseen reviews and returns how
// many were written.
func (s *ReviewStore) SaveReviews(_ context.Context, tool string, reviews []collect.Review) (int, error) {
	if tool == "" {
		return 0, fmt.Errorf("tool name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := 0
	for _, review := range reviews {
		if err := review.Validate(); err != nil {
			return saved, fmt.Errorf("invalid review: %w", err)
		}
		key := tool + "\x00" + string(review.Source) + "\x00" + review.Text
		if _, dup := s.index[key]; dup {
			continue
		}
		s.index[key] = struct{}{}
		s.reviews = append(s.reviews, review)
		saved++
	}
	return saved, nil
}

// LoadReviews returns stored reviews matching the filter, newest first.
func (s *ReviewStore) LoadReviews(_ context.Context, filter collect.ReviewFilter) ([]collect.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]collect.Review, 0, len(s.reviews))
	for _, review := range s.reviews {
		if filter.Tool != "" && review.Tool != filter.Tool {
			continue
		}
		if filter.Source != "" && review.Source != filter.Source {
			continue
		}
		if filter.MinRating > 0 && (review.Rating == nil || *review.Rating < filter.MinRating) {
			continue
		}
		if filter.Since != nil && (review.Date == nil || review.Date.Before(*filter.Since)) {
			continue
		}
		out = append(out, review)
	}

	sort.SliceStable(out, func(i, j int) bool {
		switch {
		case out[i].Date == nil:
			return false
		case out[j].Date == nil:
			return true
		default:
			return out[i].Date.After(*out[j].Date)
		}
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op; it satisfies collect.Store.
func (s *ReviewStore) Close() {}
