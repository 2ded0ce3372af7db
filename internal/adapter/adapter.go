// Package adapter holds the per-source scrapers that turn raw pages and
// API payloads into normalized reviews.
package adapter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/reviewsignal/collector/internal/collect"
)

// PageFetcher is the slice of the fetch client adapters depend on.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Registry maps source names to their adapters. The set is closed: only
// adapters handed to NewRegistry are reachable.
type Registry struct {
	adapters map[collect.Source]collect.Adapter
}

// NewRegistry indexes the given adapters by source.
func NewRegistry(adapters ...collect.Adapter) *Registry {
	bySource := make(map[collect.Source]collect.Adapter, len(adapters))
	for _, a := range adapters {
		bySource[a.Source()] = a
	}
	return &Registry{adapters: bySource}
}

// Get looks up the adapter for a source.
func (r *Registry) Get(source collect.Source) (collect.Adapter, error) {
	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source %q", source)
	}
	return a, nil
}

// Sources lists registered sources in the collector's stable order.
func (r *Registry) Sources() []collect.Source {
	out := make([]collect.Source, 0, len(r.adapters))
	for _, s := range collect.KnownSources() {
		if _, ok := r.adapters[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// slugify converts a tool name into the dashed form review sites use in
// their URLs.
func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// negativeWords marks a text as complaint-like. Sources without explicit
// ratings (forums, aggregators) use it to drop neutral chatter.
var negativeWords = []string{
	"problem", "issue", "bug", "broken", "disappointed", "frustrat",
	"terrible", "awful", "worst", "hate", "switching", "alternative",
	"worse", "lacking",
}

// veryNegativeWords downgrade the estimated rating to the minimum.
var veryNegativeWords = []string{"terrible", "awful", "worst", "hate"}

func soundsLikeComplaint(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// sentimentRating estimates a 1-2 star rating for sources that have none.
func sentimentRating(text string) int {
	lower := strings.ToLower(text)
	for _, w := range veryNegativeWords {
		if strings.Contains(lower, w) {
			return 1
		}
	}
	return 2
}

var leadingDigits = regexp.MustCompile(`(\d+)`)

// parseLeadingInt pulls the first integer out of a rating label like
// "2 out of 5 stars".
func parseLeadingInt(s string) (int, bool) {
	match := leadingDigits.FindString(s)
	if match == "" {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(match, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// reviewDateLayouts are tried in order when a site exposes dates as text.
var reviewDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// parseReviewDate best-efforts a timestamp out of site date text. A nil
// result means the date stays unknown rather than wrong.
func parseReviewDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range reviewDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// firstText returns the trimmed text of the first selector that matches.
func firstText(sel *goquery.Selection, selectors ...string) string {
	for _, s := range selectors {
		if found := sel.Find(s).First(); found.Length() > 0 {
			if text := strings.TrimSpace(found.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}
