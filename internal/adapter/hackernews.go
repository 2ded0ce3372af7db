package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/collect"
)

const (
	hnSearchURL    = "https://hn.algolia.com/api/v1/search"
	hnItemURL      = "https://news.ycombinator.com/item?id=%s"
	hnHitsPerPage  = 20
	hnMinTextChars = 50
)

// hnComplaintQueries probe the discussions where users vent about a tool.
var hnComplaintQueries = []string{
	"%s alternative",
	"%s vs",
	"%s problem",
	"%s issue",
	"switching from %s",
}

// HackerNews collects complaint-flavored comments through the Algolia
// search API. Comments carry no ratings, so sentiment keywords gate what
// counts as a complaint and estimate a 1-2 star rating.
type HackerNews struct {
	fetcher PageFetcher
	logger  *zap.Logger
}

// NewHackerNews builds the Hacker News adapter.
func NewHackerNews(fetcher PageFetcher, logger *zap.Logger) *HackerNews {
	return &HackerNews{fetcher: fetcher, logger: logger}
}

// Source identifies the adapter inside the registry.
func (h *HackerNews) Source() collect.Source { return collect.SourceHackerNews }

type hnSearchResult struct {
	Hits []hnHit `json:"hits"`
}

type hnHit struct {
	ObjectID    string `json:"objectID"`
	CommentText string `json:"comment_text"`
	CreatedAt   string `json:"created_at"`
	Author      string `json:"author"`
	Points      int    `json:"points"`
	StoryTitle  string `json:"story_title"`
	StoryURL    string `json:"story_url"`
}

// Scrape runs the complaint queries in order until the item budget fills.
// A failing query is logged and skipped; the others still run.
func (h *HackerNews) Scrape(ctx context.Context, req collect.ScrapeRequest) ([]collect.Review, error) {
	subject := req.Identifier
	if subject == "" {
		subject = req.Tool
	}

	reviews := make([]collect.Review, 0, req.MaxItems)
	var firstErr error
	for _, pattern := range hnComplaintQueries {
		if len(reviews) >= req.MaxItems {
			break
		}
		query := fmt.Sprintf(pattern, subject)
		hits, err := h.search(ctx, query)
		if err != nil {
			h.logger.Warn("hackernews query failed", zap.String("query", query), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		for _, hit := range hits {
			if len(reviews) >= req.MaxItems {
				break
			}
			if review, ok := h.extractReview(hit, req); ok {
				reviews = append(reviews, review)
			}
		}
	}

	if len(reviews) == 0 && firstErr != nil {
		return nil, fmt.Errorf("hackernews search: %w", firstErr)
	}
	return reviews, nil
}

func (h *HackerNews) search(ctx context.Context, query string) ([]hnHit, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("tags", "comment")
	q.Set("hitsPerPage", fmt.Sprintf("%d", hnHitsPerPage))

	body, err := h.fetcher.Fetch(ctx, hnSearchURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var result hnSearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return result.Hits, nil
}

func (h *HackerNews) extractReview(hit hnHit, req collect.ScrapeRequest) (collect.Review, bool) {
	text := stripHTML(hit.CommentText)
	if len(text) < hnMinTextChars || !soundsLikeComplaint(text) {
		return collect.Review{}, false
	}

	var date *time.Time
	if t, err := time.Parse(time.RFC3339, hit.CreatedAt); err == nil {
		date = &t
	}
	if !req.Dates.Contains(date) {
		return collect.Review{}, false
	}

	rating := sentimentRating(text)
	return collect.Review{
		Tool:   req.Tool,
		Source: collect.SourceHackerNews,
		Text:   text,
		Rating: &rating,
		Date:   date,
		Author: hit.Author,
		URL:    fmt.Sprintf(hnItemURL, hit.ObjectID),
		Raw: map[string]string{
			"points":      fmt.Sprintf("%d", hit.Points),
			"story_title": hit.StoryTitle,
			"story_url":   hit.StoryURL,
		},
	}, true
}

// stripHTML flattens the HTML fragments the Algolia API returns for
// comment bodies.
func stripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(fragment)))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}
