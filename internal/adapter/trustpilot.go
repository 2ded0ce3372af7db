package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/collect"
)

const (
	trustpilotBaseURL  = "https://www.trustpilot.com"
	trustpilotMaxPages = 10
)

var trustpilotCompanySlug = regexp.MustCompile(`/review/([a-z0-9\-.]+)`)

// Trustpilot scrapes 1-2 star company reviews. Companies are keyed by a
// domain-like slug; unknown tools go through the site search first.
type Trustpilot struct {
	fetcher PageFetcher
	logger  *zap.Logger
}

// NewTrustpilot builds the Trustpilot adapter.
func NewTrustpilot(fetcher PageFetcher, logger *zap.Logger) *Trustpilot {
	return &Trustpilot{fetcher: fetcher, logger: logger}
}

// Source identifies the adapter inside the registry.
func (t *Trustpilot) Source() collect.Source { return collect.SourceTrustpilot }

// Scrape walks the company's review pages filtered to 1-2 stars.
func (t *Trustpilot) Scrape(ctx context.Context, req collect.ScrapeRequest) ([]collect.Review, error) {
	slug := req.Identifier
	if slug == "" {
		found, err := t.findCompany(ctx, req.Tool)
		if err != nil {
			return nil, fmt.Errorf("trustpilot company lookup: %w", err)
		}
		if found == "" {
			t.logger.Info("trustpilot company not found", zap.String("tool", req.Tool))
			return []collect.Review{}, nil
		}
		slug = found
	}

	reviews := make([]collect.Review, 0, req.MaxItems)
	for page := 1; page <= trustpilotMaxPages && len(reviews) < req.MaxItems; page++ {
		body, err := t.fetcher.Fetch(ctx, t.reviewsURL(slug, page))
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("trustpilot first page: %w", err)
			}
			t.logger.Warn("trustpilot pagination stopped on fetch failure",
				zap.String("tool", req.Tool), zap.Int("page", page), zap.Error(err))
			break
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("trustpilot parse page %d: %w", page, err)
		}

		cards := doc.Find(`article[class*="review"], article[data-service-review-card-paper]`)
		if cards.Length() == 0 {
			break
		}

		cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
			if len(reviews) >= req.MaxItems {
				return false
			}
			if review, ok := t.extractReview(card, req, slug); ok {
				reviews = append(reviews, review)
			}
			return true
		})
	}
	return reviews, nil
}

// findCompany resolves a tool name to a Trustpilot company slug via the
// site search.
func (t *Trustpilot) findCompany(ctx context.Context, tool string) (string, error) {
	searchURL := fmt.Sprintf("%s/search?%s", trustpilotBaseURL, url.Values{"query": {tool}}.Encode())
	body, err := t.fetcher.Fetch(ctx, searchURL)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	slug := ""
	doc.Find(`a[href*="/review/"]`).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if match := trustpilotCompanySlug.FindStringSubmatch(href); match != nil {
			slug = match[1]
			return false
		}
		return true
	})
	return slug, nil
}

func (t *Trustpilot) reviewsURL(slug string, page int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("stars", "1,2")
	return fmt.Sprintf("%s/review/%s?%s", trustpilotBaseURL, slug, q.Encode())
}

func (t *Trustpilot) extractReview(card *goquery.Selection, req collect.ScrapeRequest, slug string) (collect.Review, bool) {
	text := firstText(card,
		`p[class*="review-content"]`, `p[data-service-review-text-typography]`, "p")
	if text == "" {
		return collect.Review{}, false
	}
	if title := firstText(card, `h2[class*="review-title"]`, `h2[data-service-review-title-typography]`); title != "" {
		text = title + "\n\n" + text
	}
	if len(text) < 30 {
		return collect.Review{}, false
	}

	rating := 1
	if img := card.Find(`div[class*="star-rating"] img`).First(); img.Length() > 0 {
		if alt, ok := img.Attr("alt"); ok {
			if fields := strings.Fields(alt); len(fields) > 0 {
				if n, ok := parseLeadingInt(fields[0]); ok {
					rating = n
				}
			}
		}
	}
	if rating > 2 {
		return collect.Review{}, false
	}

	var reviewDate *time.Time
	if node := card.Find("time").First(); node.Length() > 0 {
		if dt, ok := node.Attr("datetime"); ok {
			reviewDate = parseReviewDate(dt)
		}
	}
	if !req.Dates.Contains(reviewDate) {
		return collect.Review{}, false
	}

	return collect.Review{
		Tool:   req.Tool,
		Source: collect.SourceTrustpilot,
		Text:   text,
		Rating: &rating,
		Date:   reviewDate,
		Author: firstText(card, `span[class*="consumer"]`, `aside span`),
		URL:    t.reviewsURL(slug, 1),
		Raw:    map[string]string{"company_slug": slug},
	}, true
}
