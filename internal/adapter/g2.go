package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/collect"
)

const (
	g2BaseURL  = "https://www.g2.com"
	g2MaxPages = 10
)

// G2 scrapes 1-2 star reviews from G2 product pages.
type G2 struct {
	fetcher PageFetcher
	logger  *zap.Logger
}

// NewG2 builds the G2 adapter.
func NewG2(fetcher PageFetcher, logger *zap.Logger) *G2 {
	return &G2{fetcher: fetcher, logger: logger}
}

// Source identifies the adapter inside the registry.
func (g *G2) Source() collect.Source { return collect.SourceG2 }

// Scrape walks paginated review listings until the item budget, the page
// limit, or the end of the listing is reached. A malformed review card is
// skipped; the rest of the page still counts.
func (g *G2) Scrape(ctx context.Context, req collect.ScrapeRequest) ([]collect.Review, error) {
	slug := req.Identifier
	if slug == "" {
		slug = slugify(req.Tool)
	}

	reviews := make([]collect.Review, 0, req.MaxItems)
	for page := 1; page <= g2MaxPages && len(reviews) < req.MaxItems; page++ {
		pageURL := g.reviewsURL(slug, page)
		body, err := g.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("g2 first page: %w", err)
			}
			g.logger.Warn("g2 pagination stopped on fetch failure",
				zap.String("tool", req.Tool), zap.Int("page", page), zap.Error(err))
			break
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("g2 parse page %d: %w", page, err)
		}

		cards := doc.Find(`div[itemprop="review"], article[class*="review"], div[class*="review"]`)
		if cards.Length() == 0 {
			cards = doc.Find(`div[data-testid*="review"]`)
		}
		if cards.Length() == 0 {
			break
		}

		before := len(reviews)
		cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
			if len(reviews) >= req.MaxItems {
				return false
			}
			if review, ok := g.extractReview(card, req, slug); ok {
				reviews = append(reviews, review)
			}
			return true
		})
		g.logger.Debug("g2 page scraped",
			zap.String("tool", req.Tool), zap.Int("page", page), zap.Int("extracted", len(reviews)-before))

		if doc.Find(`a[aria-label*="Next"], a[aria-label*="next"], a[rel="next"]`).Length() == 0 {
			break
		}
	}
	return reviews, nil
}

func (g *G2) reviewsURL(slug string, page int) string {
	q := url.Values{}
	q.Add("rating", "1")
	q.Add("rating", "2")
	q.Set("sort", "newest")
	q.Set("page", strconv.Itoa(page))
	return fmt.Sprintf("%s/products/%s/reviews?%s", g2BaseURL, url.PathEscape(slug), q.Encode())
}

// extractReview pulls one review out of a card. It returns false for cards
// missing text or a 1-2 star rating so one broken card never sinks a page.
func (g *G2) extractReview(card *goquery.Selection, req collect.ScrapeRequest, slug string) (collect.Review, bool) {
	text := firstText(card,
		`p[class*="text"]`, `div[class*="content"]`, `p[class*="review-text"]`, `div[class*="body"]`, "p")
	if len(text) < 20 {
		return collect.Review{}, false
	}

	ratingText := firstText(card, `span[class*="rating"]`, `div[class*="star"]`, `span[class*="star"]`)
	rating, ok := parseLeadingInt(ratingText)
	if !ok || rating > 2 {
		return collect.Review{}, false
	}

	date := parseReviewDate(firstText(card, "time", `span[class*="date"]`, `div[class*="date"]`))
	if !req.Dates.Contains(date) {
		return collect.Review{}, false
	}

	return collect.Review{
		Tool:   req.Tool,
		Source: collect.SourceG2,
		Text:   text,
		Rating: &rating,
		Date:   date,
		Author: firstText(card, `span[class*="author"]`, `div[class*="name"]`),
		URL:    g.reviewsURL(slug, 1),
	}, true
}
