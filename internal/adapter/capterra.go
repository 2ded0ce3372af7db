package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/collect"
)

const (
	capterraBaseURL  = "https://www.capterra.com"
	capterraMaxPages = 10
)

var capterraProductID = regexp.MustCompile(`/p/(\d+)/`)

// Capterra scrapes 1-2 star reviews from Capterra product pages. Capterra
// keys products by numeric ID, so an unknown tool first goes through the
// site search to resolve one.
type Capterra struct {
	fetcher PageFetcher
	logger  *zap.Logger
}

// NewCapterra builds the Capterra adapter.
func NewCapterra(fetcher PageFetcher, logger *zap.Logger) *Capterra {
	return &Capterra{fetcher: fetcher, logger: logger}
}

// Source identifies the adapter inside the registry.
func (c *Capterra) Source() collect.Source { return collect.SourceCapterra }

// Scrape resolves the product ID, then walks paginated review listings.
// A tool that cannot be resolved yields an empty result, not an error.
func (c *Capterra) Scrape(ctx context.Context, req collect.ScrapeRequest) ([]collect.Review, error) {
	productID := req.Identifier
	if productID == "" {
		id, err := c.findProductID(ctx, req.Tool)
		if err != nil {
			return nil, fmt.Errorf("capterra product lookup: %w", err)
		}
		if id == "" {
			c.logger.Info("capterra product not found", zap.String("tool", req.Tool))
			return []collect.Review{}, nil
		}
		productID = id
	}

	slug := slugify(req.Tool)
	reviews := make([]collect.Review, 0, req.MaxItems)
	for page := 1; page <= capterraMaxPages && len(reviews) < req.MaxItems; page++ {
		pageURL := c.reviewsURL(productID, slug, page)
		body, err := c.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("capterra first page: %w", err)
			}
			c.logger.Warn("capterra pagination stopped on fetch failure",
				zap.String("tool", req.Tool), zap.Int("page", page), zap.Error(err))
			break
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("capterra parse page %d: %w", page, err)
		}

		cards := doc.Find(`div[class*="review"], article[class*="review"], div[class*="comment"]`)
		if cards.Length() == 0 {
			cards = doc.Find(`div[data-testid*="review"]`)
		}
		if cards.Length() == 0 {
			break
		}

		cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
			if len(reviews) >= req.MaxItems {
				return false
			}
			if review, ok := c.extractReview(card, req, productID, slug); ok {
				reviews = append(reviews, review)
			}
			return true
		})

		if doc.Find(`a[aria-label*="Next"], a[aria-label*="next"], a[rel="next"]`).Length() == 0 {
			break
		}
	}
	return reviews, nil
}

// findProductID resolves a tool name to Capterra's numeric product ID via
// the site search. Empty result means no match.
func (c *Capterra) findProductID(ctx context.Context, tool string) (string, error) {
	searchURL := fmt.Sprintf("%s/search/?%s", capterraBaseURL, url.Values{"search": {tool}}.Encode())
	body, err := c.fetcher.Fetch(ctx, searchURL)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	id := ""
	doc.Find(`a[href*="/p/"]`).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if match := capterraProductID.FindStringSubmatch(href); match != nil {
			id = match[1]
			return false
		}
		return true
	})
	return id, nil
}

func (c *Capterra) reviewsURL(productID, slug string, page int) string {
	q := url.Values{}
	q.Set("rating", "1-2")
	q.Set("sort", "most_recent")
	q.Set("page", strconv.Itoa(page))
	return fmt.Sprintf("%s/p/%s/%s/reviews/?%s", capterraBaseURL, productID, url.PathEscape(slug), q.Encode())
}

func (c *Capterra) extractReview(card *goquery.Selection, req collect.ScrapeRequest, productID, slug string) (collect.Review, bool) {
	text := firstText(card,
		`p[class*="text"]`, `div[class*="content"]`, `p[class*="review-text"]`, `div[class*="body"]`, `div[class*="comment"]`, "p")
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
		Source: collect.SourceCapterra,
		Text:   text,
		Rating: &rating,
		Date:   date,
		Author: firstText(card, `span[class*="author"]`, `div[class*="name"]`),
		URL:    c.reviewsURL(productID, slug, 1),
		Raw:    map[string]string{"product_id": productID},
	}, true
}
