package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewsignal/collector/internal/collect"
)

const trustpilotReviewPage = `<html><body>
<article class="review-card">
  <h2 class="review-title">Billing nightmare</h2>
  <p class="review-content">They kept charging us three months after cancellation and support ignores every ticket.</p>
  <div class="star-rating"><img alt="1 out of 5 stars"></div>
  <time datetime="2024-03-05T10:00:00Z">Mar 5</time>
</article>
<article class="review-card">
  <p class="review-content">ok</p>
  <div class="star-rating"><img alt="1 out of 5 stars"></div>
</article>
<article class="review-card">
  <h2 class="review-title">Decent</h2>
  <p class="review-content">Honestly the product does what it says and the team is responsive when issues come up.</p>
  <div class="star-rating"><img alt="5 out of 5 stars"></div>
</article>
</body></html>`

func TestTrustpilotScrapeFiltersAndEnriches(t *testing.T) {
	stub := newPageStub(map[string]string{"review/example.com?page=1": trustpilotReviewPage})
	tp := NewTrustpilot(stub, testLogger())

	reviews, err := tp.Scrape(context.Background(), collect.ScrapeRequest{
		Tool: "Example", Identifier: "example.com", MaxItems: 10,
	})
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	review := reviews[0]
	assert.Equal(t, collect.SourceTrustpilot, review.Source)
	assert.Contains(t, review.Text, "Billing nightmare")
	assert.Contains(t, review.Text, "charging us three months")
	require.NotNil(t, review.Rating)
	assert.Equal(t, 1, *review.Rating)
	require.NotNil(t, review.Date)
	assert.Equal(t, 2024, review.Date.Year())
	assert.Equal(t, "example.com", review.Raw["company_slug"])
}

func TestTrustpilotDateRangeFilter(t *testing.T) {
	stub := newPageStub(map[string]string{"review/example.com?page=1": trustpilotReviewPage})
	tp := NewTrustpilot(stub, testLogger())

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	reviews, err := tp.Scrape(context.Background(), collect.ScrapeRequest{
		Tool:       "Example",
		Identifier: "example.com",
		MaxItems:   10,
		Dates:      &collect.DateRange{From: &from},
	})
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestTrustpilotSearchResolvesSlug(t *testing.T) {
	stub := newPageStub(map[string]string{
		"trustpilot.com/search":     `<html><body><a href="/review/example.com">Example</a></body></html>`,
		"review/example.com?page=1": trustpilotReviewPage,
	})
	tp := NewTrustpilot(stub, testLogger())

	reviews, err := tp.Scrape(context.Background(), collect.ScrapeRequest{
		Tool: "Example", MaxItems: 10,
	})
	require.NoError(t, err)
	assert.Len(t, reviews, 1)

	urls := stub.requested()
	require.GreaterOrEqual(t, len(urls), 2)
	assert.Contains(t, urls[0], "/search?")
	assert.Contains(t, urls[1], "/review/example.com")
}

const trustpilotEmptyAltPage = `<html><body>
<article class="review-card">
  <p class="review-content">The mobile app logs us out daily and two-factor codes never arrive on time.</p>
  <div class="star-rating"><img alt=""></div>
</article>
<article class="review-card">
  <h2 class="review-title">Awful migration</h2>
  <p class="review-content">The forced migration wiped our saved templates and nobody warned us beforehand.</p>
  <div class="star-rating"><img alt="2 out of 5 stars"></div>
</article>
</body></html>`

func TestTrustpilotEmptyRatingAltDoesNotAbortPage(t *testing.T) {
	stub := newPageStub(map[string]string{"review/example.com?page=1": trustpilotEmptyAltPage})
	tp := NewTrustpilot(stub, testLogger())

	reviews, err := tp.Scrape(context.Background(), collect.ScrapeRequest{
		Tool: "Example", Identifier: "example.com", MaxItems: 10,
	})
	require.NoError(t, err)
	require.Len(t, reviews, 2)

	// An unparseable star rating falls back to the most pessimistic bucket.
	require.NotNil(t, reviews[0].Rating)
	assert.Equal(t, 1, *reviews[0].Rating)
	require.NotNil(t, reviews[1].Rating)
	assert.Equal(t, 2, *reviews[1].Rating)
}
