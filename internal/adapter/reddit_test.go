package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewsignal/collector/internal/collect"
)

const redditSearchResponse = `{
  "data": {
    "children": [
      {
        "data": {
          "title": "Salesforce problem with reporting",
          "selftext": "We are so frustrated, the dashboards break every release and support keeps closing our tickets.",
          "author": "ops_lead",
          "subreddit": "saas",
          "permalink": "/r/saas/comments/abc/salesforce_problem/",
          "score": 120,
          "num_comments": 45,
          "created_utc": 1717243200
        }
      },
      {
        "data": {
          "title": "short",
          "selftext": "",
          "author": "x",
          "subreddit": "saas",
          "permalink": "/r/saas/comments/def/short/",
          "created_utc": 1717243200
        }
      }
    ]
  }
}`

func TestRedditPublicFallbackScrape(t *testing.T) {
	stub := newPageStub(map[string]string{"search.json": redditSearchResponse})
	r := NewReddit(RedditConfig{Subreddits: []string{"saas"}}, stub, testLogger())

	reviews, err := r.Scrape(context.Background(), collect.ScrapeRequest{
		Tool: "Salesforce", MaxItems: 1,
	})
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	review := reviews[0]
	assert.Equal(t, collect.SourceReddit, review.Source)
	assert.Contains(t, review.Text, "Salesforce problem with reporting")
	assert.Contains(t, review.Text, "dashboards break")
	require.NotNil(t, review.Rating)
	assert.Equal(t, 2, *review.Rating)
	assert.Equal(t, "https://www.reddit.com/r/saas/comments/abc/salesforce_problem/", review.URL)
	assert.Equal(t, "saas", review.Raw["subreddit"])
	assert.Equal(t, "120", review.Raw["score"])
	require.NotNil(t, review.Date)
	assert.Equal(t, time.June, review.Date.Month())

	urls := stub.requested()
	require.Len(t, urls, 1)
	assert.Contains(t, urls[0], "/r/saas/search.json")
	assert.Contains(t, urls[0], "restrict_sr=on")
}

func TestRedditPublicFallbackDateFilter(t *testing.T) {
	stub := newPageStub(map[string]string{"search.json": redditSearchResponse})
	r := NewReddit(RedditConfig{Subreddits: []string{"saas"}}, stub, testLogger())

	to := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	reviews, err := r.Scrape(context.Background(), collect.ScrapeRequest{
		Tool:     "Salesforce",
		MaxItems: 1,
		Dates:    &collect.DateRange{To: &to},
	})
	require.NoError(t, err)
	assert.Empty(t, reviews)
}

func TestRedditAllQueriesFailing(t *testing.T) {
	stub := newPageStub(nil)
	r := NewReddit(RedditConfig{Subreddits: []string{"saas"}}, stub, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := r.Scrape(ctx, collect.ScrapeRequest{Tool: "Salesforce", MaxItems: 1})
	assert.Error(t, err)
}

func TestRedditSearchOptionsShape(t *testing.T) {
	opts := searchOptions(25)
	assert.Equal(t, 25, opts.Limit)
	assert.Equal(t, "new", opts.Sort)
}
