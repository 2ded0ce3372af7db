package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/reviewsignal/collector/internal/collect"
)

const (
	redditBaseURL      = "https://www.reddit.com"
	redditMinTextChars = 50
	redditPageLimit    = 25
)

// redditDefaultSubreddits are searched by the public fallback when no
// subreddit list is configured.
var redditDefaultSubreddits = []string{"saas", "software", "productivity", "startups", "smallbusiness"}

// redditComplaintQueries probe subreddits for complaint posts.
var redditComplaintQueries = []string{
	"%s problem",
	"%s issue",
	"%s complaint",
	"%s disappointed",
	"%s alternative",
	"switching from %s",
}

// RedditConfig carries API credentials. Empty credentials select the
// public JSON fallback.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	Subreddits   []string
}

// Reddit collects complaint posts. With credentials it talks to the
// official API; without, it falls back to the public search endpoint.
// Either path is held to roughly one request per second.
type Reddit struct {
	cfg     RedditConfig
	api     *reddit.Client
	fetcher PageFetcher
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewReddit builds the Reddit adapter. A credential or client setup
// problem downgrades to the public fallback rather than failing.
func NewReddit(cfg RedditConfig, fetcher PageFetcher, logger *zap.Logger) *Reddit {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "reviewsignal-collector/1.0"
	}
	if len(cfg.Subreddits) == 0 {
		cfg.Subreddits = redditDefaultSubreddits
	}

	r := &Reddit{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger,
	}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		creds := reddit.Credentials{
			ID:       cfg.ClientID,
			Secret:   cfg.ClientSecret,
			Username: cfg.Username,
			Password: cfg.Password,
		}
		client, err := reddit.NewClient(creds, reddit.WithUserAgent(cfg.UserAgent))
		if err != nil {
			logger.Warn("reddit api client setup failed, using public fallback", zap.Error(err))
		} else {
			r.api = client
		}
	}
	return r
}

// Source identifies the adapter inside the registry.
func (r *Reddit) Source() collect.Source { return collect.SourceReddit }

// Scrape collects complaint posts up to the item budget.
func (r *Reddit) Scrape(ctx context.Context, req collect.ScrapeRequest) ([]collect.Review, error) {
	subject := req.Identifier
	if subject == "" {
		subject = req.Tool
	}
	if r.api != nil {
		return r.scrapeAPI(ctx, req, subject)
	}
	return r.scrapePublic(ctx, req, subject)
}

// scrapeAPI searches site-wide through the official API.
func (r *Reddit) scrapeAPI(ctx context.Context, req collect.ScrapeRequest, subject string) ([]collect.Review, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("%s complaints", subject)
	posts, _, err := r.api.Subreddit.SearchPosts(ctx, query, "all", searchOptions(req.MaxItems))
	if err != nil {
		return nil, fmt.Errorf("reddit api search: %w", err)
	}

	reviews := make([]collect.Review, 0, req.MaxItems)
	for _, post := range posts {
		if len(reviews) >= req.MaxItems {
			break
		}
		var created *time.Time
		if post.Created != nil {
			t := post.Created.Time
			created = &t
		}
		review, ok := r.buildReview(req, redditPost{
			Title:     post.Title,
			SelfText:  post.Body,
			Author:    post.Author,
			Subreddit: post.SubredditName,
			Permalink: post.Permalink,
			Score:     post.Score,
			Comments:  post.NumberOfComments,
		}, created)
		if ok {
			reviews = append(reviews, review)
		}
	}
	return reviews, nil
}

// searchOptions builds the API search options, newest first and capped at
// the item budget. Limit lives two embeddings deep on the options struct.
func searchOptions(limit int) *reddit.ListPostSearchOptions {
	opts := &reddit.ListPostSearchOptions{Sort: "new"}
	opts.Limit = limit
	return opts
}

// scrapePublic walks the public search endpoint per subreddit and query.
// A failing query is skipped; only total failure with nothing collected
// surfaces as an error.
func (r *Reddit) scrapePublic(ctx context.Context, req collect.ScrapeRequest, subject string) ([]collect.Review, error) {
	reviews := make([]collect.Review, 0, req.MaxItems)
	var firstErr error
	for _, sub := range r.cfg.Subreddits {
		if len(reviews) >= req.MaxItems {
			break
		}
		for _, pattern := range redditComplaintQueries {
			if len(reviews) >= req.MaxItems {
				break
			}
			if err := r.limiter.Wait(ctx); err != nil {
				return reviews, err
			}

			query := fmt.Sprintf(pattern, subject)
			posts, err := r.searchPublic(ctx, sub, query)
			if err != nil {
				r.logger.Warn("reddit public search failed",
					zap.String("subreddit", sub), zap.String("query", query), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			for _, post := range posts {
				if len(reviews) >= req.MaxItems {
					break
				}
				var created *time.Time
				if post.CreatedUTC > 0 {
					t := time.Unix(int64(post.CreatedUTC), 0).UTC()
					created = &t
				}
				if review, ok := r.buildReview(req, post, created); ok {
					reviews = append(reviews, review)
				}
			}
		}
	}

	if len(reviews) == 0 && firstErr != nil {
		return nil, fmt.Errorf("reddit public search: %w", firstErr)
	}
	return reviews, nil
}

// redditPost is the slice of a post both paths share.
type redditPost struct {
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Author     string  `json:"author"`
	Subreddit  string  `json:"subreddit"`
	Permalink  string  `json:"permalink"`
	Score      int     `json:"score"`
	Comments   int     `json:"num_comments"`
	CreatedUTC float64 `json:"created_utc"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (r *Reddit) searchPublic(ctx context.Context, subreddit, query string) ([]redditPost, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("restrict_sr", "on")
	q.Set("sort", "new")
	q.Set("limit", strconv.Itoa(redditPageLimit))
	searchURL := fmt.Sprintf("%s/r/%s/search.json?%s", redditBaseURL, subreddit, q.Encode())

	body, err := r.fetcher.Fetch(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	posts := make([]redditPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		posts = append(posts, child.Data)
	}
	return posts, nil
}

// buildReview applies the shared complaint filters to a post.
func (r *Reddit) buildReview(req collect.ScrapeRequest, post redditPost, created *time.Time) (collect.Review, bool) {
	text := strings.TrimSpace(post.Title + "\n\n" + post.SelfText)
	if len(text) < redditMinTextChars || !soundsLikeComplaint(text) {
		return collect.Review{}, false
	}
	if !req.Dates.Contains(created) {
		return collect.Review{}, false
	}

	rating := sentimentRating(text)
	postURL := post.Permalink
	if postURL != "" && !strings.HasPrefix(postURL, "http") {
		postURL = redditBaseURL + postURL
	}
	return collect.Review{
		Tool:   req.Tool,
		Source: collect.SourceReddit,
		Text:   text,
		Rating: &rating,
		Date:   created,
		Author: post.Author,
		URL:    postURL,
		Raw: map[string]string{
			"subreddit": post.Subreddit,
			"score":     strconv.Itoa(post.Score),
			"comments":  strconv.Itoa(post.Comments),
		},
	}, true
}
