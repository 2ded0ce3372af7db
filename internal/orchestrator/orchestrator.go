// Package orchestrator fans a collection request out across source
// adapters and merges the results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/adapter"
	"github.com/reviewsignal/collector/internal/breaker"
	"github.com/reviewsignal/collector/internal/cache"
	"github.com/reviewsignal/collector/internal/collect"
	"github.com/reviewsignal/collector/internal/metrics"
)

// Config controls orchestration behavior.
type Config struct {
	// Concurrency caps how many sources scrape at once.
	Concurrency int
	// DefaultMaxItems applies when a request leaves MaxItems unset.
	DefaultMaxItems int
}

// Result is one finished collection.
type Result struct {
	Tool    string                                  `json:"tool_name"`
	Reviews []collect.Review                        `json:"reviews"`
	Sources map[collect.Source]collect.SourceStatus `json:"sources"`
	Total   int                                     `json:"total"`
}

// Orchestrator runs collections. One failing source never sinks the
// others: its status is recorded and the remaining sources still report.
type Orchestrator struct {
	cfg       Config
	registry  *adapter.Registry
	cache     *cache.ReviewCache
	store     collect.Store
	publisher collect.Publisher
	hasher    collect.Hasher
	logger    *zap.Logger
}

// New builds an Orchestrator. Store and publisher are optional.
func New(
	cfg Config,
	registry *adapter.Registry,
	reviewCache *cache.ReviewCache,
	store collect.Store,
	publisher collect.Publisher,
	hasher collect.Hasher,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.DefaultMaxItems <= 0 {
		cfg.DefaultMaxItems = 50
	}
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		cache:     reviewCache,
		store:     store,
		publisher: publisher,
		hasher:    hasher,
		logger:    logger,
	}
}

type sourceResult struct {
	source  collect.Source
	reviews []collect.Review
	status  collect.SourceStatus
}

// Collect runs one collection. It only errors on an invalid request;
// source failures, including all of them, are reported per source in the
// result instead.
func (o *Orchestrator) Collect(ctx context.Context, req collect.Request) (Result, error) {
	if strings.TrimSpace(req.Tool) == "" {
		return Result{}, fmt.Errorf("tool name is required")
	}
	sources := req.Sources
	if len(sources) == 0 {
		sources = o.registry.Sources()
	}
	for _, s := range sources {
		if _, err := o.registry.Get(s); err != nil {
			return Result{}, err
		}
	}
	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = o.cfg.DefaultMaxItems
	}

	statuses := make(map[collect.Source]collect.SourceStatus, len(sources))
	bySource := make(map[collect.Source][]collect.Review, len(sources))

	// Cache hits are answered synchronously; only misses go to adapters.
	var missed []collect.Source
	for _, src := range sources {
		if cached, ok := o.cache.Get(cache.Key{Tool: req.Tool, Source: src}); ok {
			metrics.ObserveCacheEvent("hit")
			bySource[src] = cached
			statuses[src] = collect.SourceStatus{
				State:     collect.StatusOK,
				Count:     len(cached),
				FromCache: true,
			}
			continue
		}
		metrics.ObserveCacheEvent("miss")
		missed = append(missed, src)
	}

	results := make(chan sourceResult, len(missed))
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, src := range missed {
		wg.Add(1)
		go func(src collect.Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results <- o.scrapeSource(ctx, src, collect.ScrapeRequest{
				Tool:       req.Tool,
				Identifier: req.Identifiers[src],
				MaxItems:   maxItems,
				Dates:      req.Dates,
			})
		}(src)
	}
	wg.Wait()
	close(results)

	for res := range results {
		statuses[res.source] = res.status
		if res.status.State != collect.StatusFailed {
			bySource[res.source] = res.reviews
			o.cache.Put(cache.Key{Tool: req.Tool, Source: res.source}, res.reviews)
		}
	}

	merged := o.mergeRoundRobin(sources, bySource, maxItems)
	result := Result{
		Tool:    req.Tool,
		Reviews: merged,
		Sources: statuses,
		Total:   len(merged),
	}

	o.persist(ctx, req.Tool, merged)
	o.announce(ctx, result)

	if allFailed(statuses) {
		metrics.ObserveCollection("failed")
	} else {
		metrics.ObserveCollection("ok")
	}
	o.logger.Info("collection finished",
		zap.String("tool", req.Tool),
		zap.Int("total", result.Total),
		zap.Int("sources", len(sources)),
	)
	return result, nil
}

// scrapeSource runs one adapter with full isolation: panics and errors
// become a failed status for that source alone.
func (o *Orchestrator) scrapeSource(ctx context.Context, src collect.Source, req collect.ScrapeRequest) (res sourceResult) {
	res = sourceResult{source: src}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("adapter panicked",
				zap.String("source", string(src)), zap.Any("panic", r))
			res.status = collect.SourceStatus{
				State:  collect.StatusFailed,
				Reason: fmt.Sprintf("panic: %v", r),
			}
			res.reviews = nil
		}
	}()

	a, err := o.registry.Get(src)
	if err != nil {
		res.status = collect.SourceStatus{State: collect.StatusFailed, Reason: err.Error()}
		return res
	}

	metrics.AdapterStarted()
	defer metrics.AdapterFinished()

	start := time.Now()
	reviews, err := a.Scrape(ctx, req)
	if err != nil {
		res.status = collect.SourceStatus{
			State:  collect.StatusFailed,
			Reason: failureReason(err),
		}
		o.logger.Warn("source failed",
			zap.String("source", string(src)),
			zap.String("reason", res.status.Reason),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return res
	}

	valid := reviews[:0:len(reviews)]
	dropped := 0
	for _, review := range reviews {
		if review.Validate() != nil {
			dropped++
			continue
		}
		valid = append(valid, review)
	}

	state := collect.StatusOK
	if dropped > 0 {
		state = collect.StatusDegraded
	}
	metrics.ObserveReviews(string(src), len(valid))
	res.reviews = valid
	res.status = collect.SourceStatus{
		State:  state,
		Count:  len(valid),
		Reason: degradedReason(dropped),
	}
	return res
}

// failureReason condenses an adapter error into a status label.
func failureReason(err error) string {
	switch {
	case breaker.IsOpen(err):
		return "circuit open"
	case errors.Is(err, collect.ErrComplianceDenied):
		return "denied by crawl policy"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return string(collect.CategoryOf(err))
	}
}

func degradedReason(dropped int) string {
	if dropped == 0 {
		return ""
	}
	return fmt.Sprintf("%d invalid records dropped", dropped)
}

// mergeRoundRobin interleaves per-source results in the requested source
// order, deduplicating as it goes, until the item budget fills. Trimming
// round-robin keeps every healthy source represented instead of letting
// the first source crowd out the rest.
func (o *Orchestrator) mergeRoundRobin(
	order []collect.Source,
	bySource map[collect.Source][]collect.Review,
	maxItems int,
) []collect.Review {
	seen := make(map[string]struct{})
	merged := make([]collect.Review, 0, maxItems)
	cursors := make(map[collect.Source]int, len(order))

	for len(merged) < maxItems {
		progressed := false
		for _, src := range order {
			if len(merged) >= maxItems {
				break
			}
			queue := bySource[src]
			for cursors[src] < len(queue) {
				review := queue[cursors[src]]
				cursors[src]++
				key, err := o.dedupeKey(review)
				if err == nil {
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
				}
				merged = append(merged, review)
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}
	return merged
}

// dedupeKey fingerprints a review by source and normalized text, so the
// same complaint fetched twice collapses to one record.
func (o *Orchestrator) dedupeKey(review collect.Review) (string, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(review.Text)), " ")
	digest, err := o.hasher.Hash([]byte(normalized))
	if err != nil {
		return "", err
	}
	return string(review.Source) + ":" + digest, nil
}

func (o *Orchestrator) persist(ctx context.Context, tool string, reviews []collect.Review) {
	if o.store == nil || len(reviews) == 0 {
		return
	}
	saved, err := o.store.SaveReviews(ctx, tool, reviews)
	if err != nil {
		o.logger.Error("saving reviews failed", zap.String("tool", tool), zap.Error(err))
		return
	}
	o.logger.Debug("reviews saved", zap.String("tool", tool), zap.Int("saved", saved))
}

func (o *Orchestrator) announce(ctx context.Context, result Result) {
	if o.publisher == nil {
		return
	}
	event := collect.CollectionEvent{
		ID:         uuid.NewString(),
		Tool:       result.Tool,
		Total:      result.Total,
		Sources:    result.Sources,
		FinishedAt: time.Now().UTC(),
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("publishing collection event failed", zap.Error(err))
	}
}

func allFailed(statuses map[collect.Source]collect.SourceStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if s.State != collect.StatusFailed {
			return false
		}
	}
	return true
}
