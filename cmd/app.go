package cmd

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/adapter"
	"github.com/reviewsignal/collector/internal/archive"
	"github.com/reviewsignal/collector/internal/breaker"
	"github.com/reviewsignal/collector/internal/cache"
	"github.com/reviewsignal/collector/internal/collect"
	"github.com/reviewsignal/collector/internal/compliance"
	"github.com/reviewsignal/collector/internal/config"
	"github.com/reviewsignal/collector/internal/fetch"
	collyfetcher "github.com/reviewsignal/collector/internal/fetch/colly"
	"github.com/reviewsignal/collector/internal/fetch/detector"
	"github.com/reviewsignal/collector/internal/fetch/headless"
	"github.com/reviewsignal/collector/internal/hash/sha256"
	"github.com/reviewsignal/collector/internal/metrics"
	"github.com/reviewsignal/collector/internal/orchestrator"
	"github.com/reviewsignal/collector/internal/publish"
	memorystore "github.com/reviewsignal/collector/internal/storage/memory"
	"github.com/reviewsignal/collector/internal/storage/postgres"
	"github.com/reviewsignal/collector/internal/throttle"
)

// application holds every wired service a command needs, plus the
// handles required to shut them down.
type application struct {
	cfg          config.Config
	logger       *zap.Logger
	orchestrator *orchestrator.Orchestrator
	store        collect.Store
	publisher    collect.Publisher

	headlessFetcher *headless.Fetcher
	gcsClient       *gcsclient.Client
}

// buildApplication assembles the full collection pipeline from config.
func buildApplication(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	metrics.Init()

	app := &application{cfg: cfg, logger: logger}

	checker := compliance.New(compliance.Config{
		UserAgent: cfg.Compliance.UserAgent,
		TTL:       cfg.ComplianceTTL(),
		Timeout:   cfg.ComplianceTimeout(),
	}, logger)
	limiter := throttle.New(throttle.Config{Interval: cfg.ThrottleInterval()})
	brk := breaker.New(breaker.Config{
		Threshold: cfg.Breaker.Threshold,
		Cooldown:  cfg.BreakerCooldown(),
	}, collect.SystemClock{}, logger)
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Compliance.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})

	var (
		headlessFetcher collect.Fetcher
		promote         collect.HeadlessDetector
	)
	if cfg.Headless.Enabled {
		hf, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Compliance.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		app.headlessFetcher = hf
		headlessFetcher = hf
		promote = detector.NewHeuristic(cfg.Headless.BodyThreshold)
	}

	blobs, err := app.buildArchive(ctx)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	client := fetch.New(fetch.Config{
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: cfg.BackoffInitial(),
		BackoffMax:     cfg.BackoffMax(),
		RateLimitWait:  cfg.RateLimitWait(),
		SnapshotPrefix: cfg.Archive.Prefix,
	}, checker, limiter, brk, probe, headlessFetcher, promote, blobs, hasher, logger)

	registry, err := buildRegistry(cfg, client, logger)
	if err != nil {
		return nil, err
	}

	if err := app.buildStore(ctx); err != nil {
		return nil, err
	}
	if err := app.buildPublisher(ctx); err != nil {
		return nil, err
	}

	app.orchestrator = orchestrator.New(orchestrator.Config{
		Concurrency:     cfg.Collector.Concurrency,
		DefaultMaxItems: cfg.Collector.MaxItems,
	}, registry, cache.New(cfg.CacheTTL(), collect.SystemClock{}), app.store, app.publisher, hasher, logger)

	return app, nil
}

// buildRegistry registers an adapter for each configured source only, so
// collections default to the sources the operator opted into.
func buildRegistry(cfg config.Config, client *fetch.Client, logger *zap.Logger) (*adapter.Registry, error) {
	adapters := make([]collect.Adapter, 0, len(cfg.Collector.Sources))
	for _, src := range cfg.ParsedSources() {
		switch src {
		case collect.SourceG2:
			adapters = append(adapters, adapter.NewG2(client, logger))
		case collect.SourceCapterra:
			adapters = append(adapters, adapter.NewCapterra(client, logger))
		case collect.SourceTrustpilot:
			adapters = append(adapters, adapter.NewTrustpilot(client, logger))
		case collect.SourceHackerNews:
			adapters = append(adapters, adapter.NewHackerNews(client, logger))
		case collect.SourceReddit:
			adapters = append(adapters, adapter.NewReddit(adapter.RedditConfig{
				ClientID:     cfg.Reddit.ClientID,
				ClientSecret: cfg.Reddit.ClientSecret,
				Username:     cfg.Reddit.Username,
				Password:     cfg.Reddit.Password,
				UserAgent:    cfg.Reddit.UserAgent,
				Subreddits:   cfg.Reddit.Subreddits,
			}, client, logger))
		default:
			return nil, fmt.Errorf("no adapter for source %q", src)
		}
	}
	return adapter.NewRegistry(adapters...), nil
}

func (a *application) buildArchive(ctx context.Context) (collect.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return archive.NewMemory(), nil
	case "local":
		store, err := archive.NewLocal(archive.LocalConfig{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := archive.NewGCS(client, archive.GCSConfig{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", a.cfg.Archive.Backend)
	}
}

func (a *application) buildStore(ctx context.Context) error {
	switch a.cfg.DB.Driver {
	case "memory":
		a.store = memorystore.NewReviewStore()
	case "postgres":
		store, err := postgres.NewReviewStore(ctx, postgres.ReviewStoreConfig{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
			MinConns: a.cfg.DB.MinConns,
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.store = store
	default:
		return fmt.Errorf("unknown db driver %q", a.cfg.DB.Driver)
	}
	return nil
}

func (a *application) buildPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		return nil
	}
	publisher, err := publish.NewPubSub(ctx, publish.PubSubConfig{
		ProjectID: a.cfg.PubSub.ProjectID,
		TopicID:   a.cfg.PubSub.TopicID,
	})
	if err != nil {
		return fmt.Errorf("init pubsub publisher: %w", err)
	}
	a.publisher = publisher
	return nil
}

// Close releases every resource the application holds. Safe to call once.
func (a *application) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.headlessFetcher != nil {
		a.headlessFetcher.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	//nolint:errcheck // stdout sync failures are unactionable
	a.logger.Sync()
}
