// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/reviewsignal/collector/internal/collect"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Collector  CollectorConfig  `mapstructure:"collector"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	DB         DBConfig         `mapstructure:"db"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Reddit     RedditConfig     `mapstructure:"reddit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CollectorConfig governs orchestration behavior.
type CollectorConfig struct {
	Sources         []string `mapstructure:"sources"`
	MaxItems        int      `mapstructure:"max_items"`
	Concurrency     int      `mapstructure:"concurrency"`
	CacheTTLMinutes int      `mapstructure:"cache_ttl_minutes"`
}

// ComplianceConfig governs robots.txt handling.
type ComplianceConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TTLMinutes     int    `mapstructure:"ttl_minutes"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ThrottleConfig sets per-domain request spacing.
type ThrottleConfig struct {
	IntervalMs int `mapstructure:"interval_ms"`
}

// BreakerConfig sets circuit breaker thresholds.
type BreakerConfig struct {
	Threshold       int `mapstructure:"threshold"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// HTTPConfig configures HTTP client retry behavior.
type HTTPConfig struct {
	TimeoutSeconds       int `mapstructure:"timeout_seconds"`
	MaxRetries           int `mapstructure:"max_retries"`
	BackoffInitialMs     int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs         int `mapstructure:"backoff_max_ms"`
	RateLimitWaitSeconds int `mapstructure:"rate_limit_wait_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	BodyThreshold int  `mapstructure:"body_threshold"`
}

// DBConfig controls review persistence.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ArchiveConfig controls raw snapshot storage.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// RedditConfig carries Reddit API credentials.
type RedditConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Username     string   `mapstructure:"username"`
	Password     string   `mapstructure:"password"`
	UserAgent    string   `mapstructure:"user_agent"`
	Subreddits   []string `mapstructure:"subreddits"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("collector.sources", []string{"g2", "capterra", "trustpilot", "reddit", "hackernews"})
	v.SetDefault("collector.max_items", 50)
	v.SetDefault("collector.concurrency", 2)
	v.SetDefault("collector.cache_ttl_minutes", 60)
	v.SetDefault("compliance.user_agent", "reviewsignal-collector/1.0")
	v.SetDefault("compliance.ttl_minutes", 60)
	v.SetDefault("compliance.timeout_seconds", 10)
	v.SetDefault("throttle.interval_ms", 1000)
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown_seconds", 60)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.rate_limit_wait_seconds", 60)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.body_threshold", 2048)
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.table", "reviews")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Collector.Concurrency <= 0 {
		return fmt.Errorf("collector.concurrency must be > 0")
	}
	if c.Collector.MaxItems <= 0 {
		return fmt.Errorf("collector.max_items must be > 0")
	}
	for _, raw := range c.Collector.Sources {
		if _, err := collect.ParseSource(raw); err != nil {
			return fmt.Errorf("collector.sources: %w", err)
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.driver is postgres")
		}
	default:
		return fmt.Errorf("db.driver must be memory or postgres, got %q", c.DB.Driver)
	}
	switch c.Archive.Backend {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.backend is local")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be none, memory, local, or gcs, got %q", c.Archive.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set when pubsub is enabled")
	}
	return nil
}

// ParsedSources converts the configured source names into their typed
// form. Validate has already checked them.
func (c Config) ParsedSources() []collect.Source {
	out := make([]collect.Source, 0, len(c.Collector.Sources))
	for _, raw := range c.Collector.Sources {
		if s, err := collect.ParseSource(raw); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// CacheTTL returns the review cache lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Collector.CacheTTLMinutes) * time.Minute
}

// ComplianceTTL returns the robots.txt cache lifetime.
func (c Config) ComplianceTTL() time.Duration {
	return time.Duration(c.Compliance.TTLMinutes) * time.Minute
}

// ComplianceTimeout returns the robots.txt fetch timeout.
func (c Config) ComplianceTimeout() time.Duration {
	return time.Duration(c.Compliance.TimeoutSeconds) * time.Second
}

// ThrottleInterval returns the per-domain request spacing.
func (c Config) ThrottleInterval() time.Duration {
	return time.Duration(c.Throttle.IntervalMs) * time.Millisecond
}

// BreakerCooldown returns the open-state cooldown.
func (c Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSeconds) * time.Second
}

// HTTPTimeout returns the per-request timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry backoff.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry backoff ceiling.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// RateLimitWait returns the fallback 429 wait.
func (c Config) RateLimitWait() time.Duration {
	return time.Duration(c.HTTP.RateLimitWaitSeconds) * time.Second
}

// NavTimeout returns the headless navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
