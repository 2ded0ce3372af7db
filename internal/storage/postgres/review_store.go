// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewsignal/collector/internal/collect"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ReviewStoreConfig controls the Postgres connection pool used for review
// rows.
type ReviewStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// ReviewStore persists reviews in Postgres. It assumes a table schema like:
//
//	CREATE TABLE reviews (
//		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
//		tool_name TEXT NOT NULL,
//		source TEXT NOT NULL,
//		text TEXT NOT NULL,
//		rating INT,
//		review_date TIMESTAMPTZ,
//		author TEXT,
//		url TEXT,
//		raw_metadata JSONB,
//		created_at TIMESTAMPTZ DEFAULT NOW(),
//		UNIQUE (tool_name, source, md5(text))
//	);
type ReviewStore struct {
	pool  querier
	table string
}

// NewReviewStore creates a Postgres-backed ReviewStore using the provided
// config.
func NewReviewStore(ctx context.Context, cfg ReviewStoreConfig) (*ReviewStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "reviews"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ReviewStore{pool: pool, table: table}, nil
}

// NewReviewStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewReviewStoreWithPool(pool querier, table string) (*ReviewStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "reviews"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ReviewStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ReviewStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveReviews inserts the reviews, skipping rows the unique constraint
// already holds, and returns how many were actually written.
func (s *ReviewStore) SaveReviews(ctx context.Context, tool string, reviews []collect.Review) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("review store is not configured")
	}
	if tool == "" {
		return 0, fmt.Errorf("tool name is required")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	tool_name,
	source,
	text,
	rating,
	review_date,
	author,
	url,
	raw_metadata
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
) ON CONFLICT DO NOTHING`, s.table)

	saved := 0
	for _, review := range reviews {
		if err := review.Validate(); err != nil {
			return saved, fmt.Errorf("invalid review: %w", err)
		}
		rawJSON, err := json.Marshal(review.Raw)
		if err != nil {
			return saved, fmt.Errorf("marshal raw metadata: %w", err)
		}
		tag, err := s.pool.Exec(ctx, query,
			tool,
			string(review.Source),
			review.Text,
			review.Rating,
			review.Date,
			review.Author,
			review.URL,
			rawJSON,
		)
		if err != nil {
			return saved, fmt.Errorf("insert review: %w", err)
		}
		saved += int(tag.RowsAffected())
	}
	return saved, nil
}

// LoadReviews returns stored reviews matching the filter, newest first.
func (s *ReviewStore) LoadReviews(ctx context.Context, filter collect.ReviewFilter) ([]collect.Review, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("review store is not configured")
	}

	builder := sq.Select("tool_name", "source", "text", "rating", "review_date", "author", "url", "raw_metadata").
		From(s.table).
		PlaceholderFormat(sq.Dollar).
		OrderBy("review_date DESC NULLS LAST")

	if filter.Tool != "" {
		builder = builder.Where(sq.Eq{"tool_name": filter.Tool})
	}
	if filter.Source != "" {
		builder = builder.Where(sq.Eq{"source": string(filter.Source)})
	}
	if filter.MinRating > 0 {
		builder = builder.Where(sq.GtOrEq{"rating": filter.MinRating})
	}
	if filter.Since != nil {
		builder = builder.Where(sq.GtOrEq{"review_date": *filter.Since})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []collect.Review
	for rows.Next() {
		var (
			review  collect.Review
			source  string
			rawJSON []byte
		)
		if err := rows.Scan(
			&review.Tool,
			&source,
			&review.Text,
			&review.Rating,
			&review.Date,
			&review.Author,
			&review.URL,
			&rawJSON,
		); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		review.Source = collect.Source(source)
		if len(rawJSON) > 0 {
			if err := json.Unmarshal(rawJSON, &review.Raw); err != nil {
				return nil, fmt.Errorf("unmarshal raw metadata: %w", err)
			}
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return reviews, nil
}
