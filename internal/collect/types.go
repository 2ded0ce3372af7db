// Package collect defines core types shared across subsystems.
package collect

import (
	"fmt"
	"net/http"
	"time"
)

// Source identifies one external origin of review data.
type Source string

// Sources the collector knows how to scrape.
const (
	SourceG2         Source = "g2"
	SourceCapterra   Source = "capterra"
	SourceTrustpilot Source = "trustpilot"
	SourceReddit     Source = "reddit"
	SourceHackerNews Source = "hackernews"
)

// KnownSources returns every source the collector can be configured with,
// in stable order.
func KnownSources() []Source {
	return []Source{
		SourceG2,
		SourceCapterra,
		SourceTrustpilot,
		SourceReddit,
		SourceHackerNews,
	}
}

// ParseSource validates a raw source name.
func ParseSource(raw string) (Source, error) {
	for _, s := range KnownSources() {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", raw)
}

// Review is one normalized complaint or review record. It is immutable once
// an adapter has produced it.
type Review struct {
	Tool   string            `json:"tool_name"`
	Source Source            `json:"source"`
	Text   string            `json:"text"`
	Rating *int              `json:"rating,omitempty"`
	Date   *time.Time        `json:"date,omitempty"`
	Author string            `json:"author,omitempty"`
	URL    string            `json:"url"`
	Raw    map[string]string `json:"raw_metadata,omitempty"`
}

// Validate enforces the invariants every persisted review must hold.
func (r Review) Validate() error {
	if r.Tool == "" {
		return fmt.Errorf("review tool name is required")
	}
	if r.Text == "" {
		return fmt.Errorf("review text is required")
	}
	if _, err := ParseSource(string(r.Source)); err != nil {
		return fmt.Errorf("review source: %w", err)
	}
	if r.Rating != nil && (*r.Rating < 1 || *r.Rating > 5) {
		return fmt.Errorf("review rating %d out of range", *r.Rating)
	}
	return nil
}

// DateRange bounds a collection by publication date. Nil ends are open.
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls inside the range. A nil timestamp is
// accepted so reviews without dates survive date-bounded collections.
func (d *DateRange) Contains(t *time.Time) bool {
	if d == nil || t == nil {
		return true
	}
	if d.From != nil && t.Before(*d.From) {
		return false
	}
	if d.To != nil && t.After(*d.To) {
		return false
	}
	return true
}

// StatusState summarizes one source's outcome within a collection.
type StatusState string

// Per-source outcome values reported by the orchestrator.
const (
	StatusOK       StatusState = "ok"
	StatusDegraded StatusState = "degraded"
	StatusFailed   StatusState = "failed"
)

// SourceStatus is the orchestrator's per-source report.
type SourceStatus struct {
	State     StatusState `json:"state"`
	Reason    string      `json:"reason,omitempty"`
	Count     int         `json:"count"`
	FromCache bool        `json:"from_cache,omitempty"`
}

// Request captures everything needed to run one collection.
type Request struct {
	Tool        string            `json:"tool_name"`
	Identifiers map[Source]string `json:"identifiers,omitempty"`
	Sources     []Source          `json:"sources"`
	MaxItems    int               `json:"max_items"`
	Dates       *DateRange        `json:"dates,omitempty"`
}

// ScrapeRequest is the per-adapter slice of a Request.
type ScrapeRequest struct {
	Tool       string
	Identifier string
	MaxItems   int
	Dates      *DateRange
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// CollectionEvent is published after a collection finishes.
type CollectionEvent struct {
	ID         string                  `json:"id"`
	Tool       string                  `json:"tool_name"`
	Total      int                     `json:"total"`
	Sources    map[Source]SourceStatus `json:"sources"`
	FinishedAt time.Time               `json:"finished_at"`
}
