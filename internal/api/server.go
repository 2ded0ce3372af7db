// Package api exposes the HTTP interface for the collector service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/collect"
	"github.com/reviewsignal/collector/internal/metrics"
	"github.com/reviewsignal/collector/internal/orchestrator"
)

// Collector runs a collection across the configured sources.
type Collector interface {
	Collect(ctx context.Context, req collect.Request) (orchestrator.Result, error)
}

// Config carries the HTTP-layer knobs.
type Config struct {
	// AuthEnabled gates all routes behind an API key check.
	AuthEnabled bool
	APIKey      string
	// RequestTimeout bounds each request. Zero means 120s.
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator and review store.
type Server struct {
	router    chi.Router
	collector Collector
	store     collect.Store
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, collector Collector, store collect.Store, logger *zap.Logger) *Server {
	s := &Server{
		collector: collector,
		store:     store,
		logger:    logger,
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))
	if cfg.AuthEnabled {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/collections", s.runCollection)
		r.Get("/reviews", s.listReviews)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type collectionRequest struct {
	Tool        string             `json:"tool_name"`
	Sources     []string           `json:"sources"`
	Identifiers map[string]string  `json:"identifiers"`
	MaxItems    int                `json:"max_items"`
	Dates       *collect.DateRange `json:"dates"`
}

func (s *Server) runCollection(w http.ResponseWriter, r *http.Request) {
	var body collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := toCollectRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.collector.Collect(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func toCollectRequest(body collectionRequest) (collect.Request, error) {
	if body.Tool == "" {
		return collect.Request{}, errors.New("tool_name is required")
	}
	req := collect.Request{
		Tool:     body.Tool,
		MaxItems: body.MaxItems,
		Dates:    body.Dates,
	}
	for _, raw := range body.Sources {
		src, err := collect.ParseSource(raw)
		if err != nil {
			return collect.Request{}, err
		}
		req.Sources = append(req.Sources, src)
	}
	if len(body.Identifiers) > 0 {
		req.Identifiers = make(map[collect.Source]string, len(body.Identifiers))
		for raw, id := range body.Identifiers {
			src, err := collect.ParseSource(raw)
			if err != nil {
				return collect.Request{}, fmt.Errorf("identifiers: %w", err)
			}
			req.Identifiers[src] = id
		}
	}
	if body.Dates != nil && body.Dates.From != nil && body.Dates.To != nil &&
		body.Dates.To.Before(*body.Dates.From) {
		return collect.Request{}, errors.New("dates.to precedes dates.from")
	}
	return req, nil
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotImplemented, "review persistence is disabled")
		return
	}
	filter, err := toReviewFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reviews, err := s.store.LoadReviews(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load reviews")
		return
	}
	if reviews == nil {
		reviews = []collect.Review{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"reviews": reviews,
		"total":   len(reviews),
	})
}

func toReviewFilter(r *http.Request) (collect.ReviewFilter, error) {
	q := r.URL.Query()
	filter := collect.ReviewFilter{Tool: q.Get("tool")}
	if filter.Tool == "" {
		return collect.ReviewFilter{}, errors.New("tool query parameter is required")
	}
	if raw := q.Get("source"); raw != "" {
		src, err := collect.ParseSource(raw)
		if err != nil {
			return collect.ReviewFilter{}, err
		}
		filter.Source = src
	}
	if raw := q.Get("min_rating"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 5 {
			return collect.ReviewFilter{}, errors.New("min_rating must be between 1 and 5")
		}
		filter.MinRating = n
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return collect.ReviewFilter{}, errors.New("since must be RFC 3339")
		}
		filter.Since = &t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return collect.ReviewFilter{}, errors.New("limit must be a positive integer")
		}
		filter.Limit = n
	}
	return filter, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					//nolint:errcheck // headers already sent
					json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				//nolint:errcheck // nothing left to do on failure
				json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
