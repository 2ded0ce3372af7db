// Package throttle enforces minimum spacing between requests to one domain.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter gates outbound requests per domain. Each domain gets its own lock
// so unrelated domains never contend.
type Limiter struct {
	interval  time.Duration
	overrides map[string]time.Duration

	mu      sync.Mutex
	domains map[string]*window
}

// window tracks the last actually-sent request for one domain.
type window struct {
	mu       sync.Mutex
	lastSent time.Time
}

// Config holds limiter configuration.
type Config struct {
	// Interval is the minimum gap between sends to the same domain.
	Interval time.Duration
	// Overrides sets per-domain intervals, e.g. from robots crawl-delay.
	Overrides map[string]time.Duration
}

// New creates a Limiter. A non-positive interval defaults to one second.
func New(cfg Config) *Limiter {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Limiter{
		interval:  cfg.Interval,
		overrides: cfg.Overrides,
		domains:   make(map[string]*window),
	}
}

// SetInterval installs a per-domain override; used when a crawl policy
// declares a crawl-delay larger than the default.
func (l *Limiter) SetInterval(domain string, interval time.Duration) {
	if interval <= l.interval {
		return
	}
	l.mu.Lock()
	if l.overrides == nil {
		l.overrides = make(map[string]time.Duration)
	}
	l.overrides[domain] = interval
	l.mu.Unlock()
}

func (l *Limiter) intervalFor(domain string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if iv, ok := l.overrides[domain]; ok {
		return iv
	}
	return l.interval
}

func (l *Limiter) windowFor(domain string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.domains[domain]
	if !ok {
		w = &window{}
		l.domains[domain] = w
	}
	return w
}

// TryAcquire reports whether a request to domain may be sent now. When it
// returns false, waitHint is how long the caller should sleep before trying
// again. A rejected acquisition never updates the window.
func (l *Limiter) TryAcquire(domain string) (bool, time.Duration) {
	w := l.windowFor(domain)
	interval := l.intervalFor(domain)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastSent.IsZero() {
		return true, 0
	}
	elapsed := time.Since(w.lastSent)
	if elapsed >= interval {
		return true, 0
	}
	return false, interval - elapsed
}

// RecordSent marks a request as actually sent. Only sent requests move the
// window forward.
func (l *Limiter) RecordSent(domain string) {
	w := l.windowFor(domain)
	w.mu.Lock()
	w.lastSent = time.Now()
	w.mu.Unlock()
}

// Acquire blocks until domain may be sent to, respecting the context, and
// atomically records the send. Concurrent callers for the same domain are
// serialized so no two of them claim the same window.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	w := l.windowFor(domain)
	interval := l.intervalFor(domain)

	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if w.lastSent.IsZero() || time.Since(w.lastSent) >= interval {
			w.lastSent = time.Now()
			return nil
		}
		wait := interval - time.Since(w.lastSent)
		w.mu.Unlock()
		err := sleepWithContext(ctx, wait)
		w.mu.Lock()
		if err != nil {
			return fmt.Errorf("throttle wait for %s: %w", domain, err)
		}
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
