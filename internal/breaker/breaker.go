// Package breaker implements a per-upstream circuit breaker.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/collect"
)

// State captures circuit breaker states.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// OpenError signals that the breaker rejected a call without touching the
// network. Callers distinguish it from the underlying fetch error to choose
// "skip source" over "retry".
type OpenError struct {
	Key     string
	RetryAt time.Time
}

// Error implements error.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Key, e.RetryAt.Format(time.RFC3339))
}

// Config controls thresholds for state transitions.
type Config struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold int
	// Cooldown is how long an open circuit rejects calls before permitting
	// a half-open trial.
	Cooldown time.Duration
}

// Breaker tracks one guarded state per upstream key. Keys are created
// lazily and live for the process lifetime.
type Breaker struct {
	cfg    Config
	clock  collect.Clock
	logger *zap.Logger

	mu   sync.Mutex
	keys map[string]*keyState
}

// keyState is the per-key failure state machine, guarded by its own lock.
type keyState struct {
	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New creates a Breaker. Zero config fields default to 5 failures / 60s.
func New(cfg Config, clock collect.Clock, logger *zap.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if clock == nil {
		clock = collect.SystemClock{}
	}
	return &Breaker{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		keys:   make(map[string]*keyState),
	}
}

func (b *Breaker) keyFor(key string) *keyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks, ok := b.keys[key]
	if !ok {
		ks = &keyState{state: StateClosed}
		b.keys[key] = ks
	}
	return ks
}

// State returns the current state for key without mutating it.
func (b *Breaker) State(key string) State {
	ks := b.keyFor(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.state
}

// Guard runs fn under the breaker for key. While open it rejects immediately
// with *OpenError and fn is never called. After the cooldown one trial call
// is admitted; its outcome decides the next state.
func (b *Breaker) Guard(key string, fn func() error) error {
	ks := b.keyFor(key)

	ks.mu.Lock()
	switch ks.state {
	case StateOpen:
		retryAt := ks.openedAt.Add(b.cfg.Cooldown)
		if b.clock.Now().Before(retryAt) {
			ks.mu.Unlock()
			return &OpenError{Key: key, RetryAt: retryAt}
		}
		ks.state = StateHalfOpen
		b.logger.Info("circuit half-open, admitting trial call", zap.String("key", key))
	case StateHalfOpen:
		// Only one trial call per cooldown; concurrent callers are rejected
		// until the trial resolves.
		ks.mu.Unlock()
		return &OpenError{Key: key, RetryAt: ks.openedAt.Add(b.cfg.Cooldown)}
	}
	ks.mu.Unlock()

	err := fn()

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if err != nil {
		b.onFailure(key, ks)
		return err
	}
	b.onSuccess(key, ks)
	return nil
}

// onFailure must be called with ks.mu held.
func (b *Breaker) onFailure(key string, ks *keyState) {
	if ks.state == StateHalfOpen {
		ks.state = StateOpen
		ks.openedAt = b.clock.Now()
		b.logger.Warn("circuit re-opened after failed trial", zap.String("key", key))
		return
	}
	ks.failures++
	if ks.failures >= b.cfg.Threshold && ks.state == StateClosed {
		ks.state = StateOpen
		ks.openedAt = b.clock.Now()
		b.logger.Warn("circuit opened",
			zap.String("key", key),
			zap.Int("failures", ks.failures),
		)
	}
}

// onSuccess must be called with ks.mu held.
func (b *Breaker) onSuccess(key string, ks *keyState) {
	if ks.state == StateHalfOpen {
		b.logger.Info("circuit closed after successful trial", zap.String("key", key))
	}
	ks.state = StateClosed
	ks.failures = 0
}

// IsOpen reports whether err is a breaker rejection.
func IsOpen(err error) bool {
	var open *OpenError
	return errors.As(err, &open)
}
