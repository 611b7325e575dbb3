// Package ratelimit enforces a per-source request ceiling over a trailing
// window. Counting uses an exact sliding log in kv.Store, so a burst that
// straddles any boundary is still counted against the same window and the
// limit is never overshot.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dexra46515/apex-app-shield-sub000/internal/kv"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

const (
	DefaultLimit  = 100
	DefaultWindow = 60 * time.Second
	keyPrefix     = "rate:"
)

// Config tunes the limiter; zero values fall back to the defaults.
type Config struct {
	Limit  int
	Window time.Duration
}

// Result is the outcome of one Check.
type Result struct {
	Violated    bool `json:"violated"`
	CurrentRate int  `json:"current_rate"`
}

// Limiter counts events per source address.
type Limiter struct {
	store  kv.Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// New returns a Limiter backed by store.
func New(store kv.Store, cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Limiter{store: store, limit: cfg.Limit, window: cfg.Window, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Limit returns the configured ceiling.
func (l *Limiter) Limit() int { return l.limit }

// Check records one event for addr and reports whether the ceiling is exceeded.
func (l *Limiter) Check(ctx context.Context, addr string) (Result, error) {
	n, err := l.store.Window(ctx, keyPrefix+addr, uuid.NewString(), l.now(), l.window)
	if err != nil {
		return Result{}, fmt.Errorf("rate check %s: %w", addr, err)
	}
	return Result{Violated: n > l.limit, CurrentRate: n}, nil
}

// Signal converts a violation into a rate_limit signal.
func (l *Limiter) Signal(r Result) (threat.Signal, bool) {
	if !r.Violated {
		return threat.Signal{}, false
	}
	return threat.Signal{
		Kind:        threat.KindRateLimit,
		Severity:    threat.SeverityMedium,
		Confidence:  95,
		RuleIDs:     []string{"rate-limit-per-source"},
		ShouldBlock: true,
		Detail:      fmt.Sprintf("%d requests in %s (limit %d)", r.CurrentRate, l.window, l.limit),
	}, true
}
