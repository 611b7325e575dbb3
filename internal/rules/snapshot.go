package rules

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/dexra46515/apex-app-shield-sub000/internal/logger"
	"github.com/dexra46515/apex-app-shield-sub000/internal/metrics"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

// Source supplies the active entries of each rule set. Each set is loaded
// independently so one unreadable set does not take the others down.
type Source interface {
	Honeypots(ctx context.Context) ([]HoneypotConfig, error)
	GeoRestrictions(ctx context.Context) ([]GeoConfig, error)
	APISchemas(ctx context.Context) ([]SchemaConfig, error)
	AdaptiveRules(ctx context.Context) ([]AdaptiveConfig, error)
}

// Snapshot is an immutable view of every rule set. It is never mutated
// after Build returns.
type Snapshot struct {
	Honeypots []*HoneypotRule
	Geo       []*GeoRule
	Schemas   []*SchemaRule
	Adaptive  []*AdaptiveRule
	LoadedAt  time.Time
}

// Empty is the snapshot used before the first successful load.
func Empty() *Snapshot { return &Snapshot{} }

// MatchHoneypot returns the first matching honeypot signal.
func (s *Snapshot) MatchHoneypot(ev *threat.RequestEvent) (threat.Signal, bool) {
	for _, r := range s.Honeypots {
		if sig, ok := r.Evaluate(ev); ok {
			return sig, true
		}
	}
	return threat.Signal{}, false
}

// MatchGeo returns a signal for every matching restriction.
func (s *Snapshot) MatchGeo(ev *threat.RequestEvent) []threat.Signal {
	var out []threat.Signal
	for _, r := range s.Geo {
		if sig, ok := r.Evaluate(ev); ok {
			out = append(out, sig)
		}
	}
	return out
}

// MatchSchema validates against the first schema matching the request line.
func (s *Snapshot) MatchSchema(ev *threat.RequestEvent) (threat.Signal, bool) {
	for _, r := range s.Schemas {
		if r.Matches(ev.Method, ev.Path) {
			return r.Evaluate(ev)
		}
	}
	return threat.Signal{}, false
}

// Build loads all rule sets from src. Entries that fail to compile are
// skipped; sets that fail to load are left empty. The returned error joins
// every problem and wraps ErrConfigurationUnavailable for unloadable sets.
func Build(ctx context.Context, src Source) (*Snapshot, error) {
	snap := &Snapshot{LoadedAt: time.Now().UTC()}
	var errs []error

	unavailable := func(set string, err error) {
		metrics.IncConfigLoadFailure(set)
		errs = append(errs, fmt.Errorf("%s: %w: %v", set, ErrConfigurationUnavailable, err))
	}

	if cfgs, err := src.Honeypots(ctx); err != nil {
		unavailable(SetHoneypots, err)
	} else {
		for _, c := range cfgs {
			if !c.Active {
				continue
			}
			r, err := NewHoneypotRule(c)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			snap.Honeypots = append(snap.Honeypots, r)
		}
	}

	if cfgs, err := src.GeoRestrictions(ctx); err != nil {
		unavailable(SetGeoRestrictions, err)
	} else {
		for _, c := range cfgs {
			if !c.Active {
				continue
			}
			r, err := NewGeoRule(c)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			snap.Geo = append(snap.Geo, r)
		}
	}

	if cfgs, err := src.APISchemas(ctx); err != nil {
		unavailable(SetAPISchemas, err)
	} else {
		for _, c := range cfgs {
			if !c.Active || !c.ValidationEnabled {
				continue
			}
			r, err := NewSchemaRule(c)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			snap.Schemas = append(snap.Schemas, r)
		}
	}

	if cfgs, err := src.AdaptiveRules(ctx); err != nil {
		unavailable(SetAdaptiveRules, err)
	} else {
		for _, c := range cfgs {
			if !c.Active {
				continue
			}
			r, err := NewAdaptiveRule(c)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			snap.Adaptive = append(snap.Adaptive, r)
		}
	}

	return snap, errors.Join(errs...)
}

// Cache holds the current snapshot. Readers never block writers.
type Cache struct {
	src     Source
	current atomic.Pointer[Snapshot]
}

// NewCache starts with an empty snapshot; call Refresh to load.
func NewCache(src Source) *Cache {
	c := &Cache{src: src}
	c.current.Store(Empty())
	return c
}

// Snapshot returns the snapshot to use for one request.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Refresh rebuilds the snapshot and swaps it in. The new snapshot is
// installed even when some sets failed; the error describes what failed.
func (c *Cache) Refresh(ctx context.Context) error {
	snap, err := Build(ctx, c.src)
	c.current.Store(snap)
	log := logger.Component("rules").WithFields(logrus.Fields{
		"honeypots":        len(snap.Honeypots),
		"geo_restrictions": len(snap.Geo),
		"api_schemas":      len(snap.Schemas),
		"adaptive_rules":   len(snap.Adaptive),
	})
	if err != nil {
		log.WithError(err).Warn("rule snapshot loaded with errors")
		return err
	}
	log.Debug("rule snapshot loaded")
	return nil
}

// Schedule refreshes the cache on the given cron spec.
func (c *Cache) Schedule(cr *cron.Cron, spec string, timeout time.Duration) (cron.EntryID, error) {
	return cr.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = c.Refresh(ctx)
	})
}
