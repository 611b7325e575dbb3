// Package pipeline classifies one request: it runs every detector in
// parallel under a per-detector budget, aggregates their signals into a
// verdict, updates the source's reputation and hands the result to the
// enrichment dispatcher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dexra46515/apex-app-shield-sub000/internal/botdetect"
	"github.com/dexra46515/apex-app-shield-sub000/internal/decision"
	"github.com/dexra46515/apex-app-shield-sub000/internal/enrich"
	"github.com/dexra46515/apex-app-shield-sub000/internal/logger"
	"github.com/dexra46515/apex-app-shield-sub000/internal/metrics"
	"github.com/dexra46515/apex-app-shield-sub000/internal/patterns"
	"github.com/dexra46515/apex-app-shield-sub000/internal/ratelimit"
	"github.com/dexra46515/apex-app-shield-sub000/internal/reputation"
	"github.com/dexra46515/apex-app-shield-sub000/internal/rules"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
	"github.com/dexra46515/apex-app-shield-sub000/internal/util"
)

// DefaultDetectorBudget bounds each detector's evaluation time.
const DefaultDetectorBudget = 50 * time.Millisecond

// SnapshotSource hands out the rule snapshot for one request.
type SnapshotSource interface {
	Snapshot() *rules.Snapshot
}

// Submitter accepts enrichment jobs without blocking.
type Submitter interface {
	Submit(job enrich.Job) bool
}

// Deps wires the detectors. Nil members disable the matching detector,
// except Patterns which defaults to the built-in library.
type Deps struct {
	Patterns   *patterns.Library
	Bots       *botdetect.Classifier
	Limiter    *ratelimit.Limiter
	Reputation *reputation.Store
	Rules      SnapshotSource
	BOLA       *rules.BOLAGuard
	Adaptive   *rules.AdaptiveEngine
	Dispatcher Submitter
}

// Classifier is safe for concurrent use.
type Classifier struct {
	deps   Deps
	budget time.Duration
	now    func() time.Time
}

// New returns a Classifier. A non-positive budget selects the default.
func New(budget time.Duration, deps Deps) *Classifier {
	if budget <= 0 {
		budget = DefaultDetectorBudget
	}
	if deps.Patterns == nil {
		deps.Patterns = patterns.MustNew()
	}
	return &Classifier{deps: deps, budget: budget, now: time.Now}
}

type result struct {
	signals  []threat.Signal
	triggers []rules.Trigger
}

type detector struct {
	name string
	run  func(ctx context.Context) (result, error)
}

func one(sig threat.Signal, ok bool) result {
	if !ok {
		return result{}
	}
	return result{signals: []threat.Signal{sig}}
}

// detectors lists the enabled detectors in a fixed order so that signal
// order in the verdict is deterministic.
func (c *Classifier) detectors(ev *threat.RequestEvent, snap *rules.Snapshot, log *logrus.Entry) []detector {
	d := c.deps
	list := []detector{{
		name: "patterns",
		run: func(context.Context) (result, error) {
			sigs := d.Patterns.Classify(ev.Path, ev.Body)
			if sig, ok := d.Patterns.CheckCSRF(ev); ok {
				sigs = append(sigs, sig)
			}
			return result{signals: sigs}, nil
		},
	}}
	if d.Bots != nil {
		list = append(list, detector{name: "bot", run: func(context.Context) (result, error) {
			return one(d.Bots.Classify(ev.UserAgent)), nil
		}})
	}
	if d.Limiter != nil {
		list = append(list, detector{name: "rate_limit", run: func(ctx context.Context) (result, error) {
			r, err := d.Limiter.Check(ctx, ev.SourceAddress)
			if err != nil {
				return result{}, err
			}
			return one(d.Limiter.Signal(r)), nil
		}})
	}
	if d.Reputation != nil {
		list = append(list, detector{name: "reputation", run: func(ctx context.Context) (result, error) {
			rec, err := d.Reputation.Read(ctx, ev.SourceAddress)
			if err != nil {
				return result{}, err
			}
			return one(reputation.Signal(rec)), nil
		}})
	}
	if snap != nil {
		list = append(list,
			detector{name: "honeypot", run: func(context.Context) (result, error) {
				return one(snap.MatchHoneypot(ev)), nil
			}},
			detector{name: "geo", run: func(context.Context) (result, error) {
				return result{signals: snap.MatchGeo(ev)}, nil
			}},
			detector{name: "schema", run: func(context.Context) (result, error) {
				return one(snap.MatchSchema(ev)), nil
			}},
		)
	}
	if d.BOLA != nil {
		list = append(list, detector{name: "bola", run: func(ctx context.Context) (result, error) {
			sig, ok, err := d.BOLA.Check(ctx, ev)
			if err != nil {
				return result{}, err
			}
			return one(sig, ok), nil
		}})
	}
	if d.Adaptive != nil && snap != nil && len(snap.Adaptive) > 0 {
		list = append(list, detector{name: "adaptive", run: func(ctx context.Context) (result, error) {
			sigs, triggers, err := d.Adaptive.Evaluate(ctx, ev, snap.Adaptive)
			if err != nil {
				metrics.IncStoreWriteFailure("adaptive_counter")
				log.WithError(err).Warn("adaptive trigger counter update failed")
			}
			return result{signals: sigs, triggers: triggers}, nil
		}})
	}
	return list
}

// runDetector runs d under the budget. A detector that errors, panics or
// overruns contributes nothing.
func (c *Classifier) runDetector(ctx context.Context, d detector) (result, error) {
	dctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	type outcome struct {
		res result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := d.run(dctx)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-dctx.Done():
		return result{}, dctx.Err()
	}
}

// Classify produces the verdict for ev. It fails only when ev is invalid;
// detector, store and enrichment failures degrade to fewer signals.
func (c *Classifier) Classify(ctx context.Context, ev *threat.RequestEvent) (*threat.Verdict, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	start := c.now()

	e := *ev
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = start.UTC()
	}
	log := logger.Component("pipeline").WithFields(logrus.Fields{
		"request_id": e.ID,
		"source_ip":  util.SanitizeForLog(e.SourceAddress),
	})

	var snap *rules.Snapshot
	if c.deps.Rules != nil {
		snap = c.deps.Rules.Snapshot()
	}

	dets := c.detectors(&e, snap, log)
	results := make([]result, len(dets))
	var wg sync.WaitGroup
	for i, d := range dets {
		wg.Add(1)
		go func(i int, d detector) {
			defer wg.Done()
			res, err := c.runDetector(ctx, d)
			if err != nil {
				reason := "error"
				if errors.Is(err, context.DeadlineExceeded) {
					reason = "timeout"
				}
				metrics.IncDetectorFailure(d.name, reason)
				log.WithError(err).WithField("detector", d.name).Warn("detector failed, signals dropped")
				return
			}
			results[i] = res
		}(i, d)
	}
	wg.Wait()

	var (
		signals  []threat.Signal
		triggers []rules.Trigger
	)
	for _, r := range results {
		signals = append(signals, r.signals...)
		triggers = append(triggers, r.triggers...)
	}

	verdict := decision.Decide(signals)
	rep := c.updateReputation(ctx, &e, signals, log)

	metrics.IncClassified()
	for _, s := range verdict.Signals {
		metrics.IncSignal(string(s.Kind))
	}
	switch {
	case verdict.Block:
		metrics.IncBlocked()
		log.WithFields(logrus.Fields{
			"severity": verdict.Severity.String(),
			"dominant": string(verdict.Dominant),
			"path":     util.SanitizeForLog(e.Path),
		}).Info("request blocked")
	case len(verdict.Signals) > 0:
		metrics.IncMonitored()
	}
	metrics.ObserveClassify(c.now().Sub(start).Seconds())

	if c.deps.Dispatcher != nil {
		c.deps.Dispatcher.Submit(enrich.Job{Event: &e, Verdict: verdict, Triggers: triggers, Reputation: rep})
	}
	return &verdict, nil
}

// updateReputation charges the source for this request and stamps it as
// seen. The source's own reputation signal is left out so a bad score does
// not feed itself; a request without other signals costs nothing.
func (c *Classifier) updateReputation(ctx context.Context, ev *threat.RequestEvent, signals []threat.Signal, log *logrus.Entry) *reputation.Record {
	if c.deps.Reputation == nil {
		return nil
	}
	observed := threat.SeverityLow
	for _, s := range signals {
		if s.Kind == threat.KindIPReputation {
			continue
		}
		observed = threat.MaxSeverity(observed, s.Severity)
	}

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.budget)
	defer cancel()
	rec, err := c.deps.Reputation.Update(uctx, ev.SourceAddress, observed)
	if err != nil {
		metrics.IncStoreWriteFailure("reputation")
		log.WithError(err).Warn("reputation update failed")
		return nil
	}
	return &rec
}
