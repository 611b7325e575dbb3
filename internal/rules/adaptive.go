package rules

import (
	"context"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/dexra46515/apex-app-shield-sub000/internal/kv"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

// Adaptive rule actions.
const (
	ActionBlock     = "block"
	ActionChallenge = "challenge"
	ActionRateLimit = "rate_limit"
	ActionMonitor   = "monitor"
)

// AdaptiveConfig is the stored form of an adaptive rule.
type AdaptiveConfig struct {
	ID                 string  `json:"id" yaml:"id"`
	Name               string  `json:"name" yaml:"name"`
	SourceAddress      string  `json:"source_address" yaml:"source_address"`
	UserAgentPattern   string  `json:"user_agent_pattern" yaml:"user_agent_pattern"`
	PathPattern        string  `json:"path_pattern" yaml:"path_pattern"`
	Action             string  `json:"action" yaml:"action"`
	LearningConfidence float64 `json:"learning_confidence" yaml:"learning_confidence"`
	Active             bool    `json:"active" yaml:"active"`
}

// Condition is one clause of an adaptive rule.
type Condition interface {
	Matches(ev *threat.RequestEvent) bool
	condition()
}

type AddressCondition struct{ Address string }

func (c AddressCondition) Matches(ev *threat.RequestEvent) bool {
	return ev.SourceAddress == c.Address
}
func (AddressCondition) condition() {}

type UserAgentCondition struct{ Pattern *regexp.Regexp }

func (c UserAgentCondition) Matches(ev *threat.RequestEvent) bool {
	return c.Pattern.MatchString(ev.UserAgent)
}
func (UserAgentCondition) condition() {}

type PathCondition struct{ Pattern *regexp.Regexp }

func (c PathCondition) Matches(ev *threat.RequestEvent) bool {
	return c.Pattern.MatchString(ev.Path)
}
func (PathCondition) condition() {}

// AdaptiveRule matches when any one of its conditions matches.
type AdaptiveRule struct {
	id         string
	conditions []Condition
	action     string
	confidence float64
}

// NewAdaptiveRule compiles cfg. A rule with no conditions is rejected.
func NewAdaptiveRule(cfg AdaptiveConfig) (*AdaptiveRule, error) {
	r := &AdaptiveRule{
		id:         cfg.ID,
		action:     strings.ToLower(strings.TrimSpace(cfg.Action)),
		confidence: threat.ClampConfidence(cfg.LearningConfidence),
	}
	if addr := strings.TrimSpace(cfg.SourceAddress); addr != "" {
		r.conditions = append(r.conditions, AddressCondition{Address: addr})
	}
	if cfg.UserAgentPattern != "" {
		re, err := regexp.Compile(cfg.UserAgentPattern)
		if err != nil {
			return nil, fmt.Errorf("adaptive rule %s: user agent pattern: %w", cfg.ID, err)
		}
		r.conditions = append(r.conditions, UserAgentCondition{Pattern: re})
	}
	if cfg.PathPattern != "" {
		re, err := regexp.Compile(cfg.PathPattern)
		if err != nil {
			return nil, fmt.Errorf("adaptive rule %s: path pattern: %w", cfg.ID, err)
		}
		r.conditions = append(r.conditions, PathCondition{Pattern: re})
	}
	if len(r.conditions) == 0 {
		return nil, fmt.Errorf("adaptive rule %s: no conditions", cfg.ID)
	}
	return r, nil
}

func (r *AdaptiveRule) RuleID() string          { return r.id }
func (r *AdaptiveRule) Conditions() []Condition { return r.conditions }
func (r *AdaptiveRule) sealed()                 {}

// Evaluate is side-effect free; trigger accounting lives in AdaptiveEngine.
func (r *AdaptiveRule) Evaluate(ev *threat.RequestEvent) (threat.Signal, bool) {
	if ev == nil {
		return threat.Signal{}, false
	}
	for _, c := range r.conditions {
		if c.Matches(ev) {
			return r.signal(), true
		}
	}
	return threat.Signal{}, false
}

func (r *AdaptiveRule) signal() threat.Signal {
	sig := threat.Signal{
		Kind:       threat.KindAdaptiveRule,
		Severity:   threat.SeverityLow,
		Confidence: r.confidence,
		RuleIDs:    []string{r.id},
		Action:     r.action,
	}
	switch r.action {
	case ActionBlock:
		sig.Severity = threat.SeverityHigh
		sig.ShouldBlock = true
	case ActionChallenge, ActionRateLimit:
		sig.Severity = threat.SeverityMedium
	}
	return sig
}

// Trigger is a counted adaptive rule match waiting to be persisted.
type Trigger struct {
	RuleID string
	Count  int64
	At     time.Time
}

// TriggerRecorder persists trigger metadata for a rule.
type TriggerRecorder interface {
	RecordTrigger(ctx context.Context, t Trigger) error
}

const (
	triggerKeyPrefix = "adaptive:"
	defaultSeenSize  = 4096
)

// AdaptiveEngine evaluates adaptive rules and counts their triggers.
// Redelivery of an event with the same ID is not counted twice.
type AdaptiveEngine struct {
	store kv.Store
	seen  *lru.Cache[string, struct{}]
	now   func() time.Time
}

// NewAdaptiveEngine creates an engine remembering up to seenSize
// (rule, event) pairs.
func NewAdaptiveEngine(store kv.Store, seenSize int) (*AdaptiveEngine, error) {
	if seenSize <= 0 {
		seenSize = defaultSeenSize
	}
	seen, err := lru.New[string, struct{}](seenSize)
	if err != nil {
		return nil, err
	}
	return &AdaptiveEngine{store: store, seen: seen, now: time.Now}, nil
}

func idempotencyKey(ruleID, eventID string) string {
	sum := blake2b.Sum256([]byte(ruleID + "\x00" + eventID))
	return hex.EncodeToString(sum[:16])
}

// Evaluate returns one signal per matching rule and the triggers that were
// newly counted. A failed counter write still yields the signal.
func (e *AdaptiveEngine) Evaluate(ctx context.Context, ev *threat.RequestEvent, rules []*AdaptiveRule) ([]threat.Signal, []Trigger, error) {
	var (
		signals  []threat.Signal
		triggers []Trigger
		firstErr error
	)
	for _, r := range rules {
		sig, ok := r.Evaluate(ev)
		if !ok {
			continue
		}
		signals = append(signals, sig)

		if ev.ID != "" {
			if found, _ := e.seen.ContainsOrAdd(idempotencyKey(r.id, ev.ID), struct{}{}); found {
				continue
			}
		}
		n, err := e.store.Increment(ctx, triggerKeyPrefix+r.id, 1)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("count trigger %s: %w", r.id, err)
			}
			continue
		}
		triggers = append(triggers, Trigger{RuleID: r.id, Count: n, At: e.now().UTC()})
	}
	return signals, triggers, firstErr
}
