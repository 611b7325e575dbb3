package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dexra46515/apex-app-shield-sub000/internal/kv"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

const (
	DefaultBOLAThreshold = 50
	DefaultBOLAWindow    = 5 * time.Minute

	bolaKeyPrefix = "bola:"
)

var resourceSegment = regexp.MustCompile(`/([A-Za-z][A-Za-z0-9_-]*)/([0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12})(?:[/?#]|$)`)

// ResourceRef extracts the first "{resourceType}/{UUID}" pair from path.
func ResourceRef(path string) (string, bool) {
	m := resourceSegment.FindStringSubmatch(path)
	if m == nil {
		return "", false
	}
	id, err := uuid.Parse(m[2])
	if err != nil {
		return "", false
	}
	return strings.ToLower(m[1]) + "/" + id.String(), true
}

// BOLAGuard counts the distinct resources each user touches in a trailing
// window and flags users that exceed the threshold.
type BOLAGuard struct {
	store     kv.Store
	threshold int
	window    time.Duration
	now       func() time.Time
}

// NewBOLAGuard applies defaults for non-positive threshold or window.
func NewBOLAGuard(store kv.Store, threshold int, window time.Duration) *BOLAGuard {
	if threshold <= 0 {
		threshold = DefaultBOLAThreshold
	}
	if window <= 0 {
		window = DefaultBOLAWindow
	}
	return &BOLAGuard{store: store, threshold: threshold, window: window, now: time.Now}
}

// Check records the access and reports a bola signal when the user is over
// the threshold. Anonymous or session-less requests are not tracked.
func (g *BOLAGuard) Check(ctx context.Context, ev *threat.RequestEvent) (threat.Signal, bool, error) {
	if ev == nil || ev.UserID == "" || ev.SessionID == "" {
		return threat.Signal{}, false, nil
	}
	ref, ok := ResourceRef(ev.Path)
	if !ok {
		return threat.Signal{}, false, nil
	}
	distinct, err := g.store.Window(ctx, bolaKeyPrefix+ev.UserID, ref, g.now(), g.window)
	if err != nil {
		return threat.Signal{}, false, fmt.Errorf("bola window %s: %w", ev.UserID, err)
	}
	if distinct <= g.threshold {
		return threat.Signal{}, false, nil
	}
	return threat.Signal{
		Kind:       threat.KindBOLA,
		Severity:   threat.SeverityHigh,
		Confidence: 80,
		RuleIDs:    []string{"bola-distinct-resources"},
		Detail:     fmt.Sprintf("%d distinct resources in %s", distinct, g.window),
	}, true, nil
}
