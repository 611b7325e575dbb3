// Package rules evaluates the externally managed rule sets (honeypots,
// geo/ASN restrictions, API schemas, adaptive rules) against a request.
// Each rule kind is a closed variant of Rule; the set of variants is fixed
// by the unexported sealed method.
package rules

import (
	"errors"

	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

// ErrConfigurationUnavailable marks a rule set whose configuration could not be read.
var ErrConfigurationUnavailable = errors.New("rule configuration unavailable")

// Rule is implemented only by the variants in this package.
type Rule interface {
	RuleID() string
	Evaluate(ev *threat.RequestEvent) (threat.Signal, bool)
	sealed()
}

var (
	_ Rule = (*HoneypotRule)(nil)
	_ Rule = (*GeoRule)(nil)
	_ Rule = (*SchemaRule)(nil)
	_ Rule = (*AdaptiveRule)(nil)
)

// Set names used in logs and metrics.
const (
	SetHoneypots       = "honeypots"
	SetGeoRestrictions = "geo_restrictions"
	SetAPISchemas      = "api_schemas"
	SetAdaptiveRules   = "adaptive_rules"
)
