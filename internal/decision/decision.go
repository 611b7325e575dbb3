// Package decision folds detector signals into one verdict.
package decision

import (
	"sort"

	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

var recommendations = map[threat.Kind]string{
	threat.KindHoneypot:        "Treat the source as hostile: it accessed a decoy endpoint no legitimate client knows about",
	threat.KindRCE:             "Never pass request input to shells or interpreters; patch affected components and audit for compromise",
	threat.KindSQLInjection:    "Use parameterized queries and review the targeted endpoint for unsafe query construction",
	threat.KindSSRF:            "Restrict outbound requests to an allow-list and block internal and metadata address ranges",
	threat.KindXXE:             "Disable external entity and DTD processing in XML parsers",
	threat.KindXSS:             "Encode output for its context and enforce a Content-Security-Policy",
	threat.KindMaliciousBot:    "Block the scanning tool's source and review exposed attack surface",
	threat.KindPathTraversal:   "Canonicalize file paths and confine file access to an allow-listed base directory",
	threat.KindBOLA:            "Enforce per-object authorization checks on every resource access",
	threat.KindRateLimit:       "Throttle the source and consider tightening the per-source request limit",
	threat.KindIPReputation:    "Apply stricter controls to sources with a poor reputation history",
	threat.KindSchemaViolation: "Reject requests that do not conform to the endpoint's declared schema",
	threat.KindGeoBlock:        "Review the geographic and network restriction policy for this origin",
	threat.KindAdaptiveRule:    "Review the matching adaptive rule and confirm its action is still appropriate",
	threat.KindBot:             "Verify automated clients and require authentication for non-public endpoints",
	threat.KindCSRF:            "Require anti-CSRF tokens on state-changing requests",
}

// Recommendation returns the fixed remediation text for k.
func Recommendation(k threat.Kind) string {
	return recommendations[k]
}

// Decide aggregates signals. Severity is the maximum (low when there are
// none); the dominant kind is the most severe, ties resolved by
// threat.Priority; Block is set when any signal requests it or severity is
// high or above.
func Decide(signals []threat.Signal) threat.Verdict {
	v := threat.Verdict{
		Severity:        threat.SeverityLow,
		Signals:         make([]threat.Signal, 0, len(signals)),
		Recommendations: []string{},
	}
	if len(signals) == 0 {
		return v
	}

	dominant := -1
	kinds := make(map[threat.Kind]struct{}, len(signals))
	for i, s := range signals {
		v.Signals = append(v.Signals, s)
		kinds[s.Kind] = struct{}{}
		v.Severity = threat.MaxSeverity(v.Severity, s.Severity)
		if s.ShouldBlock {
			v.Block = true
		}
		if s.Decoy != nil && v.Decoy == nil {
			d := *s.Decoy
			v.Decoy = &d
		}
		if dominant < 0 || outranks(s, signals[dominant]) {
			dominant = i
		}
	}
	v.Dominant = signals[dominant].Kind
	if v.Severity.AtLeastHigh() {
		v.Block = true
	}

	ordered := make([]threat.Kind, 0, len(kinds))
	for k := range kinds {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Rank() < ordered[j].Rank() })
	for _, k := range ordered {
		if text := Recommendation(k); text != "" {
			v.Recommendations = append(v.Recommendations, text)
		}
	}
	return v
}

func outranks(a, b threat.Signal) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	return a.Kind.Rank() < b.Kind.Rank()
}
