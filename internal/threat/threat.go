// Package threat holds the request, signal and verdict types shared by every
// detector in the classification pipeline.
package threat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEvent is returned when a request event cannot be classified at all.
var ErrInvalidEvent = errors.New("invalid request event")

// Kind identifies the class of threat a signal reports.
type Kind string

const (
	KindSQLInjection    Kind = "sql_injection"
	KindXSS             Kind = "xss"
	KindPathTraversal   Kind = "path_traversal"
	KindRCE             Kind = "rce"
	KindSSRF            Kind = "ssrf"
	KindXXE             Kind = "xxe"
	KindCSRF            Kind = "csrf"
	KindBot             Kind = "bot"
	KindMaliciousBot    Kind = "malicious_bot"
	KindRateLimit       Kind = "rate_limit"
	KindIPReputation    Kind = "ip_reputation"
	KindHoneypot        Kind = "honeypot"
	KindGeoBlock        Kind = "geo_block"
	KindSchemaViolation Kind = "schema_violation"
	KindBOLA            Kind = "bola"
	KindAdaptiveRule    Kind = "adaptive_rule"
)

// Priority is the fixed tie-break order used when two signals share the
// highest severity. Earlier entries win.
var Priority = []Kind{
	KindHoneypot,
	KindRCE,
	KindSQLInjection,
	KindSSRF,
	KindXXE,
	KindXSS,
	KindMaliciousBot,
	KindPathTraversal,
	KindBOLA,
	KindRateLimit,
	KindIPReputation,
	KindSchemaViolation,
	KindGeoBlock,
	KindAdaptiveRule,
	KindBot,
	KindCSRF,
}

var kindRank = func() map[Kind]int {
	m := make(map[Kind]int, len(Priority))
	for i, k := range Priority {
		m[k] = i
	}
	return m
}()

// Rank returns the tie-break position of k; lower is stronger. Unknown kinds
// rank after every known kind.
func (k Kind) Rank() int {
	if r, ok := kindRank[k]; ok {
		return r
	}
	return len(Priority)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := kindRank[k]
	return ok
}

// Severity is a totally ordered threat level.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityLow || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity converts a case-insensitive name into a Severity.
func ParseSeverity(v string) (Severity, error) {
	n := strings.ToLower(strings.TrimSpace(v))
	for i, name := range severityNames {
		if name == n {
			return Severity(i), nil
		}
	}
	return SeverityLow, fmt.Errorf("unknown severity %q", v)
}

// AtLeastHigh reports whether s is high or critical.
func (s Severity) AtLeastHigh() bool {
	return s >= SeverityHigh
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MaxSeverity returns the larger of a and b.
func MaxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}

// Decoy is the fake response a honeypot hands back instead of the real backend.
type Decoy struct {
	HoneypotID  string `json:"honeypot_id"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// Signal is one detector's evidence about a request.
type Signal struct {
	Kind        Kind     `json:"kind"`
	Severity    Severity `json:"severity"`
	Confidence  float64  `json:"confidence"`
	RuleIDs     []string `json:"rule_ids,omitempty"`
	ShouldBlock bool     `json:"should_block"`
	Action      string   `json:"action,omitempty"`
	Detail      string   `json:"detail,omitempty"`
	Decoy       *Decoy   `json:"decoy,omitempty"`
}

// ClampConfidence bounds c to [0,100].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}

// Verdict is the aggregated decision for one request.
type Verdict struct {
	Severity        Severity `json:"severity"`
	Block           bool     `json:"block"`
	Dominant        Kind     `json:"dominant,omitempty"`
	Signals         []Signal `json:"signals"`
	Recommendations []string `json:"recommendations"`
	Decoy           *Decoy   `json:"decoy,omitempty"`
}

// Has reports whether any signal in the verdict is of kind k.
func (v *Verdict) Has(k Kind) bool {
	for _, s := range v.Signals {
		if s.Kind == k {
			return true
		}
	}
	return false
}

// RequestEvent is the immutable metadata of one inbound request.
type RequestEvent struct {
	ID                 string            `json:"id,omitempty"`
	SourceAddress      string            `json:"source_address"`
	DestinationAddress string            `json:"destination_address,omitempty"`
	UserAgent          string            `json:"user_agent"`
	Method             string            `json:"method"`
	Path               string            `json:"path"`
	Headers            map[string]string `json:"headers,omitempty"`
	Body               string            `json:"body,omitempty"`
	CountryCode        string            `json:"country_code,omitempty"`
	ASN                string            `json:"asn,omitempty"`
	SessionID          string            `json:"session_id,omitempty"`
	DeviceFingerprint  string            `json:"device_fingerprint,omitempty"`
	UserID             string            `json:"user_id,omitempty"`
	ReceivedAt         time.Time         `json:"received_at,omitempty"`
}

// Header looks up a header value ignoring key case.
func (e *RequestEvent) Header(name string) string {
	if e == nil || len(e.Headers) == 0 {
		return ""
	}
	if v, ok := e.Headers[name]; ok {
		return v
	}
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Validate checks the minimum a request needs to be classified.
func (e *RequestEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.SourceAddress) == "" {
		return fmt.Errorf("%w: source address is required", ErrInvalidEvent)
	}
	return nil
}
