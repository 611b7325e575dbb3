// Package patterns is the stateless signature library for well-known attack
// classes. Every kind is checked independently; inside one kind the first
// matching pattern decides.
package patterns

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

const (
	// MaxInspectBytes caps how much of a payload is scanned.
	MaxInspectBytes = 64 << 10
	maxDecodePasses = 2
)

// Pattern is a single detection rule for one kind.
type Pattern struct {
	ID    string
	Kind  threat.Kind
	Regex string
}

type outcome struct {
	severity   threat.Severity
	confidence float64
}

// Fixed outcome per kind. The first matching pattern of a kind yields exactly this.
var outcomes = map[threat.Kind]outcome{
	threat.KindSQLInjection:  {threat.SeverityHigh, 90},
	threat.KindXSS:           {threat.SeverityHigh, 85},
	threat.KindPathTraversal: {threat.SeverityMedium, 80},
	threat.KindRCE:           {threat.SeverityCritical, 95},
	threat.KindSSRF:          {threat.SeverityHigh, 95},
	threat.KindXXE:           {threat.SeverityHigh, 90},
}

// kindOrder fixes the order signals are emitted in.
var kindOrder = []threat.Kind{
	threat.KindSQLInjection,
	threat.KindXSS,
	threat.KindPathTraversal,
	threat.KindRCE,
	threat.KindSSRF,
	threat.KindXXE,
}

// DefaultPatterns returns the built-in signature set.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{ID: "sqli-tautology", Kind: threat.KindSQLInjection, Regex: `(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`},
		{ID: "sqli-boolean", Kind: threat.KindSQLInjection, Regex: `(?i)\b(or|and)\b\s+\d+\s*=\s*\d+`},
		{ID: "sqli-union", Kind: threat.KindSQLInjection, Regex: `(?i)\bunion\b.{0,20}\bselect\b`},
		{ID: "sqli-stacked", Kind: threat.KindSQLInjection, Regex: `(?i);\s*(drop|delete|insert|update|truncate|alter)\s+(table|from|into|\w+\s+set)`},
		{ID: "sqli-timing", Kind: threat.KindSQLInjection, Regex: `(?i)\b(sleep|benchmark|pg_sleep|waitfor\s+delay)\s*[\('"]`},
		{ID: "sqli-schema", Kind: threat.KindSQLInjection, Regex: `(?i)\binformation_schema\b|\bsys\.objects\b`},

		{ID: "xss-script", Kind: threat.KindXSS, Regex: `(?i)<\s*script\b`},
		{ID: "xss-js-uri", Kind: threat.KindXSS, Regex: `(?i)javascript\s*:`},
		{ID: "xss-handler", Kind: threat.KindXSS, Regex: `(?i)\bon(error|load|click|mouseover|focus|submit)\s*=`},
		{ID: "xss-embed", Kind: threat.KindXSS, Regex: `(?i)<\s*(iframe|object|embed|svg)\b`},
		{ID: "xss-cookie", Kind: threat.KindXSS, Regex: `(?i)document\.(cookie|location)`},

		{ID: "traversal-dotdot", Kind: threat.KindPathTraversal, Regex: `\.\./|\.\.\\`},
		{ID: "traversal-encoded", Kind: threat.KindPathTraversal, Regex: `(?i)(%2e%2e|%252e%252e)(%2f|%5c|/|\\)`},
		{ID: "traversal-sensitive", Kind: threat.KindPathTraversal, Regex: `(?i)/etc/(passwd|shadow|hosts)|/proc/self/environ|(boot|win)\.ini`},

		{ID: "rce-chain", Kind: threat.KindRCE, Regex: `(?i)(;|\|\|?|&&)\s*(ls|cat|wget|curl|nc|bash|sh|rm|id|whoami|uname|python|perl)\b`},
		{ID: "rce-subshell", Kind: threat.KindRCE, Regex: "(?i)(\\$\\(|`)\\s*(ls|cat|id|wget|curl|nc|sh|bash|rm|whoami|uname|python|perl|ping|echo)\\b"},
		{ID: "rce-jndi", Kind: threat.KindRCE, Regex: `(?i)\$\{jndi:(ldap|rmi|dns|iiop|https?)s?:`},
		{ID: "rce-exec", Kind: threat.KindRCE, Regex: `(?i)\b(eval|exec|system|passthru|shell_exec|popen|proc_open)\s*\(`},

		{ID: "ssrf-internal", Kind: threat.KindSSRF, Regex: `(?i)(https?|gopher|dict|ftp)://(localhost|127\.\d+\.\d+\.\d+|0\.0\.0\.0|10\.\d+\.\d+\.\d+|192\.168\.\d+\.\d+|172\.(1[6-9]|2\d|3[01])\.\d+\.\d+|\[::1\])`},
		{ID: "ssrf-metadata", Kind: threat.KindSSRF, Regex: `(?i)169\.254\.169\.254|metadata\.google\.internal|100\.100\.100\.200`},
		{ID: "ssrf-file", Kind: threat.KindSSRF, Regex: `(?i)\b(file|gopher|dict)://`},

		{ID: "xxe-doctype", Kind: threat.KindXXE, Regex: `(?i)<!DOCTYPE[^>]*\[`},
		{ID: "xxe-entity", Kind: threat.KindXXE, Regex: `(?i)<!ENTITY\s`},
		{ID: "xxe-system", Kind: threat.KindXXE, Regex: `(?i)\bSYSTEM\s+["'](file|https?|ftp|php|expect):`},
	}
}

type compiled struct {
	id string
	re *regexp.Regexp
}

// Library holds the compiled signatures. It is safe for concurrent use.
type Library struct {
	byKind map[threat.Kind][]compiled
}

// New compiles the default signatures followed by any extra ones.
func New(extra ...Pattern) (*Library, error) {
	lib := &Library{byKind: make(map[threat.Kind][]compiled)}
	for _, p := range append(DefaultPatterns(), extra...) {
		if _, ok := outcomes[p.Kind]; !ok {
			return nil, fmt.Errorf("pattern %s: unsupported kind %q", p.ID, p.Kind)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.ID, err)
		}
		lib.byKind[p.Kind] = append(lib.byKind[p.Kind], compiled{id: p.ID, re: re})
	}
	return lib, nil
}

// MustNew is New for the built-in set; it panics on a bad pattern.
func MustNew() *Library {
	lib, err := New()
	if err != nil {
		panic(err)
	}
	return lib
}

// Classify scans path and payload (raw and decoded) and returns at most one
// signal per kind.
func (l *Library) Classify(path, payload string) []threat.Signal {
	if path == "" && payload == "" {
		return nil
	}
	if len(payload) > MaxInspectBytes {
		payload = payload[:MaxInspectBytes]
	}
	candidates := variants(path)
	candidates = append(candidates, variants(payload)...)

	var out []threat.Signal
	for _, kind := range kindOrder {
		if id, ok := l.firstMatch(kind, candidates); ok {
			o := outcomes[kind]
			out = append(out, threat.Signal{
				Kind:       kind,
				Severity:   o.severity,
				Confidence: o.confidence,
				RuleIDs:    []string{id},
			})
		}
	}
	return out
}

func (l *Library) firstMatch(kind threat.Kind, candidates []string) (string, bool) {
	for _, p := range l.byKind[kind] {
		for _, c := range candidates {
			if p.re.MatchString(c) {
				return p.id, true
			}
		}
	}
	return "", false
}

// variants returns s plus its percent- and entity-decoded forms.
func variants(s string) []string {
	if s == "" {
		return nil
	}
	out := []string{s}
	cur := s
	for i := 0; i < maxDecodePasses; i++ {
		next := decodeOnce(cur)
		if next == cur {
			break
		}
		out = append(out, next)
		cur = next
	}
	if h := html.UnescapeString(cur); h != cur {
		out = append(out, h)
	}
	return out
}

func decodeOnce(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}
	if d, err := url.QueryUnescape(s); err == nil {
		return d
	}
	if d, err := url.PathUnescape(s); err == nil {
		return d
	}
	return s
}

var stateChanging = map[string]struct{}{
	"POST":   {},
	"PUT":    {},
	"PATCH":  {},
	"DELETE": {},
}

// CSRFHeaders are accepted as proof of a same-origin request.
var CSRFHeaders = []string{"X-CSRF-Token", "X-XSRF-Token", "X-Requested-With"}

// CheckCSRF flags state-changing requests that carry no anti-CSRF header.
func (l *Library) CheckCSRF(ev *threat.RequestEvent) (threat.Signal, bool) {
	if ev == nil {
		return threat.Signal{}, false
	}
	if _, ok := stateChanging[strings.ToUpper(ev.Method)]; !ok {
		return threat.Signal{}, false
	}
	for _, h := range CSRFHeaders {
		if ev.Header(h) != "" {
			return threat.Signal{}, false
		}
	}
	return threat.Signal{
		Kind:       threat.KindCSRF,
		Severity:   threat.SeverityLow,
		Confidence: 60,
		RuleIDs:    []string{"csrf-missing-token"},
	}, true
}
