package rules

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

// SchemaConfig describes one validated API endpoint.
type SchemaConfig struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	PathPattern       string `json:"path_pattern" yaml:"path_pattern"`
	Method            string `json:"method" yaml:"method"`
	ContentType       string `json:"content_type" yaml:"content_type"`
	Schema            string `json:"schema" yaml:"schema"`
	ValidationEnabled bool   `json:"validation_enabled" yaml:"validation_enabled"`
	Active            bool   `json:"active" yaml:"active"`
}

type bodyFormat int

const (
	formatJSON bodyFormat = iota
	formatXML
	formatForm
)

// jsonShape is the subset of a JSON schema that is enforced.
type jsonShape struct {
	Type     string   `json:"type"`
	Required []string `json:"required"`
}

// SchemaRule checks that a payload parses in the endpoint's declared
// content type.
type SchemaRule struct {
	id      string
	pattern *regexp.Regexp
	method  string
	format  bodyFormat
	shape   jsonShape
}

var paramSegment = regexp.MustCompile(`\\\{[^/]+?\\\}`)

// compilePathPattern turns "/users/{id}/orders/*" into an anchored regex.
// Patterns starting with "^" are used as regexes verbatim.
func compilePathPattern(p string) (*regexp.Regexp, error) {
	if strings.HasPrefix(p, "^") {
		return regexp.Compile(p)
	}
	quoted := regexp.QuoteMeta(p)
	quoted = paramSegment.ReplaceAllString(quoted, `[^/]+`)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	return regexp.Compile("^" + quoted + "$")
}

func parseFormat(ct string) (bodyFormat, error) {
	ct = strings.ToLower(strings.TrimSpace(ct))
	switch {
	case ct == "" || strings.Contains(ct, "json"):
		return formatJSON, nil
	case strings.Contains(ct, "xml"):
		return formatXML, nil
	case strings.Contains(ct, "x-www-form-urlencoded"):
		return formatForm, nil
	}
	return 0, fmt.Errorf("unsupported content type %q", ct)
}

// NewSchemaRule compiles cfg. Disabled validation is reported as an error
// so the caller can skip the entry.
func NewSchemaRule(cfg SchemaConfig) (*SchemaRule, error) {
	if !cfg.ValidationEnabled {
		return nil, fmt.Errorf("api schema %s: validation disabled", cfg.ID)
	}
	if strings.TrimSpace(cfg.PathPattern) == "" {
		return nil, fmt.Errorf("api schema %s: path pattern is required", cfg.ID)
	}
	re, err := compilePathPattern(cfg.PathPattern)
	if err != nil {
		return nil, fmt.Errorf("api schema %s: %w", cfg.ID, err)
	}
	format, err := parseFormat(cfg.ContentType)
	if err != nil {
		return nil, fmt.Errorf("api schema %s: %w", cfg.ID, err)
	}
	r := &SchemaRule{
		id:      cfg.ID,
		pattern: re,
		method:  strings.ToUpper(strings.TrimSpace(cfg.Method)),
		format:  format,
	}
	if format == formatJSON && strings.TrimSpace(cfg.Schema) != "" {
		if err := json.Unmarshal([]byte(cfg.Schema), &r.shape); err != nil {
			return nil, fmt.Errorf("api schema %s: decode schema: %w", cfg.ID, err)
		}
	}
	return r, nil
}

func (r *SchemaRule) RuleID() string { return r.id }
func (r *SchemaRule) sealed()        {}

// Matches reports whether the rule applies to the request line.
func (r *SchemaRule) Matches(method, path string) bool {
	if r.method != "" && r.method != "*" && !strings.EqualFold(r.method, method) {
		return false
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return r.pattern.MatchString(path)
}

// Evaluate never fails: a payload that does not parse is the signal.
// Requests without a body are not checked.
func (r *SchemaRule) Evaluate(ev *threat.RequestEvent) (threat.Signal, bool) {
	if ev == nil || !r.Matches(ev.Method, ev.Path) || strings.TrimSpace(ev.Body) == "" {
		return threat.Signal{}, false
	}
	err := r.validate(ev.Body)
	if err == nil {
		return threat.Signal{}, false
	}
	return threat.Signal{
		Kind:       threat.KindSchemaViolation,
		Severity:   threat.SeverityMedium,
		Confidence: 85,
		RuleIDs:    []string{r.id},
		Detail:     err.Error(),
	}, true
}

func (r *SchemaRule) validate(body string) error {
	switch r.format {
	case formatXML:
		dec := xml.NewDecoder(strings.NewReader(body))
		sawElement := false
		for {
			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				if !sawElement {
					return errors.New("xml: no root element")
				}
				return nil
			}
			if err != nil {
				return fmt.Errorf("xml: %w", err)
			}
			if _, ok := tok.(xml.StartElement); ok {
				sawElement = true
			}
		}
	case formatForm:
		if _, err := url.ParseQuery(body); err != nil {
			return fmt.Errorf("form: %w", err)
		}
		return nil
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return fmt.Errorf("json: %w", err)
	}
	if r.shape.Type == "object" || len(r.shape.Required) > 0 {
		obj, ok := doc.(map[string]any)
		if !ok {
			return errors.New("json: expected object")
		}
		for _, field := range r.shape.Required {
			if _, ok := obj[field]; !ok {
				return fmt.Errorf("json: missing required field %q", field)
			}
		}
	}
	return nil
}
