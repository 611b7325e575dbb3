package rules

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

// HoneypotConfig is the stored form of a decoy endpoint.
type HoneypotConfig struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	EndpointPath string `json:"endpoint_path" yaml:"endpoint_path"`
	StatusCode   int    `json:"status_code" yaml:"status_code"`
	ContentType  string `json:"content_type" yaml:"content_type"`
	Response     string `json:"response" yaml:"response"`
	Active       bool   `json:"active" yaml:"active"`
}

// HoneypotRule matches any request whose path contains the decoy endpoint.
type HoneypotRule struct {
	id    string
	path  string
	decoy threat.Decoy
}

// NewHoneypotRule validates cfg.
func NewHoneypotRule(cfg HoneypotConfig) (*HoneypotRule, error) {
	path := strings.TrimSpace(cfg.EndpointPath)
	if path == "" {
		return nil, fmt.Errorf("honeypot %s: endpoint path is required", cfg.ID)
	}
	status := cfg.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	ct := cfg.ContentType
	if ct == "" {
		ct = "application/json"
	}
	return &HoneypotRule{
		id:   cfg.ID,
		path: path,
		decoy: threat.Decoy{
			HoneypotID:  cfg.ID,
			StatusCode:  status,
			ContentType: ct,
			Body:        cfg.Response,
		},
	}, nil
}

func (r *HoneypotRule) RuleID() string { return r.id }
func (r *HoneypotRule) sealed()        {}

// Evaluate uses plain substring containment, not a regex.
func (r *HoneypotRule) Evaluate(ev *threat.RequestEvent) (threat.Signal, bool) {
	if ev == nil || ev.Path == "" || !strings.Contains(ev.Path, r.path) {
		return threat.Signal{}, false
	}
	decoy := r.decoy
	return threat.Signal{
		Kind:        threat.KindHoneypot,
		Severity:    threat.SeverityCritical,
		Confidence:  100,
		RuleIDs:     []string{r.id},
		ShouldBlock: true,
		Detail:      "honeypot endpoint " + r.path,
		Decoy:       &decoy,
	}, true
}
