// Package botdetect classifies clients by their user-agent string.
package botdetect

import (
	"strings"

	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

// MaliciousAgents are offensive tools; a hit short-circuits the generic tier.
var MaliciousAgents = []string{
	"sqlmap", "nikto", "acunetix", "nmap", "masscan", "nessus", "zgrab",
	"dirbuster", "gobuster", "nuclei", "wpscan", "havij", "hydra", "w3af",
	"openvas", "zmeu", "metasploit", "fimap", "commix", "arachni",
}

// GenericAgents are benign or unknown automation tokens.
var GenericAgents = []string{
	"bot", "crawler", "spider", "scraper", "scrapy", "curl", "wget",
	"python-requests", "python-urllib", "go-http-client", "httpclient",
	"java/", "libwww", "headless", "phantomjs", "okhttp",
}

// Classifier matches user agents against the two tiers.
type Classifier struct {
	malicious []string
	generic   []string
}

// New builds a Classifier from the built-in lists plus any extra malicious tokens.
func New(extraMalicious ...string) *Classifier {
	c := &Classifier{}
	for _, t := range append(append([]string{}, MaliciousAgents...), extraMalicious...) {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			c.malicious = append(c.malicious, t)
		}
	}
	c.generic = append(c.generic, GenericAgents...)
	return c
}

// Classify returns a bot signal for userAgent, if any. An empty agent is not evidence.
func (c *Classifier) Classify(userAgent string) (threat.Signal, bool) {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return threat.Signal{}, false
	}
	for _, t := range c.malicious {
		if strings.Contains(ua, t) {
			return threat.Signal{
				Kind:        threat.KindMaliciousBot,
				Severity:    threat.SeverityCritical,
				Confidence:  95,
				RuleIDs:     []string{"bot-tool-" + t},
				ShouldBlock: true,
			}, true
		}
	}
	for _, t := range c.generic {
		if strings.Contains(ua, t) {
			return threat.Signal{
				Kind:       threat.KindBot,
				Severity:   threat.SeverityLow,
				Confidence: 70,
				RuleIDs:    []string{"bot-generic-" + strings.TrimSuffix(t, "/")},
			}, true
		}
	}
	return threat.Signal{}, false
}
