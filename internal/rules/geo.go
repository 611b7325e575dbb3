package rules

import (
	"fmt"
	"strings"

	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

const (
	RestrictionBlock   = "block"
	RestrictionMonitor = "monitor"
)

// GeoConfig restricts a country, an ASN, or both.
type GeoConfig struct {
	ID              string `json:"id" yaml:"id"`
	CountryCode     string `json:"country_code" yaml:"country_code"`
	ASN             string `json:"asn" yaml:"asn"`
	RestrictionType string `json:"restriction_type" yaml:"restriction_type"`
	Active          bool   `json:"active" yaml:"active"`
}

// GeoRule matches the request country code or ASN.
type GeoRule struct {
	id      string
	country string
	asn     string
	block   bool
}

func normalizeASN(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	return strings.TrimPrefix(v, "AS")
}

// NewGeoRule validates cfg.
func NewGeoRule(cfg GeoConfig) (*GeoRule, error) {
	r := &GeoRule{
		id:      cfg.ID,
		country: strings.ToUpper(strings.TrimSpace(cfg.CountryCode)),
		asn:     normalizeASN(cfg.ASN),
	}
	if r.country == "" && r.asn == "" {
		return nil, fmt.Errorf("geo restriction %s: country code or ASN is required", cfg.ID)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.RestrictionType)) {
	case RestrictionBlock:
		r.block = true
	case RestrictionMonitor, "":
	default:
		return nil, fmt.Errorf("geo restriction %s: unknown restriction type %q", cfg.ID, cfg.RestrictionType)
	}
	return r, nil
}

func (r *GeoRule) RuleID() string { return r.id }
func (r *GeoRule) sealed()        {}

// Evaluate matches on either field. Monitor-only matches never block.
func (r *GeoRule) Evaluate(ev *threat.RequestEvent) (threat.Signal, bool) {
	if ev == nil {
		return threat.Signal{}, false
	}
	countryHit := r.country != "" && strings.EqualFold(ev.CountryCode, r.country)
	asnHit := r.asn != "" && ev.ASN != "" && normalizeASN(ev.ASN) == r.asn
	if !countryHit && !asnHit {
		return threat.Signal{}, false
	}
	sig := threat.Signal{
		Kind:        threat.KindGeoBlock,
		RuleIDs:     []string{r.id},
		ShouldBlock: r.block,
	}
	if r.block {
		sig.Severity, sig.Confidence, sig.Action = threat.SeverityMedium, 90, RestrictionBlock
	} else {
		sig.Severity, sig.Confidence, sig.Action = threat.SeverityLow, 70, RestrictionMonitor
	}
	if countryHit {
		sig.Detail = "country " + r.country
	} else {
		sig.Detail = "ASN " + r.asn
	}
	return sig, true
}
