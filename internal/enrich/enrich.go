// Package enrich runs the work that follows a verdict: persisting the
// event, raising alerts, anomaly scoring and SIEM export. None of it can
// change a verdict that was already returned.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/dexra46515/apex-app-shield-sub000/internal/models"
	"github.com/dexra46515/apex-app-shield-sub000/internal/reputation"
	"github.com/dexra46515/apex-app-shield-sub000/internal/util"
)

// ErrEnrichmentUnavailable wraps every failure of an external hook.
var ErrEnrichmentUnavailable = errors.New("enrichment unavailable")

const (
	// MaxScorerPayload is how much of the body is sent to the scorer.
	MaxScorerPayload = 2 << 10
	// MaxScorerHeaders and MaxScorerHeaderValue bound the forwarded headers.
	MaxScorerHeaders     = 32
	MaxScorerHeaderValue = 256

	DefaultHighAnomaly   = 70
	DefaultMediumAnomaly = 40
)

// AnomalyRequest is what the scorer sees of a request.
type AnomalyRequest struct {
	SourceAddress string            `json:"source_ip"`
	UserAgent     string            `json:"user_agent"`
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	Headers       map[string]string `json:"headers,omitempty"`
	Payload       string            `json:"payload"`
}

// bounded returns a copy fit to leave the process: sensitive headers are
// dropped, and the header set, header values and payload are capped.
func (r AnomalyRequest) bounded() AnomalyRequest {
	r.Path = util.Truncate(r.Path, MaxScorerHeaderValue*4)
	r.UserAgent = util.Truncate(r.UserAgent, MaxScorerHeaderValue)
	r.Payload = util.Truncate(r.Payload, MaxScorerPayload)
	if len(r.Headers) == 0 {
		return r
	}
	names := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		if !util.SensitiveHeader(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	if len(names) > MaxScorerHeaders {
		names = names[:MaxScorerHeaders]
	}
	headers := make(map[string]string, len(names))
	for _, k := range names {
		headers[k] = util.Truncate(r.Headers[k], MaxScorerHeaderValue)
	}
	r.Headers = headers
	return r
}

// AnomalyScore is the scorer's answer.
type AnomalyScore struct {
	AnomalyScore     float64  `json:"anomaly_score"`
	ThreatDetected   bool     `json:"threat_detected"`
	ThreatCategories []string `json:"threat_categories"`
}

// AnomalyScorer rates how unusual a request is. A nil score with a nil
// error means the scorer has no opinion.
type AnomalyScorer interface {
	Score(ctx context.Context, req AnomalyRequest) (*AnomalyScore, error)
}

// NoopScorer never scores.
type NoopScorer struct{}

func (NoopScorer) Score(context.Context, AnomalyRequest) (*AnomalyScore, error) { return nil, nil }

// HTTPScorer posts requests as JSON to a scoring service.
type HTTPScorer struct {
	URL    string
	client *http.Client
}

func NewHTTPScorer(url string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPScorer{URL: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPScorer) Score(ctx context.Context, req AnomalyRequest) (*AnomalyScore, error) {
	req = req.bounded()
	var out AnomalyScore
	if err := postJSON(ctx, s.client, s.URL, req, &out); err != nil {
		return nil, fmt.Errorf("%w: anomaly scorer: %v", ErrEnrichmentUnavailable, err)
	}
	return &out, nil
}

// Exporter forwards recorded events to an external system.
type Exporter interface {
	Export(ctx context.Context, e *models.SecurityEvent) error
}

type NoopExporter struct{}

func (NoopExporter) Export(context.Context, *models.SecurityEvent) error { return nil }

// HTTPExporter posts each event as JSON to a SIEM collector.
type HTTPExporter struct {
	URL    string
	client *http.Client
}

func NewHTTPExporter(url string, timeout time.Duration) *HTTPExporter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPExporter{URL: url, client: &http.Client{Timeout: timeout}}
}

func (x *HTTPExporter) Export(ctx context.Context, e *models.SecurityEvent) error {
	if err := postJSON(ctx, x.client, x.URL, e, nil); err != nil {
		return fmt.Errorf("%w: siem export: %v", ErrEnrichmentUnavailable, err)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

// EventRecorder persists classified events.
type EventRecorder interface {
	RecordEvent(ctx context.Context, e *models.SecurityEvent) error
	SetAnomalyScore(ctx context.Context, eventUUID string, score float64) error
}

// AlertSink receives raised alerts.
type AlertSink interface {
	CreateAlert(ctx context.Context, a *models.SecurityAlert) error
}

// ReputationMirror copies reputation state somewhere durable.
type ReputationMirror interface {
	Mirror(ctx context.Context, rec reputation.Record) error
}
