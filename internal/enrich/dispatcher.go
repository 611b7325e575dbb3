package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dexra46515/apex-app-shield-sub000/internal/logger"
	"github.com/dexra46515/apex-app-shield-sub000/internal/metrics"
	"github.com/dexra46515/apex-app-shield-sub000/internal/models"
	"github.com/dexra46515/apex-app-shield-sub000/internal/reputation"
	"github.com/dexra46515/apex-app-shield-sub000/internal/rules"
	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
	"github.com/dexra46515/apex-app-shield-sub000/internal/util"
)

var alertTitles = map[threat.Kind]string{
	threat.KindHoneypot:        "Honeypot endpoint accessed",
	threat.KindRCE:             "Remote code execution attempt",
	threat.KindSQLInjection:    "SQL injection attempt",
	threat.KindSSRF:            "Server-side request forgery attempt",
	threat.KindXXE:             "XML external entity attempt",
	threat.KindXSS:             "Cross-site scripting attempt",
	threat.KindMaliciousBot:    "Malicious scanner detected",
	threat.KindPathTraversal:   "Path traversal attempt",
	threat.KindBOLA:            "Object-level authorization abuse",
	threat.KindRateLimit:       "Rate limit exceeded",
	threat.KindIPReputation:    "Low-reputation source",
	threat.KindSchemaViolation: "API schema violation",
	threat.KindGeoBlock:        "Restricted origin",
	threat.KindAdaptiveRule:    "Adaptive rule triggered",
	threat.KindBot:             "Automated client detected",
	threat.KindCSRF:            "Missing CSRF token",
}

// AlertTitle names an alert after the dominant signal kind.
func AlertTitle(k threat.Kind) string {
	if t, ok := alertTitles[k]; ok {
		return t
	}
	return "Suspicious request"
}

// Job is everything the workers need about one classified request.
type Job struct {
	Event      *threat.RequestEvent
	Verdict    threat.Verdict
	Triggers   []rules.Trigger
	Reputation *reputation.Record
}

// Config sizes the dispatcher.
type Config struct {
	QueueSize     int
	Workers       int
	JobTimeout    time.Duration
	HighAnomaly   float64
	MediumAnomaly float64
}

// Deps are the sinks a dispatcher writes to. Nil members are skipped.
type Deps struct {
	Events     EventRecorder
	Alerts     []AlertSink
	Scorer     AnomalyScorer
	Exporter   Exporter
	Triggers   rules.TriggerRecorder
	Reputation ReputationMirror
}

// Dispatcher runs enrichment jobs on a fixed worker pool fed by a bounded
// queue. When the queue is full new jobs are dropped.
type Dispatcher struct {
	cfg  Config
	deps Deps

	mu     sync.RWMutex
	closed bool
	jobs   chan Job
	wg     sync.WaitGroup
}

func NewDispatcher(cfg Config, deps Deps) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Second
	}
	if cfg.HighAnomaly <= 0 {
		cfg.HighAnomaly = DefaultHighAnomaly
	}
	if cfg.MediumAnomaly <= 0 {
		cfg.MediumAnomaly = DefaultMediumAnomaly
	}
	if deps.Scorer == nil {
		deps.Scorer = NoopScorer{}
	}
	if deps.Exporter == nil {
		deps.Exporter = NoopExporter{}
	}
	d := &Dispatcher{cfg: cfg, deps: deps, jobs: make(chan Job, cfg.QueueSize)}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.run(job)
	}
}

// Submit queues job without blocking. It reports false when the job was
// dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Submit(job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.jobs <- job:
		return true
	default:
		metrics.IncDispatchDropped()
		logger.Component("enrich").WithField("queue_size", d.cfg.QueueSize).Warn("enrichment queue full, job dropped")
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish or ctx
// to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(job Job) {
	log := logger.Component("enrich")
	if job.Event != nil {
		log = log.WithFields(logrus.Fields{
			"request_id": job.Event.ID,
			"source_ip":  util.SanitizeForLog(job.Event.SourceAddress),
		})
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.IncEnrichmentFailure("panic")
			log.WithField("panic", fmt.Sprint(r)).Error("enrichment job panicked")
		}
	}()
	if job.Event == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.JobTimeout)
	defer cancel()

	rec := EventRecord(job.Event, job.Verdict)
	if d.deps.Events != nil {
		if err := d.deps.Events.RecordEvent(ctx, rec); err != nil {
			metrics.IncStoreWriteFailure("security_event")
			log.WithError(err).Warn("failed to record security event")
		}
	}

	if d.deps.Triggers != nil {
		for _, t := range job.Triggers {
			if err := d.deps.Triggers.RecordTrigger(ctx, t); err != nil {
				metrics.IncStoreWriteFailure("adaptive_rule")
				log.WithError(err).WithField("rule_id", t.RuleID).Warn("failed to persist adaptive rule trigger")
			}
		}
	}

	if d.deps.Reputation != nil && job.Reputation != nil {
		if err := d.deps.Reputation.Mirror(ctx, *job.Reputation); err != nil {
			metrics.IncStoreWriteFailure("reputation_mirror")
			log.WithError(err).Warn("failed to mirror reputation")
		}
	}

	if job.Verdict.Severity.AtLeastHigh() || job.Verdict.Has(threat.KindHoneypot) {
		d.alert(ctx, log, PipelineAlert(rec, job.Verdict))
	}

	score, err := d.deps.Scorer.Score(ctx, scorerRequest(job.Event))
	if err != nil {
		metrics.IncEnrichmentFailure("anomaly_scorer")
		log.WithError(err).Warn("anomaly scoring failed")
	} else if score != nil {
		if d.deps.Events != nil {
			if err := d.deps.Events.SetAnomalyScore(ctx, rec.UUID, score.AnomalyScore); err != nil {
				log.WithError(err).Debug("failed to attach anomaly score")
			}
		}
		if a := AnomalyAlert(rec, score, d.cfg.HighAnomaly, d.cfg.MediumAnomaly); a != nil {
			d.alert(ctx, log, a)
		}
	}

	if err := d.deps.Exporter.Export(ctx, rec); err != nil {
		metrics.IncEnrichmentFailure("siem_export")
		log.WithError(err).Warn("siem export failed")
	}
}

func (d *Dispatcher) alert(ctx context.Context, log *logrus.Entry, a *models.SecurityAlert) {
	for _, sink := range d.deps.Alerts {
		// each sink gets its own copy; sinks may assign ids
		cp := *a
		if err := sink.CreateAlert(ctx, &cp); err != nil {
			metrics.IncEnrichmentFailure("alert_sink")
			log.WithError(err).Warn("alert sink failed")
		}
	}
}

// EventRecord converts a classified request into its stored form.
func EventRecord(ev *threat.RequestEvent, v threat.Verdict) *models.SecurityEvent {
	created := ev.ReceivedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &models.SecurityEvent{
		UUID:            uuid.NewString(),
		RequestID:       ev.ID,
		SourceAddress:   ev.SourceAddress,
		Method:          ev.Method,
		Path:            ev.Path,
		UserAgent:       ev.UserAgent,
		CountryCode:     ev.CountryCode,
		Severity:        v.Severity.String(),
		Blocked:         v.Block,
		Dominant:        string(v.Dominant),
		Signals:         v.Signals,
		Recommendations: v.Recommendations,
		CreatedAt:       created,
	}
}

// PipelineAlert builds the alert for a high-severity or honeypot verdict.
func PipelineAlert(rec *models.SecurityEvent, v threat.Verdict) *models.SecurityAlert {
	kind := v.Dominant
	if v.Has(threat.KindHoneypot) {
		kind = threat.KindHoneypot
	}
	details := make([]string, 0, len(v.Signals))
	for _, s := range v.Signals {
		details = append(details, fmt.Sprintf("%s/%s", s.Kind, s.Severity))
	}
	return &models.SecurityAlert{
		EventUUID:     rec.UUID,
		Title:         AlertTitle(kind),
		Severity:      v.Severity.String(),
		Kind:          string(kind),
		Source:        models.AlertSourcePipeline,
		SourceAddress: rec.SourceAddress,
		EventCount:    1,
		Details:       strings.Join(details, ", "),
	}
}

// AnomalyAlert returns an alert when the score crosses a threshold: above
// high is a high alert, from medium up to high is a medium alert.
func AnomalyAlert(rec *models.SecurityEvent, score *AnomalyScore, high, medium float64) *models.SecurityAlert {
	var sev threat.Severity
	switch {
	case score.AnomalyScore > high:
		sev = threat.SeverityHigh
	case score.AnomalyScore >= medium:
		sev = threat.SeverityMedium
	default:
		return nil
	}
	return &models.SecurityAlert{
		EventUUID:     rec.UUID,
		Title:         "Anomalous request behaviour",
		Severity:      sev.String(),
		Kind:          "anomaly",
		Source:        models.AlertSourceAnomaly,
		SourceAddress: rec.SourceAddress,
		EventCount:    1,
		Details: fmt.Sprintf("score %.1f, categories: %s",
			score.AnomalyScore, strings.Join(score.ThreatCategories, ", ")),
	}
}

func scorerRequest(ev *threat.RequestEvent) AnomalyRequest {
	req := AnomalyRequest{
		SourceAddress: ev.SourceAddress,
		UserAgent:     ev.UserAgent,
		Method:        ev.Method,
		Path:          ev.Path,
		Headers:       ev.Headers,
		Payload:       ev.Body,
	}
	return req.bounded()
}
