package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	classifiedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shield_requests_classified_total",
		Help: "Total number of requests classified by the pipeline",
	})
	blockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shield_requests_blocked_total",
		Help: "Total number of requests whose verdict was block",
	})
	monitoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shield_requests_monitored_total",
		Help: "Total number of requests with signals that were not blocked",
	})
	signalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shield_signals_total",
		Help: "Threat signals emitted, by kind",
	}, []string{"kind"})
	detectorFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shield_detector_failures_total",
		Help: "Detector evaluations that timed out, errored or panicked",
	}, []string{"detector", "reason"})
	configLoadFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shield_config_load_failures_total",
		Help: "Rule set loads that failed, by set",
	}, []string{"set"})
	storeWriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shield_store_write_failures_total",
		Help: "State writes that failed after the verdict was computed",
	}, []string{"store"})
	enrichmentFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shield_enrichment_failures_total",
		Help: "Enrichment hook failures, by hook",
	}, []string{"hook"})
	dispatchDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shield_dispatch_dropped_total",
		Help: "Enrichment jobs dropped because the queue was full",
	})
	classifyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shield_classify_duration_seconds",
		Help:    "Time spent producing a verdict",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
	})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		classifiedTotal, blockedTotal, monitoredTotal, signalsTotal,
		detectorFailures, configLoadFailures, storeWriteFailures,
		enrichmentFailures, dispatchDropped, classifyDuration,
	)
}

// IncClassified increments the classified requests counter.
func IncClassified() { classifiedTotal.Inc() }

// IncBlocked increments the blocked requests counter.
func IncBlocked() { blockedTotal.Inc() }

// IncMonitored increments the monitored requests counter.
func IncMonitored() { monitoredTotal.Inc() }

func IncSignal(kind string) { signalsTotal.WithLabelValues(kind).Inc() }

func IncDetectorFailure(detector, reason string) {
	detectorFailures.WithLabelValues(detector, reason).Inc()
}

func IncConfigLoadFailure(set string) { configLoadFailures.WithLabelValues(set).Inc() }

func IncStoreWriteFailure(store string) { storeWriteFailures.WithLabelValues(store).Inc() }

func IncEnrichmentFailure(hook string) { enrichmentFailures.WithLabelValues(hook).Inc() }

func IncDispatchDropped() { dispatchDropped.Inc() }

// ObserveClassify records a classification latency in seconds.
func ObserveClassify(seconds float64) { classifyDuration.Observe(seconds) }
