package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// Tracks health probes against the target service by result. The label
	// set is closed: "up", "starting", "down", "other", or "error" for
	// probes that failed outright.
	HealthProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarder_health_probes_total",
			Help: "Total number of health probes issued, by probe result.",
		},
		[]string{"result"},
	)

	// Tracks per-account onboarding outcomes.
	AccountsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarder_accounts_total",
			Help: "Accounts processed per run, by outcome (onboarded | failed).",
		},
		[]string{"outcome"},
	)

	// Tracks lifecycle events published to the bus.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarder_events_total",
			Help: "Lifecycle events published, by subject and result.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	EventPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboarder_event_publish_latency_seconds",
			Help:    "Time taken to publish lifecycle events.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarder_errors_total",
			Help: "Count of onboarder errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Whole-run duration; the health gate dominates it on cold deployments.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onboarder_run_duration_seconds",
			Help:    "Duration of a full onboarding run in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s → ~17min
		},
	)

	// Gauges the last completed run (seconds since epoch).
	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onboarder_last_run_timestamp",
			Help: "Timestamp (unix seconds) of the last completed run.",
		},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncHealthProbe(result string) {
	HealthProbesTotal.WithLabelValues(result).Inc()
}

func IncAccountOutcome(outcome string) {
	AccountsTotal.WithLabelValues(outcome).Inc()
}

func IncEvent(subject, result string) {
	EventsTotal.WithLabelValues(subject, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func ObserveRunDuration(d time.Duration) {
	RunDuration.Observe(d.Seconds())
	LastRunTimestamp.Set(float64(time.Now().Unix()))
}

// Push delivers the default registry to a Pushgateway. A one-shot task is gone
// before any scraper comes around, so metrics leave by push or not at all.
func Push(gatewayURL, job string) error {
	return push.New(gatewayURL, job).
		Gatherer(prometheus.DefaultGatherer).
		Push()
}
