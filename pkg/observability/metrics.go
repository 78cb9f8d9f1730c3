// Package observability exposes Prometheus collectors for sync runs.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coach_sync"

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "total",
		Help:      "Sync runs by provider and terminal status.",
	}, []string{"provider", "status"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "duration_seconds",
		Help:      "Wall time of sync runs.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"provider"})

	outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "records",
		Name:      "outcomes_total",
		Help:      "Per-record sync outcomes.",
	}, []string{"provider", "action"})

	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oauth",
		Name:      "refreshes_total",
		Help:      "Refresh-token exchanges by result.",
	}, []string{"provider", "result"})

	fetchPages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fetch",
		Name:      "pages_total",
		Help:      "Provider list pages by result.",
	}, []string{"provider", "result"})

	webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound webhook deliveries by result.",
	}, []string{"provider", "result"})

	lastRunTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "last_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent completed run.",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(runsTotal, runDuration, outcomesTotal, tokenRefreshes, fetchPages, webhookEvents, lastRunTimestamp)
}

// RecordRun counts a finished run and its duration.
func RecordRun(provider, status string, elapsed time.Duration) {
	runsTotal.WithLabelValues(provider, status).Inc()
	runDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	lastRunTimestamp.WithLabelValues(provider).Set(float64(time.Now().Unix()))
}

func RecordOutcome(provider, action string) {
	outcomesTotal.WithLabelValues(provider, action).Inc()
}

func RecordTokenRefresh(provider, result string) {
	tokenRefreshes.WithLabelValues(provider, result).Inc()
}

func RecordFetchPage(provider, result string) {
	fetchPages.WithLabelValues(provider, result).Inc()
}

func RecordWebhookEvent(provider, result string) {
	webhookEvents.WithLabelValues(provider, result).Inc()
}
