// Package metrics provides Prometheus instrumentation for the moderation
// service: pipeline decisions and latency, external classifier health,
// report intake, status escalations and the best-effort decision log.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ModerationDecisions counts screening outcomes, labeled by outcome:
	// "approved", "rejected", or "error" (fail-closed).
	ModerationDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_decisions_total",
		Help: "Total number of moderation decisions",
	}, []string{"outcome"})

	// ModerationReasons counts rejection reasons.
	ModerationReasons = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_reasons_total",
		Help: "Total number of times each rejection reason was produced",
	}, []string{"reason"})

	// ModerationLatency records end-to-end Moderate latency in seconds.
	ModerationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "moderation_latency_seconds",
		Help:    "Moderation pipeline latency in seconds",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 3, 5},
	})

	// ClassifierCalls counts external classifier outcomes:
	// "ok", "error", "timeout", or "disabled".
	ClassifierCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_classifier_calls_total",
		Help: "External classifier calls by outcome",
	}, []string{"outcome"})

	// ReportsTotal counts report submissions by result: "accepted",
	// "duplicate", "rate_limited", "invalid", or "error".
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_reports_total",
		Help: "Report submissions by result",
	}, []string{"result"})

	// StatusTransitions counts content status changes by target status.
	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_status_transitions_total",
		Help: "Content status escalations by target status",
	}, []string{"to"})

	// LogEntriesDropped counts decision log entries that were never stored,
	// labeled by cause: "buffer_full", "closed", or "store_error".
	LogEntriesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_log_dropped_total",
		Help: "Moderation log entries dropped",
	}, []string{"cause"})

	// LiveFeedSubscribers tracks the number of connected live report feed
	// sockets.
	LiveFeedSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "moderation_live_feed_subscribers",
		Help: "Current number of live report feed subscribers",
	})
)

func init() {
	prometheus.MustRegister(
		ModerationDecisions,
		ModerationReasons,
		ModerationLatency,
		ClassifierCalls,
		ReportsTotal,
		StatusTransitions,
		LogEntriesDropped,
		LiveFeedSubscribers,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
