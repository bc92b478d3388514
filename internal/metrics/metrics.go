// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP surface
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tether_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Upstream calls (postgrest, auth, llm, stripe)
	UpstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_upstream_calls_total",
			Help: "Outbound calls by upstream service and outcome",
		},
		[]string{"service", "outcome"},
	)

	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tether_upstream_call_duration_seconds",
			Help:    "Outbound call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"service"},
	)

	// Domain counters
	LapsesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_lapse_sessions_created_total",
			Help: "Recovery sessions opened by lapse detection",
		},
	)

	NudgesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_nudges_sent_total",
			Help: "Nudges recorded against open recovery sessions",
		},
	)

	ReportsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_reports_generated_total",
			Help: "AI reports generated by plan",
		},
		[]string{"plan"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_stripe_webhook_events_total",
			Help: "Stripe webhook events by type and disposition",
		},
		[]string{"type", "disposition"},
	)

	GuardEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tether_guard_entries",
			Help: "Entries held in the in-process idempotency and rate-limit maps",
		},
		[]string{"map"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(UpstreamCalls)
	prometheus.MustRegister(UpstreamDuration)
	prometheus.MustRegister(LapsesDetected)
	prometheus.MustRegister(NudgesSent)
	prometheus.MustRegister(ReportsGenerated)
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(GuardEntries)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstream records one outbound call.
func ObserveUpstream(service string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	UpstreamCalls.WithLabelValues(service, outcome).Inc()
	UpstreamDuration.WithLabelValues(service).Observe(time.Since(started).Seconds())
}
