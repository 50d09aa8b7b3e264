// Package metrics defines the Prometheus collectors exported by nasalertd on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Alerts is the number of live alerts by level and dismissed state.
	Alerts = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nasalert_alerts",
		Help: "Live alerts by level and dismissed state",
	}, []string{"level", "dismissed"})

	// SourceChecks counts alert source runs by outcome (ok | error).
	SourceChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nasalert_source_checks_total",
		Help: "Alert source checks by source and result",
	}, []string{"source", "result"})

	SourceCheckDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nasalert_source_check_duration_seconds",
		Help:    "Duration of alert source checks",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	// Notifications counts notifier deliveries by outcome (ok | error).
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nasalert_notifications_total",
		Help: "Alert notification deliveries by notifier and result",
	}, []string{"notifier", "result"})

	// IdentityLookups counts identity provider lookups by outcome
	// (hit | not_found | unavailable | error).
	IdentityLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nasalert_identity_lookups_total",
		Help: "Identity provider lookups by provider and result",
	}, []string{"provider", "result"})
)

func init() {
	prometheus.MustRegister(
		Alerts,
		SourceChecks, SourceCheckDuration,
		Notifications,
		IdentityLookups,
	)
}
