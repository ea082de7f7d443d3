// Package metrics provides Prometheus instrumentation for the Skycast
// portal. It exposes counters for login outcomes and guard rejections, a
// counter for session evictions, and a histogram for login latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LoginsTotal counts login attempts, labeled by outcome: "success",
	// "invalid_credentials", "claim_lost", "rate_limited", "locked", or
	// "error".
	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skycast_logins_total",
		Help: "Total number of login attempts by outcome",
	}, []string{"result"})

	// EvictionsTotal counts previous sessions evicted by a new login.
	EvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "skycast_evictions_total",
		Help: "Total number of sessions evicted by a newer login",
	})

	// GuardRejectionsTotal counts protected-route rejections, labeled by
	// the rejection reason tag.
	GuardRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skycast_guard_rejections_total",
		Help: "Total number of requests rejected by the route guard",
	}, []string{"reason"})

	// LoginDuration records end-to-end login handling latency in seconds.
	LoginDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "skycast_login_duration_seconds",
		Help:    "Login handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		LoginsTotal,
		EvictionsTotal,
		GuardRejectionsTotal,
		LoginDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
