package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names carried over from the webstore deployment's dashboards
var (
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webstore_rate_limit_exceeded_total",
			Help: "Total number of rate limit violations",
		},
		[]string{"limit_type", "subject_class"},
	)

	SuspiciousActivity = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webstore_security_suspicious_activity_total",
			Help: "Total number of suspicious activity detections",
		},
		[]string{"type"},
	)
)
