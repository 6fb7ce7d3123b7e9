package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegate_chat_requests_total",
		Help: "Chat proxy requests by outcome",
	}, []string{"outcome"})

	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitegate_upstream_latency_seconds",
		Help:    "Completion API call latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 12, 16},
	}, []string{"status"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitegate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "code"})

	ConsentEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegate_consent_events_total",
		Help: "Accepted cookie consent events",
	}, []string{"source", "analytics", "marketing"})

	EvidenceDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitegate_consent_evidence_dropped_total",
		Help: "Consent events not persisted because the sink buffer was full",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitegate_rate_limited_total",
		Help: "Requests rejected by rate limiting",
	}, []string{"reason"})
)
