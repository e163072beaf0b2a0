package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts workflow requests by lifecycle status.
	// Labels: status (started, completed, failed)
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "factoryd",
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Total number of workflow requests by status",
		},
		[]string{"status"},
	)

	// requestDuration tracks end-to-end duration of completed runs.
	requestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "factoryd",
			Subsystem: "engine",
			Name:      "request_duration_seconds",
			Help:      "End-to-end duration of completed workflow runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// agentCallsTotal counts collaborator invocations.
	// Labels: agent, result (success, error)
	agentCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "factoryd",
			Subsystem: "engine",
			Name:      "agent_calls_total",
			Help:      "Total number of collaborator calls by agent and result",
		},
		[]string{"agent", "result"},
	)

	// agentCallDuration tracks per-collaborator call latency.
	agentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "factoryd",
			Subsystem: "engine",
			Name:      "agent_call_duration_seconds",
			Help:      "Duration of collaborator calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent"},
	)
)
