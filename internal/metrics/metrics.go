// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keybridge_http_requests_total",
			Help: "HTTP requests served, by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keybridge_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Remote sharing server
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keybridge_remote_requests_total",
			Help: "Calls to the remote sharing server, by operation and outcome",
		},
		[]string{"operation", "outcome"}, // outcome: ok, remote_error, transport_error, rejected
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keybridge_remote_request_duration_seconds",
			Help:    "Latency of calls to the remote sharing server in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "keybridge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Key lifecycle
	KeysIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keybridge_keys_issued_total",
			Help: "Analysis keys newly issued by the remote server and stored locally",
		},
	)

	KeysReused = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keybridge_keys_reused_total",
			Help: "Key requests answered with an existing active key",
		},
	)

	KeysMarkedUsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keybridge_keys_marked_used_total",
			Help: "Analysis keys moved to the used status locally",
		},
	)

	RemoteMirrorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keybridge_remote_mirror_failures_total",
			Help: "Best-effort remote calls that failed after the local write committed",
		},
		[]string{"operation"},
	)

	KeysCleanedUp = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keybridge_keys_cleaned_up_total",
			Help: "Expired analysis keys removed from the local store",
		},
	)

	SnapshotsShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keybridge_snapshots_shared_total",
			Help: "Session snapshots accepted by the remote server",
		},
	)
)
