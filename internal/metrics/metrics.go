package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run Loop metrics
	RunsClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainworker_runs_claimed_total",
			Help: "Total number of runs claimed from the queue",
		},
		[]string{"worker_type"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainworker_runs_completed_total",
			Help: "Total number of runs resolved to a terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainworker_run_duration_seconds",
			Help:    "Time from claim to report-status in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15), // 100ms to ~27min
		},
		[]string{"status"},
	)

	CurrentClaim = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainworker_current_claim",
			Help: "1 while a task claim is active, 0 otherwise",
		},
	)

	// Reclaim Loop metrics
	ReclaimAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainworker_reclaim_attempts_total",
			Help: "Total number of reclaim attempts by result",
		},
		[]string{"result"}, // ok, lease_lost, transient_error
	)

	// Chain-of-Trust metrics
	ChainOfTrustVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainworker_chain_of_trust_verifications_total",
			Help: "Total number of chain-of-trust verifications by result",
		},
		[]string{"result"}, // pass, fail
	)

	// Artifact upload metrics
	ArtifactUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainworker_artifact_uploads_total",
			Help: "Total number of artifact uploads by result",
		},
		[]string{"result"}, // ok, error
	)

	// Task Process metrics
	ChildTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainworker_child_timeouts_total",
			Help: "Total number of task child processes killed for exceeding the deadline",
		},
	)

	ChildKills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainworker_child_kills_total",
			Help: "Total number of task child processes killed before exit, by reason",
		},
		[]string{"reason"}, // watchdog, shutdown
	)

	// Queue client metrics
	QueueGetTaskRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainworker_queue_get_task_retries_total",
			Help: "Total number of GetTask retry attempts",
		},
	)

	// HTTP metrics (admin surface)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainworker_http_request_duration_seconds",
			Help:    "Admin HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainworker_http_requests_total",
			Help: "Total number of admin HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Redis metrics
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainworker_redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
		},
		[]string{"operation"},
	)

	RedisErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainworker_redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"operation"},
	)

	// WebSocket metrics (admin surface event fan-out)
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainworker_websocket_connections",
			Help: "Current number of connected /ws/events clients",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainworker_websocket_messages_total",
			Help: "Total number of lifecycle events fanned out over WebSocket",
		},
		[]string{"type"},
	)
)

// RecordRunClaimed records a successful claim.
func RecordRunClaimed(workerType string) {
	RunsClaimed.WithLabelValues(workerType).Inc()
	CurrentClaim.Set(1)
}

// RecordRunCompleted records a run reaching a terminal status.
func RecordRunCompleted(status string, duration float64) {
	RunsCompleted.WithLabelValues(status).Inc()
	RunDuration.WithLabelValues(status).Observe(duration)
	CurrentClaim.Set(0)
}

// RecordReclaimAttempt records the outcome of one reclaim call.
func RecordReclaimAttempt(result string) {
	ReclaimAttempts.WithLabelValues(result).Inc()
}

// RecordChainOfTrustVerification records a chain-of-trust verification outcome.
func RecordChainOfTrustVerification(result string) {
	ChainOfTrustVerifications.WithLabelValues(result).Inc()
}

// RecordArtifactUpload records an artifact upload attempt outcome.
func RecordArtifactUpload(result string) {
	ArtifactUploads.WithLabelValues(result).Inc()
}

// RecordChildTimeout records a task child process killed for exceeding its deadline.
func RecordChildTimeout() {
	ChildTimeouts.Inc()
}

// RecordChildKill records a task child process killed before exit, by reason.
func RecordChildKill(reason string) {
	ChildKills.WithLabelValues(reason).Inc()
}

// RecordQueueGetTaskRetry records one GetTask retry attempt.
func RecordQueueGetTaskRetry() {
	QueueGetTaskRetries.Inc()
}

// RecordHTTPRequest records an admin HTTP request.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRedisOperation records a Redis operation.
func RecordRedisOperation(operation string, duration float64) {
	RedisOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRedisError records a Redis error.
func RecordRedisError(operation string) {
	RedisErrors.WithLabelValues(operation).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a lifecycle event fanned out over WebSocket.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
