package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueued tracks jobs accepted by the work queue
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_jobs_enqueued_total",
			Help: "Total number of translation jobs enqueued",
		},
		[]string{"shop", "resource_type"},
	)

	// JobsCoalesced tracks enqueues folded into an existing pending job
	JobsCoalesced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_jobs_coalesced_total",
			Help: "Total number of enqueues coalesced into an existing job",
		},
		[]string{"shop"},
	)

	// JobsFinished tracks terminal job outcomes
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"shop", "state"},
	)

	// JobRetries tracks in-queue retries of transient failures
	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_job_retries_total",
			Help: "Total number of job retries after transient failures",
		},
		[]string{"kind"},
	)

	// ExecutorLatency tracks translation executor call latency
	ExecutorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transync_executor_latency_seconds",
			Help:    "Translation executor call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"resource_type", "outcome"},
	)

	// QueueDepth tracks jobs waiting for dispatch
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transync_queue_depth",
			Help: "Number of queued jobs waiting for dispatch",
		},
	)

	// ActiveJobs tracks jobs currently executing per shop
	ActiveJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transync_active_jobs",
			Help: "Number of jobs currently executing",
		},
		[]string{"shop"},
	)

	// SkipDecisions tracks skip engine verdicts
	SkipDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_skip_decisions_total",
			Help: "Total number of skip engine decisions",
		},
		[]string{"action", "reason"},
	)

	// ChangesDetected tracks content changes seen by the version tracker
	ChangesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_changes_detected_total",
			Help: "Total number of detected content changes",
		},
		[]string{"shop", "kind"},
	)

	// SessionTransitions tracks session state machine transitions
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_session_transitions_total",
			Help: "Total number of session state transitions",
		},
		[]string{"from", "to"},
	)

	// FailuresClassified tracks diagnosed failures by kind
	FailuresClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_failures_classified_total",
			Help: "Total number of classified failures",
		},
		[]string{"kind"},
	)

	// RecoveryAttempts tracks auto-recovery strategy executions
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_recovery_attempts_total",
			Help: "Total number of recovery attempts",
		},
		[]string{"strategy", "outcome"},
	)

	// CacheRequests tracks cache lookups
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_cache_requests_total",
			Help: "Total number of cache lookups",
		},
		[]string{"cache", "result"},
	)

	// TelemetryEvents tracks pipeline telemetry events
	TelemetryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transync_telemetry_events_total",
			Help: "Total number of pipeline telemetry events",
		},
		[]string{"event"},
	)

	// HealthStatus reports the last health verdict per shop (0 healthy, 1 degraded, 2 critical)
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transync_health_status",
			Help: "Last system health verdict per shop",
		},
		[]string{"shop"},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transync_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
