package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., policygate_...).
const namespace = "policygate"

// lowLatencyBuckets covers in-process rule execution, which is usually sub-millisecond.
// Range: 0.1ms to 500ms.
var lowLatencyBuckets = []float64{.0001, .0005, .001, .002, .005, .010, .025, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// HTTP
	// -------------------------------------------------------------------------

	// HTTPReqDuration measures the latency of HTTP requests.
	// Metric: policygate_http_handling_seconds
	HTTPReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "handling_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// HTTPReqTotal counts the total number of HTTP requests.
	// Metric: policygate_http_requests_total
	HTTPReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "route", "code"})

	// -------------------------------------------------------------------------
	// GATEWAY
	// -------------------------------------------------------------------------

	// GatewayRequestsTotal counts dispatched requests by handler and response status.
	// Metric: policygate_gateway_requests_total
	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Total requests processed by the gateway",
	}, []string{"handler", "code"})

	// GatewayHandlerDuration measures handler method latency (rules excluded).
	GatewayHandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "handler_seconds",
		Help:      "Time spent inside handler methods",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler"})

	// -------------------------------------------------------------------------
	// RULE ENGINE
	// -------------------------------------------------------------------------

	// RuleExecutionsTotal counts rule executions by type and outcome (pass, fail, error).
	// Metric: policygate_rule_engine_executions_total
	RuleExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rule_engine",
		Name:      "executions_total",
		Help:      "Total rule executions",
	}, []string{"type", "outcome"})

	// RuleExecutionDuration measures single rule latency.
	RuleExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rule_engine",
		Name:      "execution_seconds",
		Help:      "Time taken to execute a single rule",
		Buckets:   lowLatencyBuckets,
	}, []string{"type"})

	// RegisteredRules reports the number of rules currently registered.
	RegisteredRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rule_engine",
		Name:      "registered_rules",
		Help:      "Current number of registered rules",
	})

	// ContextConflictsTotal counts context keys a later rule tried to overwrite.
	ContextConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rule_engine",
		Name:      "context_conflicts_total",
		Help:      "Total context data keys rejected because an earlier rule owned them",
	})

	// -------------------------------------------------------------------------
	// RATE LIMIT COUNTERS
	// -------------------------------------------------------------------------

	// RateLimitDecisionsTotal counts rate limit decisions by backend and result.
	RateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "decisions_total",
		Help:      "Total rate limit decisions",
	}, []string{"result"}) // allowed, limited

	// CounterStoreErrors counts failed counter store operations.
	CounterStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "store_errors_total",
		Help:      "Total counter store errors",
	}, []string{"backend"})

	// MemoryCounterKeys reports the number of live in-memory counter windows.
	MemoryCounterKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "memory_keys_count",
		Help:      "Current number of counter windows held in memory",
	})

	// -------------------------------------------------------------------------
	// DATABASE POOL
	// -------------------------------------------------------------------------

	// DBPoolConnections reports pgxpool connections by state (total, idle, in_use, max).
	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Database pool connections by state",
	}, []string{"state"})

	// DBPoolAcquireCount mirrors the pool's cumulative successful acquires.
	DBPoolAcquireCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Cumulative successful connection acquires",
	})

	// DBPoolAcquireDuration mirrors the pool's cumulative time spent acquiring.
	DBPoolAcquireDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring connections",
	})

	// DBPoolWaitCount mirrors the pool's cumulative acquires that had to wait.
	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Cumulative acquires that waited for a free connection",
	})

	// -------------------------------------------------------------------------
	// AUDIT
	// -------------------------------------------------------------------------

	// AuditRecordsTotal counts audit records by sink and status (written, failed, dropped).
	AuditRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "records_total",
		Help:      "Total audit records handled by sinks",
	}, []string{"sink", "status"})

	// AuditQueueDepth reports records waiting in the buffered sink.
	AuditQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "queue_depth",
		Help:      "Current number of audit records waiting to be persisted",
	})
)
