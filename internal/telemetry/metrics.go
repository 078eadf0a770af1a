// Package telemetry provides application-level observability for the marketplace.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<GIG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Fraud evaluation outcomes, latency and alert counters
//   - Audit log write and chain verification counters
//   - Recovered background panics
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/projects/:id/bids)
// rather than the raw request URL. Fraud metrics are labelled by action class and
// decision, both closed enumerations.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Fraud evaluation metrics, recorded by the fraud interceptor.
//
// FraudEvaluationsTotal counts every evaluated request by {action_class, decision}.
// Low-risk classes short-circuit and are counted with decision "allow".
//
// Example PromQL queries:
//   - Block rate:             sum(rate(fraud_evaluations_total{decision="block"}[15m]))
//   - Challenges by class:    sum by (action_class) (rate(fraud_evaluations_total{decision="challenge"}[1h]))
//
// FraudEvaluationFailuresTotal counts evaluations that errored or panicked and were
// allowed through. Any sustained increase means the interceptor is running open.
var (
	FraudEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_evaluations_total",
			Help: "Total number of fraud evaluations, by action class and decision.",
		},
		[]string{"action_class", "decision"},
	)

	FraudEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fraud_evaluation_duration_seconds",
			Help:    "Latency of a single fraud evaluation including signal queries.",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	FraudAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fraud_alerts_total",
			Help: "Total number of fraud alerts persisted, by severity.",
		},
		[]string{"severity"},
	)

	FraudEvaluationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fraud_evaluation_failures_total",
			Help: "Total number of fraud evaluations that failed and were allowed through.",
		},
	)
)

// Audit metrics.
//
// AuditLogWritesTotal is labelled by {kind, result} where kind is "state_change"
// or "behavioral" and result is "ok" or "error".
//
// AuditShipmentsTotal is labelled by {shipper, result}: "webhook" or "file",
// "ok" or "error".
//
// AuditChainVerificationsTotal is labelled by {result}: "valid" or "broken".
// Alert on increase(audit_chain_verifications_total{result="broken"}[1h]) > 0.
var (
	AuditLogWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_log_writes_total",
			Help: "Total number of audit log writes, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	AuditShipmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_shipments_total",
			Help: "Total number of audit entries shipped off-database, by shipper and result.",
		},
		[]string{"shipper", "result"},
	)

	AuditChainVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_chain_verifications_total",
			Help: "Total number of full audit chain verifications, by result.",
		},
		[]string{"result"},
	)
)

// BackgroundPanicsTotal counts panics recovered by safego, labelled by task.
// Any increase means a background writer lost work.
var BackgroundPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "background_panics_total",
		Help: "Total number of panics recovered in background goroutines, by task.",
	},
	[]string{"task"},
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when the database becomes unreachable, which happens on shutdown.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
