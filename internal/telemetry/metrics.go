// Package telemetry provides logging setup and Prometheus metrics for fieldops.
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<FOPS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/teams/:id) rather
// than the raw URL so that ids in the path do not explode label cardinality.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fieldops/fieldops/internal/safego"
)

// HTTP metrics, labelled by method, route template and status code.
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

// Membership lifecycle metrics.
//
// MembershipEventsTotal counts committed membership transitions. The event label is one of
// team_created, team_deleted, member_joined, member_removed, member_left, role_changed,
// ownership_transferred.
//
// InvitationEventsTotal counts invitation outcomes: created, accepted, expired, cancelled,
// and rejected (accept attempts refused for email mismatch, state or membership).
var (
	MembershipEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldops_membership_events_total",
			Help: "Total number of committed team membership transitions, by event.",
		},
		[]string{"event"},
	)

	InvitationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldops_invitation_events_total",
			Help: "Total number of invitation lifecycle outcomes, by event.",
		},
		[]string{"event"},
	)
)

// PolicyDenialsTotal counts requests refused by the authorization gate, by reason.
var PolicyDenialsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fieldops_policy_denials_total",
		Help: "Total number of requests denied by the authorization policy, by reason.",
	},
	[]string{"reason"},
)

// TransactionFailuresTotal counts transactional units that rolled back on a store error
// rather than a domain rule.
var TransactionFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "fieldops_transaction_failures_total",
		Help: "Total number of transactional units rolled back due to store failures.",
	},
)

// ReportEditQuotaRejectionsTotal counts report edits refused because the free edit
// allowance was used up.
var ReportEditQuotaRejectionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "fieldops_report_edit_quota_rejections_total",
		Help: "Total number of report edits rejected by the edit quota.",
	},
)

// RateLimitedTotal counts requests rejected by the rate limiter, by limiter name.
var RateLimitedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fieldops_rate_limited_total",
		Help: "Total number of requests rejected by a rate limiter.",
	},
	[]string{"limiter"},
)

// DBOpenConnections tracks open connections in the sql.DB pool, sampled by
// StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples pool statistics every 30 seconds until ctx is done
// or the database becomes unreachable, which happens once main closes it on shutdown.
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	safego.Every(ctx, "db-stats", 30*time.Second, func() bool {
		if err := db.PingContext(ctx); err != nil {
			slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
			return false
		}
		DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		return true
	})
}
