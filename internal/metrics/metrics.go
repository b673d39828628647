// Package metrics wraps htcpd's Prometheus collectors and exposes an HTTP
// handler for the debug /metrics endpoint (spec §6 ambient stack).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector htcpd reports.
type Registry struct {
	ActiveConnections  prometheus.Gauge
	ConnectionsAdmitted prometheus.Counter
	ConnectionsRejected prometheus.Counter

	TransactionsTotal       *prometheus.CounterVec
	TransactionDuration     *prometheus.HistogramVec
	CoercionFailuresTotal   prometheus.Counter

	ActiveSubscriptions prometheus.Gauge
	SubscriptionsTotal  *prometheus.CounterVec

	NotifyQueueDepth prometheus.Gauge
	NotifyOnlineUsers prometheus.Gauge

	ProcessCPUPercent prometheus.Gauge
	ProcessRSSBytes   prometheus.Gauge
}

// NewRegistry creates and registers htcpd's Prometheus collectors against
// the default registry.
func NewRegistry() *Registry {
	return &Registry{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "htcp_connections_active",
			Help: "Number of live HTCP connections.",
		}),
		ConnectionsAdmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "htcp_connections_admitted_total",
			Help: "Total number of connections accepted and admitted.",
		}),
		ConnectionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "htcp_connections_rejected_total",
			Help: "Total number of connections rejected for exceeding max_connections.",
		}),
		TransactionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "htcp_transactions_total",
			Help: "Total number of transaction calls, by outcome.",
		}, []string{"transaction", "outcome"}),
		TransactionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "htcp_transaction_duration_seconds",
			Help:    "Transaction handler latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"transaction"}),
		CoercionFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "htcp_argument_coercion_failures_total",
			Help: "Total number of transaction/subscription argument coercion failures.",
		}),
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "htcp_subscriptions_active",
			Help: "Number of live subscription streams.",
		}),
		SubscriptionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "htcp_subscriptions_total",
			Help: "Total number of subscriptions opened, by event type.",
		}, []string{"event_type"}),
		NotifyQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "htcp_notify_queue_depth",
			Help: "Number of queued-but-undelivered events in the notify mailbox most recently written to.",
		}),
		NotifyOnlineUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "htcp_notify_online_users",
			Help: "Number of distinct users with at least one live notify subscription.",
		}),
		ProcessCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "htcp_process_cpu_percent",
			Help: "Smoothed process CPU usage percentage, sampled via gopsutil.",
		}),
		ProcessRSSBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "htcp_process_rss_bytes",
			Help: "Resident set size of the htcpd process in bytes, sampled via gopsutil.",
		}),
	}
}

// Handler returns an HTTP handler exposing the Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
