// Package metrics exposes the broker's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_connections_total",
		Help: "Total sessions established, by kind (agent|dashboard).",
	}, []string{"kind"})

	ConnectionsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "broker_connections_active",
		Help: "Current live sessions, by kind.",
	}, []string{"kind"})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_connections_rejected_total",
		Help: "Rejected upgrade attempts, by reason.",
	}, []string{"reason"})

	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_disconnects_total",
		Help: "Session disconnects, by reason and initiator.",
	}, []string{"reason", "initiated_by"})

	HeartbeatMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_heartbeat_misses_total",
		Help: "Watchdog fires (missed pong), by session kind.",
	}, []string{"kind"})

	HealthChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_health_changes_total",
		Help: "Session health classification transitions.",
	}, []string{"to"})

	HeartbeatLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_heartbeat_latency_seconds",
		Help:    "Measured ping/pong round-trip latency.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5},
	})

	TokensRefreshed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_tokens_refreshed_total",
		Help: "Successful token refreshes.",
	})

	TokenRefreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_token_refresh_failures_total",
		Help: "Failed token refresh attempts.",
	})

	MessagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_routed_total",
		Help: "Inbound messages dispatched by the router, by type and outcome.",
	}, []string{"type", "outcome"})

	TerminalFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_terminal_flushes_total",
		Help: "Terminal stream buffer flushes.",
	})

	TerminalOverflows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_terminal_overflows_total",
		Help: "Terminal stream buffer overflow drops, by stream key class.",
	}, []string{"key_class"})

	TerminalFlushLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_terminal_flush_latency_seconds",
		Help:    "Time from first buffered frame to flush emission.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .2, .3, .5, 1},
	})

	SendBufferSaturation = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_send_buffer_saturation_ratio",
		Help:    "Sampled per-session outbound buffer occupancy ratio.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		DisconnectsTotal,
		HeartbeatMisses,
		HealthChanges,
		HeartbeatLatency,
		TokensRefreshed,
		TokenRefreshFailures,
		MessagesRouted,
		TerminalFlushes,
		TerminalOverflows,
		TerminalFlushLatency,
		SendBufferSaturation,
	)
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
