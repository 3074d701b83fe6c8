// Package metrics provides Prometheus metrics and health endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "executor"

var (
	// SignalsReceived counts signals popped from each queue.
	SignalsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_received_total",
		Help:      "Signals consumed per queue.",
	}, []string{"queue"})

	// SignalsAdmitted counts entry signals that were given a slot.
	SignalsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_admitted_total",
		Help:      "Entry signals admitted.",
	}, []string{"combo", "side"})

	// SignalsRejected counts entry signals rejected by admission.
	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signals_rejected_total",
		Help:      "Entry signals rejected, by reason.",
	}, []string{"reason"})

	// OrdersTotal counts order outcomes.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Orders by kind, action and outcome.",
	}, []string{"kind", "action", "status"})

	// OrderRetries counts placement retries.
	OrderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_retries_total",
		Help:      "Order placement retries.",
	}, []string{"kind"})

	// OrderFillLatency measures time from placement to full fill.
	OrderFillLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_fill_latency_seconds",
		Help:      "Time from placement to full fill.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 750},
	}, []string{"kind"})

	// PositionsOpen is the number of occupied slots.
	PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "positions_open",
		Help:      "Occupied position slots.",
	})

	// MonitorsRunning is the number of live exit monitors.
	MonitorsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "monitors_running",
		Help:      "Live exit monitors.",
	})

	// MonitorExits counts monitor terminations by outcome.
	MonitorExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "monitor_exits_total",
		Help:      "Exit monitor terminations by outcome.",
	}, []string{"outcome"})

	// Breaches counts stop-loss and take-profit crossings.
	Breaches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "breaches_total",
		Help:      "Breach level crossings.",
	}, []string{"kind"})

	// TradesTotal counts closed trades.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_total",
		Help:      "Closed trades by combo, side and outcome.",
	}, []string{"combo", "side", "outcome"})

	// DailyPL is the day's net P&L as last computed by admission.
	DailyPL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daily_pnl",
		Help:      "Net P&L of the current trading day.",
	})

	// StuckOrders is the number of records the last audit sweep flagged.
	StuckOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stuck_orders",
		Help:      "Records pending past the staleness bound at the last audit.",
	})

	// AuditReconciled counts records the auditor advanced.
	AuditReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_reconciled_total",
		Help:      "Records reconciled by the auditor.",
	}, []string{"kind"})

	// Interventions counts applied operator commands.
	Interventions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "interventions_total",
		Help:      "Operator commands by action and result.",
	}, []string{"action", "result"})

	// StoreUnavailable counts store operations that exhausted retries.
	StoreUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_unavailable_total",
		Help:      "Store operations that failed after all retries.",
	}, []string{"op"})

	// BrokerConnected is 1 while the gateway is connected.
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "broker_connected",
		Help:      "Gateway connection status.",
	})

	// HeartbeatTimestamp is the unix time of the last supervisor sweep.
	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix time of the last supervisor sweep.",
	})

	// UptimeSeconds is the process uptime.
	UptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Process uptime.",
	})

	// ErrorsTotal counts errors by type.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type.",
	}, []string{"type"})

	// BuildInfo carries version labels.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "commit", "build_date"})
)

// SetBuildInfo publishes build labels.
func SetBuildInfo(version, commit, buildDate string) {
	BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
