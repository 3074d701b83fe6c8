package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct {
	start time.Time
}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{start: time.Now()}
}

// RecordSignal records a signal consumed from a queue.
func (r *Recorder) RecordSignal(queue string) {
	SignalsReceived.WithLabelValues(queue).Inc()
}

// RecordAdmitted records an admitted entry signal.
func (r *Recorder) RecordAdmitted(combo, side string) {
	SignalsAdmitted.WithLabelValues(combo, side).Inc()
}

// RecordSignalRejected records a signal being rejected.
func (r *Recorder) RecordSignalRejected(reason string) {
	SignalsRejected.WithLabelValues(reason).Inc()
}

// RecordOrder records an order outcome.
func (r *Recorder) RecordOrder(kind, action, status string) {
	OrdersTotal.WithLabelValues(kind, action, status).Inc()
}

// RecordOrderRetry records a placement retry.
func (r *Recorder) RecordOrderRetry(kind string) {
	OrderRetries.WithLabelValues(kind).Inc()
}

// RecordFillLatency records time from placement to fill.
func (r *Recorder) RecordFillLatency(kind string, d time.Duration) {
	OrderFillLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordPositionsOpen records the occupied slot count.
func (r *Recorder) RecordPositionsOpen(n int) {
	PositionsOpen.Set(float64(n))
}

// RecordMonitorStarted records a monitor starting.
func (r *Recorder) RecordMonitorStarted() {
	MonitorsRunning.Inc()
}

// RecordMonitorExit records a monitor terminating.
func (r *Recorder) RecordMonitorExit(outcome string) {
	MonitorsRunning.Dec()
	MonitorExits.WithLabelValues(outcome).Inc()
}

// RecordBreach records a breach crossing.
func (r *Recorder) RecordBreach(kind string) {
	Breaches.WithLabelValues(kind).Inc()
}

// RecordTrade records a completed trade metric.
func (r *Recorder) RecordTrade(combo, side string, pnl decimal.Decimal) {
	outcome := "loss"
	if pnl.IsPositive() {
		outcome = "win"
	}
	TradesTotal.WithLabelValues(combo, side, outcome).Inc()
}

// RecordDailyPL records daily profit/loss.
func (r *Recorder) RecordDailyPL(pl decimal.Decimal) {
	DailyPL.Set(pl.InexactFloat64())
}

// RecordAudit records the result of an audit sweep.
func (r *Recorder) RecordAudit(stuck int) {
	StuckOrders.Set(float64(stuck))
}

// RecordReconciled records a record the auditor advanced.
func (r *Recorder) RecordReconciled(kind string) {
	AuditReconciled.WithLabelValues(kind).Inc()
}

// RecordIntervention records an operator command.
func (r *Recorder) RecordIntervention(action, result string) {
	Interventions.WithLabelValues(action, result).Inc()
}

// RecordStoreUnavailable records a store operation that gave up.
func (r *Recorder) RecordStoreUnavailable(op string) {
	StoreUnavailable.WithLabelValues(op).Inc()
}

// RecordHeartbeat records a heartbeat and refreshes uptime.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
	UptimeSeconds.Set(time.Since(r.start).Seconds())
}

// RecordBrokerStatus records broker connection status.
func (r *Recorder) RecordBrokerStatus(connected bool) {
	if connected {
		BrokerConnected.Set(1)
	} else {
		BrokerConnected.Set(0)
	}
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveFill observes the elapsed time as fill latency.
func (t *Timer) ObserveFill(kind string) {
	OrderFillLatency.WithLabelValues(kind).Observe(t.Elapsed().Seconds())
}
