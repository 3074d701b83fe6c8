// Package alerting delivers operator alerts for executor events.
package alerting

import (
	"context"
	"fmt"
	"strings"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity parses a configured severity name. Empty means info.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return SeverityInfo, nil
	case "WARNING", "WARN":
		return SeverityWarning, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", s)
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// Field represents a key-value pair for structured alert data.
type Field struct {
	Key   string
	Value any
}

// FormatFields converts variadic fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventBreach is sent when a position crosses its stop-loss or take-profit.
	EventBreach AlertEvent = "breach"
	// EventOrderTimeout is sent when an order is still unfilled at its ceiling.
	EventOrderTimeout AlertEvent = "order_timeout"
	// EventOrderRejected is sent when an order could not be placed.
	EventOrderRejected AlertEvent = "order_rejected"
	// EventStuckOrder is sent when the auditor finds a record it cannot reconcile.
	EventStuckOrder AlertEvent = "stuck_order"
	// EventReconciled is sent when the auditor advances a stuck record.
	EventReconciled AlertEvent = "reconciled"
	// EventMonitorTerminated is sent when a monitor stops without exiting.
	EventMonitorTerminated AlertEvent = "monitor_terminated"
	// EventNoBreachLevels is sent when a filled position has no breach band.
	EventNoBreachLevels AlertEvent = "no_breach_levels"
	// EventSquareOffAll is sent when an operator squares off every position.
	EventSquareOffAll AlertEvent = "square_off_all"
	// EventPositionOpened is sent when an entry fills.
	EventPositionOpened AlertEvent = "position_opened"
	// EventPositionClosed is sent when an exit fills.
	EventPositionClosed AlertEvent = "position_closed"
	// EventDailySummary is sent for daily trading summary.
	EventDailySummary AlertEvent = "daily_summary"
	// EventStoreUnavailable is sent when a store operation exhausts retries.
	EventStoreUnavailable AlertEvent = "store_unavailable"
	// EventConnectionLost is sent when connection is lost.
	EventConnectionLost AlertEvent = "connection_lost"
	// EventConnectionRestored is sent when connection is restored.
	EventConnectionRestored AlertEvent = "connection_restored"
	// EventExecutorStarted is sent when the executor starts.
	EventExecutorStarted AlertEvent = "executor_started"
	// EventExecutorStopped is sent when the executor stops.
	EventExecutorStopped AlertEvent = "executor_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventStuckOrder, EventStoreUnavailable:
		return SeverityCritical
	case EventOrderTimeout, EventMonitorTerminated, EventSquareOffAll, EventNoBreachLevels:
		return SeverityHigh
	case EventOrderRejected, EventConnectionLost, EventBreach:
		return SeverityWarning
	case EventPositionOpened, EventPositionClosed, EventReconciled:
		return SeverityInfo
	case EventDailySummary, EventExecutorStarted, EventExecutorStopped, EventConnectionRestored:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
