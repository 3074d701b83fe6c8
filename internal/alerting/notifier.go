package alerting

import (
	"context"
	"log/slog"
)

// Notifier sends predefined events through an Alerter, dropping events the
// configuration disabled. Delivery failures are logged, never returned: an
// alert must not interrupt order handling. A nil *Notifier is a no-op.
type Notifier struct {
	alerter Alerter
	enabled func(event string) bool
	logger  *slog.Logger
}

// NewNotifier creates a notifier. A nil enabled func enables every event.
func NewNotifier(alerter Alerter, enabled func(event string) bool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if enabled == nil {
		enabled = func(string) bool { return true }
	}
	return &Notifier{alerter: alerter, enabled: enabled, logger: logger}
}

// Notify sends event with its default severity.
func (n *Notifier) Notify(ctx context.Context, event AlertEvent, message string, fields ...any) {
	if n == nil || n.alerter == nil || !n.enabled(string(event)) {
		return
	}
	fields = append(fields, "event", string(event))
	if err := n.alerter.Alert(ctx, EventSeverity(event), message, fields...); err != nil {
		n.logger.Warn("failed to send alert", "event", event, "err", err)
	}
}
