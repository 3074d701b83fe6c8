package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ConsoleAlerter writes alerts to the process log. Used in paper mode and
// as the fallback channel when no other is configured.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a console alerter.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger}
}

// Name returns the name of the alerter.
func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Alert logs the alert at a level matching its severity. The event and slot
// fields, when present, are lifted into the message label.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	attrs := make([]any, 0, len(fields)+2)
	attrs = append(attrs, "severity", severity.String())
	attrs = append(attrs, fields...)

	msg := consoleLabel(fields) + " " + message

	level := slog.LevelInfo
	switch severity {
	case SeverityCritical:
		level = slog.LevelError
	case SeverityHigh, SeverityWarning:
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, msg, attrs...)
	return nil
}

// consoleLabel renders "[ALERT event slot=N]" from the alert fields.
func consoleLabel(fields []any) string {
	var b strings.Builder
	b.WriteString("[ALERT")
	if v, ok := fieldValue(fields, "event"); ok {
		b.WriteString(" " + strings.ToUpper(toString(v)))
	}
	if v, ok := fieldValue(fields, "slot"); ok {
		b.WriteString(" slot=" + toString(v))
	}
	b.WriteString("]")
	return b.String()
}

func fieldValue(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == key {
			return fields[i+1], true
		}
	}
	return nil, false
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
