package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDeliveryTimeout bounds a single channel's delivery.
const DefaultDeliveryTimeout = 5 * time.Second

// Route pairs a channel with the lowest severity it receives.
type Route struct {
	Alerter     Alerter
	MinSeverity Severity
}

// MultiAlerter fans an alert out to every route whose threshold it meets.
// Channels are delivered concurrently, each under its own timeout, so a slow
// chat API cannot hold up the monitor that raised the alert.
type MultiAlerter struct {
	mu      sync.RWMutex
	routes  []Route
	timeout time.Duration
	logger  *slog.Logger
}

// NewMultiAlerter creates a fan-out that sends everything to alerters.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MultiAlerter{timeout: DefaultDeliveryTimeout, logger: logger}
	for _, a := range alerters {
		m.routes = append(m.routes, Route{Alerter: a, MinSeverity: SeverityInfo})
	}
	return m
}

// Name returns the name of the alerter.
func (m *MultiAlerter) Name() string {
	return "multi"
}

// SetTimeout changes the per-channel delivery timeout.
func (m *MultiAlerter) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.timeout = d
	}
}

// AddAlerter adds a channel receiving every severity.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.AddRoute(Route{Alerter: alerter, MinSeverity: SeverityInfo})
}

// AddRoute adds a channel with a severity threshold.
func (m *MultiAlerter) AddRoute(r Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, r)
}

// Alert delivers to every matching route. Failures are joined.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	targets := make([]Alerter, 0, len(m.routes))
	for _, r := range m.routes {
		if severity >= r.MinSeverity {
			targets = append(targets, r.Alerter)
		}
	}
	timeout := m.timeout
	m.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	errCh := make(chan error, len(targets))
	var wg sync.WaitGroup
	for _, a := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := a.Alert(dctx, severity, message, fields...); err != nil {
				m.logger.Error("alert delivery failed",
					"alerter", a.Name(),
					"severity", severity.String(),
					"err", err,
				)
				errCh <- fmt.Errorf("%s: %w", a.Name(), err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AlertEvent sends event with its default severity.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return m.Alert(ctx, EventSeverity(event), message, append(fields, "event", string(event))...)
}
