// Package alerts raises operator-facing notifications for fleet events
// that matter outside the logs: agent lifecycle, realized P&L and order
// rejections. Alerts fan out to every configured channel; a failing
// channel is logged and never blocks the others.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/titanfleet/internal/config"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents an alert message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter defines the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans alerts out to multiple channels
type Manager struct {
	alerters []Alerter
	logger   zerolog.Logger
}

// NewManager creates a new alert manager
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
		logger:   config.NewLogger("alerts"),
	}
}

// Send sends an alert to all configured alerters. Every alerter is
// attempted; the last failure is returned.
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			m.logger.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			lastErr = err
		}
	}

	return lastErr
}

// SendCritical is a convenience method for sending critical alerts
func (m *Manager) SendCritical(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityCritical,
		Metadata: metadata,
	})
}

// SendWarning is a convenience method for sending warning alerts
func (m *Manager) SendWarning(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityWarning,
		Metadata: metadata,
	})
}

// SendInfo is a convenience method for sending info alerts
func (m *Manager) SendInfo(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityInfo,
		Metadata: metadata,
	})
}

// LogAlerter logs alerts using zerolog. It backs every deployment so an
// alert is never silently lost when Telegram is down or unconfigured.
type LogAlerter struct {
	logger zerolog.Logger
}

// NewLogAlerter creates a new log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{logger: config.NewLogger("alerts")}
}

// Send sends an alert by logging it
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	event := l.logger.Log()

	switch alert.Severity {
	case SeverityCritical:
		event = l.logger.Error()
	case SeverityWarning:
		event = l.logger.Warn()
	case SeverityInfo:
		event = l.logger.Info()
	}

	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(fmt.Sprintf("ALERT: %s", alert.Message))

	return nil
}
