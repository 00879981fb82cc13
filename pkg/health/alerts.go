// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/notify"
)

var (
	// ErrAlertNotFound is returned for an unknown alert ID.
	ErrAlertNotFound = stderrors.New("alert not found")

	// ErrAlertResolved is returned when changing an alert that is already resolved.
	ErrAlertResolved = stderrors.New("alert already resolved")
)

// AlertSeverity grades alerts.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// AlertAction is one entry of an alert's audit log.
type AlertAction struct {
	Action    string    `json:"action" yaml:"action"`
	By        string    `json:"by" yaml:"by"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Alert is raised by a health check or forwarded from the event monitor.
// It moves from new to acknowledged to resolved; resolution is terminal.
type Alert struct {
	ID             string        `json:"id" yaml:"id"`
	Severity       AlertSeverity `json:"severity" yaml:"severity"`
	Title          string        `json:"title" yaml:"title"`
	Message        string        `json:"message" yaml:"message"`
	Origin         string        `json:"origin" yaml:"origin"`
	Layer          errors.Layer  `json:"layer,omitempty" yaml:"layer,omitempty"`
	Metric         string        `json:"metric,omitempty" yaml:"metric,omitempty"`
	Timestamp      time.Time     `json:"timestamp" yaml:"timestamp"`
	Acknowledged   bool          `json:"acknowledged" yaml:"acknowledged"`
	Resolved       bool          `json:"resolved" yaml:"resolved"`
	ResolutionTime time.Time     `json:"resolution_time,omitempty" yaml:"resolution_time,omitempty"`
	Actions        []AlertAction `json:"actions" yaml:"actions"`
}

func (a Alert) clone() Alert {
	a.Actions = append([]AlertAction(nil), a.Actions...)
	return a
}

// Raise records an alert from another component, such as the event monitor,
// and sends it to the notifier when critical.
func (m *Monitor) Raise(ctx context.Context, severity AlertSeverity, origin, title, message string, layer errors.Layer) Alert {
	m.mu.Lock()
	a := m.raiseLocked(severity, origin, title, message, layer, "", m.clock.Now())
	m.mu.Unlock()
	m.announce(ctx, []Alert{a})
	return a
}

// raiseLocked appends a new alert and prunes the oldest past capacity.
// Caller holds m.mu.
func (m *Monitor) raiseLocked(severity AlertSeverity, origin, title, message string, layer errors.Layer, metric string, now time.Time) Alert {
	a := Alert{
		ID:        m.newID(),
		Severity:  severity,
		Title:     title,
		Message:   message,
		Origin:    origin,
		Layer:     layer,
		Metric:    metric,
		Timestamp: now,
		Actions:   []AlertAction{{Action: "created", By: origin, Timestamp: now}},
	}
	m.alerts = append(m.alerts, a)
	if over := len(m.alerts) - m.alertCap; over > 0 {
		m.alerts = append([]Alert(nil), m.alerts[over:]...)
	}
	return a.clone()
}

// announce records and forwards raised alerts. It must not hold m.mu.
func (m *Monitor) announce(ctx context.Context, alerts []Alert) {
	for _, a := range alerts {
		m.metrics.RecordAlert(ctx, string(a.Severity), a.Origin)
		if !m.notifyOn || a.Severity != SeverityCritical {
			continue
		}
		err := m.notifier.Notify(ctx, notify.Notification{
			ID:        a.ID,
			Severity:  string(a.Severity),
			Title:     a.Title,
			Message:   a.Message,
			Source:    a.Origin,
			Layer:     int(a.Layer),
			Timestamp: a.Timestamp,
			Metadata:  map[string]any{"metric": a.Metric},
		})
		if err != nil {
			m.logger.LogAttrs(ctx, slog.LevelWarn, "health.notify.failed",
				slog.String("alert_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Acknowledge marks an alert acknowledged by by.
func (m *Monitor) Acknowledge(ctx context.Context, id, by string) (Alert, error) {
	return m.update(ctx, id, func(a *Alert, now time.Time) {
		a.Acknowledged = true
		a.Actions = append(a.Actions, AlertAction{Action: "acknowledged", By: by, Timestamp: now})
	})
}

// Resolve marks an alert resolved by by, stamping the resolution time.
func (m *Monitor) Resolve(ctx context.Context, id, by, note string) (Alert, error) {
	return m.update(ctx, id, func(a *Alert, now time.Time) {
		a.Resolved = true
		a.ResolutionTime = now
		a.Actions = append(a.Actions, AlertAction{Action: "resolved", By: by, Note: note, Timestamp: now})
	})
}

func (m *Monitor) update(ctx context.Context, id string, fn func(*Alert, time.Time)) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		a := &m.alerts[i]
		if a.ID != id {
			continue
		}
		if a.Resolved {
			return a.clone(), fmt.Errorf("%w: %s", ErrAlertResolved, id)
		}
		fn(a, m.clock.Now())
		m.logger.LogAttrs(ctx, slog.LevelInfo, "health.alert.updated",
			slog.String("alert_id", id),
			slog.String("action", a.Actions[len(a.Actions)-1].Action),
		)
		return a.clone(), nil
	}
	return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// ActiveAlerts returns the unresolved alerts, oldest first.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.alerts {
		if !a.Resolved {
			out = append(out, a.clone())
		}
	}
	return out
}

// Alerts returns every retained alert, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	for i, a := range m.alerts {
		out[i] = a.clone()
	}
	return out
}

// Alert returns one alert by ID.
func (m *Monitor) Alert(id string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			return a.clone(), nil
		}
	}
	return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

func (m *Monitor) activeCountLocked() int {
	n := 0
	for _, a := range m.alerts {
		if !a.Resolved {
			n++
		}
	}
	return n
}
