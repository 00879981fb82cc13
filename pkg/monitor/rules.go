// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"
	"time"

	"github.com/studybuddy/sentinel/pkg/config"
	"github.com/studybuddy/sentinel/pkg/errors"
)

// RuleType is the condition an alert rule evaluates.
type RuleType string

const (
	// RuleErrorRate fires when error events reach Threshold percent of the window.
	RuleErrorRate RuleType = "error_rate"

	// RuleResponseTime fires when the mean event duration reaches Threshold milliseconds.
	RuleResponseTime RuleType = "response_time"

	// RuleSeverity fires when any event in the window has the rule's Severity.
	RuleSeverity RuleType = "severity"

	// RuleCascading fires when cascading events reach Threshold in the window.
	RuleCascading RuleType = "cascading"

	// RuleRecoveryFailure fires when failed recoveries reach Threshold percent.
	RuleRecoveryFailure RuleType = "recovery_failure"
)

// Action is what a firing rule does.
type Action string

const (
	ActionLog         Action = "log"
	ActionNotify      Action = "notify"
	ActionAlert       Action = "alert"
	ActionAutoRecover Action = "auto_recover"
)

// AlertSeverity grades raised alerts.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertError    AlertSeverity = "error"
	AlertCritical AlertSeverity = "critical"
)

// AlertRule is a named condition over a trailing window of events.
type AlertRule struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      RuleType      `json:"type"`
	Threshold float64       `json:"threshold"`
	Window    time.Duration `json:"window"`
	// Severity is the event severity a severity rule matches.
	Severity errors.Impact `json:"severity,omitempty"`
	// Layer restricts the rule to one layer; 0 matches every layer.
	Layer   errors.Layer  `json:"layer,omitempty"`
	Level   AlertSeverity `json:"level"`
	Enabled bool          `json:"enabled"`
	Actions []Action      `json:"actions"`

	TriggerCount  int       `json:"trigger_count"`
	LastTriggered time.Time `json:"last_triggered,omitempty"`
}

// DefaultRules returns the built-in alert rules.
func DefaultRules() []AlertRule {
	return []AlertRule{
		{
			ID: "high-error-rate", Name: "High error rate", Type: RuleErrorRate,
			Threshold: 15, Window: 10 * time.Minute, Level: AlertError, Enabled: true,
			Actions: []Action{ActionLog, ActionNotify, ActionAlert},
		},
		{
			ID: "critical-errors", Name: "Critical errors", Type: RuleSeverity,
			Severity: errors.ImpactCritical, Window: 5 * time.Minute, Level: AlertCritical, Enabled: true,
			Actions: []Action{ActionLog, ActionNotify, ActionAlert, ActionAutoRecover},
		},
		{
			ID: "slow-responses", Name: "Slow responses", Type: RuleResponseTime,
			Threshold: 5000, Window: 5 * time.Minute, Level: AlertWarning, Enabled: true,
			Actions: []Action{ActionLog, ActionAlert},
		},
		{
			ID: "cascading-failures", Name: "Cascading failures", Type: RuleCascading,
			Threshold: 3, Window: 15 * time.Minute, Level: AlertError, Enabled: true,
			Actions: []Action{ActionLog, ActionNotify, ActionAlert},
		},
		{
			ID: "recovery-failures", Name: "Recovery failures", Type: RuleRecoveryFailure,
			Threshold: 50, Window: 30 * time.Minute, Level: AlertWarning, Enabled: true,
			Actions: []Action{ActionLog, ActionAlert},
		},
	}
}

// RulesFromConfig converts configured rules. An empty list yields DefaultRules.
func RulesFromConfig(cfgs []config.RuleConfig) ([]AlertRule, error) {
	if len(cfgs) == 0 {
		return DefaultRules(), nil
	}
	rules := make([]AlertRule, 0, len(cfgs))
	for i, rc := range cfgs {
		r := AlertRule{
			ID:        rc.ID,
			Name:      rc.Name,
			Type:      RuleType(rc.Type),
			Threshold: rc.Threshold,
			Window:    rc.Window,
			Layer:     errors.Layer(rc.Layer),
			Enabled:   !rc.Disabled,
		}
		switch r.Type {
		case RuleErrorRate, RuleResponseTime, RuleSeverity, RuleCascading, RuleRecoveryFailure:
		default:
			return nil, fmt.Errorf("rule %d: unknown type %q", i, rc.Type)
		}
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-%d", r.Type, i)
		}
		if r.Name == "" {
			r.Name = r.ID
		}
		if r.Window <= 0 {
			r.Window = 5 * time.Minute
		}
		if r.Type == RuleSeverity {
			r.Severity = errors.Impact(rc.Severity)
			if r.Severity.Rank() < 0 {
				return nil, fmt.Errorf("rule %s: unknown severity %q", r.ID, rc.Severity)
			}
		}
		r.Level = levelFor(r, rc.Severity)
		for _, a := range rc.Actions {
			switch act := Action(a); act {
			case ActionLog, ActionNotify, ActionAlert, ActionAutoRecover:
				r.Actions = append(r.Actions, act)
			default:
				return nil, fmt.Errorf("rule %s: unknown action %q", r.ID, a)
			}
		}
		if len(r.Actions) == 0 {
			r.Actions = []Action{ActionLog, ActionAlert}
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func levelFor(r AlertRule, severity string) AlertSeverity {
	switch AlertSeverity(severity) {
	case AlertInfo, AlertWarning, AlertError, AlertCritical:
		return AlertSeverity(severity)
	}
	switch r.Type {
	case RuleSeverity:
		if r.Severity == errors.ImpactCritical {
			return AlertCritical
		}
		return AlertError
	case RuleErrorRate, RuleCascading:
		return AlertError
	default:
		return AlertWarning
	}
}

// Evaluate reports whether the rule fires over events at now, and the
// observed value. Events outside the rule's window or layer are ignored.
func (r AlertRule) Evaluate(events []Event, now time.Time) (bool, float64) {
	from := now.Add(-r.Window)
	var (
		total, errs, cascades      int
		timed                      int
		durationSum                time.Duration
		recoveries, failedRecovery int
		severityHit                bool
	)
	for _, ev := range events {
		if ev.Timestamp.Before(from) || ev.Timestamp.After(now) {
			continue
		}
		if r.Layer != errors.LayerSystem && ev.Layer != r.Layer {
			continue
		}
		total++
		switch ev.Type {
		case EventError:
			errs++
		case EventCascading:
			cascades++
		case EventRecovery:
			recoveries++
			if !ev.Resolved {
				failedRecovery++
			}
		}
		if ev.Duration > 0 {
			timed++
			durationSum += ev.Duration
		}
		if r.Severity != "" && ev.Severity == r.Severity {
			severityHit = true
		}
	}

	switch r.Type {
	case RuleErrorRate:
		if total == 0 {
			return false, 0
		}
		rate := float64(errs) * 100 / float64(total)
		return rate >= r.Threshold, rate
	case RuleResponseTime:
		if timed == 0 {
			return false, 0
		}
		mean := float64(durationSum) / float64(timed) / float64(time.Millisecond)
		return mean >= r.Threshold, mean
	case RuleSeverity:
		if severityHit {
			return true, 1
		}
		return false, 0
	case RuleCascading:
		return cascades > 0 && float64(cascades) >= r.Threshold, float64(cascades)
	case RuleRecoveryFailure:
		if recoveries == 0 {
			return false, 0
		}
		rate := float64(failedRecovery) * 100 / float64(recoveries)
		return rate >= r.Threshold, rate
	default:
		return false, 0
	}
}

func (r AlertRule) has(action Action) bool {
	for _, a := range r.Actions {
		if a == action {
			return true
		}
	}
	return false
}
