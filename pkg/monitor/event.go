// SPDX-License-Identifier: Apache-2.0
// Package monitor keeps the bounded event log of the answer pipeline,
// evaluates alert rules on every event and aggregates metrics and layer health.
package monitor

import (
	"time"

	"github.com/studybuddy/sentinel/pkg/errors"
)

// EventType classifies a monitoring event.
type EventType string

const (
	EventError     EventType = "error"
	EventWarning   EventType = "warning"
	EventInfo      EventType = "info"
	EventRecovery  EventType = "recovery"
	EventTimeout   EventType = "timeout"
	EventCascading EventType = "cascading"
)

// Event is a log record. Once stored only Resolved and ResolutionTime change.
type Event struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Type           EventType      `json:"type"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	Layer          errors.Layer   `json:"layer"`
	Severity       errors.Impact  `json:"severity"`
	Message        string         `json:"message"`
	SessionID      string         `json:"session_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Duration       time.Duration  `json:"duration,omitempty"`
	RetryCount     int            `json:"retry_count,omitempty"`
	Resolved       bool           `json:"resolved"`
	ResolutionTime time.Time      `json:"resolution_time,omitempty"`
	Source         errors.Source  `json:"source,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// TimeRange bounds a metrics query. Zero bounds are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// LastHour returns the range covering the hour before now.
func LastHour(now time.Time) TimeRange {
	return TimeRange{From: now.Add(-time.Hour), To: now}
}

// Contains reports whether t lies within the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

func (e Event) clone() Event {
	if e.Metadata != nil {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}
