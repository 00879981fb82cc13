// SPDX-License-Identifier: Apache-2.0
// Package feedback collects user feedback tied to correlation IDs, routes it
// by type and priority, and computes cached analytics.
package feedback

import (
	"time"

	"github.com/studybuddy/sentinel/pkg/errors"
)

// Type is the kind of feedback.
type Type string

const (
	TypeErrorReport  Type = "error_report"
	TypeSatisfaction Type = "satisfaction"
	TypeSuggestion   Type = "suggestion"
	TypeGeneral      Type = "general"
)

// Category is the area the feedback is about.
type Category string

const (
	CategoryAccuracy    Category = "accuracy"
	CategoryPerformance Category = "performance"
	CategoryUsability   Category = "usability"
	CategoryContent     Category = "content"
	CategoryTechnical   Category = "technical"
	CategoryOther       Category = "other"
)

// Priority orders feedback for triage.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// DefaultPriority is used when a submission names none.
const DefaultPriority = PriorityMedium

// Rank orders priorities from 0 (low) to 3 (critical). Unknown values rank -1.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityMedium:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return -1
	}
}

// Status is the triage state of feedback.
type Status string

const (
	StatusNew          Status = "new"
	StatusAcknowledged Status = "acknowledged"
	StatusInProgress   Status = "in_progress"
	StatusResolved     Status = "resolved"
	StatusClosed       Status = "closed"
)

// CanTransition reports whether feedback may move from s to next. Feedback
// moves forward one step at a time and can be closed from any open state.
func (s Status) CanTransition(next Status) bool {
	if s == StatusClosed {
		return false
	}
	if next == StatusClosed {
		return true
	}
	switch s {
	case StatusNew:
		return next == StatusAcknowledged
	case StatusAcknowledged:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusResolved
	default:
		return false
	}
}

// Tags added by routing.
const (
	TagAutoEscalated    = "auto_escalated"
	TagLowSatisfaction  = "low_satisfaction"
	TagFollowUpRequired = "follow_up_required"
)

// ErrorHandlingAssignee owns auto-escalated error reports.
const ErrorHandlingAssignee = "error-handling-system"

// StatusChange is one entry of the feedback audit trail.
type StatusChange struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	By        string    `json:"by"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Feedback is a stored submission.
type Feedback struct {
	ID             string         `json:"id"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Type           Type           `json:"type"`
	Category       Category       `json:"category"`
	Priority       Priority       `json:"priority"`
	Status         Status         `json:"status"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Rating         int            `json:"rating,omitempty"`
	Layer          errors.Layer   `json:"layer,omitempty"`
	Tags           []string       `json:"tags"`
	AssignedTo     string         `json:"assigned_to,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ResolvedAt     time.Time      `json:"resolved_at,omitempty"`
	ResolutionTime time.Duration  `json:"resolution_time,omitempty"`
	History        []StatusChange `json:"history,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// HasTag reports whether the feedback carries tag.
func (f *Feedback) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (f *Feedback) addTag(tag string) {
	if !f.HasTag(tag) {
		f.Tags = append(f.Tags, tag)
	}
}

// Clone returns a deep copy.
func (f *Feedback) Clone() *Feedback {
	if f == nil {
		return nil
	}
	c := *f
	c.Tags = append([]string(nil), f.Tags...)
	c.History = append([]StatusChange(nil), f.History...)
	if f.Metadata != nil {
		c.Metadata = make(map[string]any, len(f.Metadata))
		for k, v := range f.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Submission is the user-provided part of a feedback record.
type Submission struct {
	Type        Type           `json:"type" validate:"required,oneof=error_report satisfaction suggestion general"`
	Category    Category       `json:"category" validate:"omitempty,oneof=accuracy performance usability content technical other"`
	Priority    Priority       `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Title       string         `json:"title" validate:"required,max=200"`
	Description string         `json:"description" validate:"max=5000"`
	Rating      int            `json:"rating" validate:"gte=0,lte=5"`
	Layer       int            `json:"layer" validate:"gte=0,lte=5"`
	Tags        []string       `json:"tags" validate:"max=20,dive,max=50"`
	Metadata    map[string]any `json:"metadata"`
}
