// SPDX-License-Identifier: Apache-2.0
// Package errors provides layer-aware error classification for the answer pipeline.
// See docs/ERROR_HANDLING.md for the taxonomy and the default rule tables.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrInvalidLayer is returned when a layer outside 1..5 is used to classify an error.
var ErrInvalidLayer = stderrors.New("invalid pipeline layer")

// Layer identifies one of the five pipeline stages a request passes through.
type Layer int

const (
	// LayerSystem marks system-wide events that do not belong to a stage.
	LayerSystem Layer = 0

	// LayerInputValidation validates and sanitizes the user's input.
	LayerInputValidation Layer = 1

	// LayerContextMemory loads conversation context and memory.
	LayerContextMemory Layer = 2

	// LayerResponseValidation checks generated answers before delivery.
	LayerResponseValidation Layer = 3

	// LayerFeedbackLearning records feedback and adapts behavior.
	LayerFeedbackLearning Layer = 4

	// LayerQualityAssurance runs final quality checks.
	LayerQualityAssurance Layer = 5
)

// Layers lists the five pipeline stages in order.
var Layers = []Layer{
	LayerInputValidation,
	LayerContextMemory,
	LayerResponseValidation,
	LayerFeedbackLearning,
	LayerQualityAssurance,
}

// Valid reports whether l is one of the five pipeline stages.
func (l Layer) Valid() bool {
	return l >= LayerInputValidation && l <= LayerQualityAssurance
}

// String returns the human name of the layer.
func (l Layer) String() string {
	switch l {
	case LayerSystem:
		return "System"
	case LayerInputValidation:
		return "Input Validation"
	case LayerContextMemory:
		return "Context & Memory"
	case LayerResponseValidation:
		return "Response Validation"
	case LayerFeedbackLearning:
		return "Feedback & Learning"
	case LayerQualityAssurance:
		return "Quality Assurance"
	default:
		return fmt.Sprintf("Layer %d", int(l))
	}
}

// MaxRecoveryAttempts returns how many recovery attempts a failure in this layer may use.
// Early stages fail transiently and are cheap to retry; late stages are not.
func (l Layer) MaxRecoveryAttempts() int {
	switch l {
	case LayerInputValidation:
		return 3
	case LayerContextMemory, LayerResponseValidation, LayerFeedbackLearning:
		return 2
	case LayerQualityAssurance:
		return 1
	default:
		return 0
	}
}

// Impact is the severity of a failure's consequence.
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

// Rank orders impacts from 0 (low) to 3 (critical). Unknown values rank -1.
func (i Impact) Rank() int {
	switch i {
	case ImpactLow:
		return 0
	case ImpactMedium:
		return 1
	case ImpactHigh:
		return 2
	case ImpactCritical:
		return 3
	default:
		return -1
	}
}

// WorseImpact returns the more severe of a and b.
func WorseImpact(a, b Impact) Impact {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Source is where a failure originated, inferred from its message.
type Source string

const (
	SourceClient    Source = "client"
	SourceServer    Source = "server"
	SourceAIService Source = "ai-service"
	SourceDatabase  Source = "database"
	SourceNetwork   Source = "network"
	SourceSystem    Source = "system"
)

// ErrorContext carries the identifiers that tie a failure to a user interaction.
type ErrorContext struct {
	UserID         string         `json:"user_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// LayerError is a classified failure tied to a pipeline layer.
// It implements the error interface and can be unwrapped with errors.As().
type LayerError struct {
	ID                  string
	CorrelationID       string
	Layer               Layer
	LayerName           string
	Message             string
	Err                 error
	Recoverable         bool
	Impact              Impact
	Source              Source
	UserFriendlyMessage string
	TechnicalDetails    string
	RecoveryAttempts    int
	MaxRecoveryAttempts int
	Timestamp           time.Time
	Context             map[string]any
}

// Error implements the error interface.
func (e *LayerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[layer %d %s] %s: %v", int(e.Layer), e.Impact, e.Message, e.Err)
	}
	return fmt.Sprintf("[layer %d %s] %s", int(e.Layer), e.Impact, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *LayerError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging and export.
func (e *LayerError) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		ID                  string         `json:"id"`
		CorrelationID       string         `json:"correlation_id"`
		Layer               int            `json:"layer"`
		LayerName           string         `json:"layer_name"`
		Message             string         `json:"message"`
		Cause               string         `json:"cause,omitempty"`
		Recoverable         bool           `json:"recoverable"`
		Impact              Impact         `json:"impact"`
		Source              Source         `json:"source"`
		UserFriendlyMessage string         `json:"user_friendly_message"`
		TechnicalDetails    string         `json:"technical_details,omitempty"`
		RecoveryAttempts    int            `json:"recovery_attempts"`
		MaxRecoveryAttempts int            `json:"max_recovery_attempts"`
		Timestamp           time.Time      `json:"timestamp"`
		Context             map[string]any `json:"context,omitempty"`
	}{
		ID:                  e.ID,
		CorrelationID:       e.CorrelationID,
		Layer:               int(e.Layer),
		LayerName:           e.LayerName,
		Message:             e.Message,
		Cause:               cause,
		Recoverable:         e.Recoverable,
		Impact:              e.Impact,
		Source:              e.Source,
		UserFriendlyMessage: e.UserFriendlyMessage,
		TechnicalDetails:    e.TechnicalDetails,
		RecoveryAttempts:    e.RecoveryAttempts,
		MaxRecoveryAttempts: e.MaxRecoveryAttempts,
		Timestamp:           e.Timestamp,
		Context:             e.Context,
	})
}

// UnmarshalJSON implements json.Unmarshaler. The cause comes back as a plain
// error carrying the original text.
func (e *LayerError) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID                  string         `json:"id"`
		CorrelationID       string         `json:"correlation_id"`
		Layer               int            `json:"layer"`
		LayerName           string         `json:"layer_name"`
		Message             string         `json:"message"`
		Cause               string         `json:"cause"`
		Recoverable         bool           `json:"recoverable"`
		Impact              Impact         `json:"impact"`
		Source              Source         `json:"source"`
		UserFriendlyMessage string         `json:"user_friendly_message"`
		TechnicalDetails    string         `json:"technical_details"`
		RecoveryAttempts    int            `json:"recovery_attempts"`
		MaxRecoveryAttempts int            `json:"max_recovery_attempts"`
		Timestamp           time.Time      `json:"timestamp"`
		Context             map[string]any `json:"context"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = LayerError{
		ID:                  raw.ID,
		CorrelationID:       raw.CorrelationID,
		Layer:               Layer(raw.Layer),
		LayerName:           raw.LayerName,
		Message:             raw.Message,
		Recoverable:         raw.Recoverable,
		Impact:              raw.Impact,
		Source:              raw.Source,
		UserFriendlyMessage: raw.UserFriendlyMessage,
		TechnicalDetails:    raw.TechnicalDetails,
		RecoveryAttempts:    raw.RecoveryAttempts,
		MaxRecoveryAttempts: raw.MaxRecoveryAttempts,
		Timestamp:           raw.Timestamp,
		Context:             raw.Context,
	}
	if raw.Cause != "" {
		e.Err = stderrors.New(raw.Cause)
	}
	return nil
}

// Clone returns a copy of the error with its own context map.
func (e *LayerError) Clone() *LayerError {
	if e == nil {
		return nil
	}
	c := *e
	if e.Context != nil {
		c.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			c.Context[k] = v
		}
	}
	return &c
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *LayerError) WithContext(key string, value any) *LayerError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// AttemptRecovery consumes one recovery attempt. It returns false, leaving the
// counter untouched, once MaxRecoveryAttempts is reached.
func (e *LayerError) AttemptRecovery() bool {
	if e.RecoveryAttempts >= e.MaxRecoveryAttempts {
		return false
	}
	e.RecoveryAttempts++
	return true
}

// CanRecover reports whether the error is recoverable and has attempts left.
func (e *LayerError) CanRecover() bool {
	return e.Recoverable && e.RecoveryAttempts < e.MaxRecoveryAttempts
}

// ContextString returns a string value from the error context, or "".
func (e *LayerError) ContextString(key string) string {
	if e == nil || e.Context == nil {
		return ""
	}
	if s, ok := e.Context[key].(string); ok {
		return s
	}
	return ""
}

// AsLayerError reports whether err wraps a *LayerError and returns it.
func AsLayerError(err error) (*LayerError, bool) {
	var le *LayerError
	if stderrors.As(err, &le) {
		return le, true
	}
	return nil, false
}
