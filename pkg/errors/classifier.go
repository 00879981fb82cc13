// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Context keys copied from ErrorContext into LayerError.Context.
const (
	ContextUserID         = "user_id"
	ContextSessionID      = "session_id"
	ContextConversationID = "conversation_id"
)

// Classifier turns raw failures into LayerErrors using ordered rule tables.
type Classifier struct {
	recoverability []Rule[bool]
	impact         []Rule[Impact]
	sources        []Rule[Source]
	messages       map[Layer][]Rule[string]
	defaults       map[Layer]string
	logger         *slog.Logger
	now            func() time.Time
	newID          func() string
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithLogger sets the logger that receives every classified error.
func WithLogger(logger *slog.Logger) ClassifierOption {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) ClassifierOption {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// WithImpactRules replaces the impact rule table.
func WithImpactRules(rules []Rule[Impact]) ClassifierOption {
	return func(c *Classifier) {
		c.impact = rules
	}
}

// WithRecoverabilityRules replaces the recoverability rule table.
func WithRecoverabilityRules(rules []Rule[bool]) ClassifierOption {
	return func(c *Classifier) {
		c.recoverability = rules
	}
}

// WithSourceRules replaces the source rule table.
func WithSourceRules(rules []Rule[Source]) ClassifierOption {
	return func(c *Classifier) {
		c.sources = rules
	}
}

// WithUserMessages replaces the per-layer user message rules.
func WithUserMessages(messages map[Layer][]Rule[string]) ClassifierOption {
	return func(c *Classifier) {
		c.messages = messages
	}
}

// NewClassifier creates a Classifier with the default rule tables.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		recoverability: DefaultRecoverabilityRules,
		impact:         DefaultImpactRules,
		sources:        DefaultSourceRules,
		messages:       DefaultUserMessages,
		defaults:       DefaultLayerMessages,
		logger:         slog.Default(),
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify builds a LayerError for a failure in the given layer.
// It returns ErrInvalidLayer when layer is not one of the five pipeline stages.
func (c *Classifier) Classify(ctx context.Context, layer Layer, message string, cause error, ec ErrorContext) (*LayerError, error) {
	if !layer.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLayer, int(layer))
	}

	text := normalize(message, cause)
	correlationID := ec.CorrelationID
	if correlationID == "" {
		correlationID = c.newID()
	}

	le := &LayerError{
		ID:                  c.newID(),
		CorrelationID:       correlationID,
		Layer:               layer,
		LayerName:           layer.String(),
		Message:             message,
		Err:                 cause,
		Recoverable:         c.Recoverable(text),
		Impact:              c.ImpactOf(layer, text),
		Source:              c.SourceOf(text),
		UserFriendlyMessage: c.UserMessage(layer, text),
		TechnicalDetails:    technicalDetails(message, cause),
		MaxRecoveryAttempts: layer.MaxRecoveryAttempts(),
		Timestamp:           c.now(),
		Context:             contextMap(ec),
	}

	c.log(ctx, le)
	return le, nil
}

// MustClassify is like Classify but panics on an invalid layer.
func (c *Classifier) MustClassify(ctx context.Context, layer Layer, message string, cause error, ec ErrorContext) *LayerError {
	le, err := c.Classify(ctx, layer, message, cause, ec)
	if err != nil {
		panic(err)
	}
	return le
}

// FromError converts an arbitrary error into a LayerError. Errors that already
// are LayerErrors pass through; one missing a correlation ID comes back as a
// copy carrying ec's. An invalid layer falls back to quality assurance, the
// last stage a failure can surface from.
func (c *Classifier) FromError(ctx context.Context, layer Layer, err error, ec ErrorContext) *LayerError {
	if err == nil {
		return nil
	}
	if le, ok := AsLayerError(err); ok {
		if le.CorrelationID == "" && ec.CorrelationID != "" {
			le = le.Clone()
			le.CorrelationID = ec.CorrelationID
		}
		return le
	}
	if !layer.Valid() {
		layer = LayerQualityAssurance
	}
	le, _ := c.Classify(ctx, layer, err.Error(), err, ec)
	return le
}

// Recoverable reports whether retrying a failure with this text is worthwhile.
func (c *Classifier) Recoverable(text string) bool {
	if v, ok := Evaluate(c.recoverability, strings.ToLower(text)); ok {
		return v
	}
	return true
}

// ImpactOf ranks the failure text for the given layer.
func (c *Classifier) ImpactOf(layer Layer, text string) Impact {
	if v, ok := Evaluate(c.impact, strings.ToLower(text)); ok {
		return v
	}
	if layer == LayerQualityAssurance {
		return ImpactMedium
	}
	return ImpactLow
}

// SourceOf infers the origin of the failure text.
func (c *Classifier) SourceOf(text string) Source {
	if v, ok := Evaluate(c.sources, strings.ToLower(text)); ok {
		return v
	}
	return SourceSystem
}

// UserMessage returns the layer-prefixed message shown to users.
func (c *Classifier) UserMessage(layer Layer, text string) string {
	msg, ok := Evaluate(c.messages[layer], strings.ToLower(text))
	if !ok {
		msg = c.defaults[layer]
	}
	if msg == "" {
		msg = "Something went wrong. Please try again."
	}
	return layer.String() + ": " + msg
}

func (c *Classifier) log(ctx context.Context, le *LayerError) {
	level := slog.LevelWarn
	if le.Impact == ImpactHigh || le.Impact == ImpactCritical {
		level = slog.LevelError
	}
	c.logger.LogAttrs(ctx, level, "errors.layer.classified",
		slog.String("error_id", le.ID),
		slog.String("correlation_id", le.CorrelationID),
		slog.Int("layer", int(le.Layer)),
		slog.String("layer_name", le.LayerName),
		slog.String("impact", string(le.Impact)),
		slog.String("source", string(le.Source)),
		slog.Bool("recoverable", le.Recoverable),
		slog.Int("max_recovery_attempts", le.MaxRecoveryAttempts),
		slog.String("message", le.Message),
		slog.String("user_id", le.ContextString(ContextUserID)),
		slog.String("session_id", le.ContextString(ContextSessionID)),
		slog.String("conversation_id", le.ContextString(ContextConversationID)),
	)
}

func normalize(message string, cause error) string {
	text := message
	if cause != nil && cause.Error() != message {
		text += " " + cause.Error()
	}
	return strings.ToLower(text)
}

func technicalDetails(message string, cause error) string {
	if cause == nil {
		return message
	}
	return fmt.Sprintf("%s (%T: %v)", message, cause, cause)
}

func contextMap(ec ErrorContext) map[string]any {
	m := make(map[string]any, len(ec.Metadata)+3)
	for k, v := range ec.Metadata {
		m[k] = v
	}
	if ec.UserID != "" {
		m[ContextUserID] = ec.UserID
	}
	if ec.SessionID != "" {
		m[ContextSessionID] = ec.SessionID
	}
	if ec.ConversationID != "" {
		m[ContextConversationID] = ec.ConversationID
	}
	return m
}
