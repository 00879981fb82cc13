// SPDX-License-Identifier: Apache-2.0
// Package correlation groups related layer errors under one correlation ID
// and derives the system state of each group.
package correlation

import (
	"sort"
	"time"

	"github.com/studybuddy/sentinel/pkg/errors"
)

// SystemState summarizes the worst condition seen in a correlation.
type SystemState string

const (
	StateHealthy  SystemState = "healthy"
	StateDegraded SystemState = "degraded"
	StateFailed   SystemState = "failed"
	StateUnknown  SystemState = "unknown"
)

// ResolutionStrategy is the follow-up chosen for a correlation's state.
type ResolutionStrategy string

const (
	ResolveEscalate ResolutionStrategy = "escalate"
	ResolveFallback ResolutionStrategy = "fallback"
	ResolveRetry    ResolutionStrategy = "retry"
	ResolveMonitor  ResolutionStrategy = "monitor"
)

// RecentWindow is how recently an error must have occurred for a correlation
// without high or critical errors to count as still unsettled.
const RecentWindow = 5 * time.Minute

// Correlation is a primary error plus the cascade errors that followed it.
type Correlation struct {
	ID                 string               `json:"id"`
	Seq                uint64               `json:"seq"`
	Timestamp          time.Time            `json:"timestamp"`
	UpdatedAt          time.Time            `json:"updated_at"`
	UserID             string               `json:"user_id,omitempty"`
	SessionID          string               `json:"session_id,omitempty"`
	ConversationID     string               `json:"conversation_id,omitempty"`
	LayersInvolved     []errors.Layer       `json:"layers_involved"`
	PrimaryError       *errors.LayerError   `json:"primary_error"`
	CascadeErrors      []*errors.LayerError `json:"cascade_errors"`
	SystemState        SystemState          `json:"system_state"`
	ResolutionStrategy ResolutionStrategy   `json:"resolution_strategy"`
}

// RecoveryAttempt records one recovery try against a correlation.
type RecoveryAttempt struct {
	CorrelationID string        `json:"correlation_id"`
	Strategy      string        `json:"strategy"`
	Success       bool          `json:"success"`
	Duration      time.Duration `json:"duration"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Errors returns the primary error followed by the cascade errors.
func (c *Correlation) Errors() []*errors.LayerError {
	out := make([]*errors.LayerError, 0, 1+len(c.CascadeErrors))
	if c.PrimaryError != nil {
		out = append(out, c.PrimaryError)
	}
	return append(out, c.CascadeErrors...)
}

// Cascading reports whether the correlation spans two or more layers.
func (c *Correlation) Cascading() bool {
	return len(c.LayersInvolved) >= 2
}

// Clone returns a deep copy.
func (c *Correlation) Clone() *Correlation {
	if c == nil {
		return nil
	}
	out := *c
	out.LayersInvolved = append([]errors.Layer(nil), c.LayersInvolved...)
	out.PrimaryError = c.PrimaryError.Clone()
	out.CascadeErrors = make([]*errors.LayerError, len(c.CascadeErrors))
	for i, le := range c.CascadeErrors {
		out.CascadeErrors[i] = le.Clone()
	}
	return &out
}

// refresh recomputes the derived fields from the member errors.
func (c *Correlation) refresh(now time.Time) {
	c.LayersInvolved = LayersOf(c.Errors())
	c.SystemState = DeriveState(c.Errors(), now)
	c.ResolutionStrategy = StrategyFor(c.SystemState)
}

// LayersOf returns the sorted distinct layers of errs.
func LayersOf(errs []*errors.LayerError) []errors.Layer {
	seen := make(map[errors.Layer]struct{}, len(errs))
	layers := make([]errors.Layer, 0, len(errs))
	for _, le := range errs {
		if le == nil {
			continue
		}
		if _, ok := seen[le.Layer]; ok {
			continue
		}
		seen[le.Layer] = struct{}{}
		layers = append(layers, le.Layer)
	}
	sort.Slice(layers, func(i, j int) bool { return layers[i] < layers[j] })
	return layers
}

// DeriveState classifies a group of errors: any critical error means failed,
// any high error means degraded, no error within RecentWindow means healthy,
// otherwise unknown.
func DeriveState(errs []*errors.LayerError, now time.Time) SystemState {
	var high, recent bool
	for _, le := range errs {
		if le == nil {
			continue
		}
		switch le.Impact {
		case errors.ImpactCritical:
			return StateFailed
		case errors.ImpactHigh:
			high = true
		}
		if now.Sub(le.Timestamp) < RecentWindow {
			recent = true
		}
	}
	switch {
	case high:
		return StateDegraded
	case !recent:
		return StateHealthy
	default:
		return StateUnknown
	}
}

// StrategyFor maps a system state to its resolution strategy.
func StrategyFor(state SystemState) ResolutionStrategy {
	switch state {
	case StateFailed:
		return ResolveEscalate
	case StateDegraded:
		return ResolveFallback
	case StateHealthy:
		return ResolveMonitor
	default:
		return ResolveRetry
	}
}
