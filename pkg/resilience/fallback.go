// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/studybuddy/sentinel/pkg/errors"
)

var (
	// ErrCacheMiss is returned by a cached fallback without a usable value.
	ErrCacheMiss = stderrors.New("no cached value available")

	// ErrUnknownFallback is returned for a fallback with an unset or unknown kind.
	ErrUnknownFallback = stderrors.New("unknown fallback kind")
)

// FallbackKind is the closed set of fallback variants.
type FallbackKind string

const (
	// FallbackStatic returns a fixed value.
	FallbackStatic FallbackKind = "static"

	// FallbackCached returns a previously stored value from a lookup.
	FallbackCached FallbackKind = "cached"

	// FallbackAlternate runs an alternate operation.
	FallbackAlternate FallbackKind = "alternate"

	// FallbackDegraded returns a DegradedResponse describing reduced service.
	FallbackDegraded FallbackKind = "degraded"
)

// Fallback is an alternative recovery action tried after retries stop.
// Only the fields of its Kind are used.
type Fallback struct {
	Name     string
	Kind     FallbackKind
	Priority int

	// CanHandle filters the failures this fallback accepts. Nil accepts all.
	CanHandle func(*errors.LayerError) bool

	Value     any
	Lookup    func(ctx context.Context, le *errors.LayerError) (any, bool)
	Alternate Operation
	Message   string
}

// DegradedResponse is the value produced by a degraded fallback.
type DegradedResponse struct {
	Degraded bool         `json:"degraded"`
	Message  string       `json:"message"`
	Layer    errors.Layer `json:"layer"`
}

// StaticFallback returns a fallback that yields value.
func StaticFallback(name string, priority int, value any) Fallback {
	return Fallback{Name: name, Kind: FallbackStatic, Priority: priority, Value: value}
}

// CachedFallback returns a fallback that yields the value found by lookup.
func CachedFallback(name string, priority int, lookup func(context.Context, *errors.LayerError) (any, bool)) Fallback {
	return Fallback{Name: name, Kind: FallbackCached, Priority: priority, Lookup: lookup}
}

// AlternateFallback returns a fallback that runs op instead of the primary operation.
func AlternateFallback(name string, priority int, op Operation) Fallback {
	return Fallback{Name: name, Kind: FallbackAlternate, Priority: priority, Alternate: op}
}

// DegradedFallback returns a fallback that answers in degraded mode with message.
func DegradedFallback(name string, priority int, message string) Fallback {
	return Fallback{Name: name, Kind: FallbackDegraded, Priority: priority, Message: message}
}

// When returns a copy of f restricted to failures accepted by canHandle.
func (f Fallback) When(canHandle func(*errors.LayerError) bool) Fallback {
	f.CanHandle = canHandle
	return f
}

// Handles reports whether f accepts le.
func (f Fallback) Handles(le *errors.LayerError) bool {
	return f.CanHandle == nil || f.CanHandle(le)
}

// Execute runs the fallback for the failure le.
func (f Fallback) Execute(ctx context.Context, le *errors.LayerError) (any, error) {
	switch f.Kind {
	case FallbackStatic:
		return f.Value, nil
	case FallbackCached:
		if f.Lookup == nil {
			return nil, ErrCacheMiss
		}
		v, ok := f.Lookup(ctx, le)
		if !ok {
			return nil, ErrCacheMiss
		}
		return v, nil
	case FallbackAlternate:
		if f.Alternate == nil {
			return nil, fmt.Errorf("fallback %s: no alternate operation", f.Name)
		}
		return f.Alternate(ctx)
	case FallbackDegraded:
		resp := DegradedResponse{Degraded: true, Message: f.Message}
		if le != nil {
			resp.Layer = le.Layer
			if resp.Message == "" {
				resp.Message = le.UserFriendlyMessage
			}
		}
		return resp, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFallback, f.Kind)
	}
}

// byPriority returns the fallbacks ordered by descending priority,
// keeping the configured order among equal priorities.
func byPriority(fallbacks []Fallback) []Fallback {
	out := append([]Fallback(nil), fallbacks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}
