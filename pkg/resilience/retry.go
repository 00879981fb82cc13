// SPDX-License-Identifier: Apache-2.0
// Package resilience retries failing operations with exponential backoff and
// recovers them through prioritized fallbacks.
package resilience

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/studybuddy/sentinel/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the total number of attempts (values below 1 mean 1).
	MaxRetries int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// BackoffMultiplier for exponential backoff (default 2.0).
	BackoffMultiplier float64

	// Jitter spreads each delay uniformly over ±25%.
	Jitter bool

	// RetryCondition decides whether a classified failure is retried.
	// If nil, every recoverable failure is retried.
	RetryCondition func(*errors.LayerError) bool

	// Fallbacks are tried in descending priority once retrying stops.
	Fallbacks []Fallback

	// Layer is the pipeline layer failures are classified under.
	Layer errors.Layer
}

// randFloat is swapped in tests for deterministic jitter.
var randFloat = rand.Float64

// Delay returns the backoff before the attempt following attemptIndex
// (0-based): min(BaseDelay * BackoffMultiplier^attemptIndex, MaxDelay).
func (rc RetryConfig) Delay(attemptIndex int) time.Duration {
	mult := rc.BackoffMultiplier
	if mult == 0 {
		mult = 2.0
	}
	if attemptIndex < 0 {
		attemptIndex = 0
	}

	delay := float64(rc.BaseDelay) * math.Pow(mult, float64(attemptIndex))
	if rc.MaxDelay > 0 && delay > float64(rc.MaxDelay) {
		delay = float64(rc.MaxDelay)
	}
	if rc.Jitter {
		delay *= 0.75 + randFloat()*0.5
	}
	switch {
	case math.IsNaN(delay) || delay < 0:
		return 0
	case delay >= maxDelayFloat:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// maxDelayFloat is the largest delay representable as a time.Duration.
const maxDelayFloat = float64(math.MaxInt64)

// WithMaxRetries returns a new config with MaxRetries set.
func (rc RetryConfig) WithMaxRetries(n int) RetryConfig {
	rc.MaxRetries = n
	return rc
}

// WithBaseDelay returns a new config with BaseDelay set.
func (rc RetryConfig) WithBaseDelay(d time.Duration) RetryConfig {
	rc.BaseDelay = d
	return rc
}

// WithMaxDelay returns a new config with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithRetryCondition returns a new config with RetryCondition set.
func (rc RetryConfig) WithRetryCondition(fn func(*errors.LayerError) bool) RetryConfig {
	rc.RetryCondition = fn
	return rc
}

// WithFallbacks returns a new config with the given fallbacks appended.
func (rc RetryConfig) WithFallbacks(fallbacks ...Fallback) RetryConfig {
	rc.Fallbacks = append(append([]Fallback(nil), rc.Fallbacks...), fallbacks...)
	return rc
}

// WithLayer returns a new config classifying failures under layer.
func (rc RetryConfig) WithLayer(layer errors.Layer) RetryConfig {
	rc.Layer = layer
	return rc
}

// AIQueryConfig retries model calls on timeouts, rate limits and transient failures.
func AIQueryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		RetryCondition:    messageContains("timeout", "rate limit", "temporary", "transient", "unavailable"),
		Layer:             errors.LayerResponseValidation,
	}
}

// DatabaseConfig retries storage calls on connection, timeout and transient failures.
func DatabaseConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		RetryCondition:    messageContains("connection", "timeout", "temporary", "transient", "deadlock"),
		Layer:             errors.LayerContextMemory,
	}
}

// APIRequestConfig retries outbound API calls on 5xx, timeout and network failures.
func APIRequestConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          8 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
		RetryCondition: messageContains("500", "502", "503", "504", "internal server error",
			"bad gateway", "service unavailable", "gateway timeout", "timeout", "network"),
		Layer: errors.LayerInputValidation,
	}
}

func messageContains(subs ...string) func(*errors.LayerError) bool {
	match := errors.ContainsAny(subs...)
	return func(le *errors.LayerError) bool {
		if le == nil {
			return false
		}
		text := le.Message
		if le.Err != nil {
			text += " " + le.Err.Error()
		}
		return match(strings.ToLower(text))
	}
}
