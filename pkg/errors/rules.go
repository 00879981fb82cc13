// SPDX-License-Identifier: Apache-2.0
package errors

import "strings"

// Rule maps a match on the normalized failure text to a result.
// Rule tables are evaluated top to bottom; the first match wins.
type Rule[T any] struct {
	Name   string
	Match  func(text string) bool
	Result T
}

// Evaluate returns the result of the first matching rule.
func Evaluate[T any](rules []Rule[T], text string) (T, bool) {
	for _, r := range rules {
		if r.Match != nil && r.Match(text) {
			return r.Result, true
		}
	}
	var zero T
	return zero, false
}

// ContainsAny matches when the text contains any of the given substrings.
// Text is lower-cased by the classifier, so substrings must be lower case.
func ContainsAny(subs ...string) func(string) bool {
	return func(text string) bool {
		for _, s := range subs {
			if strings.Contains(text, s) {
				return true
			}
		}
		return false
	}
}

// DefaultRecoverabilityRules mark failures that retrying cannot fix.
var DefaultRecoverabilityRules = []Rule[bool]{
	{Name: "authentication", Match: ContainsAny("authentication failed", "unauthenticated"), Result: false},
	{Name: "authorization", Match: ContainsAny("authorization failed", "unauthorized", "forbidden", "access denied"), Result: false},
	{Name: "credentials", Match: ContainsAny("invalid credentials", "invalid api key"), Result: false},
	{Name: "critical-failure", Match: ContainsAny("critical system failure"), Result: false},
}

// DefaultImpactRules rank failures by consequence. Unmatched failures fall
// back to the layer default (medium for quality assurance, low otherwise).
var DefaultImpactRules = []Rule[Impact]{
	{Name: "critical", Match: ContainsAny(
		"database connection failed",
		"memory overflow",
		"security breach",
		"data corruption",
		"critical system failure",
		"out of memory",
	), Result: ImpactCritical},
	{Name: "high", Match: ContainsAny(
		"timeout",
		"timed out",
		"rate limit",
		"service unavailable",
		"network error",
	), Result: ImpactHigh},
}

// DefaultSourceRules infer where a failure came from.
var DefaultSourceRules = []Rule[Source]{
	{Name: "database", Match: ContainsAny("database", "sql", "deadlock", "query failed"), Result: SourceDatabase},
	{Name: "network", Match: ContainsAny("network", "connection refused", "connection reset", "dns", "econn"), Result: SourceNetwork},
	{Name: "ai-service", Match: ContainsAny("model", "llm", "openai", "anthropic", "inference", "completion", "rate limit"), Result: SourceAIService},
	{Name: "client", Match: ContainsAny("invalid input", "validation", "bad request", "malformed"), Result: SourceClient},
	{Name: "server", Match: ContainsAny("internal server", "service unavailable", "status 5", "server error"), Result: SourceServer},
}

// DefaultUserMessages hold the jargon-free text shown to users, per layer.
var DefaultUserMessages = map[Layer][]Rule[string]{
	LayerInputValidation: {
		{Name: "empty", Match: ContainsAny("empty", "required", "missing"), Result: "Please enter a question or message before sending."},
		{Name: "too-long", Match: ContainsAny("too long", "length", "exceeds"), Result: "Your message is too long. Please shorten it and try again."},
		{Name: "content", Match: ContainsAny("inappropriate", "content policy", "unsafe"), Result: "We couldn't process that message. Please rephrase it and try again."},
		{Name: "injection", Match: ContainsAny("injection", "malicious"), Result: "Your message contains content we can't accept. Please rephrase it."},
	},
	LayerContextMemory: {
		{Name: "memory", Match: ContainsAny("memory", "recall"), Result: "We had trouble remembering earlier parts of our conversation."},
		{Name: "context", Match: ContainsAny("context", "history"), Result: "We couldn't load your conversation history, so this answer may be less personalized."},
		{Name: "timeout", Match: ContainsAny("timeout", "timed out"), Result: "Loading your study context is taking longer than usual. Please try again."},
	},
	LayerResponseValidation: {
		{Name: "facts", Match: ContainsAny("fact", "hallucination", "unverified"), Result: "We couldn't verify parts of this answer, so we held it back. Please try asking again."},
		{Name: "confidence", Match: ContainsAny("confidence", "uncertain"), Result: "We're not confident enough in this answer yet. Try rephrasing your question."},
		{Name: "format", Match: ContainsAny("format", "parse", "schema"), Result: "The answer came back in an unexpected shape. Please try again."},
	},
	LayerFeedbackLearning: {
		{Name: "feedback", Match: ContainsAny("feedback", "rating"), Result: "Your feedback couldn't be saved right now. Please try again later."},
		{Name: "learning", Match: ContainsAny("learning", "profile", "personalization"), Result: "We couldn't update your learning preferences this time."},
	},
	LayerQualityAssurance: {
		{Name: "quality", Match: ContainsAny("quality", "threshold", "score"), Result: "This answer didn't pass our quality checks. We're working on a better one."},
		{Name: "timeout", Match: ContainsAny("timeout", "timed out"), Result: "Quality checks are taking longer than usual. Please try again shortly."},
	},
}

// DefaultLayerMessages are used when no user message rule matches.
var DefaultLayerMessages = map[Layer]string{
	LayerInputValidation:    "We couldn't process your input. Please check it and try again.",
	LayerContextMemory:      "We couldn't load your conversation context right now.",
	LayerResponseValidation: "We couldn't validate the answer. Please try again.",
	LayerFeedbackLearning:   "We couldn't process your feedback right now.",
	LayerQualityAssurance:   "We're double-checking this answer. Please try again shortly.",
}
