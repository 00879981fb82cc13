// SPDX-License-Identifier: Apache-2.0

package feedback

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/studybuddy/sentinel/pkg/errors"
)

var submissionValidate *validator.Validate

func init() {
	submissionValidate = validator.New()
}

// Validate checks the submission fields. Satisfaction submissions need a
// rating between 1 and 5.
func (s *Submission) Validate() error {
	if err := submissionValidate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if s.Type == TypeSatisfaction && s.Rating == 0 {
		return fmt.Errorf("%w: satisfaction rating is required", ErrInvalidSubmission)
	}
	return nil
}

// DefaultCategoryRules infer an error report's category from its message.
// Unmatched reports are technical.
var DefaultCategoryRules = []errors.Rule[Category]{
	{Name: "accuracy", Match: errors.ContainsAny(
		"incorrect", "inaccurate", "wrong answer", "hallucinat", "fact check", "factual",
	), Result: CategoryAccuracy},
	{Name: "performance", Match: errors.ContainsAny(
		"timeout", "timed out", "slow", "latency", "rate limit", "unavailable",
	), Result: CategoryPerformance},
	{Name: "usability", Match: errors.ContainsAny(
		"confusing", "unclear", "navigation", "cannot find", "format",
	), Result: CategoryUsability},
	{Name: "content", Match: errors.ContainsAny(
		"content", "outdated", "missing", "incomplete", "curriculum",
	), Result: CategoryContent},
}

// DefaultTeams routes improvement suggestions by category.
var DefaultTeams = map[Category]string{
	CategoryAccuracy:    "ai-quality-team",
	CategoryPerformance: "platform-team",
	CategoryUsability:   "ux-team",
	CategoryContent:     "content-team",
	CategoryTechnical:   "engineering-team",
	CategoryOther:       "product-team",
}

// CategoryFor returns the category an error message falls under.
func CategoryFor(rules []errors.Rule[Category], message string) Category {
	if c, ok := errors.Evaluate(rules, strings.ToLower(message)); ok {
		return c
	}
	return CategoryTechnical
}

// PriorityFor maps an error impact to a feedback priority.
func PriorityFor(impact errors.Impact) Priority {
	switch impact {
	case errors.ImpactCritical:
		return PriorityCritical
	case errors.ImpactHigh:
		return PriorityHigh
	case errors.ImpactLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// route applies the auto-routing rules and reports whether the feedback was
// escalated.
func route(f *Feedback, teams map[Category]string) bool {
	f.addTag(string(f.Type))
	f.addTag(string(f.Category))

	switch f.Type {
	case TypeErrorReport:
		if f.Priority == PriorityCritical {
			f.History = append(f.History, StatusChange{
				From:      f.Status,
				To:        StatusAcknowledged,
				By:        ErrorHandlingAssignee,
				Note:      "auto-escalated critical error report",
				Timestamp: f.CreatedAt,
			})
			f.Status = StatusAcknowledged
			f.AssignedTo = ErrorHandlingAssignee
			f.addTag(TagAutoEscalated)
			return true
		}
	case TypeSatisfaction:
		if f.Rating > 0 && f.Rating <= 2 {
			f.Priority = PriorityHigh
			f.addTag(TagLowSatisfaction)
			f.addTag(TagFollowUpRequired)
			return true
		}
	case TypeSuggestion:
		if team, ok := teams[f.Category]; ok {
			f.AssignedTo = team
		}
	}
	return false
}
