// SPDX-License-Identifier: Apache-2.0

package feedback

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/notify"
	"github.com/studybuddy/sentinel/pkg/scheduler"
	"github.com/studybuddy/sentinel/pkg/telemetry"
)

// DefaultCacheTTL is how long computed analytics are served from cache.
const DefaultCacheTTL = 5 * time.Minute

// maxTitleLen matches the title limit on Submission, in runes.
const maxTitleLen = 200

var (
	// ErrFeedbackNotFound is returned for an unknown feedback ID.
	ErrFeedbackNotFound = stderrors.New("feedback not found")

	// ErrInvalidSubmission wraps validation failures.
	ErrInvalidSubmission = stderrors.New("invalid feedback submission")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = stderrors.New("invalid feedback status transition")
)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Type          Type
	Category      Category
	Priority      Priority
	Status        Status
	CorrelationID string
	UserID        string
}

func (f Filter) match(fb *Feedback) bool {
	return (f.Type == "" || fb.Type == f.Type) &&
		(f.Category == "" || fb.Category == f.Category) &&
		(f.Priority == "" || fb.Priority == f.Priority) &&
		(f.Status == "" || fb.Status == f.Status) &&
		(f.CorrelationID == "" || fb.CorrelationID == f.CorrelationID) &&
		(f.UserID == "" || fb.UserID == f.UserID)
}

// Service collects, routes and analyses user feedback.
type Service struct {
	mu         sync.Mutex
	store      Store
	categories []errors.Rule[Category]
	teams      map[Category]string
	cacheTTL   time.Duration
	cache      *Analytics
	notifier   notify.Notifier
	metrics    *telemetry.Metrics
	clock      scheduler.Clock
	logger     *slog.Logger
	newID      func() string
}

// Option configures a Service.
type Option func(*Service)

// WithStore sets the feedback store. The default is a MemoryStore of DefaultCapacity.
func WithStore(store Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithCategoryRules replaces the error-report category rules.
func WithCategoryRules(rules []errors.Rule[Category]) Option {
	return func(s *Service) {
		s.categories = rules
	}
}

// WithTeams replaces the suggestion routing map.
func WithTeams(teams map[Category]string) Option {
	return func(s *Service) {
		if teams != nil {
			s.teams = teams
		}
	}
}

// WithCacheTTL sets how long analytics are cached. Zero or less disables the cache.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Service) {
		s.cacheTTL = d
	}
}

// WithNotifier sets the notifier told about escalated feedback.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock sets the time source.
func WithClock(clock scheduler.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a feedback service.
func New(opts ...Option) *Service {
	s := &Service{
		categories: DefaultCategoryRules,
		teams:      DefaultTeams,
		cacheTTL:   DefaultCacheTTL,
		notifier:   notify.Noop{},
		clock:      scheduler.SystemClock,
		logger:     slog.Default(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = NewMemoryStore(DefaultCapacity)
	}
	return s
}

// Submit validates, routes and stores a submission and returns its ID.
func (s *Service) Submit(ctx context.Context, sub Submission, ec errors.ErrorContext) (string, error) {
	if err := sub.Validate(); err != nil {
		return "", err
	}
	now := s.clock.Now().UTC()
	f := &Feedback{
		ID:             s.newID(),
		CorrelationID:  ec.CorrelationID,
		UserID:         ec.UserID,
		SessionID:      ec.SessionID,
		ConversationID: ec.ConversationID,
		Type:           sub.Type,
		Category:       sub.Category,
		Priority:       sub.Priority,
		Status:         StatusNew,
		Title:          sub.Title,
		Description:    sub.Description,
		Rating:         sub.Rating,
		Layer:          errors.Layer(sub.Layer),
		Tags:           append([]string(nil), sub.Tags...),
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       mergeMetadata(ec.Metadata, sub.Metadata),
	}
	if f.Category == "" {
		f.Category = CategoryOther
	}
	if f.Priority == "" {
		f.Priority = DefaultPriority
	}
	escalated := route(f, s.teams)

	s.mu.Lock()
	err := s.store.Put(ctx, f)
	if err == nil {
		s.cache = nil
	}
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("store feedback: %w", err)
	}

	s.metrics.RecordFeedback(ctx, string(f.Type), string(f.Priority))
	s.logger.LogAttrs(ctx, slog.LevelInfo, "feedback.submitted",
		slog.String("feedback_id", f.ID),
		slog.String("type", string(f.Type)),
		slog.String("category", string(f.Category)),
		slog.String("priority", string(f.Priority)),
		slog.String("correlation_id", f.CorrelationID),
	)
	if escalated {
		s.announce(ctx, f)
	}
	return f.ID, nil
}

// SubmitErrorReport files a report about a classified error. Priority follows
// the error's impact and the category is inferred from its message.
func (s *Service) SubmitErrorReport(ctx context.Context, le *errors.LayerError, description string, ec errors.ErrorContext) (string, error) {
	if le == nil {
		return "", fmt.Errorf("%w: nil error", ErrInvalidSubmission)
	}
	if ec.CorrelationID == "" {
		ec.CorrelationID = le.CorrelationID
	}
	title := truncateRunes(strings.TrimSpace(le.Message), maxTitleLen)
	if title == "" {
		title = le.Layer.String() + " error"
	}
	return s.Submit(ctx, Submission{
		Type:        TypeErrorReport,
		Category:    CategoryFor(s.categories, le.Message),
		Priority:    PriorityFor(le.Impact),
		Title:       title,
		Description: description,
		Layer:       int(le.Layer),
		Metadata: map[string]any{
			"error_id":    le.ID,
			"layer_name":  le.LayerName,
			"impact":      string(le.Impact),
			"source":      string(le.Source),
			"recoverable": le.Recoverable,
		},
	}, ec)
}

// SubmitSatisfactionRating records a 1 to 5 rating with an optional comment.
func (s *Service) SubmitSatisfactionRating(ctx context.Context, rating int, comment string, ec errors.ErrorContext) (string, error) {
	return s.Submit(ctx, Submission{
		Type:        TypeSatisfaction,
		Category:    CategoryOther,
		Title:       fmt.Sprintf("Satisfaction rating: %d/5", rating),
		Description: comment,
		Rating:      rating,
	}, ec)
}

// SubmitImprovementSuggestion records a suggestion routed to the category's team.
func (s *Service) SubmitImprovementSuggestion(ctx context.Context, category Category, title, description string, ec errors.ErrorContext) (string, error) {
	return s.Submit(ctx, Submission{
		Type:        TypeSuggestion,
		Category:    category,
		Priority:    PriorityLow,
		Title:       title,
		Description: description,
	}, ec)
}

// UpdateStatus moves feedback to status, recording who did it and why.
// Resolving sets the resolution time measured from submission.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status, by, note string) (*Feedback, error) {
	s.mu.Lock()
	f, err := s.store.Get(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !f.Status.CanTransition(status) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.Status, status)
	}
	now := s.clock.Now().UTC()
	f.History = append(f.History, StatusChange{
		From:      f.Status,
		To:        status,
		By:        by,
		Note:      note,
		Timestamp: now,
	})
	f.Status = status
	f.UpdatedAt = now
	if status == StatusResolved {
		f.ResolvedAt = now
		f.ResolutionTime = now.Sub(f.CreatedAt)
	}
	if err := s.store.Put(ctx, f); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("store feedback: %w", err)
	}
	s.cache = nil
	s.mu.Unlock()

	s.logger.LogAttrs(ctx, slog.LevelInfo, "feedback.status.updated",
		slog.String("feedback_id", id),
		slog.String("status", string(status)),
		slog.String("by", by),
	)
	return f, nil
}

// Get returns a copy of the feedback with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*Feedback, error) {
	return s.store.Get(ctx, id)
}

// List returns the feedback matching filter, oldest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Feedback, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Feedback, 0, len(all))
	for _, f := range all {
		if filter.match(f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// Analytics returns aggregate feedback statistics. Results are cached for the
// configured TTL and recomputed after any submission or status change.
func (s *Service) Analytics(ctx context.Context) (Analytics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	if s.cache != nil && s.cacheTTL > 0 && now.Sub(s.cache.GeneratedAt) < s.cacheTTL {
		return s.cache.clone(), nil
	}
	all, err := s.store.List(ctx)
	if err != nil {
		return Analytics{}, err
	}
	a := Compute(all, now)
	s.cache = &a
	return a.clone(), nil
}

// InvalidateCache drops cached analytics.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

func (s *Service) announce(ctx context.Context, f *Feedback) {
	severity := notify.SeverityWarning
	if f.Priority == PriorityCritical {
		severity = notify.SeverityCritical
	}
	n := notify.Notification{
		ID:        f.ID,
		Severity:  severity,
		Title:     "Feedback escalated: " + f.Title,
		Message:   f.Description,
		Source:    "feedback",
		Layer:     int(f.Layer),
		Timestamp: f.CreatedAt,
		Metadata: map[string]any{
			"type":           string(f.Type),
			"priority":       string(f.Priority),
			"assigned_to":    f.AssignedTo,
			"correlation_id": f.CorrelationID,
		},
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "feedback.notify.failed",
			slog.String("feedback_id", f.ID),
			slog.String("error", err.Error()),
		)
	}
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// truncateRunes shortens s to at most n runes without splitting one.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
