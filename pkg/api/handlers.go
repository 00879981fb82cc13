// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studybuddy/sentinel/pkg/correlation"
	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/feedback"
	"github.com/studybuddy/sentinel/pkg/health"
	"github.com/studybuddy/sentinel/pkg/monitor"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case stderrors.Is(err, health.ErrAlertNotFound),
		stderrors.Is(err, feedback.ErrFeedbackNotFound),
		stderrors.Is(err, correlation.ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, health.ErrAlertResolved),
		stderrors.Is(err, feedback.ErrInvalidTransition):
		return http.StatusConflict
	case stderrors.Is(err, feedback.ErrInvalidSubmission),
		stderrors.Is(err, health.ErrUnknownFormat):
		return http.StatusBadRequest
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// bindOptional binds a JSON body when one is sent.
func bindOptional(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !stderrors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.rt.Health().Status())
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	st, err := s.rt.Health().Check(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleTrends(c *gin.Context) {
	c.JSON(http.StatusOK, s.rt.Health().Trends())
}

var reportContentTypes = map[string]string{
	"":     "application/json",
	"json": "application/json",
	"yaml": "application/yaml",
	"csv":  "text/csv",
}

func (s *Server) handleReport(c *gin.Context) {
	format := strings.ToLower(c.Query("format"))
	body, err := s.rt.Health().ExportReport(format)
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, reportContentTypes[format], body)
}

func (s *Server) handleAlerts(c *gin.Context) {
	if c.Query("active") == "true" {
		c.JSON(http.StatusOK, gin.H{"alerts": s.rt.Health().ActiveAlerts()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.rt.Health().Alerts()})
}

type alertActionRequest struct {
	By   string `json:"by"`
	Note string `json:"note"`
}

func (r alertActionRequest) actor() string {
	if r.By == "" {
		return "api"
	}
	return r.By
}

func (s *Server) handleAcknowledge(c *gin.Context) {
	var req alertActionRequest
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := s.rt.Health().Acknowledge(c.Request.Context(), c.Param("id"), req.actor())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleResolve(c *gin.Context) {
	var req alertActionRequest
	if err := bindOptional(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := s.rt.Health().Resolve(c.Request.Context(), c.Param("id"), req.actor(), req.Note)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// handleMonitorMetrics aggregates events over ?window= (a Go duration such as
// 1h). Without a window every stored event is counted.
func (s *Server) handleMonitorMetrics(c *gin.Context) {
	var r monitor.TimeRange
	if w := c.Query("window"); w != "" {
		d, err := time.ParseDuration(w)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window " + w})
			return
		}
		now := s.rt.Clock().Now()
		r = monitor.TimeRange{From: now.Add(-d), To: now}
	}
	m, err := s.rt.Events().Metrics(c.Request.Context(), r)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleMonitorHealth(c *gin.Context) {
	h, err := s.rt.Events().SystemHealth(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.rt.Events().Rules()})
}

func (s *Server) handleRuleAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": s.rt.Events().Alerts()})
}

func (s *Server) handleCorrelations(c *gin.Context) {
	var (
		list []*correlation.Correlation
		err  error
	)
	if c.Query("cascading") == "true" {
		list, err = s.rt.Tracker().Cascading(c.Request.Context())
	} else {
		list, err = s.rt.Tracker().List(c.Request.Context())
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"correlations": list, "count": len(list)})
}

func (s *Server) handleCorrelation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	corr, err := s.rt.Tracker().Get(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	recoveries, err := s.rt.Tracker().Recoveries(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	events, err := s.rt.Events().Events(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"correlation": corr,
		"recoveries":  recoveries,
		"events":      events,
	})
}

type feedbackRequest struct {
	feedback.Submission
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	CorrelationID  string `json:"correlation_id"`
}

func (s *Server) handleSubmitFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.rt.Feedback().Submit(c.Request.Context(), req.Submission, errors.ErrorContext{
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		ConversationID: req.ConversationID,
		CorrelationID:  req.CorrelationID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleListFeedback(c *gin.Context) {
	list, err := s.rt.Feedback().List(c.Request.Context(), feedback.Filter{
		Type:          feedback.Type(c.Query("type")),
		Category:      feedback.Category(c.Query("category")),
		Priority:      feedback.Priority(c.Query("priority")),
		Status:        feedback.Status(c.Query("status")),
		CorrelationID: c.Query("correlation_id"),
		UserID:        c.Query("user_id"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": list, "count": len(list)})
}

func (s *Server) handleGetFeedback(c *gin.Context) {
	f, err := s.rt.Feedback().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

type statusRequest struct {
	Status feedback.Status `json:"status" binding:"required"`
	By     string          `json:"by"`
	Note   string          `json:"note"`
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	by := req.By
	if by == "" {
		by = "api"
	}
	f, err := s.rt.Feedback().UpdateStatus(c.Request.Context(), c.Param("id"), req.Status, by, req.Note)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) handleAnalytics(c *gin.Context) {
	a, err := s.rt.Feedback().Analytics(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
