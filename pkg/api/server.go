// SPDX-License-Identifier: Apache-2.0
// Package api serves the sentinel dashboard API over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/studybuddy/sentinel/pkg/runtime"
)

// Server routes dashboard requests to the runtime services.
type Server struct {
	rt      *runtime.Runtime
	router  *gin.Engine
	logger  *slog.Logger
	metrics http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer creates the API server for rt.
func NewServer(rt *runtime.Runtime, opts ...Option) *Server {
	s := &Server{
		rt:     rt,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("sentinel"), s.logRequests)
	s.router = router

	router.GET("/healthz", s.handleLiveness)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.POST("/health/check", s.handleHealthCheck)
		v1.GET("/health/trends", s.handleTrends)
		v1.GET("/health/report", s.handleReport)

		v1.GET("/alerts", s.handleAlerts)
		v1.POST("/alerts/:id/acknowledge", s.handleAcknowledge)
		v1.POST("/alerts/:id/resolve", s.handleResolve)

		v1.GET("/monitor/metrics", s.handleMonitorMetrics)
		v1.GET("/monitor/health", s.handleMonitorHealth)
		v1.GET("/monitor/rules", s.handleRules)
		v1.GET("/monitor/alerts", s.handleRuleAlerts)

		v1.GET("/correlations", s.handleCorrelations)
		v1.GET("/correlations/:id", s.handleCorrelation)

		v1.POST("/feedback", s.handleSubmitFeedback)
		v1.GET("/feedback", s.handleListFeedback)
		v1.GET("/feedback/analytics", s.handleAnalytics)
		v1.GET("/feedback/:id", s.handleGetFeedback)
		v1.PATCH("/feedback/:id/status", s.handleUpdateStatus)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	level := slog.LevelDebug
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.LogAttrs(c.Request.Context(), level, "api.request",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("elapsed", time.Since(start)),
	)
}
