// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/sentinel/pkg/errors"
	"github.com/studybuddy/sentinel/pkg/feedback"
	"github.com/studybuddy/sentinel/pkg/health"
	"github.com/studybuddy/sentinel/pkg/monitor"
	"github.com/studybuddy/sentinel/pkg/notify"
	"github.com/studybuddy/sentinel/pkg/resilience"
	"github.com/studybuddy/sentinel/pkg/runtime"
	"github.com/studybuddy/sentinel/pkg/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	t   *testing.T
	rt  *runtime.Runtime
	srv *Server
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	rt, err := runtime.New(nil,
		runtime.WithScheduler(scheduler.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))),
		runtime.WithNotifier(notify.Noop{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	return &testServer{t: t, rt: rt, srv: NewServer(rt, opts...)}
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestLivenessAndHealth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[health.SystemStatus](t, w)
	assert.Equal(t, health.StatusHealthy, st.Overall)
	assert.Len(t, st.Layers, 5)

	w = ts.do(http.MethodPost, "/api/v1/health/check", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, ts.rt.Health().History())

	w = ts.do(http.MethodGet, "/api/v1/health/trends", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tr := decode[health.Trends](t, w)
	assert.Equal(t, health.TrendStable, tr.Overall)
}

func TestHealthReportFormats(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.rt.Health().Check(context.Background())
	require.NoError(t, err)

	w := ts.do(http.MethodGet, "/api/v1/health/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	report := decode[health.Report](t, w)
	assert.Equal(t, health.StatusHealthy, report.Status.Overall)

	w = ts.do(http.MethodGet, "/api/v1/health/report?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Body.String(), "timestamp,score,status")

	w = ts.do(http.MethodGet, "/api/v1/health/report?format=yaml", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "overall: healthy")

	w = ts.do(http.MethodGet, "/api/v1/health/report?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlertLifecycle(t *testing.T) {
	ts := newTestServer(t)
	a := ts.rt.Health().Raise(context.Background(), health.SeverityWarning, "test", "disk", "disk filling", errors.LayerContextMemory)

	w := ts.do(http.MethodGet, "/api/v1/alerts?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Alerts []health.Alert `json:"alerts"`
	}](t, w)
	require.Len(t, list.Alerts, 1)
	assert.Equal(t, a.ID, list.Alerts[0].ID)

	w = ts.do(http.MethodPost, "/api/v1/alerts/"+a.ID+"/acknowledge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[health.Alert](t, w).Acknowledged)

	w = ts.do(http.MethodPost, "/api/v1/alerts/"+a.ID+"/resolve", map[string]string{"by": "ops", "note": "cleaned"})
	require.Equal(t, http.StatusOK, w.Code)
	resolved := decode[health.Alert](t, w)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "ops", resolved.Actions[len(resolved.Actions)-1].By)

	w = ts.do(http.MethodPost, "/api/v1/alerts/"+a.ID+"/resolve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(http.MethodPost, "/api/v1/alerts/missing/acknowledge", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/alerts?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[struct {
		Alerts []health.Alert `json:"alerts"`
	}](t, w).Alerts)
}

func TestFeedbackRoutes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/feedback", map[string]any{
		"type":           "satisfaction",
		"title":          "Rating",
		"rating":         1,
		"correlation_id": "corr-7",
		"user_id":        "u7",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[map[string]string](t, w)["id"]
	require.NotEmpty(t, id)

	w = ts.do(http.MethodGet, "/api/v1/feedback/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	f := decode[feedback.Feedback](t, w)
	assert.Equal(t, feedback.PriorityHigh, f.Priority)
	assert.Equal(t, "corr-7", f.CorrelationID)
	assert.Equal(t, "u7", f.UserID)

	w = ts.do(http.MethodPost, "/api/v1/feedback", map[string]any{"type": "satisfaction", "title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPatch, "/api/v1/feedback/"+id+"/status", map[string]string{"status": "acknowledged", "by": "ops"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, feedback.StatusAcknowledged, decode[feedback.Feedback](t, w).Status)

	w = ts.do(http.MethodPatch, "/api/v1/feedback/"+id+"/status", map[string]string{"status": "resolved"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(http.MethodPatch, "/api/v1/feedback/"+id+"/status", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodPatch, "/api/v1/feedback/missing/status", map[string]string{"status": "closed"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/feedback?correlation_id=corr-7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = ts.do(http.MethodGet, "/api/v1/feedback/analytics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	a := decode[feedback.Analytics](t, w)
	assert.Equal(t, 1, a.Total)
	assert.InDelta(t, 1.0, a.SatisfactionScore, 1e-9)
}

func TestCorrelationAndMonitorRoutes(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	res := ts.rt.Execute(ctx, func(context.Context) (any, error) {
		return nil, stderrors.New("invalid api key")
	}, resilience.RetryConfig{MaxRetries: 1, Layer: errors.LayerResponseValidation}, errors.ErrorContext{CorrelationID: "corr-api"})
	require.False(t, res.Success)

	w := ts.do(http.MethodGet, "/api/v1/correlations/corr-api", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Correlation map[string]any  `json:"correlation"`
		Events      []monitor.Event `json:"events"`
	}](t, w)
	assert.Equal(t, "corr-api", body.Correlation["id"])
	require.NotEmpty(t, body.Events)
	assert.Equal(t, monitor.EventError, body.Events[0].Type)

	w = ts.do(http.MethodGet, "/api/v1/correlations/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/correlations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = ts.do(http.MethodGet, "/api/v1/monitor/metrics?window=1h", nil)
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[monitor.Metrics](t, w)
	assert.Equal(t, 1, m.TotalErrors)

	w = ts.do(http.MethodGet, "/api/v1/monitor/metrics?window=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/monitor/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodGet, "/api/v1/monitor/rules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct {
		Rules []monitor.AlertRule `json:"rules"`
	}](t, w).Rules, len(monitor.DefaultRules()))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts = newTestServer(t, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("sentinel_errors_total 1\n"))
	})))
	w = ts.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sentinel_errors_total")
}
