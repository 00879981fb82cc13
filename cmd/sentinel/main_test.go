// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/studybuddy/sentinel/pkg/config"
	"github.com/studybuddy/sentinel/pkg/feedback"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--set", "log.level=error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func runSimulation(t *testing.T, args ...string) simulationSummary {
	t.Helper()
	out, err := execute(t, append([]string{"simulate", "--json", "--delay", "0"}, args...)...)
	require.NoError(t, err)
	var summary simulationSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	return summary
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sentinel dev"), out)
}

func TestSimulateWithoutFailures(t *testing.T) {
	summary := runSimulation(t, "--count", "5", "--failure-rate", "0")

	assert.Equal(t, 5, summary.Requests)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Equal(t, 5, summary.Attempts)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Correlations)
	assert.Zero(t, summary.ErrorReports)
	assert.Equal(t, "healthy", summary.HealthStatus)
}

func TestSimulateFailuresAreReported(t *testing.T) {
	summary := runSimulation(t,
		"--count", "4",
		"--failure-rate", "1",
		"--cascade-rate", "0",
		"--attempts", "1",
		"--fallback=false",
	)

	assert.Equal(t, 4, summary.Requests)
	assert.Equal(t, 4, summary.Failed)
	assert.Equal(t, 4, summary.ErrorReports)
	assert.Equal(t, 4, summary.Correlations)
	assert.Equal(t, 4, summary.ErrorEvents)
	assert.Zero(t, summary.Cascading)
}

func TestSimulateFallsBack(t *testing.T) {
	summary := runSimulation(t,
		"--count", "6",
		"--failure-rate", "1",
		"--cascade-rate", "0",
		"--attempts", "1",
	)

	assert.Equal(t, 6, summary.FallbacksUsed)
	assert.Equal(t, 6, summary.Recovered)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.ErrorReports)
}

func TestSimulateCascades(t *testing.T) {
	summary := runSimulation(t,
		"--count", "10",
		"--failure-rate", "1",
		"--cascade-rate", "1",
		"--attempts", "1",
	)

	// Every failure outside quality assurance runs a second, failing step.
	assert.Greater(t, summary.Requests, 10)
	assert.Equal(t, summary.Requests-10, summary.Cascading)
	assert.Equal(t, 10, summary.Correlations)
}

func TestSimulateRejectsBadRates(t *testing.T) {
	_, err := execute(t, "simulate", "--failure-rate", "1.5")
	require.Error(t, err)

	_, err = execute(t, "simulate", "--count", "0")
	require.Error(t, err)
}

func TestSimulateTable(t *testing.T) {
	out, err := execute(t, "simulate", "--count", "3", "--failure-rate", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Requests")
	assert.Contains(t, out, "Health")
}

func TestReportFormats(t *testing.T) {
	out, err := execute(t, "report", "--format", "yaml")
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &report))
	assert.Contains(t, report, "status")

	out, err = execute(t, "report", "--format", "csv")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "timestamp,score,status"), out)

	_, err = execute(t, "report", "--format", "xml")
	require.Error(t, err)
}

func TestReportReadsDurableFeedback(t *testing.T) {
	dir := t.TempDir()
	durable := []string{"--set", "storage.durable=true", "--set", "storage.dir=" + dir}

	summary := runSimulation(t, append([]string{
		"--count", "3",
		"--failure-rate", "1",
		"--cascade-rate", "0",
		"--attempts", "1",
		"--fallback=false",
	}, durable...)...)
	require.Equal(t, 3, summary.ErrorReports)

	out, err := execute(t, append([]string{"report", "--feedback"}, durable...)...)
	require.NoError(t, err)
	var analytics feedback.Analytics
	require.NoError(t, json.Unmarshal([]byte(out), &analytics))
	assert.Equal(t, 3, analytics.Total)
	assert.Equal(t, 3, analytics.ByType[feedback.TypeErrorReport])
}

func TestInvalidOverrideFails(t *testing.T) {
	_, err := execute(t, "report", "--set", "monitor.capacity=0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitor.capacity")
}

func TestTelemetryConfig(t *testing.T) {
	got := telemetryConfig(config.TelemetryConfig{
		Exporter: "otlp",
		Endpoint: "collector:4317",
		Insecure: true,
		Timeout:  7 * time.Second,
	})
	assert.Equal(t, "otlp", got.Exporter)
	assert.Equal(t, "collector:4317", got.OTLPEndpoint)
	assert.True(t, got.OTLPInsecure)
	assert.Equal(t, 7, got.OTLPTimeoutSeconds)
}
