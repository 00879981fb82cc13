package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
	assert.Equal(t, 10000, cfg.Monitor.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, 100, cfg.Health.History)
	assert.Equal(t, 5*time.Minute, cfg.Feedback.TTL)
	assert.Empty(t, cfg.Monitor.Rules)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("SENTINEL_LOG_LEVEL", "debug")
	t.Setenv("SENTINEL_MONITOR_CAPACITY", "250")
	t.Setenv("SENTINEL_FEEDBACK_TTL", "90s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250, cfg.Monitor.Capacity)
	assert.Equal(t, 90*time.Second, cfg.Feedback.TTL)
}

func TestLoadFileWithRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	writeFile(t, path, `
log:
  level: warn
monitor:
  capacity: 500
  rules:
    - id: qa_errors
      name: QA error rate
      type: error_rate
      threshold: 20
      window: 5m
      actions: [log, alert]
    - id: layer1_critical
      name: Input validation critical
      type: severity
      severity: critical
      layer: 1
      window: 1m
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 500, cfg.Monitor.Capacity)
	require.Len(t, cfg.Monitor.Rules, 2)
	assert.Equal(t, "error_rate", cfg.Monitor.Rules[0].Type)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.Rules[0].Window)
	assert.Equal(t, []string{"log", "alert"}, cfg.Monitor.Rules[0].Actions)
	assert.Equal(t, 1, cfg.Monitor.Rules[1].Layer)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	writeFile(t, path, "http:\n  addr: \":9000\"\n")
	t.Setenv("SENTINEL_HTTP_ADDR", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTP.Addr)
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	writeFile(t, base, "log:\n  level: info\nhealth:\n  history: 50\n")
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), "log:\n  level: debug\n")

	tests := []struct {
		profile string
		level   string
	}{
		{"", "info"},
		{"dev", "debug"},
		{"prod", "info"},
	}
	for _, tc := range tests {
		t.Run("profile="+tc.profile, func(t *testing.T) {
			cfg, err := LoadWithProfile(base, tc.profile)
			require.NoError(t, err)
			assert.Equal(t, tc.level, cfg.Log.Level)
			assert.Equal(t, 50, cfg.Health.History)
		})
	}
}

func TestLoadWithOverrides(t *testing.T) {
	cfg, err := LoadWithOverrides("", "", []string{
		"telemetry.exporter=prometheus",
		"monitor.capacity=42",
		"health.jitter=true",
		"notify.webhook=http://hooks.local/alerts",
	})
	require.NoError(t, err)
	assert.Equal(t, "prometheus", cfg.Telemetry.Exporter)
	assert.Equal(t, 42, cfg.Monitor.Capacity)
	assert.True(t, cfg.Health.Jitter)
	assert.Equal(t, "http://hooks.local/alerts", cfg.Notify.Webhook)

	_, err = LoadWithOverrides("", "", []string{"no-equals-sign"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := LoadWithOverrides("", "", []string{"telemetry.exporter=carrier-pigeon"})
	assert.Error(t, err)

	_, err = LoadWithOverrides("", "", []string{"telemetry.exporter=otlp"})
	assert.Error(t, err)

	_, err = LoadWithOverrides("", "", []string{"monitor.capacity=0"})
	assert.Error(t, err)
}

func TestProfileConfigPath(t *testing.T) {
	assert.Equal(t, "/etc/sentinel/config.dev.yaml", ProfileConfigPath("/etc/sentinel/config.yaml", "dev"))
	assert.Equal(t, "sentinel.prod.yml", ProfileConfigPath("sentinel.yml", "prod"))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 1000, cfg.Correlation.Capacity)
}
