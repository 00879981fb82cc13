// SPDX-License-Identifier: Apache-2.0
// Package config loads sentinel configuration from defaults, YAML files and
// SENTINEL_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides (SENTINEL_LOG_LEVEL -> log.level).
const EnvPrefix = "SENTINEL_"

type Config struct {
	Log         LogConfig         `koanf:"log"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	HTTP        HTTPConfig        `koanf:"http"`
	Storage     StorageConfig     `koanf:"storage"`
	Correlation CorrelationConfig `koanf:"correlation"`
	Monitor     MonitorConfig     `koanf:"monitor"`
	Health      HealthConfig      `koanf:"health"`
	Feedback    FeedbackConfig    `koanf:"feedback"`
	Notify      NotifyConfig      `koanf:"notify"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter string        `koanf:"exporter"` // stdout, otlp, prometheus, none
	Endpoint string        `koanf:"endpoint"`
	Insecure bool          `koanf:"insecure"`
	Timeout  time.Duration `koanf:"timeout"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type StorageConfig struct {
	// Durable selects SQLite and BadgerDB backed stores under Dir instead of memory.
	Durable bool   `koanf:"durable"`
	Dir     string `koanf:"dir"`
}

type CorrelationConfig struct {
	Capacity int `koanf:"capacity"`
}

type MonitorConfig struct {
	Capacity int           `koanf:"capacity"`
	Interval time.Duration `koanf:"interval"`
	Rules    []RuleConfig  `koanf:"rules"`
}

// RuleConfig describes an alert rule. An empty rule list keeps the built-in rules.
type RuleConfig struct {
	ID        string        `koanf:"id"`
	Name      string        `koanf:"name"`
	Type      string        `koanf:"type"`
	Threshold float64       `koanf:"threshold"`
	Window    time.Duration `koanf:"window"`
	Severity  string        `koanf:"severity"`
	Layer     int           `koanf:"layer"`
	Disabled  bool          `koanf:"disabled"`
	Actions   []string      `koanf:"actions"`
}

type HealthConfig struct {
	Interval time.Duration `koanf:"interval"`
	History  int           `koanf:"history"`
	Alerts   int           `koanf:"alerts"`
	Jitter   bool          `koanf:"jitter"`
	Notify   bool          `koanf:"notify"`
}

type FeedbackConfig struct {
	Capacity int           `koanf:"capacity"`
	TTL      time.Duration `koanf:"ttl"`
}

type NotifyConfig struct {
	Webhook string        `koanf:"webhook"`
	Timeout time.Duration `koanf:"timeout"`
	Retries int           `koanf:"retries"`
	Backoff time.Duration `koanf:"backoff"`
	Rate    float64       `koanf:"rate"`
	Burst   int           `koanf:"burst"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":            "info",
		"log.format":           "text",
		"telemetry.exporter":   "none",
		"telemetry.insecure":   true,
		"telemetry.timeout":    10 * time.Second,
		"http.addr":            ":8080",
		"storage.durable":      false,
		"storage.dir":          "data",
		"correlation.capacity": 1000,
		"monitor.capacity":     10000,
		"monitor.interval":     30 * time.Second,
		"health.interval":      30 * time.Second,
		"health.history":       100,
		"health.alerts":        500,
		"health.jitter":        false,
		"health.notify":        true,
		"feedback.capacity":    5000,
		"feedback.ttl":         5 * time.Minute,
		"notify.timeout":       5 * time.Second,
		"notify.retries":       3,
		"notify.backoff":       time.Second,
		"notify.rate":          1.0,
		"notify.burst":         5,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := LoadWithOverrides("", "", nil)
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads defaults, then the YAML file at path (if any), then the environment.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, "", nil)
}

// LoadWithProfile is like Load but also layers the profile file
// (config.<profile>.yaml next to path) on top of the base file.
func LoadWithProfile(path, profile string) (*Config, error) {
	return LoadWithOverrides(path, profile, nil)
}

// LoadWithOverrides loads configuration and applies key=value overrides last.
// Override values are parsed as YAML scalars, lists or maps.
func LoadWithOverrides(path, profile string, sets []string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if profile != "" {
			profilePath := ProfileConfigPath(path, profile)
			if _, err := os.Stat(profilePath); err == nil {
				if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load %s: %w", profilePath, err)
				}
			}
		}
	}

	// 2. Load from ENV (SENTINEL_MONITOR_CAPACITY -> monitor.capacity)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// 3. Explicit overrides
	for _, set := range sets {
		key, raw, ok := strings.Cut(set, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid override %q: expected key=value", set)
		}
		var value any
		if err := yamlv3.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("invalid override %q: %w", set, err)
		}
		if err := k.Set(strings.TrimSpace(key), value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ProfileConfigPath returns the profile variant of path: config.yaml -> config.dev.yaml.
func ProfileConfigPath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp", "prometheus":
	default:
		return fmt.Errorf("telemetry.exporter: unknown exporter %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.Exporter == "otlp" && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required for the otlp exporter")
	}
	if c.Correlation.Capacity <= 0 {
		return fmt.Errorf("correlation.capacity must be positive")
	}
	if c.Monitor.Capacity <= 0 {
		return fmt.Errorf("monitor.capacity must be positive")
	}
	if c.Health.History <= 0 || c.Health.Alerts <= 0 {
		return fmt.Errorf("health.history and health.alerts must be positive")
	}
	if c.Feedback.Capacity <= 0 {
		return fmt.Errorf("feedback.capacity must be positive")
	}
	if c.Monitor.Interval <= 0 || c.Health.Interval <= 0 {
		return fmt.Errorf("monitor.interval and health.interval must be positive")
	}
	for i, r := range c.Monitor.Rules {
		if r.Type == "" {
			return fmt.Errorf("monitor.rules[%d]: type is required", i)
		}
	}
	return nil
}
